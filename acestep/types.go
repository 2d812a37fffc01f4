package acestep

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Task status values reported by query_result.
const (
	TaskRunning   = 0
	TaskSucceeded = 1
	TaskFailed    = 2
)

// envelope is the wrapper the API server puts around every response body.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Code  int             `json:"code"`
	Error *string         `json:"error"`
}

// HealthResponse is the body of GET /health. Servers differ on where they
// report status, so all three known locations are decoded.
type HealthResponse struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Data    *struct {
		Status string `json:"status"`
	} `json:"data"`
}

// OK reports whether any of the status fields indicate a healthy server.
func (h HealthResponse) OK() bool {
	return h.Status == "ok" || h.Healthy || (h.Data != nil && h.Data.Status == "ok")
}

// InitRequest is the body of POST /v1/init.
type InitRequest struct {
	ProjectRoot  string `json:"project_root"`
	ConfigPath   string `json:"config_path"`
	Device       string `json:"device"`
	OffloadToCPU bool   `json:"offload_to_cpu"`
	InitLLM      bool   `json:"init_llm"`
}

// TaskRequest is the body of POST /release_task. Optional fields are
// omitted so that the server applies its own defaults.
type TaskRequest struct {
	Prompt         string  `json:"prompt"`
	Lyrics         string  `json:"lyrics"`
	AudioDuration  float64 `json:"audio_duration,omitempty"`
	BatchSize      int     `json:"batch_size"`
	InferenceSteps int     `json:"inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	AudioFormat    string  `json:"audio_format"`
	VocalLanguage  string  `json:"vocal_language"`
	UseRandomSeed  bool    `json:"use_random_seed"`
	Seed           *int    `json:"seed,omitempty"`
	Shift          float64 `json:"shift"`
	Thinking       bool    `json:"thinking"`
	UseCotCaption  bool    `json:"use_cot_caption"`
	UseCotLanguage bool    `json:"use_cot_language"`
	UseCotMetas    bool    `json:"use_cot_metas"`

	BPM           *int   `json:"bpm,omitempty"`
	KeyScale      string `json:"key_scale,omitempty"`
	TimeSignature string `json:"time_signature,omitempty"`

	TaskType           string   `json:"task_type,omitempty"`
	AudioCodeString    string   `json:"audio_code_string,omitempty"`
	RepaintingStart    *float64 `json:"repainting_start,omitempty"`
	RepaintingEnd      *float64 `json:"repainting_end,omitempty"`
	AudioCoverStrength *float64 `json:"audio_cover_strength,omitempty"`
	Instruction        string   `json:"instruction,omitempty"`
	ReferenceAudioPath string   `json:"reference_audio_path,omitempty"`
	SrcAudioPath       string   `json:"src_audio_path,omitempty"`

	LMTemperature    *float64 `json:"lm_temperature,omitempty"`
	LMCFGScale       *float64 `json:"lm_cfg_scale,omitempty"`
	LMTopK           *int     `json:"lm_top_k,omitempty"`
	LMTopP           *float64 `json:"lm_top_p,omitempty"`
	LMNegativePrompt string   `json:"lm_negative_prompt,omitempty"`

	UseADG           bool     `json:"use_adg,omitempty"`
	CFGIntervalStart *float64 `json:"cfg_interval_start,omitempty"`
	CFGIntervalEnd   *float64 `json:"cfg_interval_end,omitempty"`
}

// releaseResponse covers the places servers have been seen to put the
// task id.
type releaseResponse struct {
	TaskID string `json:"task_id"`
	JobID  string `json:"job_id"`
}

func (r releaseResponse) id() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.JobID
}

// queryRequest is the body of POST /query_result.
type queryRequest struct {
	TaskIDList []string `json:"task_id_list"`
}

// TaskResult is one entry of the query_result data list.
type TaskResult struct {
	TaskID string          `json:"task_id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Entries decodes the task result. The server sends the result either as
// a JSON array or as a string holding a JSON array; both are accepted.
// Entries are returned as decoded JSON values, so an entry may be a map, a
// string or anything else the server chose to send.
func (tr TaskResult) Entries() ([]any, error) {
	raw := bytes.TrimSpace(tr.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("could not decode result string: %w", err)
		}
		raw = []byte(s)
	}
	var entries []any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("could not decode result entries: %w", err)
	}
	if entries == nil {
		entries = []any{}
	}
	return entries, nil
}

// audioQuery is the query string of GET /v1/audio.
type audioQuery struct {
	Path string `url:"path"`
}
