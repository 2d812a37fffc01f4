package acestep

// GenerationParams holds the musical and semantic attributes of a single
// generation. Zero values mean "unset" except where noted; the API server
// applies its own defaults for anything omitted from the task request.
type GenerationParams struct {
	TaskType      string
	Caption       string
	Lyrics        string
	Instrumental  bool
	Duration      float64 // seconds, -1 for automatic
	BPM           *int
	KeyScale      string
	TimeSignature string
	VocalLanguage string

	InferenceSteps int
	GuidanceScale  float64
	Seed           int // -1 for random
	Shift          float64

	ReferenceAudio     string
	SrcAudio           string
	AudioCodes         string
	RepaintingStart    float64
	RepaintingEnd      float64 // -1 for the end of the source audio
	AudioCoverStrength float64
	Instruction        string

	Thinking         bool
	LMTemperature    float64
	LMCFGScale       float64
	LMTopK           int
	LMTopP           float64
	LMNegativePrompt string
	UseCotMetas      bool
	UseCotCaption    bool
	UseCotLanguage   bool

	UseADG           bool
	CFGIntervalStart float64
	CFGIntervalEnd   float64
}

// GenerationConfig holds the output-side settings of a generation.
type GenerationConfig struct {
	BatchSize     int
	AudioFormat   string
	UseRandomSeed bool
}

// usesLM reports whether the params ask for the language model.
func (p GenerationParams) usesLM() bool {
	return p.Thinking || p.UseCotCaption || p.UseCotLanguage || p.UseCotMetas
}

// withoutLM returns a copy of p with every language model stage switched
// off.
func (p GenerationParams) withoutLM() GenerationParams {
	p.Thinking = false
	p.UseCotCaption = false
	p.UseCotLanguage = false
	p.UseCotMetas = false
	return p
}

// newTaskRequest maps params and config onto the release_task body.
// Fields at their neutral value are left out so the server decides.
func newTaskRequest(p GenerationParams, c GenerationConfig) TaskRequest {
	tr := TaskRequest{
		Prompt:             p.Caption,
		Lyrics:             p.Lyrics,
		BatchSize:          c.BatchSize,
		InferenceSteps:     p.InferenceSteps,
		GuidanceScale:      p.GuidanceScale,
		AudioFormat:        c.AudioFormat,
		VocalLanguage:      p.VocalLanguage,
		UseRandomSeed:      c.UseRandomSeed,
		Shift:              p.Shift,
		Thinking:           p.Thinking,
		UseCotCaption:      p.UseCotCaption,
		UseCotLanguage:     p.UseCotLanguage,
		UseCotMetas:        p.UseCotMetas,
		BPM:                p.BPM,
		KeyScale:           p.KeyScale,
		TimeSignature:      p.TimeSignature,
		AudioCodeString:    p.AudioCodes,
		Instruction:        p.Instruction,
		ReferenceAudioPath: p.ReferenceAudio,
		SrcAudioPath:       p.SrcAudio,
		UseADG:             p.UseADG,
	}
	if p.Instrumental {
		tr.Lyrics = ""
	}
	if p.Duration > 0 {
		tr.AudioDuration = p.Duration
	}
	if !c.UseRandomSeed && p.Seed >= 0 {
		seed := p.Seed
		tr.Seed = &seed
	}
	if p.TaskType != "" && p.TaskType != "text2music" {
		tr.TaskType = p.TaskType
	}
	if p.RepaintingStart > 0 {
		tr.RepaintingStart = ptr(p.RepaintingStart)
	}
	if p.RepaintingEnd > 0 {
		tr.RepaintingEnd = ptr(p.RepaintingEnd)
	}
	if p.AudioCoverStrength != 1.0 {
		tr.AudioCoverStrength = ptr(p.AudioCoverStrength)
	}
	if p.CFGIntervalStart > 0 {
		tr.CFGIntervalStart = ptr(p.CFGIntervalStart)
	}
	if p.CFGIntervalEnd < 1.0 {
		tr.CFGIntervalEnd = ptr(p.CFGIntervalEnd)
	}

	// Sampling settings for the language model only matter when a stage
	// that uses it is switched on.
	if p.Thinking || p.UseCotCaption {
		tr.LMTemperature = ptr(p.LMTemperature)
		tr.LMCFGScale = ptr(p.LMCFGScale)
		tr.LMTopP = ptr(p.LMTopP)
		if p.LMTopK > 0 {
			tr.LMTopK = ptr(p.LMTopK)
		}
		tr.LMNegativePrompt = p.LMNegativePrompt
	}
	return tr
}

func ptr[T any](v T) *T { return &v }
