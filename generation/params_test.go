package generation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rorycl/acegen/acestep"
)

func ptrInt(i int) *int { return &i }

func TestNewParamsDefaults(t *testing.T) {
	opts := DefaultOptions()
	opts.Prompt = "uplifting synthwave"

	got := NewParams(opts)
	want := acestep.GenerationParams{
		TaskType:           "text2music",
		Caption:            "uplifting synthwave",
		Lyrics:             "",
		Duration:           60,
		BPM:                nil,
		VocalLanguage:      "auto",
		InferenceSteps:     8,
		GuidanceScale:      10,
		Seed:               -1,
		Shift:              3,
		RepaintingEnd:      -1,
		AudioCoverStrength: 1,
		Instruction:        DefaultInstruction,
		LMTemperature:      0.85,
		LMCFGScale:         2,
		LMTopP:             0.9,
		LMNegativePrompt:   DefaultLMNegativePrompt,
		UseCotMetas:        true,
		UseCotCaption:      true,
		UseCotLanguage:     true,
		CFGIntervalEnd:     1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	config := NewConfig(opts)
	if diff := cmp.Diff(acestep.GenerationConfig{BatchSize: 1, AudioFormat: "mp3", UseRandomSeed: true}, config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestNewParamsRules(t *testing.T) {

	tests := []struct {
		name  string
		tweak func(o *Options)
		check func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig)
	}{
		{
			name:  "random seed",
			tweak: func(o *Options) { o.Seed = -1 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if !c.UseRandomSeed || p.Seed != -1 {
					t.Errorf("got random %t seed %d", c.UseRandomSeed, p.Seed)
				}
			},
		},
		{
			name:  "other negative seed",
			tweak: func(o *Options) { o.Seed = -7 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if !c.UseRandomSeed || p.Seed != -1 {
					t.Errorf("got random %t seed %d", c.UseRandomSeed, p.Seed)
				}
			},
		},
		{
			name:  "fixed seed",
			tweak: func(o *Options) { o.Seed = 0 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if c.UseRandomSeed || p.Seed != 0 {
					t.Errorf("got random %t seed %d", c.UseRandomSeed, p.Seed)
				}
			},
		},
		{
			name:  "bpm unset",
			tweak: func(o *Options) { o.BPM = 0 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.BPM != nil {
					t.Errorf("expected nil bpm, got %d", *p.BPM)
				}
			},
		},
		{
			name:  "bpm set",
			tweak: func(o *Options) { o.BPM = 128 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if diff := cmp.Diff(ptrInt(128), p.BPM); diff != "" {
					t.Error(diff)
				}
			},
		},
		{
			name:  "auto duration",
			tweak: func(o *Options) { o.Duration = 0 },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.Duration != -1 {
					t.Errorf("got duration %v", p.Duration)
				}
			},
		},
		{
			name:  "instrumental drops lyrics",
			tweak: func(o *Options) { o.Instrumental = true; o.Lyrics = "[chorus] oh oh" },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.Lyrics != "" || !p.Instrumental {
					t.Errorf("got lyrics %q instrumental %t", p.Lyrics, p.Instrumental)
				}
			},
		},
		{
			name:  "instrumental without lyrics",
			tweak: func(o *Options) { o.Instrumental = true },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.Lyrics != "" {
					t.Errorf("got lyrics %q", p.Lyrics)
				}
			},
		},
		{
			name:  "lyrics kept",
			tweak: func(o *Options) { o.Lyrics = "[verse] hello" },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.Lyrics != "[verse] hello" {
					t.Errorf("got lyrics %q", p.Lyrics)
				}
			},
		},
		{
			name:  "empty vocal language",
			tweak: func(o *Options) { o.VocalLanguage = "" },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.VocalLanguage != "auto" {
					t.Errorf("got %q", p.VocalLanguage)
				}
			},
		},
		{
			name: "given strings kept",
			tweak: func(o *Options) {
				o.Instruction = "Repaint the bridge"
				o.LMNegativePrompt = "no drums"
				o.KeyScale = "A minor"
				o.TimeSignature = "3"
				o.ReferenceAudio = "/in/ref.wav"
			},
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				got := []string{p.Instruction, p.LMNegativePrompt, p.KeyScale, p.TimeSignature, p.ReferenceAudio}
				want := []string{"Repaint the bridge", "no drums", "A minor", "3", "/in/ref.wav"}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Error(diff)
				}
			},
		},
		{
			name:  "cot switches",
			tweak: func(o *Options) { o.NoCotMetas = true; o.NoCotLanguage = true },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if p.UseCotMetas || !p.UseCotCaption || p.UseCotLanguage {
					t.Errorf("got metas %t caption %t language %t", p.UseCotMetas, p.UseCotCaption, p.UseCotLanguage)
				}
			},
		},
		{
			name:  "batch and format",
			tweak: func(o *Options) { o.BatchSize = 4; o.AudioFormat = "wav" },
			check: func(t *testing.T, p acestep.GenerationParams, c acestep.GenerationConfig) {
				if c.BatchSize != 4 || c.AudioFormat != "wav" {
					t.Errorf("got %+v", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Prompt = "x"
			tt.tweak(&opts)
			tt.check(t, NewParams(opts), NewConfig(opts))
		})
	}
}

func TestValidate(t *testing.T) {

	tests := []struct {
		name  string
		tweak func(o *Options)
		isErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"no prompt", func(o *Options) { o.Prompt = "  " }, true},
		{"flac", func(o *Options) { o.AudioFormat = "flac" }, false},
		{"ogg", func(o *Options) { o.AudioFormat = "ogg" }, true},
		{"lego", func(o *Options) { o.TaskType = "lego" }, false},
		{"remix", func(o *Options) { o.TaskType = "remix" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Prompt = "a prompt"
			tt.tweak(&opts)
			err := opts.Validate()
			if got, want := err != nil, tt.isErr; got != want {
				t.Errorf("got error %v, want error %t", err, want)
			}
		})
	}
}
