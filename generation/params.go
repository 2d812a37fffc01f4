package generation

import (
	"github.com/rorycl/acegen/acestep"
)

// NewParams maps options onto generation parameters, substituting the
// "unset" value the generator expects for each empty or sentinel option.
func NewParams(o Options) acestep.GenerationParams {
	p := acestep.GenerationParams{
		TaskType:      o.TaskType,
		Caption:       o.Prompt,
		Instrumental:  o.Instrumental,
		Duration:      -1,
		KeyScale:      o.KeyScale,
		TimeSignature: o.TimeSignature,
		VocalLanguage: orDefault(o.VocalLanguage, "auto"),

		InferenceSteps: o.InferSteps,
		GuidanceScale:  o.GuidanceScale,
		Seed:           -1,
		Shift:          o.Shift,

		ReferenceAudio:     o.ReferenceAudio,
		SrcAudio:           o.SrcAudio,
		AudioCodes:         o.AudioCodes,
		RepaintingStart:    o.RepaintingStart,
		RepaintingEnd:      o.RepaintingEnd,
		AudioCoverStrength: o.AudioCoverStrength,
		Instruction:        orDefault(o.Instruction, DefaultInstruction),

		Thinking:         o.Thinking,
		LMTemperature:    o.LMTemperature,
		LMCFGScale:       o.LMCFGScale,
		LMTopK:           o.LMTopK,
		LMTopP:           o.LMTopP,
		LMNegativePrompt: orDefault(o.LMNegativePrompt, DefaultLMNegativePrompt),
		UseCotMetas:      !o.NoCotMetas,
		UseCotCaption:    !o.NoCotCaption,
		UseCotLanguage:   !o.NoCotLanguage,

		UseADG:           o.UseADG,
		CFGIntervalStart: o.CFGIntervalStart,
		CFGIntervalEnd:   o.CFGIntervalEnd,
	}
	if o.Lyrics != "" && !o.Instrumental {
		p.Lyrics = o.Lyrics
	}
	if o.Duration > 0 {
		p.Duration = float64(o.Duration)
	}
	if o.BPM > 0 {
		bpm := o.BPM
		p.BPM = &bpm
	}
	if o.Seed >= 0 {
		p.Seed = o.Seed
	}
	return p
}

// NewConfig maps options onto the generation config. A negative seed asks
// for a random one.
func NewConfig(o Options) acestep.GenerationConfig {
	return acestep.GenerationConfig{
		BatchSize:     o.BatchSize,
		AudioFormat:   o.AudioFormat,
		UseRandomSeed: o.Seed < 0,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
