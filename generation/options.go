// Package generation turns command-line options into an ACE-Step
// generation, runs it through a long-lived Service and reports the result.
package generation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// AudioFormats lists the accepted --audio-format values.
var AudioFormats = []string{"mp3", "flac", "wav"}

// TaskTypes lists the accepted --task-type values.
var TaskTypes = []string{"text2music", "cover", "repaint", "lego", "extract", "complete"}

// DefaultInstruction is sent when no task instruction is given.
const DefaultInstruction = "Fill the audio semantic mask based on the given conditions:"

// DefaultLMNegativePrompt is sent when no language model negative prompt
// is given.
const DefaultLMNegativePrompt = "NO USER INPUT"

// Options holds one field per generation flag. Sentinel values mark
// "unset": Duration and BPM of 0, Seed of -1 and RepaintingEnd of -1.
type Options struct {
	// Basic
	Prompt        string
	Lyrics        string
	Instrumental  bool
	Duration      int
	BPM           int
	KeyScale      string
	TimeSignature string
	VocalLanguage string

	// Generation
	InferSteps    int
	GuidanceScale float64
	BatchSize     int
	Seed          int
	AudioFormat   string
	Shift         float64

	// Task type
	TaskType           string
	ReferenceAudio     string
	SrcAudio           string
	AudioCodes         string
	RepaintingStart    float64
	RepaintingEnd      float64
	AudioCoverStrength float64
	Instruction        string

	// Language model and chain-of-thought
	Thinking         bool
	LMTemperature    float64
	LMCFGScale       float64
	LMTopK           int
	LMTopP           float64
	LMNegativePrompt string
	NoCotMetas       bool
	NoCotCaption     bool
	NoCotLanguage    bool

	// Advanced
	UseADG           bool
	CFGIntervalStart float64
	CFGIntervalEnd   float64

	// Output
	OutputDir string
}

// DefaultOptions returns the flag defaults.
func DefaultOptions() Options {
	return Options{
		Duration:           60,
		VocalLanguage:      "auto",
		InferSteps:         8,
		GuidanceScale:      10.0,
		BatchSize:          1,
		Seed:               -1,
		AudioFormat:        "mp3",
		Shift:              3.0,
		TaskType:           "text2music",
		RepaintingEnd:      -1,
		AudioCoverStrength: 1.0,
		LMTemperature:      0.85,
		LMCFGScale:         2.0,
		LMTopP:             0.9,
		CFGIntervalEnd:     1.0,
	}
}

// Validate checks the options the external generator cannot check for
// itself: a prompt is present and the enumerated values are known.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Prompt) == "" {
		return errors.New("a prompt is required")
	}
	if !slices.Contains(AudioFormats, o.AudioFormat) {
		return fmt.Errorf("invalid audio format %q: choose from %s", o.AudioFormat, strings.Join(AudioFormats, ", "))
	}
	if !slices.Contains(TaskTypes, o.TaskType) {
		return fmt.Errorf("invalid task type %q: choose from %s", o.TaskType, strings.Join(TaskTypes, ", "))
	}
	return nil
}
