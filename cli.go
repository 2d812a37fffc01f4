package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/rorycl/acegen/app"
	"github.com/rorycl/acegen/generation"
	"github.com/rorycl/acegen/history"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Generate(ctx context.Context, settings app.Settings, opts generation.Options) (*generation.Result, error)
	History(ctx context.Context, settings app.Settings, limit int) ([]history.Run, error)
	ExportSQL(ctx context.Context, settings app.Settings, dir string) ([]string, error)
	Health(ctx context.Context, settings app.Settings) (*app.HealthReport, error)
}

// errReported is returned by actions that have already written their
// error, so that only the exit status is left to set.
var errReported = errors.New("error reported")

// Flag categories shown in help.
const (
	catBasic      = "Basic"
	catGeneration = "Generation"
	catTask       = "Task type"
	catLM         = "Language model"
	catAdvanced   = "Advanced"
	catOutput     = "Output"
)

func stringFlag(category, name, value, usage string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Value: value, Usage: usage, Category: category, Local: true}
}

func intFlag(category, name string, value int, usage string) *cli.IntFlag {
	return &cli.IntFlag{Name: name, Value: value, Usage: usage, Category: category, Local: true}
}

func floatFlag(category, name string, value float64, usage string) *cli.FloatFlag {
	return &cli.FloatFlag{Name: name, Value: value, Usage: usage, Category: category, Local: true}
}

func boolFlag(category, name, usage string) *cli.BoolFlag {
	return &cli.BoolFlag{Name: name, Usage: usage, Category: category, Local: true}
}

// generationFlags returns the root command flags with defaults taken from
// generation.DefaultOptions.
func generationFlags() []cli.Flag {
	d := generation.DefaultOptions()
	return []cli.Flag{
		stringFlag(catBasic, "prompt", "", "music description / caption (required)"),
		stringFlag(catBasic, "lyrics", "", "lyrics text"),
		boolFlag(catBasic, "instrumental", "generate instrumental music (ignores lyrics)"),
		intFlag(catBasic, "duration", d.Duration, "target duration in seconds, 0 for automatic"),
		intFlag(catBasic, "bpm", d.BPM, "beats per minute, 0 for automatic"),
		stringFlag(catBasic, "key-scale", "", "musical key, e.g. 'C Major'"),
		stringFlag(catBasic, "time-signature", "", "time signature: 2, 3, 4 or 6"),
		stringFlag(catBasic, "vocal-language", d.VocalLanguage, "vocal language code"),

		intFlag(catGeneration, "infer-steps", d.InferSteps, "inference steps"),
		floatFlag(catGeneration, "guidance-scale", d.GuidanceScale, "guidance scale"),
		intFlag(catGeneration, "batch-size", d.BatchSize, "number of audio files to generate"),
		intFlag(catGeneration, "seed", d.Seed, "random seed, -1 for random"),
		stringFlag(catGeneration, "audio-format", d.AudioFormat, "output format: mp3, flac or wav"),
		floatFlag(catGeneration, "shift", d.Shift, "timestep shift"),

		stringFlag(catTask, "task-type", d.TaskType, "text2music, cover, repaint, lego, extract or complete"),
		stringFlag(catTask, "reference-audio", "", "reference audio file"),
		stringFlag(catTask, "src-audio", "", "source audio file"),
		stringFlag(catTask, "audio-codes", "", "audio semantic codes"),
		floatFlag(catTask, "repainting-start", d.RepaintingStart, "repainting start in seconds"),
		floatFlag(catTask, "repainting-end", d.RepaintingEnd, "repainting end in seconds, -1 for the end"),
		floatFlag(catTask, "audio-cover-strength", d.AudioCoverStrength, "cover strength, 0.0 to 1.0"),
		stringFlag(catTask, "instruction", "", "task instruction"),

		boolFlag(catLM, "thinking", "enable language model reasoning"),
		floatFlag(catLM, "lm-temperature", d.LMTemperature, "language model temperature"),
		floatFlag(catLM, "lm-cfg-scale", d.LMCFGScale, "language model CFG scale"),
		intFlag(catLM, "lm-top-k", d.LMTopK, "language model top-k, 0 to disable"),
		floatFlag(catLM, "lm-top-p", d.LMTopP, "language model top-p"),
		stringFlag(catLM, "lm-negative-prompt", "", "language model negative prompt"),
		boolFlag(catLM, "no-cot-metas", "disable chain-of-thought metadata"),
		boolFlag(catLM, "no-cot-caption", "disable chain-of-thought caption"),
		boolFlag(catLM, "no-cot-language", "disable chain-of-thought language detection"),

		boolFlag(catAdvanced, "use-adg", "use adaptive dual guidance"),
		floatFlag(catAdvanced, "cfg-interval-start", d.CFGIntervalStart, "CFG interval start"),
		floatFlag(catAdvanced, "cfg-interval-end", d.CFGIntervalEnd, "CFG interval end"),

		stringFlag(catOutput, "output-dir", "", "output directory, default from config"),
		boolFlag(catOutput, "json", "output results as JSON"),
	}
}

// optionsFromFlags reads the generation flags.
func optionsFromFlags(c *cli.Command) generation.Options {
	return generation.Options{
		Prompt:        c.String("prompt"),
		Lyrics:        c.String("lyrics"),
		Instrumental:  c.Bool("instrumental"),
		Duration:      c.Int("duration"),
		BPM:           c.Int("bpm"),
		KeyScale:      c.String("key-scale"),
		TimeSignature: c.String("time-signature"),
		VocalLanguage: c.String("vocal-language"),

		InferSteps:    c.Int("infer-steps"),
		GuidanceScale: c.Float("guidance-scale"),
		BatchSize:     c.Int("batch-size"),
		Seed:          c.Int("seed"),
		AudioFormat:   c.String("audio-format"),
		Shift:         c.Float("shift"),

		TaskType:           c.String("task-type"),
		ReferenceAudio:     c.String("reference-audio"),
		SrcAudio:           c.String("src-audio"),
		AudioCodes:         c.String("audio-codes"),
		RepaintingStart:    c.Float("repainting-start"),
		RepaintingEnd:      c.Float("repainting-end"),
		AudioCoverStrength: c.Float("audio-cover-strength"),
		Instruction:        c.String("instruction"),

		Thinking:         c.Bool("thinking"),
		LMTemperature:    c.Float("lm-temperature"),
		LMCFGScale:       c.Float("lm-cfg-scale"),
		LMTopK:           c.Int("lm-top-k"),
		LMTopP:           c.Float("lm-top-p"),
		LMNegativePrompt: c.String("lm-negative-prompt"),
		NoCotMetas:       c.Bool("no-cot-metas"),
		NoCotCaption:     c.Bool("no-cot-caption"),
		NoCotLanguage:    c.Bool("no-cot-language"),

		UseADG:           c.Bool("use-adg"),
		CFGIntervalStart: c.Float("cfg-interval-start"),
		CFGIntervalEnd:   c.Float("cfg-interval-end"),

		OutputDir: c.String("output-dir"),
	}
}

func settingsFromFlags(c *cli.Command) app.Settings {
	return app.Settings{ConfigPath: c.String("config"), Verbose: c.Bool("verbose")}
}

// BuildCLI creates the full CLI command structure for the application.
// Results are written to stdout; errors and help for bad usage to stderr.
func BuildCLI(application Applicator, stdout, stderr io.Writer) *cli.Command {

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to an optional YAML configuration file",
		Sources: cli.EnvVars("ACEGEN_CONFIG"),
	}
	verboseFlag := &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "log debug output to stderr",
	}

	historyCmd := &cli.Command{
		Name:  "history",
		Usage: "List recent generations",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of generations to list"},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			asJSON := c.Bool("json")
			runs, err := application.History(ctx, settingsFromFlags(c), c.Int("limit"))
			if err != nil {
				return reportError(stdout, stderr, err, asJSON)
			}
			return writeRuns(stdout, runs, asJSON)
		},
		Commands: []*cli.Command{
			{
				Name:      "export-sql",
				Usage:     "Write the history SQL files to a directory for use as history.sql_dir",
				ArgsUsage: "DIR",
				Action: func(ctx context.Context, c *cli.Command) error {
					dir := c.Args().First()
					if dir == "" {
						return errors.New("a target directory is required")
					}
					written, err := application.ExportSQL(ctx, settingsFromFlags(c), dir)
					if err != nil {
						return err
					}
					for _, w := range written {
						fmt.Fprintln(stdout, w)
					}
					return nil
				},
			},
		},
	}

	healthCmd := &cli.Command{
		Name:  "health",
		Usage: "Check the ACE-Step API server",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			asJSON := c.Bool("json")
			report, err := application.Health(ctx, settingsFromFlags(c))
			if err != nil {
				return reportError(stdout, stderr, err, asJSON)
			}
			if asJSON {
				if err := json.NewEncoder(stdout).Encode(report); err != nil {
					return err
				}
			} else {
				state := "healthy"
				if !report.OK {
					state = "not healthy"
				}
				fmt.Fprintf(stdout, "ACE-Step API at %s is %s (status %q)\n", report.APIURL, state, report.Status)
			}
			if !report.OK {
				return errReported
			}
			return nil
		},
	}

	rootCmd := &cli.Command{
		Name:      "acegen",
		Usage:     "Generate music with ACE-Step",
		UsageText: "acegen --prompt \"upbeat pop song\" [options]",
		Flags:     append([]cli.Flag{configFlag, verboseFlag}, generationFlags()...),
		Commands:  []*cli.Command{historyCmd, healthCmd},
		Writer:    stdout,
		ErrWriter: stderr,
		OnUsageError: func(ctx context.Context, c *cli.Command, err error, isSubcommand bool) error {
			return err
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			asJSON := c.Bool("json")
			result, err := application.Generate(ctx, settingsFromFlags(c), optionsFromFlags(c))
			if err != nil {
				return reportError(stdout, stderr, err, asJSON)
			}
			return generation.WriteResult(stdout, result, asJSON)
		},
	}

	return rootCmd
}

// reportError writes err in the requested shape and returns errReported.
func reportError(stdout, stderr io.Writer, err error, asJSON bool) error {
	if werr := generation.WriteError(stdout, stderr, err, asJSON); werr != nil {
		return werr
	}
	return errReported
}

// writeRuns lists runs as JSON or as a table.
func writeRuns(w io.Writer, runs []history.Run, asJSON bool) error {
	if asJSON {
		if runs == nil {
			runs = []history.Run{}
		}
		return json.NewEncoder(w).Encode(runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No generations recorded.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CREATED", "STATUS", "TASK", "FORMAT", "FILES", "SECONDS", "PROMPT")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		t.Row(
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			r.TaskType,
			r.AudioFormat,
			strconv.Itoa(len(r.AudioPaths)),
			strconv.FormatFloat(r.ElapsedSeconds, 'f', 1, 64),
			truncate(r.Prompt, 40),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
