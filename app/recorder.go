package app

import (
	"context"

	"github.com/rorycl/acegen/generation"
	"github.com/rorycl/acegen/history"
)

// historyRecorder saves generation attempts in the history store.
type historyRecorder struct {
	store *history.Store
}

// Record saves attempt. It runs after cancellation or timeout as well, so
// the attempt is stored without the caller's deadline.
func (r historyRecorder) Record(ctx context.Context, attempt generation.Attempt) error {
	_, err := r.store.RecordRun(context.WithoutCancel(ctx), newRun(attempt))
	return err
}

// newRun maps an attempt onto a history run.
func newRun(attempt generation.Attempt) history.Run {
	opts := attempt.Options
	run := history.Run{
		CreatedAt:   attempt.StartedAt,
		Prompt:      opts.Prompt,
		TaskType:    opts.TaskType,
		AudioFormat: opts.AudioFormat,
		BatchSize:   opts.BatchSize,
		Seed:        opts.Seed,
		OutputDir:   opts.OutputDir,
	}
	if attempt.Err != nil {
		run.Error = attempt.Err.Error()
	}
	if attempt.Result != nil {
		run.Success = attempt.Result.Success
		run.ElapsedSeconds = attempt.Result.ElapsedSeconds
		run.OutputDir = attempt.Result.OutputDir
		run.AudioPaths = attempt.Result.AudioPaths
	}
	return run
}
