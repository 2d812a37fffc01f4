package acestep

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// GenerationResult is the outcome of GenerateMusic.
type GenerationResult struct {
	TaskID string
	// Audios holds the decoded result entries in server order. Entries
	// whose audio was saved locally are maps with a "path" key naming the
	// saved file.
	Audios []any
}

// GenerateMusic runs one generation on the server and saves the produced
// audio files in saveDir. It blocks until the task finishes, fails, or ctx
// is done.
//
// If the language model handler is not initialised, the chain-of-thought
// stages are switched off for this generation.
func GenerateMusic(
	ctx context.Context,
	handler *Handler,
	lm *LMHandler,
	params GenerationParams,
	config GenerationConfig,
	saveDir string) (*GenerationResult, error) {

	if !handler.Initialized() {
		return nil, errors.New("model handler is not initialized")
	}
	c := handler.client

	if params.usesLM() && !lm.Initialized() {
		if params.Thinking {
			c.log.Warn("thinking requested but the language model is not initialized, skipping")
		}
		params = params.withoutLM()
	}

	taskID, err := c.ReleaseTask(ctx, newTaskRequest(params, config))
	if err != nil {
		return nil, err
	}
	c.log.Info(fmt.Sprintf("GenerateMusic: released task %s", taskID))

	tr, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	entries, err := tr.Entries()
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	if err := c.saveAudios(ctx, taskID, entries, config.AudioFormat, saveDir); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return &GenerationResult{TaskID: taskID, Audios: entries}, nil
}

// waitForTask polls query_result until the task succeeds or fails.
func (c *Client) waitForTask(ctx context.Context, taskID string) (*TaskResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var pollNo int
	for {
		pollNo++
		results, err := c.QueryResult(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if tr, ok := findTask(results, taskID); ok {
			c.log.Debug(fmt.Sprintf("waitForTask: task %s poll %d status %d", taskID, pollNo, tr.Status))
			switch tr.Status {
			case TaskSucceeded:
				return &tr, nil
			case TaskFailed:
				if tr.Error != "" {
					return nil, fmt.Errorf("generation failed on API side: %s", tr.Error)
				}
				return nil, errors.New("generation failed on API side")
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// findTask picks the entry for taskID. Entries without an id are taken to
// be for the only task asked about.
func findTask(results []TaskResult, taskID string) (TaskResult, bool) {
	for _, tr := range results {
		if tr.TaskID == taskID || tr.TaskID == "" {
			return tr, true
		}
	}
	return TaskResult{}, false
}

// saveAudios downloads every entry carrying a "file" into saveDir, setting
// the entry's "path" to the local file once the download succeeds. Any
// "path" sent by the server names a file on the server and is removed.
func (c *Client) saveAudios(ctx context.Context, taskID string, entries []any, format, saveDir string) error {
	dests := make([]string, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.downloadConcurrency)
	for i, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		delete(m, "path")
		file, _ := m["file"].(string)
		if file == "" {
			continue
		}
		dest := filepath.Join(saveDir, fmt.Sprintf("%s_%d%s", taskID, i, audioExtension(file, format)))
		g.Go(func() error {
			if err := c.DownloadAudio(ctx, file, dest); err != nil {
				return err
			}
			dests[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, dest := range dests {
		if dest != "" {
			entries[i].(map[string]any)["path"] = dest
		}
	}
	return nil
}

// audioExtension returns the extension of the remote file, looking inside
// /v1/audio?path= urls, falling back to the requested format.
func audioExtension(remotePath, format string) string {
	name := remotePath
	if u, err := url.Parse(remotePath); err == nil {
		name = u.Path
		if p := u.Query().Get("path"); p != "" {
			name = p
		}
	}
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".mp3", ".flac", ".wav":
		return ext
	}
	if format == "" {
		format = "mp3"
	}
	return "." + format
}
