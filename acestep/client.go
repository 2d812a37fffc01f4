// Package acestep is a client for the ACE-Step music generation API server.
//
// It offers a model-serving Handler, an auxiliary language model
// LMHandler, a GenerationParams and GenerationConfig pair, and
// GenerateMusic, which runs one generation to completion and saves the
// produced audio. The model runs in the API server; this package only
// speaks its REST protocol.
package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

// Defaults used when Settings leaves a value unset.
const (
	defaultPollInterval        = 2 * time.Second
	defaultDownloadConcurrency = 4
)

// APIError reports a non-2xx response from the API server.
type APIError struct {
	StatusCode int
	Body       string
}

// Error fulfills the Error interface requirement for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Settings configures a Client.
type Settings struct {
	BaseURL string
	// APIKey, if set, is sent as a bearer token on every request.
	APIKey              string
	PollInterval        time.Duration
	DownloadConcurrency int
}

// Client is a wrapper for making calls to the ACE-Step API server.
type Client struct {
	httpClient          *http.Client
	baseURL             string
	pollInterval        time.Duration
	downloadConcurrency int
	log                 *slog.Logger
}

// NewClient returns a Client for the API server described by settings.
func NewClient(ctx context.Context, settings Settings, logger *slog.Logger) *Client {
	httpClient := &http.Client{}
	if settings.APIKey != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: settings.APIKey,
			TokenType:   "Bearer",
		}))
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaultPollInterval
	}
	if settings.DownloadConcurrency <= 0 {
		settings.DownloadConcurrency = defaultDownloadConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		httpClient:          httpClient,
		baseURL:             strings.TrimRight(settings.BaseURL, "/"),
		pollInterval:        settings.PollInterval,
		downloadConcurrency: settings.DownloadConcurrency,
		log:                 logger,
	}
}

// BaseURL returns the API server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches the server health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	var health HealthResponse
	if _, err := c.do(req, &health); err != nil {
		return nil, fmt.Errorf("health check error: %w", err)
	}
	return &health, nil
}

// Init asks the server to initialise its model service.
func (c *Client) Init(ctx context.Context, ir InitRequest) error {
	c.log.Debug(fmt.Sprintf("Init: config %s device %s offload %t llm %t", ir.ConfigPath, ir.Device, ir.OffloadToCPU, ir.InitLLM))
	return c.call(ctx, http.MethodPost, "/v1/init", ir, nil)
}

// ReleaseTask submits a generation task and returns its id.
func (c *Client) ReleaseTask(ctx context.Context, tr TaskRequest) (string, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task request: %w", err)
	}
	c.log.Debug(fmt.Sprintf("ReleaseTask: body %s", body))

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/release_task", body)
	if err != nil {
		return "", err
	}

	var response struct {
		Data  *releaseResponse `json:"data"`
		Error *string          `json:"error"`
		releaseResponse
	}
	if _, err := c.do(req, &response); err != nil {
		return "", fmt.Errorf("release task error: %w", err)
	}
	if response.Error != nil && *response.Error != "" {
		return "", fmt.Errorf("release task error: %s", *response.Error)
	}

	var taskID string
	if response.Data != nil {
		taskID = response.Data.id()
	}
	if taskID == "" {
		taskID = response.releaseResponse.id()
	}
	if taskID == "" {
		return "", errors.New("no task id returned from API")
	}
	return taskID, nil
}

// QueryResult fetches the state of the given tasks.
func (c *Client) QueryResult(ctx context.Context, taskIDs ...string) ([]TaskResult, error) {
	var results []TaskResult
	err := c.call(ctx, http.MethodPost, "/query_result", queryRequest{TaskIDList: taskIDs}, &results)
	if err != nil {
		return nil, fmt.Errorf("query result error: %w", err)
	}
	return results, nil
}

// AudioURL returns the download URL for a file reported in a task result.
// Results carry either a ready-made /v1/audio path, an absolute URL or a
// bare file path on the server.
func (c *Client) AudioURL(remotePath string) (string, error) {
	switch {
	case strings.HasPrefix(remotePath, "http://"), strings.HasPrefix(remotePath, "https://"):
		return remotePath, nil
	case strings.HasPrefix(remotePath, "/v1/audio"):
		return c.baseURL + remotePath, nil
	}
	v, err := query.Values(audioQuery{Path: remotePath})
	if err != nil {
		return "", fmt.Errorf("could not encode audio query: %w", err)
	}
	return c.baseURL + "/v1/audio?" + v.Encode(), nil
}

// DownloadAudio saves the remote audio file to destPath. A partially
// written file is removed on error.
func (c *Client) DownloadAudio(ctx context.Context, remotePath, destPath string) error {
	audioURL, err := c.AudioURL(remotePath)
	if err != nil {
		return err
	}
	c.log.Debug(fmt.Sprintf("DownloadAudio: %s -> %s", audioURL, destPath))

	req, err := c.newRequest(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("failed to download audio: %w", &APIError{resp.StatusCode, string(body)})
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("could not create audio directory: %w", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("could not create audio file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("could not write audio file %q: %w", destPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("could not close audio file %q: %w", destPath, err)
	}
	return nil
}

// call sends in as JSON to path and decodes the data member of the
// response envelope into out. Either of in and out may be nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := c.newRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	var env envelope
	if _, err := c.do(req, &env); err != nil {
		return err
	}
	if env.Error != nil && *env.Error != "" {
		return fmt.Errorf("server error: %s", *env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON response.
func (c *Client) do(req *http.Request, v any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if v != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
