package acestep

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// InitOptions describes how the server should bring up its model service.
type InitOptions struct {
	ProjectRoot  string // model root on the server
	ConfigPath   string // named configuration preset, e.g. acestep-v15-turbo
	Device       string // e.g. cuda, cpu, mps
	OffloadToCPU bool
}

// Handler is the model-serving handler. It must be initialised before
// use in GenerateMusic.
type Handler struct {
	client      *Client
	options     InitOptions
	initialized bool
}

// NewHandler returns an uninitialised Handler using client.
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Initialize checks the server is healthy and asks it to load the model
// service described by opts. Servers without an init endpoint load their
// model at start-up, so a 404 or 405 from it is accepted.
func (h *Handler) Initialize(ctx context.Context, opts InitOptions) error {
	if h.client == nil {
		return errors.New("handler has no client")
	}
	health, err := h.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("ACE-Step API not available at %s: %w", h.client.BaseURL(), err)
	}
	if !health.OK() {
		return fmt.Errorf("ACE-Step API at %s reports an unhealthy status", h.client.BaseURL())
	}

	err = h.client.Init(ctx, InitRequest{
		ProjectRoot:  opts.ProjectRoot,
		ConfigPath:   opts.ConfigPath,
		Device:       opts.Device,
		OffloadToCPU: opts.OffloadToCPU,
	})
	if err != nil && !initNotSupported(err) {
		return fmt.Errorf("could not initialise model service: %w", err)
	}
	h.options = opts
	h.initialized = true
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (h *Handler) Initialized() bool {
	return h != nil && h.initialized
}

// Options returns the options the handler was initialised with.
func (h *Handler) Options() InitOptions {
	return h.options
}

// LMHandler is the auxiliary language model handler used for
// chain-of-thought metadata, caption and language reasoning. It may be
// left uninitialised, in which case generation runs without those stages.
type LMHandler struct {
	client      *Client
	initialized bool
}

// NewLMHandler returns an uninitialised LMHandler using client.
func NewLMHandler(client *Client) *LMHandler {
	return &LMHandler{client: client}
}

// Initialize asks the server to load the language model.
func (lm *LMHandler) Initialize(ctx context.Context, opts InitOptions) error {
	if lm.client == nil {
		return errors.New("language model handler has no client")
	}
	err := lm.client.Init(ctx, InitRequest{
		ProjectRoot:  opts.ProjectRoot,
		ConfigPath:   opts.ConfigPath,
		Device:       opts.Device,
		OffloadToCPU: opts.OffloadToCPU,
		InitLLM:      true,
	})
	if err != nil && !initNotSupported(err) {
		return fmt.Errorf("could not initialise language model: %w", err)
	}
	lm.initialized = true
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (lm *LMHandler) Initialized() bool {
	return lm != nil && lm.initialized
}

// initNotSupported reports whether err shows the server has no init
// endpoint.
func initNotSupported(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed
}
