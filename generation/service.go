package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rorycl/acegen/acestep"
)

// HandlerFactory builds and initialises the model-serving handler and the
// auxiliary language model handler.
type HandlerFactory func(ctx context.Context) (*acestep.Handler, *acestep.LMHandler, error)

// GenerateFunc runs one generation and saves its audio in saveDir.
// acestep.GenerateMusic is the production implementation.
type GenerateFunc func(
	ctx context.Context,
	handler *acestep.Handler,
	lm *acestep.LMHandler,
	params acestep.GenerationParams,
	config acestep.GenerationConfig,
	saveDir string,
) (*acestep.GenerationResult, error)

// Result is the outcome of a successful generation.
type Result struct {
	Success        bool     `json:"success"`
	AudioPaths     []string `json:"audio_paths"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	OutputDir      string   `json:"output_dir"`
}

// Attempt describes one call to Service.Generate, successful or not.
type Attempt struct {
	StartedAt time.Time
	Options   Options
	Result    *Result // nil on failure
	Err       error
}

// Recorder keeps a record of generation attempts.
type Recorder interface {
	Record(ctx context.Context, attempt Attempt) error
}

// Service owns the long-lived handlers and runs generations with them.
// Handlers are built on first use and reused for the life of the Service.
type Service struct {
	newHandlers HandlerFactory
	generate    GenerateFunc
	recorder    Recorder
	outputDir   string
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	handler *acestep.Handler
	lm      *acestep.LMHandler
}

// NewService returns a Service. outputDir is used when a generation does
// not name its own output directory. recorder may be nil.
func NewService(
	newHandlers HandlerFactory,
	generate GenerateFunc,
	outputDir string,
	recorder Recorder,
	logger *slog.Logger) *Service {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		newHandlers: newHandlers,
		generate:    generate,
		recorder:    recorder,
		outputDir:   outputDir,
		log:         logger,
		now:         time.Now,
	}
}

// handlers returns the cached handlers, building them on first call. A
// failed build is not cached.
func (s *Service) handlers(ctx context.Context) (*acestep.Handler, *acestep.LMHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return s.handler, s.lm, nil
	}
	s.log.Debug("initializing handlers")
	handler, lm, err := s.newHandlers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("handler initialization failed: %w", err)
	}
	if handler == nil {
		return nil, nil, errors.New("handler initialization returned no model handler")
	}
	s.handler, s.lm = handler, lm
	return s.handler, s.lm, nil
}

// Generate validates opts, runs the generation and returns the produced
// audio paths. Every attempt is passed to the recorder, if any.
func (s *Service) Generate(ctx context.Context, opts Options) (*Result, error) {
	startedAt := s.now()
	result, err := s.run(ctx, opts)
	s.record(ctx, Attempt{StartedAt: startedAt, Options: opts, Result: result, Err: err})
	return result, err
}

// run times only the generation itself, not handler start-up.
func (s *Service) run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	handler, lm, err := s.handlers(ctx)
	if err != nil {
		return nil, err
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = s.outputDir
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	params := NewParams(opts)
	config := NewConfig(opts)

	s.log.Info(fmt.Sprintf("generating %d %s file(s) for task %s", config.BatchSize, config.AudioFormat, params.TaskType))
	start := s.now()
	generated, err := s.generate(ctx, handler, lm, params, config, outputDir)
	elapsed := s.now().Sub(start)
	if err != nil {
		return nil, err
	}

	var audios []any
	if generated != nil {
		audios = generated.Audios
	}
	return &Result{
		Success:        true,
		AudioPaths:     ExtractAudioPaths(audios),
		ElapsedSeconds: elapsed.Seconds(),
		OutputDir:      outputDir,
	}, nil
}

// record passes the attempt to the recorder. Recording failures are
// logged and otherwise ignored.
func (s *Service) record(ctx context.Context, attempt Attempt) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, attempt); err != nil {
		s.log.Warn(fmt.Sprintf("could not record generation: %v", err))
	}
}
