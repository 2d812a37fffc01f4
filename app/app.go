// Package app wires configuration, the ACE-Step client, the generation
// service and the history store together for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rorycl/acegen/acestep"
	"github.com/rorycl/acegen/config"
	"github.com/rorycl/acegen/generation"
	"github.com/rorycl/acegen/history"
)

// Settings are the options shared by every command.
type Settings struct {
	ConfigPath string
	Verbose    bool
}

// HealthReport describes the API server's health.
type HealthReport struct {
	APIURL string `json:"api_url"`
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

// healthTimeout bounds a health check.
const healthTimeout = 10 * time.Second

// ErrHistoryDisabled is returned by history commands when no history
// database is configured.
var ErrHistoryDisabled = errors.New("history is disabled: set history.database_path in the config file")

// App is the central orchestrator for the application's business logic.
type App struct {
	logOutput io.Writer
	generate  generation.GenerateFunc

	mu      sync.Mutex
	session *session
}

// session holds the generation service, and so the initialised handlers,
// for one configuration. It is reused while the configuration is unchanged.
type session struct {
	key   sessionKey
	svc   *generation.Service
	store *history.Store // nil when history is off or unavailable
}

// sessionKey lists the settings a session is built from.
type sessionKey struct {
	verbose             bool
	logLevel            string
	apiURL, apiKey      string
	aceStepPath         string
	configPreset        string
	device              string
	offload             bool
	outputDir           string
	pollInterval        time.Duration
	downloadConcurrency int
	initializeLM        bool
	historyDB, sqlDir   string
}

func newSessionKey(cfg *config.Config, settings Settings) sessionKey {
	return sessionKey{
		verbose:             settings.Verbose,
		logLevel:            cfg.LogLevel,
		apiURL:              cfg.APIURL,
		apiKey:              cfg.APIKey,
		aceStepPath:         cfg.AceStepPath,
		configPreset:        cfg.ConfigPreset,
		device:              cfg.Device,
		offload:             cfg.Offload(),
		outputDir:           cfg.OutputDir,
		pollInterval:        cfg.PollInterval,
		downloadConcurrency: cfg.DownloadConcurrency,
		initializeLM:        cfg.LM.Initialize,
		historyDB:           cfg.History.DatabasePath,
		sqlDir:              cfg.History.SQLDir,
	}
}

// New returns an App logging to logOutput, normally stderr.
func New(logOutput io.Writer) *App {
	if logOutput == nil {
		logOutput = os.Stderr
	}
	return &App{logOutput: logOutput, generate: acestep.GenerateMusic}
}

// setup loads the configuration and builds the logger.
func (a *App) setup(settings Settings) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := newLogger(a.logOutput, cfg.LogLevel, settings.Verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("logger error: %w", err)
	}
	logger.Debug("configuration loaded", "api_url", cfg.APIURL, "acestep_path", cfg.AceStepPath, "output_dir", cfg.OutputDir)
	return cfg, logger, nil
}

func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) *acestep.Client {
	return acestep.NewClient(ctx, acestep.Settings{
		BaseURL:             cfg.APIURL,
		APIKey:              cfg.APIKey,
		PollInterval:        cfg.PollInterval,
		DownloadConcurrency: cfg.DownloadConcurrency,
	}, logger)
}

// Generate runs one generation described by opts. The model handlers are
// initialised on the first call and reused by later calls with the same
// configuration.
func (a *App) Generate(ctx context.Context, settings Settings, opts generation.Options) (*generation.Result, error) {
	cfg, logger, err := a.setup(settings)
	if err != nil {
		return nil, err
	}

	svc := a.service(ctx, cfg, settings, logger)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	result, err := svc.Generate(ctx, opts)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("generation timed out after %s: %w", cfg.Timeout, err)
	}
	return result, err
}

// service returns the generation service for cfg, building a new session
// when there is none or the configuration has changed.
func (a *App) service(ctx context.Context, cfg *config.Config, settings Settings, logger *slog.Logger) *generation.Service {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := newSessionKey(cfg, settings)
	if a.session != nil && a.session.key == key {
		return a.session.svc
	}
	if err := a.closeSession(); err != nil {
		logger.Warn(fmt.Sprintf("could not close history database: %v", err))
	}

	client := newClient(context.WithoutCancel(ctx), cfg, logger)
	sess := &session{key: key}

	var recorder generation.Recorder
	if cfg.History.Enabled() {
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("history unavailable: %v", err))
		} else {
			sess.store = store
			recorder = historyRecorder{store}
		}
	}

	sess.svc = generation.NewService(
		handlerFactory(client, cfg, logger),
		a.generate,
		cfg.OutputDir,
		recorder,
		logger,
	)
	a.session = sess
	return sess.svc
}

// closeSession drops the current session. a.mu must be held.
func (a *App) closeSession() error {
	sess := a.session
	a.session = nil
	if sess == nil || sess.store == nil {
		return nil
	}
	return sess.store.Close()
}

// Close releases the resources held for generation.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeSession()
}

// handlerFactory initialises the model handler and, when configured, the
// language model handler. A language model that fails to load is logged
// and left uninitialised.
func handlerFactory(client *acestep.Client, cfg *config.Config, logger *slog.Logger) generation.HandlerFactory {
	return func(ctx context.Context) (*acestep.Handler, *acestep.LMHandler, error) {
		opts := acestep.InitOptions{
			ProjectRoot:  cfg.AceStepPath,
			ConfigPath:   cfg.ConfigPreset,
			Device:       cfg.Device,
			OffloadToCPU: cfg.Offload(),
		}
		handler := acestep.NewHandler(client)
		if err := handler.Initialize(ctx, opts); err != nil {
			return nil, nil, err
		}
		logger.Info(fmt.Sprintf("model service ready (%s on %s)", opts.ConfigPath, opts.Device))

		lm := acestep.NewLMHandler(client)
		if cfg.LM.Initialize {
			if err := lm.Initialize(ctx, opts); err != nil {
				logger.Warn(fmt.Sprintf("language model unavailable: %v", err))
			}
		}
		return handler, lm, nil
	}
}

// History returns up to limit recorded generations, newest first.
func (a *App) History(ctx context.Context, settings Settings, limit int) ([]history.Run, error) {
	cfg, logger, err := a.setup(settings)
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled() {
		return nil, ErrHistoryDisabled
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Runs(ctx, limit)
}

// ExportSQL writes the embedded history SQL files to dir so they can be
// edited and used through history.sql_dir.
func (a *App) ExportSQL(ctx context.Context, settings Settings, dir string) ([]string, error) {
	_, logger, err := a.setup(settings)
	if err != nil {
		return nil, err
	}
	mount, err := history.SQLMount("")
	if err != nil {
		return nil, err
	}
	logger.Debug(mount.String())
	return mount.Materialize(dir)
}

// Health asks the API server for its status.
func (a *App) Health(ctx context.Context, settings Settings) (*HealthReport, error) {
	cfg, logger, err := a.setup(settings)
	if err != nil {
		return nil, err
	}
	client := newClient(ctx, cfg, logger)

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	report := &HealthReport{APIURL: client.BaseURL()}
	health, err := client.Health(ctx)
	if err != nil {
		return report, fmt.Errorf("ACE-Step API not available at %s: %w", client.BaseURL(), err)
	}
	report.OK = health.OK()
	report.Status = health.Status
	if report.Status == "" && health.Data != nil {
		report.Status = health.Data.Status
	}
	if report.Status == "" && health.Healthy {
		report.Status = "healthy"
	}
	return report, nil
}

// openStore opens the configured history database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	mount, err := history.SQLMount(cfg.History.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("history sql error: %w", err)
	}
	store, err := history.Open(ctx, cfg.History.DatabasePath, mount, logger)
	if err != nil {
		return nil, fmt.Errorf("history database error: %w", err)
	}
	return store, nil
}
