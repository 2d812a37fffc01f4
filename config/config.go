package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Environment variables read by Load. They take precedence over the
// configuration file.
const (
	EnvAceStepPath = "ACESTEP_PATH"
	EnvAPIURL      = "ACESTEP_API_URL"
	EnvAPIKey      = "ACESTEP_API_KEY"
)

// Defaults applied by validateAndPrepare for unset values.
const (
	DefaultAPIURL              = "http://localhost:8001"
	DefaultConfigPreset        = "acestep-v15-turbo"
	DefaultDevice              = "cuda"
	DefaultPollInterval        = 2 * time.Second
	DefaultTimeout             = 10 * time.Minute
	DefaultDownloadConcurrency = 4
	DefaultLogLevel            = "warn"
)

// Config represents the entire application configuration.
type Config struct {
	AceStepPath         string        `yaml:"acestep_path"`
	APIURL              string        `yaml:"api_url"`
	APIKey              string        `yaml:"api_key"`
	ConfigPreset        string        `yaml:"config_preset"`
	Device              string        `yaml:"device"`
	OffloadToCPU        *bool         `yaml:"offload_to_cpu"`
	OutputDir           string        `yaml:"output_dir"`
	PollIntervalStr     string        `yaml:"poll_interval"`
	TimeoutStr          string        `yaml:"timeout"`
	DownloadConcurrency int           `yaml:"download_concurrency"`
	LogLevel            string        `yaml:"log_level"`
	LM                  LMConfig      `yaml:"lm"`
	History             HistoryConfig `yaml:"history"`

	PollInterval time.Duration `yaml:"-"` // Parsed from PollIntervalStr
	Timeout      time.Duration `yaml:"-"` // Parsed from TimeoutStr
}

// LMConfig holds settings for the auxiliary language model handler.
type LMConfig struct {
	// Initialize the language model with the music model. Off by default.
	Initialize bool `yaml:"initialize"`
}

// HistoryConfig holds settings for the local generation history database.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	SQLDir       string `yaml:"sql_dir"`
}

// Enabled reports whether history recording is switched on.
func (h HistoryConfig) Enabled() bool {
	return h.DatabasePath != ""
}

// getenv is swapped in tests.
var getenv = os.Getenv

// Load loads and validates the configuration from the given file path. An
// empty filePath yields the defaults, still subject to environment
// overrides.
func Load(filePath string) (*Config, error) {
	var cfg Config

	if filePath != "" {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", filePath)
		}
		configFile, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		err = yaml.Unmarshal(configFile, &cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
		}
	}

	applyEnvironment(&cfg)

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvironment overlays the ACESTEP_* environment variables.
func applyEnvironment(c *Config) {
	if v := getenv(EnvAceStepPath); v != "" {
		c.AceStepPath = v
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
}

// validateAndPrepare checks values and sets up defaults and derived values.
func validateAndPrepare(c *Config) error {
	if c.AceStepPath == "" {
		c.AceStepPath = DefaultAceStepPath()
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url %q must start with http:// or https://", c.APIURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if c.ConfigPreset == "" {
		c.ConfigPreset = DefaultConfigPreset
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.OffloadToCPU == nil {
		offload := true
		c.OffloadToCPU = &offload
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.AceStepPath, "output")
	}

	var err error
	c.PollInterval, err = parseDuration(c.PollIntervalStr, DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	c.Timeout, err = parseDuration(c.TimeoutStr, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	if c.DownloadConcurrency < 0 {
		return errors.New("download_concurrency cannot be negative")
	}
	if c.DownloadConcurrency == 0 {
		c.DownloadConcurrency = DefaultDownloadConcurrency
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn or error", c.LogLevel)
	}
	return nil
}

// parseDuration parses s, returning def if s is empty.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// DefaultAceStepPath returns the model root used when ACESTEP_PATH is
// unset: models/ACE-Step-1.5 two levels above the executable's directory.
func DefaultAceStepPath() string {
	rel := filepath.Join("..", "..", "models", "ACE-Step-1.5")
	exe, err := os.Executable()
	if err != nil {
		return rel
	}
	return filepath.Join(filepath.Dir(exe), rel)
}

// Offload dereferences OffloadToCPU, which validateAndPrepare always sets.
func (c *Config) Offload() bool {
	return c.OffloadToCPU != nil && *c.OffloadToCPU
}
