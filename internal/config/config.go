// Package config resolves CLI settings from a YAML file, environment
// variables and flags, in that order of precedence (later wins).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-stepform/pkg/client"
	"github.com/goliatone/go-stepform/pkg/save"
)

// DefaultPath is read when no -config flag is given. A missing default file
// is not an error.
const DefaultPath = "stepform.yaml"

const (
	EnvBaseURL  = "STEPFORM_BASE_URL"
	EnvToken    = "STEPFORM_TOKEN"
	EnvLogLevel = "STEPFORM_LOG_LEVEL"
	EnvOpenAPI  = "STEPFORM_OPENAPI"
)

var ErrMissingBaseURL = errors.New("config: base_url is required")

// Config holds every CLI setting.
type Config struct {
	BaseURL     string           `yaml:"base_url"`
	Token       string           `yaml:"token"`
	Timeout     time.Duration    `yaml:"timeout"`
	Debounce    time.Duration    `yaml:"debounce"`
	SavedWindow time.Duration    `yaml:"saved_window"`
	Endpoints   client.Endpoints `yaml:"endpoints"`
	// OpenAPI is a path to the backend's OpenAPI document. When set, endpoint
	// templates are resolved from it before Endpoints overrides apply.
	OpenAPI  string `yaml:"openapi"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timeout:     30 * time.Second,
		Debounce:    save.DefaultDebounce,
		SavedWindow: save.DefaultSavedWindow,
		LogLevel:    "info",
	}
}

// ReadFile merges the YAML document at path into cfg. Keys absent from the
// file leave cfg untouched. A missing file is ignored unless required.
func ReadFile(path string, required bool, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LookupFunc reads one environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the STEPFORM_* variables that are set.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvBaseURL); ok {
		c.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvToken); ok {
		c.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOpenAPI); ok {
		c.OpenAPI = strings.TrimSpace(v)
	}
}

// Validate checks the resolved settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if c.Timeout < 0 || c.Debounce < 0 || c.SavedWindow < 0 {
		return errors.New("config: durations must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Flags binds the command-line overrides to a flag set.
type Flags struct {
	fs *flag.FlagSet

	path        string
	baseURL     string
	token       string
	openAPI     string
	logLevel    string
	timeout     time.Duration
	debounce    time.Duration
	savedWindow time.Duration
}

// BindFlags registers the shared flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.path, "config", "", "path to the YAML config file (default "+DefaultPath+" if present)")
	fs.StringVar(&f.baseURL, "base-url", "", "backend base URL")
	fs.StringVar(&f.token, "token", "", "bearer token")
	fs.StringVar(&f.openAPI, "openapi", "", "OpenAPI document used to resolve endpoints")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.DurationVar(&f.timeout, "timeout", 0, "HTTP request timeout")
	fs.DurationVar(&f.debounce, "debounce", 0, "quiet period before a typed value is saved")
	fs.DurationVar(&f.savedWindow, "saved-window", 0, "how long the saved indicator stays visible")
	return f
}

// apply copies the flags the user actually set onto cfg.
func (f *Flags) apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "base-url":
			cfg.BaseURL = f.baseURL
		case "token":
			cfg.Token = f.token
		case "openapi":
			cfg.OpenAPI = f.openAPI
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "timeout":
			cfg.Timeout = f.timeout
		case "debounce":
			cfg.Debounce = f.debounce
		case "saved-window":
			cfg.SavedWindow = f.savedWindow
		}
	})
}

// Resolve layers defaults, the config file, the environment and parsed
// flags, then validates the result. flags may be nil.
func Resolve(flags *Flags, lookup LookupFunc) (Config, error) {
	cfg := Default()

	path, required := DefaultPath, false
	if flags != nil && flags.path != "" {
		path, required = flags.path, true
	}
	if err := ReadFile(path, required, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv(lookup)
	if flags != nil {
		flags.apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
