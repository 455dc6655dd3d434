package config

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-stepform/pkg/client"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepform.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestResolve_Precedence(t *testing.T) {
	path := writeConfig(t, `
base_url: https://file.example/api
token: file-token
debounce: 500ms
log_level: warn
endpoints:
  submit_items: /v2/items
`)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := BindFlags(fs)
	if err := fs.Parse([]string{"-config", path, "-token", "flag-token", "-saved-window", "3s"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Resolve(flags, env(map[string]string{
		EnvBaseURL: "https://env.example/api",
		EnvToken:   "env-token",
	}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := Config{
		BaseURL:     "https://env.example/api",
		Token:       "flag-token",
		Timeout:     30 * time.Second,
		Debounce:    500 * time.Millisecond,
		SavedWindow: 3 * time.Second,
		Endpoints:   client.Endpoints{SubmitItems: "/v2/items"},
		LogLevel:    "warn",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if level, _ := cfg.Level(); level != slog.LevelWarn {
		t.Fatalf("level = %v", level)
	}
}

func TestResolve_RequiresBaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Resolve(nil, env(nil)); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}

func TestResolve_ExplicitFileMustExist(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := BindFlags(fs)
	if err := fs.Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := Resolve(flags, env(map[string]string{EnvBaseURL: "http://x"})); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with url", mutate: func(c *Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "negative debounce", mutate: func(c *Config) { c.Debounce = -time.Second }, wantErr: true},
		{name: "empty level", mutate: func(c *Config) { c.LogLevel = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BaseURL = "http://localhost:8080"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
