package tui

import (
	"github.com/goliatone/go-stepform/pkg/notify"
)

// Theme captures optional formatting hints the renderer applies when printing
// messages. Keep minimal to avoid coupling renderer logic to ANSI specifics.
type Theme struct {
	StepPrefix     string
	DisabledPrefix string
	ErrorPrefix    string
}

// DefaultTheme is used when no theme is configured.
var DefaultTheme = Theme{
	StepPrefix:     "== ",
	DisabledPrefix: "  - ",
	ErrorPrefix:    "! ",
}

// Option configures the TUI renderer.
type Option func(*Renderer)

// WithPromptDriver overrides the prompt driver used by the renderer.
func WithPromptDriver(driver PromptDriver) Option {
	return func(r *Renderer) {
		if driver != nil {
			r.driver = driver
		}
	}
}

// WithTerminal styles save-state lines through t.
func WithTerminal(t *notify.Terminal) Option {
	return func(r *Renderer) {
		r.term = t
	}
}

// WithTheme applies optional message prefixes.
func WithTheme(theme Theme) Option {
	return func(r *Renderer) {
		r.theme = theme
	}
}

// WithPageSize sets how many options select prompts show at once.
func WithPageSize(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithTextAreaThreshold sends text fields whose maximum length exceeds n to
// the multi-line prompt.
func WithTextAreaThreshold(n int) Option {
	return func(r *Renderer) {
		r.textAreaAt = n
	}
}
