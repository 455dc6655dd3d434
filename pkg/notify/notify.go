// Package notify defines the user notification boundary (toasts in the web
// console, styled lines in a terminal). Every recoverable error in the engine
// is reported through a Notifier before it is returned.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is one user-visible message.
type Notice struct {
	Level   Level
	Message string
	// FieldID is set when the notice concerns one field.
	FieldID int64
}

// Notifier presents notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Func adapts a function into a Notifier.
type Func func(Notice)

// Notify calls f.
func (f Func) Notify(n Notice) {
	f(n)
}

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Errorf builds an error notice.
func Errorf(fieldID int64, format string, args ...any) Notice {
	return Notice{Level: LevelError, FieldID: fieldID, Message: fmt.Sprintf(format, args...)}
}

// Terminal writes styled notices to a writer.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer

	info    lipgloss.Style
	success lipgloss.Style
	err     lipgloss.Style
}

// NewTerminal returns a Terminal notifier writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		out:     out,
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// Notify implements Notifier.
func (t *Terminal) Notify(n Notice) {
	if t == nil || t.out == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.style(n.Level).Render(prefix(n.Level)+n.Message))
}

// Status renders a one-word status line (used for the save indicator).
func (t *Terminal) Status(level Level, text string) string {
	return t.style(level).Render(text)
}

func (t *Terminal) style(level Level) lipgloss.Style {
	switch level {
	case LevelSuccess:
		return t.success
	case LevelError:
		return t.err
	default:
		return t.info
	}
}

func prefix(level Level) string {
	switch level {
	case LevelSuccess:
		return "✓ "
	case LevelError:
		return "✗ "
	default:
		return "• "
	}
}
