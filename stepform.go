// Package stepform is the entry point for driving server-defined multi-step
// forms: open a session against a backend, edit a record field by field or
// collect item blocks, and persist through the save coordinator.
package stepform

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-stepform/pkg/client"
	"github.com/goliatone/go-stepform/pkg/session"
)

// Session aliases session.Session so callers can stay on the root package.
type Session = session.Session

// Target selects the form and, for record editing, the record.
type Target = session.Target

// Option configures a session.
type Option = session.Option

// Backend is the set of remote operations a session needs.
type Backend = session.Backend

// Record targets an existing record of a form; edits are saved as they
// happen.
func Record(code string, recordID int64) Target {
	return Target{Code: code, RecordID: recordID}
}

// Items targets a form in batch entry mode; item blocks are submitted
// together.
func Items(code string) Target {
	return Target{Code: code}
}

// Open fetches the form schema (and the record, in record mode) and returns
// a ready session.
func Open(ctx context.Context, backend Backend, target Target, options ...Option) (*Session, error) {
	return session.Open(ctx, backend, target, options...)
}

// Dial builds an HTTP client for baseURL with an optional bearer token and
// opens a session through it.
func Dial(ctx context.Context, baseURL, token string, target Target, options ...Option) (*Session, error) {
	clientOpts := []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if token != "" {
		clientOpts = append(clientOpts, client.WithTokenSource(client.StaticToken(token)))
	}
	c, err := client.New(baseURL, clientOpts...)
	if err != nil {
		return nil, err
	}
	return session.Open(ctx, c, target, options...)
}

// WithNotifier, WithLogger and WithConfirmer re-export the most common
// session options.
var (
	WithNotifier  = session.WithNotifier
	WithLogger    = session.WithLogger
	WithConfirmer = session.WithConfirmer
)
