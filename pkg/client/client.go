// Package client talks to the form backend over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

const (
	DefaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20
	requestIDHeader = "X-Request-ID"
)

var ErrInvalidBaseURL = errors.New("client: base URL must be absolute")

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method    string
	URL       string
	Status    int
	Body      string
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("client: %s %s: status %d: %s", e.Method, e.URL, e.Status, msg)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient injects the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource sets the bearer token capability.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithEndpoints overrides the endpoint templates. Empty entries keep their
// defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = c.endpoints.Merge(e)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is the HTTP collaborator of a form session.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    TokenSource
	endpoints Endpoints
	logger    *slog.Logger
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: DefaultTimeout},
		endpoints: DefaultEndpoints(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Endpoints returns the resolved endpoint templates.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// FetchSchema loads the steps of the form identified by code, sorted by
// ordinal.
func (c *Client) FetchSchema(ctx context.Context, code string) (schema.Steps, error) {
	path := expand(c.endpoints.Schema, map[string]string{"code": code})
	var steps schema.Steps
	if err := c.do(ctx, http.MethodGet, path, nil, &steps); err != nil {
		return nil, err
	}
	if err := steps.Validate(); err != nil {
		return nil, fmt.Errorf("client: schema %q: %w", code, err)
	}
	return steps.Sorted(), nil
}

// FetchRecord loads the persisted detail rows of an existing record.
func (c *Client) FetchRecord(ctx context.Context, recordID int64) ([]values.StepDetails, error) {
	path := expand(c.endpoints.Record, map[string]string{"id": strconv.FormatInt(recordID, 10)})
	var details []values.StepDetails
	if err := c.do(ctx, http.MethodGet, path, nil, &details); err != nil {
		return nil, err
	}
	return details, nil
}

// SaveField performs one incremental field save.
func (c *Client) SaveField(ctx context.Context, write payload.FieldWrite) error {
	return c.do(ctx, http.MethodPost, c.endpoints.SaveField, write, nil)
}

// CreateOption adds value to the options of fieldID and returns the option
// with its server id.
func (c *Client) CreateOption(ctx context.Context, fieldID int64, value string) (schema.FieldOption, error) {
	path := expand(c.endpoints.CreateOption, map[string]string{"id": strconv.FormatInt(fieldID, 10)})
	var created schema.FieldOption
	body := struct {
		Value string `json:"value"`
	}{Value: value}
	if err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
		return schema.FieldOption{}, err
	}
	if created.ID == 0 {
		return schema.FieldOption{}, fmt.Errorf("client: create option %q: response carries no id", value)
	}
	return created, nil
}

// SubmitItems posts a batch of new item rows.
func (c *Client) SubmitItems(ctx context.Context, batch payload.Batch) error {
	if len(batch.Items) == 0 {
		return payload.ErrEmptyBatch
	}
	return c.do(ctx, http.MethodPost, c.endpoints.SubmitItems, batch, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	target := c.resolve(path)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("client: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("client: read %s %s: %w", method, path, err)
	}
	c.logger.Debug("request done", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", requestID, "elapsed", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:    method,
			URL:       path,
			Status:    resp.StatusCode,
			Body:      string(raw),
			Message:   errorMessage(raw),
			RequestID: requestID,
		}
	}
	if out == nil {
		return nil
	}
	if err := decodeData(raw, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	u := *c.base
	ref, err := url.Parse(path)
	if err != nil {
		u.Path += "/" + strings.TrimLeft(path, "/")
		return u.String()
	}
	u.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.TrimLeft(ref.EscapedPath(), "/")
	if ref.RawQuery != "" {
		u.RawQuery = ref.RawQuery
	}
	return u.String()
}

// decodeData accepts both bare payloads and {"data": ...} envelopes.
func decodeData(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty response body")
	}
	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if data, ok := envelope["data"]; ok {
				return json.Unmarshal(data, out)
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}

func errorMessage(raw []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(envelope.Error) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Error, &text); err == nil && text != "" {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return envelope.Message
}
