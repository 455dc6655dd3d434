// Package devserver is a local backend implementing the five form endpoints
// over SQLite, for trying the CLI and for integration tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-stepform/pkg/payload"
)

// Config holds server configuration.
type Config struct {
	Addr   string
	Store  *Store
	Token  string
	Logger *slog.Logger
}

type handler struct {
	store  *Store
	logger *slog.Logger
}

// NewRouter registers the backend routes. A non-empty token is required as
// a bearer token on every route except /healthz.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{store: cfg.Store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearer(cfg.Token))
		r.Get("/forms/{code}/steps", h.getSteps)
		r.Get("/records/{id}/details", h.getRecord)
		r.Post("/records/fields", h.saveField)
		r.Post("/fields/{id}/options", h.createOption)
		r.Post("/items/batch", h.submitItems)
	})
	return r
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *handler) getSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.store.Steps(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, steps)
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	details, err := h.store.RecordDetails(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, details)
}

func (h *handler) saveField(w http.ResponseWriter, r *http.Request) {
	var write payload.FieldWrite
	if err := decodeJSON(r, &write); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.store.SaveField(r.Context(), write); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("field saved", "record_id", write.ParentRecordID, "field_id", write.FieldID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createOption(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	opt, err := h.store.CreateOption(r.Context(), id, body.Value)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("option created", "field_id", id, "option_id", opt.ID)
	writeData(w, http.StatusCreated, opt)
}

func (h *handler) submitItems(w http.ResponseWriter, r *http.Request) {
	var batch payload.Batch
	if err := decodeJSON(r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	id, err := h.store.InsertBatch(r.Context(), batch)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("batch stored", "batch_id", id, "instructions", len(batch.Items))
	writeData(w, http.StatusCreated, map[string]int64{"id": id})
}

// storeError maps store errors to HTTP responses.
func (h *handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	default:
		h.logger.Error("internal error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || got != token {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid id: "+raw)
		return 0, false
	}
	return id, true
}
