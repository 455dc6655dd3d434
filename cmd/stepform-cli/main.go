package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-stepform/internal/config"
	"github.com/goliatone/go-stepform/pkg/client"
	"github.com/goliatone/go-stepform/pkg/notify"
	"github.com/goliatone/go-stepform/pkg/renderers/tui"
	"github.com/goliatone/go-stepform/pkg/session"
)

const usage = `usage: stepform-cli <command> [flags]

commands:
  edit   edit an existing record; changes are saved as you go
  items  enter item blocks and submit them as one batch

run "stepform-cli <command> -h" for flags`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	if command != "edit" && command != "items" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	code := fs.String("form", "", "form code")
	recordID := fs.Int64("record", 0, "record id (edit only)")
	flags := config.BindFlags(fs)
	fs.Parse(os.Args[2:])

	cfg, err := config.Resolve(flags, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stepform-cli: %v\n", err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *code == "" {
		logger.Error("missing -form")
		os.Exit(2)
	}
	target := session.Target{Code: *code}
	if command == "edit" {
		if *recordID <= 0 {
			logger.Error("edit needs -record")
			os.Exit(2)
		}
		target.RecordID = *recordID
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, target, logger); err != nil {
		if errors.Is(err, tui.ErrAborted) || errors.Is(err, tui.ErrCancelled) {
			logger.Info("stopped", "reason", err)
			os.Exit(130)
		}
		logger.Error("stepform-cli failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, target session.Target, logger *slog.Logger) error {
	endpoints, err := resolveEndpoints(ctx, cfg, logger)
	if err != nil {
		return err
	}
	backend, err := client.New(cfg.BaseURL,
		client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		client.WithTokenSource(client.StaticToken(cfg.Token)),
		client.WithEndpoints(endpoints),
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	term := notify.NewTerminal(os.Stderr)
	driver := tui.NewSurveyDriver(os.Stdout)
	renderer := tui.New(tui.WithPromptDriver(driver), tui.WithTerminal(term))

	s, err := openWithRetry(ctx, driver, backend, target,
		session.WithNotifier(term),
		session.WithLogger(logger),
		session.WithConfirmer(renderer.Confirmer()),
		session.WithDebounce(cfg.Debounce),
		session.WithSavedWindow(cfg.SavedWindow),
		session.WithSaveObserver(renderer.SaveStatus),
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+cfg.Debounce)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Error("pending saves not flushed", "error", err)
		}
	}()

	if target.RecordID != 0 {
		return renderer.EditRecord(ctx, s)
	}
	return renderer.CollectItems(ctx, s)
}

// openWithRetry keeps offering a retry while the schema or record cannot be
// fetched; the form cannot be shown without them.
func openWithRetry(ctx context.Context, driver tui.PromptDriver, backend session.Backend, target session.Target, opts ...session.Option) (*session.Session, error) {
	for {
		s, err := session.Open(ctx, backend, target, opts...)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, session.ErrSchemaFetch) && !errors.Is(err, session.ErrRecordFetch) {
			return nil, err
		}
		if infoErr := driver.Info(ctx, "! "+err.Error()); infoErr != nil {
			return nil, infoErr
		}
		retry, cerr := driver.Confirm(ctx, tui.ConfirmConfig{Message: "Retry?", Default: true})
		if cerr != nil {
			return nil, cerr
		}
		if !retry {
			return nil, err
		}
	}
}

func resolveEndpoints(ctx context.Context, cfg config.Config, logger *slog.Logger) (client.Endpoints, error) {
	endpoints := client.DefaultEndpoints()
	if cfg.OpenAPI != "" {
		raw, err := os.ReadFile(cfg.OpenAPI)
		if err != nil {
			return client.Endpoints{}, fmt.Errorf("read OpenAPI document: %w", err)
		}
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		resolved, err := client.EndpointsFromOpenAPI(loadCtx, raw, client.DefaultOperationIDs())
		switch {
		case errors.Is(err, client.ErrOperationNotFound):
			logger.Warn("OpenAPI document is missing operations; using defaults for them", "error", err)
		case err != nil:
			return client.Endpoints{}, err
		}
		endpoints = resolved
	}
	return endpoints.Merge(cfg.Endpoints), nil
}
