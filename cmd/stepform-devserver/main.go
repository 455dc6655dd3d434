package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-stepform/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dsn := flag.String("db", os.Getenv("DATABASE_URL"), "SQLite DSN (in-memory when empty)")
	token := flag.String("token", os.Getenv("STEPFORM_TOKEN"), "bearer token required by the API (none when empty)")
	seed := flag.Bool("seed", true, "load the bundled demo forms and records (replaces existing ones)")
	verbose := flag.Bool("v", false, "log every request")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := devserver.Open(ctx, *dsn)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *seed {
		if err := devserver.Seed(ctx, store); err != nil {
			logger.Error("seed database", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("starting dev backend", "addr", *addr, "auth", *token != "")
	if err := devserver.Run(ctx, devserver.Config{
		Addr:   *addr,
		Store:  store,
		Token:  *token,
		Logger: logger,
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
