// Command messagehub runs the hub as a standalone service, configured from
// the environment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"github.com/dungeonforge/messagehub"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "messagehub:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg messagehub.Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	level := slog.LevelInfo
	if os.Getenv("MESSAGEHUB_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := messagehub.NewSlogServiceLogger(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := messagehub.New(ctx, cfg, logger, messagehub.Dependencies{})
	if err != nil {
		return err
	}

	return svc.Run(ctx)
}
