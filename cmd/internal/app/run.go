package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/portal.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := setupTracing(ctx, cfg)
	if err != nil {
		log.Warn("otel.setup.fail", "err", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	a, err := New(cfg, log, IO{})
	if err != nil {
		return err
	}
	return a.Run(ctx, os.Args[1:])
}
