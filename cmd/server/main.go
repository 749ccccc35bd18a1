// Package main runs the taskwatch server: it submits analysis jobs to the
// analysis backend, follows them to completion and serves their status over
// HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deepfocal/taskwatch/internal/config"
	"github.com/deepfocal/taskwatch/internal/platform/logger"
	"github.com/deepfocal/taskwatch/internal/platform/postgres"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply result store migrations and exit")
	flag.Parse()

	if err := run(*migrateOnly); err != nil {
		slog.Error("taskwatch exited with error", "error", err)
		os.Exit(1)
	}
}

func run(migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_enabled", cfg.Database.URL != "",
		"redis_enabled", cfg.Redis.Addr != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateOnly {
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is required to run migrations")
		}
		db, err := postgres.Open(ctx, cfg.Database.URL, log)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		_, err = postgres.Migrate(ctx, db, log)
		return err
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
