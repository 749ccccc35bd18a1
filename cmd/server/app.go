package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepfocal/taskwatch/internal/analysis"
	"github.com/deepfocal/taskwatch/internal/api"
	"github.com/deepfocal/taskwatch/internal/config"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/deepfocal/taskwatch/internal/platform/postgres"
	"github.com/deepfocal/taskwatch/internal/registry"
	"github.com/deepfocal/taskwatch/internal/store"
	"github.com/deepfocal/taskwatch/internal/task"
	"github.com/go-redis/redis/v8"
)

// streamKeepAlive is how often idle event streams receive a comment frame.
const streamKeepAlive = 15 * time.Second

// application holds the process-wide dependencies so they can be shut down
// in order.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	bus         *events.Bus
	coordinator *task.Coordinator
	handler     http.Handler
}

// newApplication builds the application. The database and Redis are only
// connected when configured.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		bus:    events.NewBus(logger),
	}

	results, err := app.setupResultStore(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupRedisBridge(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	client, err := newAnalysisClient(cfg.Analysis, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	reg := registry.New(logger)
	reg.OnLoadingChange(func(loading bool) {
		logger.Info("analysis activity changed", "any_running", loading)
	})

	app.coordinator = task.NewCoordinator(client, reg, results, app.bus, task.CoordinatorConfig{
		Schedule: task.ScheduleFromConfig(cfg.Polling),
		Clock:    task.RealClock(),
	}, logger)

	app.handler = api.NewRouter(
		api.NewAnalysisHandler(app.coordinator),
		api.NewEventsHandler(app.bus, streamKeepAlive),
		logger,
	)

	logger.Info("application initialized",
		"poll_budget", task.ScheduleFromConfig(cfg.Polling).Budget().String())
	return app, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.handler); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (app *application) setupResultStore(ctx context.Context) (store.ResultStore, error) {
	if app.config.Database.URL == "" {
		app.logger.Info("no database configured, keeping results in memory")
		return store.NewMemoryResultStore(), nil
	}

	db, err := postgres.Open(ctx, app.config.Database.URL, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if _, err := postgres.Migrate(ctx, db, app.logger); err != nil {
		return nil, err
	}
	return postgres.NewPostgresResultStore(db, app.logger), nil
}

func (app *application) setupRedisBridge(ctx context.Context) error {
	cfg := app.config.Redis
	if cfg.Addr == "" {
		return nil
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.bus.Subscribe(events.NewRedisBridge(app.redis, cfg.Channel, app.logger))
	app.logger.Info("publishing outcomes to redis", "channel", cfg.Channel)
	return nil
}

// newAnalysisClient picks the bearer token source: a static token wins over
// a signing secret, and neither means unauthenticated requests.
func newAnalysisClient(cfg config.AnalysisConfig, logger *slog.Logger) (*analysis.HTTPClient, error) {
	var tokens analysis.TokenSource
	switch {
	case cfg.AuthToken != "":
		tokens = analysis.StaticToken(cfg.AuthToken)
	case cfg.SigningSecret != "":
		signed, err := analysis.NewSignedTokenSource(cfg.SigningSecret, cfg.ServiceSubject)
		if err != nil {
			return nil, fmt.Errorf("failed to create service token source: %w", err)
		}
		tokens = signed
	}

	client, err := analysis.NewHTTPClient(cfg.BaseURL, cfg.RequestTimeout, tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}
	return client, nil
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	if app.coordinator != nil {
		app.coordinator.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
