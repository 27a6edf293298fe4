// Package bootstrap is the startup sequence shared by the api, cron-worker and
// outbox-publisher binaries: env file, config, logger, Postgres, and dev
// auto-migrations. Resources opened through a Runtime are closed together.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/migrate"
	"github.com/farmlink/farmlink-backend/pkg/redis"
)

type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Start loads configuration for the named service kind and opens the database.
func Start(ctx context.Context, kind string) (*Runtime, error) {
	early := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		early.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	rt := &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	rt.track("database", rt.DB)

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		rt.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return rt, nil
}

// Redis opens the shared Redis client and closes it with the runtime.
func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	rt.track("redis", client)
	return client, nil
}

// Track registers an extra resource to close with the runtime.
func (rt *Runtime) Track(name string, c io.Closer) {
	rt.track(name, c)
}

func (rt *Runtime) track(name string, c io.Closer) {
	rt.closers = append(rt.closers, namedCloser{name: name, c: c})
}

// Close releases tracked resources newest first and logs failures.
func (rt *Runtime) Close() {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		nc := rt.closers[i]
		if err := nc.c.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}
	rt.closers = nil
	if errs != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", errs)
	}
}

// Exit logs err and terminates the process. Tracked resources are closed first.
func (rt *Runtime) Exit(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	rt.Close()
	os.Exit(1)
}

// Fail reports a startup error before a Runtime exists.
func Fail(kind, msg string, err error) {
	logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), msg, err)
	os.Exit(1)
}
