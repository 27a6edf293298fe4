package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/farmlink/farmlink-backend/internal/cron"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/bootstrap"
	"github.com/farmlink/farmlink-backend/pkg/instance"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
)

const serviceKind = "cron-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, serviceKind)
	if err != nil {
		bootstrap.Fail(serviceKind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	redisClient, err := rt.Redis(ctx)
	if err != nil {
		rt.Exit(ctx, "failed to bootstrap redis", err)
	}

	service, err := cron.NewScheduler(cron.SchedulerParams{
		Config:       cfg,
		Logger:       logg,
		DB:           rt.DB,
		Redis:        redisClient,
		Reservations: reservations.NewService(logg, metrics.NewReservationMetrics(prometheus.DefaultRegisterer)),
		Metrics:      metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Exit(ctx, "failed to create cron service", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
		"interval":    cfg.Sweeper.Interval.String(),
		"jobs":        service.JobNames(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(ctx, "cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
