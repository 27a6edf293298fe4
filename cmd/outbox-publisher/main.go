package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/farmlink/farmlink-backend/pkg/bootstrap"
	"github.com/farmlink/farmlink-backend/pkg/instance"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/registry"
	"github.com/farmlink/farmlink-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, serviceKind)
	if err != nil {
		bootstrap.Fail(serviceKind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		rt.Exit(ctx, "failed to build event registry", err)
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, eventRegistry.Topics(), logg)
	if err != nil {
		rt.Exit(ctx, "failed to bootstrap pubsub", err)
	}
	rt.Track("pubsub", pubsubClient)
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Registry:   eventRegistry,
	})
	if err != nil {
		rt.Exit(ctx, "failed to create outbox publisher", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  serviceKind,
		"instance":     instance.GetID(),
		"batch_size":   service.batchSize,
		"max_attempts": service.maxAttempts,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
