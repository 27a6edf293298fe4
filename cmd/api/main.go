package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/farmlink/farmlink-backend/api"
	"github.com/farmlink/farmlink-backend/api/routes"
	"github.com/farmlink/farmlink-backend/internal/checkout"
	"github.com/farmlink/farmlink-backend/internal/cron"
	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/payments"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/bootstrap"
	"github.com/farmlink/farmlink-backend/pkg/instance"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 20 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Start(ctx, serviceKind)
	if err != nil {
		bootstrap.Fail(serviceKind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB

	redisClient, err := rt.Redis(ctx)
	if err != nil {
		rt.Exit(ctx, "failed to bootstrap redis", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)
	reservationMetrics := metrics.NewReservationMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	conn := dbClient.DB()
	mpesaClient := mpesa.NewClient(cfg.Mpesa, mpesa.WithTokenCache(redisClient))
	reservationsService := reservations.NewService(logg, reservationMetrics)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
	ordersRepo := orders.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)

	ordersService, err := orders.NewService(ordersRepo, dbClient, outboxService, reservationsService, logg)
	if err != nil {
		rt.Exit(ctx, "failed to create orders service", err)
	}
	pushService, err := payments.NewPushService(mpesaClient, paymentsRepo, ordersRepo, paymentMetrics, logg)
	if err != nil {
		rt.Exit(ctx, "failed to create push service", err)
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Tx:       dbClient,
		Payments: paymentsRepo,
		Orders:   ordersRepo,
		Releaser: reservationsService,
		Outbox:   outboxService,
		Metrics:  paymentMetrics,
		Logger:   logg,
	})
	if err != nil {
		rt.Exit(ctx, "failed to create callback reconciler", err)
	}
	adminPayments, err := payments.NewAdminService(paymentsRepo)
	if err != nil {
		rt.Exit(ctx, "failed to create admin payments service", err)
	}
	checkoutService, err := checkout.NewService(checkout.Params{
		Tx:             dbClient,
		Products:       checkout.NewRepository(conn),
		Orders:         ordersRepo,
		Reservations:   reservationsService,
		Push:           pushService,
		Outbox:         outboxService,
		ReservationTTL: cfg.Reservations.TTL,
		Logger:         logg,
	})
	if err != nil {
		rt.Exit(ctx, "failed to create checkout service", err)
	}

	if cfg.Sweeper.InProcess {
		scheduler, err := cron.NewScheduler(cron.SchedulerParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			Reservations: reservationsService,
			Metrics:      cronMetrics,
		})
		if err != nil {
			rt.Exit(ctx, "failed to create reservation sweeper", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		registry,
		mpesaClient,
		pushService,
		reconciler,
		checkoutService,
		ordersService,
		adminPayments,
	)
	server := api.NewServer(cfg.App, handler)

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       server.Addr,
		"instance":   instance.GetID(),
		"mpesa_env":  cfg.Mpesa.Environment(),
		"in_process": cfg.Sweeper.InProcess,
	})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Exit(logCtx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "graceful shutdown failed", err)
		}
	}
	logg.Info(logCtx, "api server stopped")
}
