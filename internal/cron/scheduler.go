package cron

import (
	"fmt"
	"time"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/metrics"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

type lockStore interface {
	redisStore
	LockKey(name string) string
}

// SchedulerParams carry the dependencies shared by the API process (when it
// sweeps in-process) and the dedicated cron worker.
type SchedulerParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *db.Client
	Redis        lockStore
	Reservations *reservations.Service
	Metrics      *metrics.CronJobMetrics
}

// NewScheduler registers the reservation sweeper and the outbox retention job
// behind the sweeper lock.
func NewScheduler(p SchedulerParams) (*Service, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if p.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if p.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	conn := p.DB.DB()
	outboxRepo := outbox.NewRepository(conn)

	sweeper, err := NewReservationSweeperJob(ReservationSweeperJobParams{
		Logger:       p.Logger,
		DB:           p.DB,
		Reservations: p.Reservations,
		Releaser:     p.Reservations,
		Orders:       orders.NewRepository(conn),
		Outbox:       outbox.NewService(outboxRepo, p.Logger),
		BatchSize:    p.Config.Sweeper.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation sweeper: %w", err)
	}
	retention, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     p.Logger,
		DB:         p.DB,
		Repository: outboxRepo,
		Retention:  time.Duration(p.Config.Outbox.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention: %w", err)
	}

	lock, err := NewRedisLock(p.Redis, p.Redis.LockKey(SweeperLockName), p.Config.Sweeper.LockTTL)
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Logger:   p.Logger,
		Registry: NewRegistry(sweeper, retention),
		Lock:     lock,
		Metrics:  p.Metrics,
		Interval: p.Config.Sweeper.Interval,
	})
}
