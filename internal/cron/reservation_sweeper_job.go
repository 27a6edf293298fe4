package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/payloads"
)

const (
	defaultSweepBatchSize = 100
	// ExpiredCancelReason is stored on orders the sweeper cancels.
	ExpiredCancelReason = "reservation expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type expiredReservationReader interface {
	Expired(ctx context.Context, db *gorm.DB, now time.Time, limit int, skip []uuid.UUID) ([]models.OrderReservation, error)
}

// ReservationSweeperJobParams configure the expiry sweep.
type ReservationSweeperJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Reservations expiredReservationReader
	Releaser     orders.ReservationReleaser
	Orders       orders.Repository
	Outbox       outboxEmitter
	BatchSize    int
}

// NewReservationSweeperJob builds the job that returns stock held by
// reservations past their expires_at and cancels their unpaid orders.
func NewReservationSweeperJob(params ReservationSweeperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation reader required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("reservation releaser required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &reservationSweeperJob{
		logg:         params.Logger,
		db:           params.DB,
		reservations: params.Reservations,
		releaser:     params.Releaser,
		orders:       params.Orders,
		outbox:       params.Outbox,
		batchSize:    batch,
		now:          time.Now,
	}, nil
}

type reservationSweeperJob struct {
	logg         *logger.Logger
	db           txRunner
	reservations expiredReservationReader
	releaser     orders.ReservationReleaser
	orders       orders.Repository
	outbox       outboxEmitter
	batchSize    int
	now          func() time.Time
}

func (j *reservationSweeperJob) Name() string { return "reservation-sweeper" }

// Run drains every reservation expired as of the start of the tick. A
// reservation that fails is skipped for the rest of the tick and retried on
// the next one.
func (j *reservationSweeperJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		errs    error
		failed  []uuid.UUID
		expired int
		skipped int
	)
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		var batch []models.OrderReservation
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := j.reservations.Expired(ctx, tx, now, j.batchSize, failed)
			batch = rows
			return err
		})
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list expired reservations: %w", err))
		}
		for _, reservation := range batch {
			cancelled, err := j.expire(ctx, reservation, now)
			if err != nil {
				failed = append(failed, reservation.ID)
				errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", reservation.OrderID, err))
				logCtx := j.logg.WithOrderID(ctx, reservation.OrderID.String())
				j.logg.Error(logCtx, "failed to expire reservation", err)
				continue
			}
			if cancelled {
				expired++
			} else {
				skipped++
			}
		}
		if len(batch) < j.batchSize {
			break
		}
	}
	if expired > 0 || skipped > 0 || errs != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"expired": expired,
			"skipped": skipped,
			"failed":  len(failed),
		})
		j.logg.Info(logCtx, "reservation sweep complete")
	}
	return errs
}

// expire releases one reservation and cancels its order in a single
// transaction. It reports false when another writer released first or the
// order was no longer awaiting payment.
func (j *reservationSweeperJob) expire(ctx context.Context, reservation models.OrderReservation, now time.Time) (bool, error) {
	cancelled := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := j.releaser.Release(ctx, tx, reservation.OrderID, enums.ReleaseReasonExpired)
		if err != nil {
			return err
		}
		if !result.Released {
			return nil
		}
		repo := j.orders.WithTx(tx)
		ok, err := repo.CancelIfPending(ctx, reservation.OrderID, ExpiredCancelReason)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		order, err := repo.FindOrder(ctx, reservation.OrderID)
		if err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.SystemActor(j.Name()),
			OccurredAt:    now,
			Data: payloads.OrderExpiredEvent{
				OrderID:       order.ID,
				BuyerID:       order.BuyerID,
				ReservationID: reservation.ID,
				ExpiredAt:     reservation.ExpiresAt,
			},
		}
		if err := j.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}
