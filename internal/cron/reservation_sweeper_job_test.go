package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/reservations"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/db/dbtest"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

var sweepNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newSweeper(t *testing.T, client *db.Client, conn *gorm.DB, reader expiredReservationReader, batch int) *reservationSweeperJob {
	t.Helper()
	svc := reservations.NewService(logger.Nop(), nil)
	if reader == nil {
		reader = svc
	}
	job, err := NewReservationSweeperJob(ReservationSweeperJobParams{
		Logger:       logger.Nop(),
		DB:           client,
		Reservations: reader,
		Releaser:     svc,
		Orders:       orders.NewRepository(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		BatchSize:    batch,
	})
	require.NoError(t, err)
	sweeper := job.(*reservationSweeperJob)
	sweeper.now = func() time.Time { return sweepNow }
	return sweeper
}

func loadOrder(t *testing.T, conn *gorm.DB, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, conn.Preload("Reservation").First(&order, "id = ?", id).Error)
	return order
}

func TestSweeperExpiresUnpaidOrder(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	// 10 in stock, 3 held by the order
	product := dbtest.SeedProduct(t, conn, "Sukuma wiki", 7, "100.00")
	order := dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
		Items:     map[uuid.UUID]int{product.ID: 3},
		Total:     "300",
		ExpiresAt: sweepNow.Add(-time.Minute),
	})

	require.NoError(t, newSweeper(t, client, conn, nil, 0).Run(context.Background()))

	assert.Equal(t, 10, dbtest.ProductStock(t, conn, product.ID))
	got := loadOrder(t, conn, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, enums.OrderPaymentFailed, got.PaymentStatus)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, ExpiredCancelReason, *got.CancelReason)
	require.NotNil(t, got.Reservation)
	assert.True(t, got.Reservation.Released)
	require.NotNil(t, got.Reservation.ReleaseReason)
	assert.Equal(t, enums.ReleaseReasonExpired, *got.Reservation.ReleaseReason)

	var event models.OutboxEvent
	require.NoError(t, conn.First(&event, "event_type = ?", enums.EventOrderExpired).Error)
	assert.Equal(t, order.ID, event.AggregateID)
}

func TestSweeperTreatsExpiryEqualToNowAsExpired(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	product := dbtest.SeedProduct(t, conn, "Maize", 5, "100.00")
	due := dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
		Items: map[uuid.UUID]int{product.ID: 2}, Total: "200", ExpiresAt: sweepNow,
	})
	future := dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
		Items: map[uuid.UUID]int{product.ID: 1}, Total: "100", ExpiresAt: sweepNow.Add(time.Second),
	})

	require.NoError(t, newSweeper(t, client, conn, nil, 0).Run(context.Background()))

	assert.Equal(t, enums.OrderStatusCancelled, loadOrder(t, conn, due.ID).Status)
	assert.Equal(t, enums.OrderStatusPending, loadOrder(t, conn, future.ID).Status)
	assert.False(t, loadOrder(t, conn, future.ID).Reservation.Released)
	assert.Equal(t, 7, dbtest.ProductStock(t, conn, product.ID))
}

func TestSweeperDrainsAcrossBatches(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	product := dbtest.SeedProduct(t, conn, "Beans", 0, "100.00")
	for i := 0; i < 5; i++ {
		dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
			Items: map[uuid.UUID]int{product.ID: 1}, Total: "100", ExpiresAt: sweepNow.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	require.NoError(t, newSweeper(t, client, conn, nil, 2).Run(context.Background()))

	assert.Equal(t, 5, dbtest.ProductStock(t, conn, product.ID))
	var open int64
	require.NoError(t, conn.Model(&models.OrderReservation{}).Where("released = ?", false).Count(&open).Error)
	assert.Zero(t, open)
}

// staleReader hands back reservations as they looked before another writer released them.
type staleReader struct {
	rows []models.OrderReservation
}

func (s staleReader) Expired(context.Context, *gorm.DB, time.Time, int, []uuid.UUID) ([]models.OrderReservation, error) {
	return s.rows, nil
}

func TestSweeperLosesRaceToPaidCallback(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	product := dbtest.SeedProduct(t, conn, "Avocado", 7, "100.00")
	order := dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
		Items: map[uuid.UUID]int{product.ID: 3}, Total: "300", ExpiresAt: sweepNow.Add(-time.Minute),
	})
	snapshot := *order.Reservation

	// the success callback commits between the sweeper's read and its update
	releaser := reservations.NewService(logger.Nop(), nil)
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if _, err := releaser.Release(context.Background(), tx, order.ID, enums.ReleaseReasonPaid); err != nil {
			return err
		}
		_, err := orders.NewRepository(tx).MarkPaid(context.Background(), order.ID)
		return err
	}))

	sweeper := newSweeper(t, client, conn, staleReader{rows: []models.OrderReservation{snapshot}}, 0)
	require.NoError(t, sweeper.Run(context.Background()))

	assert.Equal(t, 7, dbtest.ProductStock(t, conn, product.ID))
	got := loadOrder(t, conn, order.ID)
	assert.Equal(t, enums.OrderStatusConfirmed, got.Status)
	assert.Equal(t, enums.OrderPaymentPaid, got.PaymentStatus)
	assert.Equal(t, enums.ReleaseReasonPaid, *got.Reservation.ReleaseReason)

	var events int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderExpired).Count(&events).Error)
	assert.Zero(t, events)
}

func TestSweeperSecondRunIsNoop(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	product := dbtest.SeedProduct(t, conn, "Kale", 8, "100.00")
	dbtest.SeedPendingOrder(t, conn, dbtest.PendingOrder{
		Items: map[uuid.UUID]int{product.ID: 2}, Total: "200", ExpiresAt: sweepNow.Add(-time.Hour),
	})
	sweeper := newSweeper(t, client, conn, nil, 0)

	require.NoError(t, sweeper.Run(context.Background()))
	require.NoError(t, sweeper.Run(context.Background()))

	assert.Equal(t, 10, dbtest.ProductStock(t, conn, product.ID))
}
