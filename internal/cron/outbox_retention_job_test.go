package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/farmlink/farmlink-backend/pkg/db/dbtest"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

func TestOutboxRetentionJobPrunesInBatches(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-45 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	seed := func(published *time.Time) {
		t.Helper()
		require.NoError(t, conn.Create(&models.OutboxEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			Payload:       datatypes.JSON(`{}`),
			PublishedAt:   published,
		}).Error)
	}
	for i := 0; i < 5; i++ {
		seed(&old)
	}
	seed(&recent)
	seed(nil)

	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         client,
		Repository: outbox.NewRepository(conn),
		BatchSize:  2,
	})
	require.NoError(t, err)
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }
	assert.Equal(t, 30*24*time.Hour, job.retention)

	require.NoError(t, job.Run(context.Background()))

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.EqualValues(t, 2, remaining, "recent and unpublished rows survive")
}

func TestOutboxRetentionJobStopsOnCancelledContext(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         client,
		Repository: outbox.NewRepository(conn),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{})
	assert.EqualError(t, err, "logger required")
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()})
	assert.EqualError(t, err, "db runner required")
}
