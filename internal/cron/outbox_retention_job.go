package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/logger"
)

const (
	defaultRetention      = 30 * 24 * time.Hour
	defaultRetentionBatch = 500
	// maxRetentionBatches bounds one run; leftovers go on the next tick.
	maxRetentionBatches = 20
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	// Retention is how long published rows are kept. Zero means 30 days.
	Retention time.Duration
	BatchSize int
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case p.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      p.Logger,
		db:        p.DB,
		repo:      p.Repository,
		retention: p.Retention,
		batch:     p.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultRetention
	}
	if job.batch <= 0 {
		job.batch = defaultRetentionBatch
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in short transactions so a large backlog never holds locks
// for long.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for i := 0; i < maxRetentionBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.DeletePublishedBefore(tx.WithContext(ctx), cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"retention":    j.retention.String(),
			"rows_deleted": total,
		}), "outbox.retention_pruned")
	}
	return nil
}
