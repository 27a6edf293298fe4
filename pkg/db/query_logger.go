package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/farmlink/farmlink-backend/pkg/logger"
)

// queryLogger sends GORM's statement trace to the service logger. Only slow
// statements and real failures are emitted; record-not-found is a normal
// lookup result and stays quiet.
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow}
}

func (q *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLogger) Info(context.Context, string, ...any) {}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	q.logg.Warn(ctx, "gorm: "+fmt.Sprintf(msg, args...))
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	q.logg.Error(ctx, "gorm: "+fmt.Sprintf(msg, args...), nil)
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, context.Canceled)
	slow := q.slow > 0 && elapsed > q.slow
	if !failed && !slow {
		return
	}

	sql, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if failed {
		q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), "db.query_failed")
		return
	}
	q.logg.Warn(ctx, "db.query_slow")
}
