package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
)

// outcome is what happened to a single row during a batch.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeParkedInvalid
	outcomeParkedExhausted
)

func (o outcome) terminalReason() string {
	switch o {
	case outcomeParkedInvalid:
		return "non_retryable"
	case outcomeParkedExhausted:
		return "max_attempts"
	}
	return ""
}

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
}

// Service drains outbox_events to Pub/Sub. Each batch is claimed and marked in
// one transaction, so a crash mid-batch leaves rows for the next poll.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	registry    registryResolver
	publishers  publisherFactory
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	var missing error
	for name, ok := range map[string]bool{
		"config":            p.Config != nil,
		"logger":            p.Logger != nil,
		"database client":   p.DB != nil,
		"pubsub client":     p.PubSub != nil,
		"outbox repository": p.Repository != nil,
		"event registry":    p.Registry != nil,
	} {
		if !ok {
			missing = multierr.Append(missing, fmt.Errorf("%s is required", name))
		}
	}
	if missing != nil {
		return nil, missing
	}

	factory := p.PublisherFactory
	if factory == nil {
		factory = pubSubPublishers(p.PubSub)
	}
	cfg := p.Config.Outbox
	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		repo:        p.Repository,
		pubsub:      p.PubSub,
		registry:    p.Registry,
		publishers:  factory,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is canceled. Empty polls wait one interval; failed
// batches back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := multierr.Combine(
		s.ping(ctx, "database", s.db.Ping),
		s.ping(ctx, "pubsub", s.pubsub.Ping),
	); err != nil {
		return err
	}

	retry := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = retry.NextBackOff()
		case processed:
			retry.Reset()
			continue
		default:
			retry.Reset()
			wait = s.poll
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.poll
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Service) ping(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.logg.Error(ctx, name+" ping failed", err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// processBatch reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events) > 0
		for _, event := range events {
			result, pubErr := s.publishOne(ctx, event)
			if err := s.record(ctx, tx, event, result, pubErr); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// publishOne resolves and sends one row and classifies the result.
func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeParkedInvalid, err
	}
	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return outcomeParkedInvalid, fmt.Errorf("publisher not configured for topic %s", topic)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	res := pub.Publish(publishCtx, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if res == nil {
		return outcomeParkedInvalid, fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	if _, err := res.Get(publishCtx); err != nil {
		var nonRetry registry.NonRetryableError
		switch {
		case errors.As(err, &nonRetry):
			return outcomeParkedInvalid, err
		case event.AttemptCount+1 >= s.maxAttempts:
			return outcomeParkedExhausted, fmt.Errorf("max publish attempts reached: %w", err)
		}
		return outcomeRetry, err
	}
	return outcomePublished, nil
}

// record persists the outcome. Parked rows sit at the attempt ceiling so the
// fetch query skips them; they stay in outbox_events for manual replay.
func (s *Service) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, result outcome, pubErr error) error {
	ctx = s.logg.WithFields(ctx, s.eventFields(event))
	if pubErr != nil {
		ctx = s.logg.WithField(ctx, "error", pubErr.Error())
	}

	switch result {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(ctx, "attempt_count", event.AttemptCount+1), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	default:
		s.logg.Warn(s.logg.WithField(ctx, "terminal_reason", result.terminalReason()), "outbox event will not be retried")
		if err := s.repo.MarkTerminalTx(tx, event.ID, pubErr, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	return nil
}

func (s *Service) eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
