package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

var ErrTxRequired = errors.New("outbox: transaction required")

// DomainEvent is a state change to publish once the surrounding transaction
// commits. Version defaults to 1 and OccurredAt to the emit time.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *Actor
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("outbox: unknown event type %q", e.EventType)
	}
	if !e.AggregateType.IsValid() {
		return fmt.Errorf("outbox: unknown aggregate type %q", e.AggregateType)
	}
	return nil
}

// envelope wraps the marshalled data with a fresh event id.
func (e DomainEvent) envelope(now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("outbox: marshal %s data: %w", e.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    e.Version,
		EventID:    uuid.NewString(),
		OccurredAt: e.OccurredAt,
		Actor:      e.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = 1
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now
	}
	return env, nil
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit stores event on tx. The row commits or rolls back with the caller's
// state change; nothing is published from here.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	if err := event.validate(); err != nil {
		return err
	}
	env, err := event.envelope(s.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("outbox: marshal envelope: %w", err)
	}

	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       datatypes.JSON(raw),
	}); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox.event_queued")
	}
	return nil
}
