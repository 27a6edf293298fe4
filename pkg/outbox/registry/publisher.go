package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db/models"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/outbox"
	"github.com/farmlink/farmlink-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing and schema for one event type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row decoded against its descriptor.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row the publisher should park instead of retry.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes order and payment lifecycle events to the payments
// topic and receipt requests to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	payments, notifications := cfg.PaymentsTopic, cfg.NotificationTopic
	switch {
	case payments == "":
		return nil, fmt.Errorf("payments topic is required")
	case notifications == "":
		return nil, fmt.Errorf("notification topic is required")
	}

	descriptors := []EventDescriptor{
		describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, payments),
		describe[payloads.OrderPaidEvent](enums.EventOrderPaid, enums.AggregateOrder, payments),
		describe[payloads.OrderCancelledEvent](enums.EventOrderCancelled, enums.AggregateOrder, payments),
		describe[payloads.OrderExpiredEvent](enums.EventOrderExpired, enums.AggregateOrder, payments),
		describe[payloads.PaymentUnmatchedEvent](enums.EventPaymentUnmatched, enums.AggregatePayment, payments),
		describe[payloads.ReceiptRequestedEvent](enums.EventReceiptRequested, enums.AggregateOrder, notifications),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, d := range descriptors {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists the distinct topics the registry routes to, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	for _, d := range r.entries {
		seen[d.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure is a NonRetryableError: a bad row stays bad.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
