package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor kinds carried on envelopes.
const (
	ActorBuyer  = "buyer"
	ActorSystem = "system"
	ActorMpesa  = "mpesa"
)

// Actor names what caused the event: a buyer, a scheduled job, or a provider callback.
type Actor struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func BuyerActor(buyerID uuid.UUID) *Actor {
	if buyerID == uuid.Nil {
		return nil
	}
	return &Actor{Kind: ActorBuyer, ID: buyerID.String()}
}

func SystemActor(job string) *Actor {
	return &Actor{Kind: ActorSystem, ID: job}
}

// MpesaActor ties an event to the callback that produced it.
func MpesaActor(checkoutRequestID string) *Actor {
	return &Actor{Kind: ActorMpesa, ID: checkoutRequestID}
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and sent as the
// Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var ErrEmptyEventData = errors.New("envelope data is empty")

// DecodeEnvelope parses a stored payload. An envelope with no data is an error.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyEventData
	}
	return env, nil
}
