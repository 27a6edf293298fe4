package outbox_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/farmlink-backend/pkg/outbox"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := outbox.DecodeEnvelope([]byte(`{"version":1,"event_id":"e-1","occurred_at":"2026-03-01T10:00:00Z","actor":{"kind":"mpesa","id":"ws_CO_1"},"data":{"order_id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "e-1", env.EventID)
	assert.Equal(t, outbox.ActorMpesa, env.Actor.Kind)
	assert.JSONEq(t, `{"order_id":"x"}`, string(env.Data))

	_, err = outbox.DecodeEnvelope([]byte(`{"version":1,"event_id":"e-2","data":null}`))
	assert.ErrorIs(t, err, outbox.ErrEmptyEventData)

	_, err = outbox.DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestBuyerActorSkipsNilID(t *testing.T) {
	assert.Nil(t, outbox.BuyerActor(uuid.Nil))
	id := uuid.New()
	assert.Equal(t, &outbox.Actor{Kind: outbox.ActorBuyer, ID: id.String()}, outbox.BuyerActor(id))
}
