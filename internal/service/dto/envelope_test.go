package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

func decode(t *testing.T, raw string) *EventEnvelope {
	t.Helper()
	env := new(EventEnvelope)
	require.NoError(t, json.Unmarshal([]byte(raw), env))
	return env
}

func TestEventEnvelope_ToDomain(t *testing.T) {
	env := decode(t, `{
		"eventId": "e-1",
		"kind": "message_delivered",
		"priority": "high",
		"source": "node-a",
		"payload": {"messageId": "m1", "seq": 4, "nodeId": "node-a"}
	}`)

	ev, err := env.ToDomain()
	require.NoError(t, err)

	assert.Equal(t, "e-1", ev.ID)
	assert.Equal(t, model.KindMessageDelivered, ev.Kind)
	assert.Equal(t, model.PriorityHigh, ev.Priority)
	assert.Equal(t, "node-a", ev.Source)

	p, ok := ev.Payload.(*model.MessageStatusPayload)
	require.True(t, ok)
	assert.Equal(t, "m1", p.MessageID)
	require.NotNil(t, p.Seq)
	assert.Equal(t, int64(4), *p.Seq)
}

func TestEventEnvelope_RefreshNeedsNoPayload(t *testing.T) {
	ev, err := decode(t, `{"kind": "notification_refresh"}`).ToDomain()
	require.NoError(t, err)
	assert.IsType(t, &model.RefreshPayload{}, ev.Payload)
	assert.Equal(t, model.PriorityNormal, ev.Priority)
}

func TestEventEnvelope_Rejects(t *testing.T) {
	tests := map[string]struct {
		raw  string
		want error
	}{
		"unknown kind":     {`{"kind": "message_exploded", "payload": {}}`, ErrUnknownKind},
		"missing payload":  {`{"kind": "notification"}`, ErrInvalidPayload},
		"payload mismatch": {`{"kind": "notification_count_update", "payload": {"increment": "x"}}`, ErrInvalidPayload},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tt.raw).ToDomain()
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := decode(t, `{"kind": "notification", "priority": "urgent", "payload": {}}`).ToDomain()
	assert.Error(t, err, "priority is validated")

	_, err = decode(t, `{"payload": {}}`).ToDomain()
	assert.Error(t, err, "kind is required")
}
