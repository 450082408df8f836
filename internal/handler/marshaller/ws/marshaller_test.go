package wsmarshaller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

func TestMarshallUpdate(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	u := model.NewDispatchedUpdate(at)
	u.StatusUpdatesDetailed["m1"] = model.StatusUpdate{Status: model.StatusDelivered, Seq: 2, NodeID: "node-a"}
	u.RefreshNeeded = true
	user := uuid.New()

	data, err := MarshallUpdate(user, u)
	require.NoError(t, err)

	var frame struct {
		Event   string `json:"event"`
		UserID  string `json:"user_id"`
		SentAt  int64  `json:"sent_at"`
		Payload struct {
			StatusUpdates         map[string]string         `json:"statusUpdates"`
			StatusUpdatesDetailed map[string]map[string]any `json:"statusUpdatesDetailed"`
			Notifications         []any                     `json:"notifications"`
			RefreshNeeded         bool                      `json:"refreshNeeded"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))

	assert.Equal(t, EventUpdate, frame.Event)
	assert.Equal(t, user.String(), frame.UserID)
	assert.Equal(t, at.UnixMilli(), frame.SentAt)
	assert.Equal(t, map[string]string{"m1": "delivered"}, frame.Payload.StatusUpdates)
	assert.Equal(t, "delivered", frame.Payload.StatusUpdatesDetailed["m1"]["status"])
	assert.Equal(t, "node-a", frame.Payload.StatusUpdatesDetailed["m1"]["nodeId"])
	assert.NotNil(t, frame.Payload.Notifications, "empty list, not null")
	assert.True(t, frame.Payload.RefreshNeeded)
}
