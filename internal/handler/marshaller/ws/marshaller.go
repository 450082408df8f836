package wsmarshaller

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

const EventUpdate = "update"

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Event   string    `json:"event"`
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	SentAt  int64     `json:"sent_at"`
	Payload *WSUpdate `json:"payload"`
}

// MarshallUpdate prepares one dispatched update for WebSocket transmission.
// The same frame is also what the outbound bus carries.
func MarshallUpdate(userID uuid.UUID, u *model.DispatchedUpdate) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventUpdate,
		ID:      uuid.NewString(),
		UserID:  userID.String(),
		SentAt:  u.Timestamp.UnixMilli(),
		Payload: NewWSUpdate(u),
	})
}
