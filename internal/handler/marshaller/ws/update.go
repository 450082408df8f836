package wsmarshaller

import (
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// WSUpdate is the JSON form of a DispatchedUpdate. Both status views are
// emitted: the label map for simple UIs and the detailed map for clients
// that reconcile on their side too.
type WSUpdate struct {
	Notifications            []model.NotificationEntry `json:"notifications"`
	StatusUpdates            map[string]string         `json:"statusUpdates"`
	StatusUpdatesDetailed    map[string]WSStatus       `json:"statusUpdatesDetailed"`
	CountUpdates             *model.CountUpdate        `json:"countUpdates,omitempty"`
	ConversationCountUpdates map[string]int            `json:"conversationCountUpdates"`
	RefreshNeeded            bool                      `json:"refreshNeeded"`
	Timestamp                int64                     `json:"timestamp"`
	Immediate                bool                      `json:"immediate"`
	EventCount               int                       `json:"eventCount"`
}

type WSStatus struct {
	Status    string `json:"status"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"nodeId,omitempty"`
}

func NewWSUpdate(u *model.DispatchedUpdate) *WSUpdate {
	res := &WSUpdate{
		Notifications:            u.Notifications,
		StatusUpdates:            u.StatusLabels(),
		StatusUpdatesDetailed:    make(map[string]WSStatus, len(u.StatusUpdatesDetailed)),
		CountUpdates:             u.CountUpdates,
		ConversationCountUpdates: u.ConversationCountUpdates,
		RefreshNeeded:            u.RefreshNeeded,
		Timestamp:                u.Timestamp.UnixMilli(),
		Immediate:                u.Immediate,
		EventCount:               u.EventCount,
	}
	if res.Notifications == nil {
		res.Notifications = []model.NotificationEntry{}
	}
	if res.ConversationCountUpdates == nil {
		res.ConversationCountUpdates = map[string]int{}
	}

	for id, st := range u.StatusUpdatesDetailed {
		res.StatusUpdatesDetailed[id] = WSStatus{
			Status:    st.Status.String(),
			Seq:       st.Seq,
			Timestamp: st.Timestamp,
			NodeID:    st.NodeID,
		}
	}
	return res
}
