package model

import (
	"maps"
	"slices"
	"time"
)

// NotificationEntry is one surfaced notification after in-batch coalescing.
// Actors keeps every distinct actor folded into the entry; Others counts the
// actors beyond the first for message composition downstream.
type NotificationEntry struct {
	Notification Notification `json:"notification"`
	Actors       []Actor      `json:"actors"`
	Others       int          `json:"others"`
}

// CountUpdate is the aggregated unread-count change of a flush. When
// UnreadCount is set it is the absolute total; otherwise Increment is a delta.
type CountUpdate struct {
	Increment   int  `json:"increment"`
	UnreadCount *int `json:"unreadCount,omitempty"`
}

// IsAbsolute reports whether the update replaces the total instead of adding.
func (c *CountUpdate) IsAbsolute() bool { return c != nil && c.UnreadCount != nil }

// DispatchedUpdate is built fresh on every flush and handed to subscribers.
type DispatchedUpdate struct {
	Notifications            []NotificationEntry
	StatusUpdatesDetailed    map[string]StatusUpdate
	CountUpdates             *CountUpdate
	ConversationCountUpdates map[string]int
	RefreshNeeded            bool
	Timestamp                time.Time

	// Immediate marks flushes that bypassed the debounce window.
	Immediate bool
	// EventCount is the number of events reduced into this update.
	EventCount int
}

func NewDispatchedUpdate(now time.Time) *DispatchedUpdate {
	return &DispatchedUpdate{
		Notifications:            []NotificationEntry{},
		StatusUpdatesDetailed:    make(map[string]StatusUpdate),
		ConversationCountUpdates: make(map[string]int),
		Timestamp:                now,
	}
}

// StatusLabels derives the message-id to label view from the detailed map.
func (u *DispatchedUpdate) StatusLabels() map[string]string {
	out := make(map[string]string, len(u.StatusUpdatesDetailed))
	for id, st := range u.StatusUpdatesDetailed {
		out[id] = st.Status.String()
	}
	return out
}

// IsEmpty reports whether the update carries nothing for a UI to apply.
func (u *DispatchedUpdate) IsEmpty() bool {
	return len(u.Notifications) == 0 &&
		len(u.StatusUpdatesDetailed) == 0 &&
		u.CountUpdates == nil &&
		len(u.ConversationCountUpdates) == 0 &&
		!u.RefreshNeeded
}

// Clone returns a deep copy safe to mutate independently.
func (u *DispatchedUpdate) Clone() *DispatchedUpdate {
	c := *u
	c.Notifications = make([]NotificationEntry, len(u.Notifications))
	for i, n := range u.Notifications {
		n.Actors = slices.Clone(n.Actors)
		n.Notification.Metadata = maps.Clone(n.Notification.Metadata)
		c.Notifications[i] = n
	}
	c.StatusUpdatesDetailed = maps.Clone(u.StatusUpdatesDetailed)
	c.ConversationCountUpdates = maps.Clone(u.ConversationCountUpdates)
	if u.CountUpdates != nil {
		cu := *u.CountUpdates
		if cu.UnreadCount != nil {
			v := *cu.UnreadCount
			cu.UnreadCount = &v
		}
		c.CountUpdates = &cu
	}
	return &c
}
