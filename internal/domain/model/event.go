package model

import "time"

// EventKind tags every inbound occurrence handed to the engine.
type EventKind string

const (
	KindNotification            EventKind = "notification"
	KindMessageSent             EventKind = "message_sent"
	KindMessageDelivered        EventKind = "message_delivered"
	KindMessageSeen             EventKind = "message_seen"
	KindStatusUpdate            EventKind = "status_update"
	KindNotificationRefresh     EventKind = "notification_refresh"
	KindNotificationCountUpdate EventKind = "notification_count_update"
	KindConversationCountUpdate EventKind = "conversation_count_update"
)

var knownKinds = map[EventKind]struct{}{
	KindNotification:            {},
	KindMessageSent:             {},
	KindMessageDelivered:        {},
	KindMessageSeen:             {},
	KindStatusUpdate:            {},
	KindNotificationRefresh:     {},
	KindNotificationCountUpdate: {},
	KindConversationCountUpdate: {},
}

// ParseEventKind maps a wire tag onto a known kind.
func ParseEventKind(s string) (EventKind, bool) {
	k := EventKind(s)
	_, ok := knownKinds[k]
	return k, ok
}

// IsStatus reports whether the kind carries a delivery-state transition.
func (k EventKind) IsStatus() bool {
	switch k {
	case KindMessageSent, KindMessageDelivered, KindMessageSeen, KindStatusUpdate:
		return true
	}
	return false
}

// IsDelta reports whether the kind carries a non-idempotent counter increment.
func (k EventKind) IsDelta() bool {
	return k == KindNotificationCountUpdate || k == KindConversationCountUpdate
}

type EventPriority int32

const (
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// ParseEventPriority accepts "high" and treats everything else as normal.
func ParseEventPriority(s string) EventPriority {
	if s == "high" {
		return PriorityHigh
	}
	return PriorityNormal
}

func (p EventPriority) String() string {
	if p >= PriorityHigh {
		return "high"
	}
	return "normal"
}

// Event is one inbound occurrence. It is created at intake and never mutated
// afterwards.
type Event struct {
	// ID is an optional producer-assigned identifier. When present it is the
	// only way delta events can be deduplicated.
	ID      string
	Kind    EventKind
	Payload Payload

	// ArrivalTime is stamped by the engine on submit from its own clock, so it
	// is monotonic per process regardless of what the producer sent.
	ArrivalTime time.Time
	Priority    EventPriority

	// Source is an origin tag used only for fallback signatures.
	Source string
}

// NewEvent builds a normal-priority event.
func NewEvent(kind EventKind, payload Payload) Event {
	return Event{
		Kind:     kind,
		Payload:  payload,
		Priority: PriorityNormal,
	}
}

// WithPriority returns a copy of the event carrying the given priority.
func (e Event) WithPriority(p EventPriority) Event {
	e.Priority = p
	return e
}
