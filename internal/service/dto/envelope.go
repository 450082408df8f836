// Package dto holds the wire shapes accepted at the service edges (AMQP and
// HTTP) and their translation into domain events.
package dto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

var (
	ErrUnknownKind    = errors.New("dto: unknown event kind")
	ErrInvalidPayload = errors.New("dto: invalid payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventEnvelope is the producer-facing event shape.
type EventEnvelope struct {
	ID       string          `json:"eventId,omitempty"`
	Kind     string          `json:"kind" validate:"required"`
	Priority string          `json:"priority,omitempty" validate:"omitempty,oneof=normal high"`
	Source   string          `json:"source,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ToDomain decodes the kind-specific payload. Field level checks of the
// payload itself are left to the engine's intake.
func (e *EventEnvelope) ToDomain() (model.Event, error) {
	if err := validate.Struct(e); err != nil {
		return model.Event{}, fmt.Errorf("dto: envelope: %w", err)
	}

	kind, ok := model.ParseEventKind(e.Kind)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	payload, err := decodePayload(kind, e.Payload)
	if err != nil {
		return model.Event{}, err
	}

	ev := model.NewEvent(kind, payload).WithPriority(model.ParseEventPriority(e.Priority))
	ev.ID = e.ID
	ev.Source = e.Source
	return ev, nil
}

func decodePayload(kind model.EventKind, raw json.RawMessage) (model.Payload, error) {
	var p model.Payload
	switch kind {
	case model.KindNotification:
		p = new(model.Notification)
	case model.KindMessageSent, model.KindMessageDelivered, model.KindMessageSeen:
		p = new(model.MessageStatusPayload)
	case model.KindStatusUpdate:
		p = new(model.StatusChangePayload)
	case model.KindNotificationCountUpdate:
		p = new(model.NotificationCountPayload)
	case model.KindConversationCountUpdate:
		p = new(model.ConversationCountPayload)
	case model.KindNotificationRefresh:
		return new(model.RefreshPayload), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
