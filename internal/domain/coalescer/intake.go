package coalescer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrPayloadMismatch = errors.New("payload does not match event kind")
	ErrUnknownStatus   = errors.New("unknown status label")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// normalize validates an inbound event and fills kind-specific defaults.
// A non-nil error means the event is malformed and never enters the buffer.
func normalize(ev model.Event) (model.Event, error) {
	if _, ok := model.ParseEventKind(string(ev.Kind)); !ok {
		return ev, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if ev.Priority == 0 {
		ev.Priority = model.PriorityNormal
	}

	if ev.Kind == model.KindNotificationRefresh {
		if ev.Payload == nil {
			ev.Payload = &model.RefreshPayload{}
		}
		if _, ok := ev.Payload.(*model.RefreshPayload); !ok {
			return ev, fmt.Errorf("%w: %s", ErrPayloadMismatch, ev.Kind)
		}
		return ev, nil
	}

	if ev.Payload == nil {
		return ev, fmt.Errorf("%w: %s carries no payload", ErrPayloadMismatch, ev.Kind)
	}

	var ok bool
	switch ev.Kind {
	case model.KindNotification:
		_, ok = ev.Payload.(*model.Notification)
	case model.KindMessageSent, model.KindMessageDelivered, model.KindMessageSeen:
		_, ok = ev.Payload.(*model.MessageStatusPayload)
	case model.KindStatusUpdate:
		var p *model.StatusChangePayload
		if p, ok = ev.Payload.(*model.StatusChangePayload); ok {
			if _, known := model.ParseStatus(p.Status); !known {
				return ev, fmt.Errorf("%w: %q", ErrUnknownStatus, p.Status)
			}
		}
	case model.KindNotificationCountUpdate:
		_, ok = ev.Payload.(*model.NotificationCountPayload)
	case model.KindConversationCountUpdate:
		_, ok = ev.Payload.(*model.ConversationCountPayload)
	}
	if !ok {
		return ev, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, ev.Kind, ev.Payload)
	}

	if err := validate.Struct(ev.Payload); err != nil {
		return ev, fmt.Errorf("invalid %s payload: %w", ev.Kind, err)
	}
	return ev, nil
}

// resolveStatus extracts the message id and the proposed StatusUpdate from a
// status-kind event, applying the per-status default seq.
func resolveStatus(ev model.Event) (string, model.StatusUpdate, bool) {
	switch p := ev.Payload.(type) {
	case *model.MessageStatusPayload:
		st, ok := model.StatusForKind(ev.Kind)
		if !ok {
			return "", model.StatusUpdate{}, false
		}
		return p.MessageID, newStatusUpdate(st, p.Seq, p.Timestamp, p.NodeID), true
	case *model.StatusChangePayload:
		st, ok := model.ParseStatus(p.Status)
		if !ok {
			return "", model.StatusUpdate{}, false
		}
		return p.MessageID, newStatusUpdate(st, p.Seq, p.Timestamp, p.NodeID), true
	}
	return "", model.StatusUpdate{}, false
}

func newStatusUpdate(st model.Status, seq *int64, ts int64, nodeID string) model.StatusUpdate {
	u := model.StatusUpdate{
		Status:    st,
		Seq:       st.DefaultSeq(),
		Timestamp: ts,
		NodeID:    nodeID,
	}
	if seq != nil {
		u.Seq = *seq
	}
	return u
}

// signature derives the dedup key of an event. An empty key means the event
// is never deduplicated.
func signature(ev model.Event) string {
	bucket := strconv.FormatInt(ev.ArrivalTime.Unix(), 10)

	switch p := ev.Payload.(type) {
	case *model.Notification:
		target := p.TargetID()
		if target == "" && p.Actor.ID == "" {
			// Nothing distinguishes one such notification from the next.
			if ev.ID == "" {
				return ""
			}
			return join("notification", string(p.Type), "id", ev.ID)
		}
		return join("notification", string(p.Type), target, p.Actor.ID)

	case *model.MessageStatusPayload, *model.StatusChangePayload:
		id, upd, ok := resolveStatus(ev)
		if !ok {
			break
		}
		sig := join("status", id, upd.Status.String(), strconv.FormatInt(upd.Seq, 10))
		// Rival writers at one seq differ by timestamp or node; only exact
		// retries collapse.
		if upd.Timestamp != 0 || upd.NodeID != "" {
			sig = join(sig, strconv.FormatInt(upd.Timestamp, 10), upd.NodeID)
		}
		return sig

	case *model.RefreshPayload:
		return join("refresh", bucket)

	case *model.NotificationCountPayload:
		if p.UnreadCount != nil {
			return join("count", "abs", strconv.Itoa(*p.UnreadCount), bucket)
		}
		return deltaSignature(ev)

	case *model.ConversationCountPayload:
		return deltaSignature(ev)
	}

	return join(string(ev.Kind), ev.Source, bucket)
}

// deltaSignature keys increments on the producer event id only; two equal
// increments without ids are distinct occurrences.
func deltaSignature(ev model.Event) string {
	if ev.ID == "" {
		return ""
	}
	return join("delta", string(ev.Kind), ev.ID)
}

func join(parts ...string) string {
	return strings.Join(parts, "|")
}
