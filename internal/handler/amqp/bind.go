package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/adapter/pubsub"
)

// maxPayloadBytes bounds one envelope; anything larger is a producer bug.
const maxPayloadBytes = 256 << 10

var (
	errNoRecipient     = errors.New("recipient missing from routing key and headers")
	errPayloadTooLarge = errors.New("payload too large")
)

// DomainHandler receives a decoded payload for one recipient. A returned error
// NACKs the message.
type DomainHandler[T any] func(ctx context.Context, userID uuid.UUID, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind adapts a typed DomainHandler to watermill. Routing, locality and
// decoding failures are terminal and ACKed; only fn decides on redelivery.
func Bind[T any](h *EventHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = nil // ACK: a panicking message would panic again.
			}
		}()

		userID, ok := resolveUserID(msg)
		if !ok {
			h.logger.Warn("ROUTING_FAILED", "msg_id", msg.UUID, "err", errNoRecipient)
			return nil
		}

		// [LOCALITY_FILTER] another node hosts this user's cell.
		if h.localOnly && !h.hub.IsConnected(userID) {
			return nil
		}

		payload, err := decode[T](msg.Payload)
		if err != nil {
			h.logger.Error("DECODE_FAILED", "msg_id", msg.UUID, "user_id", userID, "err", err)
			return nil // ACK: poison pill
		}

		return fn(msg.Context(), userID, payload)
	}
}

func decode[T any](raw []byte) (*T, error) {
	if len(raw) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", errPayloadTooLarge, len(raw))
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// routingKey is the AMQP routing key as copied into metadata by the
// subscriber, or the routing_key header set by in-process publishers.
func routingKey(msg *message.Message) string {
	if rk := msg.Metadata.Get(pubsub.RoutingKeyMetadata); rk != "" {
		return rk
	}
	return msg.Metadata.Get("routing_key")
}

// resolveUserID reads the recipient from the routing key
// (im_notify.{userID}.event.v1), falling back to the user_id header.
func resolveUserID(msg *message.Message) (uuid.UUID, bool) {
	for part := range strings.SplitSeq(routingKey(msg), ".") {
		if uid, err := uuid.Parse(part); err == nil {
			return uid, true
		}
	}
	if uid, err := uuid.Parse(msg.Metadata.Get("user_id")); err == nil {
		return uid, true
	}
	return uuid.Nil, false
}
