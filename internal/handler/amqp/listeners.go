package amqp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/service/dto"
)

// [ON_EVENT]
// Translates a producer envelope and submits it to the user's engine.
func (h *EventHandler) OnEventV1(ctx context.Context, userID uuid.UUID, env *dto.EventEnvelope) error {
	ev, err := env.ToDomain()
	if err != nil {
		h.logger.Warn("ENVELOPE_REJECTED", "user_id", userID, "kind", env.Kind, "err", err)
		return nil // ACK: malformed input never succeeds on retry.
	}

	out, err := h.deliverer.Submit(ctx, userID, ev)
	if err != nil {
		return fmt.Errorf("submit %s for %s: %w", ev.Kind, userID, err)
	}
	if out == coalescer.OutcomeRejected {
		h.logger.Debug("EVENT_DROPPED_AT_INTAKE", "user_id", userID, "kind", ev.Kind, "trace_id", TraceIDFromContext(ctx))
	}
	return nil
}
