package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

// DelivererMiddleware implements [DECORATOR_PATTERN] to add observability
// to the delivery service without touching its logic.
type DelivererMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
}

var _ Deliverer = (*DelivererMiddleware)(nil)

func NewDelivererMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DelivererMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *DelivererMiddleware) Subscribe(ctx context.Context, userID uuid.UUID, meta registry.ConnectMetadata) (registry.Connector, error) {
	conn, err := m.Next.Subscribe(ctx, userID, meta)
	if err != nil {
		m.Logger.Warn("SESSION_SUBSCRIBE_FAILED", "user_id", userID, "transport", meta.Transport, "err", err)
		return nil, err
	}
	m.Logger.Info("SESSION_OPENED",
		"user_id", userID,
		"conn_id", conn.GetID(),
		"transport", meta.Transport,
		"remote_ip", meta.RemoteIP,
	)
	return conn, nil
}

func (m *DelivererMiddleware) Unsubscribe(userID, connID uuid.UUID) {
	m.Next.Unsubscribe(userID, connID)
	m.Logger.Info("SESSION_CLOSED", "user_id", userID, "conn_id", connID)
}

// Submit wraps the engine hand-off with timing and outcome logging.
func (m *DelivererMiddleware) Submit(ctx context.Context, userID uuid.UUID, ev model.Event) (coalescer.Outcome, error) {
	start := time.Now()
	out, err := m.Next.Submit(ctx, userID, ev)

	if err != nil {
		m.Logger.Error("EVENT_SUBMIT_FAILED",
			"user_id", userID,
			"kind", ev.Kind,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return out, err
	}

	m.Logger.Debug("EVENT_SUBMITTED",
		"user_id", userID,
		"kind", ev.Kind,
		"outcome", out,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (m *DelivererMiddleware) Metrics(ctx context.Context, userID uuid.UUID) (coalescer.MetricsSnapshot, error) {
	return m.Next.Metrics(ctx, userID)
}

func (m *DelivererMiddleware) Flush(ctx context.Context, userID uuid.UUID) error {
	err := m.Next.Flush(ctx, userID)
	m.Logger.Info("ENGINE_FLUSH_REQUESTED", "user_id", userID, "err", err)
	return err
}

func (m *DelivererMiddleware) Reset(ctx context.Context, userID uuid.UUID) error {
	err := m.Next.Reset(ctx, userID)
	m.Logger.Info("ENGINE_RESET_REQUESTED", "user_id", userID, "err", err)
	return err
}

func (m *DelivererMiddleware) SetDelay(ctx context.Context, d time.Duration, persist bool) (time.Duration, config.DelaySource, error) {
	eff, src, err := m.Next.SetDelay(ctx, d, persist)
	if err != nil {
		m.Logger.Warn("DELAY_OVERRIDE_FAILED", "requested_ms", d.Milliseconds(), "persist", persist, "err", err)
		return eff, src, err
	}
	m.Logger.Info("DELAY_OVERRIDDEN",
		"requested_ms", d.Milliseconds(),
		"effective_ms", eff.Milliseconds(),
		"source", src,
		"persist", persist,
	)
	return eff, src, nil
}

func (m *DelivererMiddleware) Stats() registry.HubStats {
	return m.Next.Stats()
}
