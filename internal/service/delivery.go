package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (AMQP/HTTP/Websocket)
type Deliverer interface {
	Subscribe(ctx context.Context, userID uuid.UUID, meta registry.ConnectMetadata) (registry.Connector, error)
	Unsubscribe(userID, connID uuid.UUID)
	Submit(ctx context.Context, userID uuid.UUID, ev model.Event) (coalescer.Outcome, error)
	Metrics(ctx context.Context, userID uuid.UUID) (coalescer.MetricsSnapshot, error)
	Flush(ctx context.Context, userID uuid.UUID) error
	Reset(ctx context.Context, userID uuid.UUID) error
	// SetDelay overrides the debounce delay of every user. With persist the
	// value is stored as the user override instead of the runtime override.
	SetDelay(ctx context.Context, d time.Duration, persist bool) (time.Duration, config.DelaySource, error)
	Stats() registry.HubStats
}

var ErrInvalidDelay = errors.New("service: delay must not be negative")

type DeliveryService struct {
	hub   registry.Hubber
	delay *config.DelayResolver
}

var _ Deliverer = (*DeliveryService)(nil)

func NewDeliveryService(hub registry.Hubber, delay *config.DelayResolver) *DeliveryService {
	return &DeliveryService{
		hub:   hub,
		delay: delay,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, userID uuid.UUID, meta registry.ConnectMetadata) (registry.Connector, error) {
	conn := registry.NewConnector(ctx, userID, s.hub.SessionBuffer(), meta)
	if err := s.hub.Register(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}
	return conn, nil
}

// [UNSUBSCRIBE] closes the session; the cell stays until evicted.
func (s *DeliveryService) Unsubscribe(userID, connID uuid.UUID) {
	s.hub.Unregister(userID, connID)
}

func (s *DeliveryService) Submit(ctx context.Context, userID uuid.UUID, ev model.Event) (coalescer.Outcome, error) {
	return s.hub.Submit(ctx, userID, ev)
}

func (s *DeliveryService) engine(userID uuid.UUID) (*coalescer.Engine, error) {
	cell, ok := s.hub.Cell(userID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownUser, userID)
	}
	return cell.Engine(), nil
}

func (s *DeliveryService) Metrics(ctx context.Context, userID uuid.UUID) (coalescer.MetricsSnapshot, error) {
	e, err := s.engine(userID)
	if err != nil {
		return coalescer.MetricsSnapshot{}, err
	}
	return e.Metrics(ctx)
}

func (s *DeliveryService) Flush(ctx context.Context, userID uuid.UUID) error {
	e, err := s.engine(userID)
	if err != nil {
		return err
	}
	return e.FlushNow(ctx)
}

func (s *DeliveryService) Reset(ctx context.Context, userID uuid.UUID) error {
	e, err := s.engine(userID)
	if err != nil {
		return err
	}
	return e.Reset(ctx)
}

func (s *DeliveryService) SetDelay(ctx context.Context, d time.Duration, persist bool) (time.Duration, config.DelaySource, error) {
	if d < 0 {
		return 0, "", ErrInvalidDelay
	}
	if persist {
		if err := s.delay.PersistUser(d); err != nil {
			return 0, "", err
		}
	} else {
		s.delay.SetRuntime(d)
	}
	// Listeners already pushed a change; this covers an unchanged effective
	// value where cells may still disagree.
	eff, src := s.delay.Resolve()
	if err := s.hub.SetDelay(ctx, eff); err != nil {
		return eff, src, err
	}
	return eff, src, nil
}

func (s *DeliveryService) Stats() registry.HubStats {
	return s.hub.Stats()
}
