package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-coalescer-service/internal/handler/marshaller/ws"
	"go.uber.org/fx"
)

// OutboundModule republishes every dispatched update to the bus. It is only
// installed when outbound.enabled is set.
var OutboundModule = fx.Module("outbound",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, p Provider, logger *slog.Logger) (UpdateDispatcher, error) {
			pub, err := p.Publisher(cfg.Outbound.Exchange)
			if err != nil {
				return nil, fmt.Errorf("outbound publisher: %w", err)
			}
			d := NewUpdateDispatcher(pub, wsmarshaller.MarshallUpdate, logger, 0)
			lc.Append(fx.StopHook(d.Close))
			return d, nil
		},
		func(d UpdateDispatcher) registry.Sink {
			return func(userID uuid.UUID, u *model.DispatchedUpdate) error {
				return d.Enqueue(userID, u)
			}
		},
	),
)

// ProvideProvider builds the bus provider and closes it on stop.
func ProvideProvider(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) Provider {
	p := NewProvider(cfg, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.Close() },
	})
	return p
}
