package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/adapter/pubsub"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"github.com/webitel/im-coalescer-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(hub registry.Hubber, d service.Deliverer, logger *slog.Logger, wm watermill.LoggerAdapter, cfg *config.Config) *EventHandler {
			// The in-process bus has no other node to hand users off to.
			return NewEventHandler(hub, d, logger, wm, cfg.AMQP.URL != "")
		},
		NewWatermillRouter,
	),

	fx.Invoke(func(h *EventHandler, router *message.Router, p pubsub.Provider, cfg *config.Config) error {
		return h.RegisterHandlers(router, p, cfg)
	}),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				RunRouter(ctx, router, logger)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
	}),
)
