package service

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
	),

	// [DECORATION_LAYER] Intercept Deliverer to add cross-cutting concerns
	fx.Decorate(func(orig Deliverer, logger *slog.Logger) Deliverer {
		return NewDelivererMiddleware(orig, logger)
	}),
)
