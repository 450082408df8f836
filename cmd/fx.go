package cmd

import (
	"log/slog"

	"github.com/webitel/im-coalescer-service/config"
	grpcsrv "github.com/webitel/im-coalescer-service/infra/server/grpc"
	"github.com/webitel/im-coalescer-service/internal/adapter/metrics"
	"github.com/webitel/im-coalescer-service/internal/adapter/pubsub"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	amqpdi "github.com/webitel/im-coalescer-service/internal/handler/amqp"
	httphandler "github.com/webitel/im-coalescer-service/internal/handler/http"
	"github.com/webitel/im-coalescer-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(options(cfg)...)
}

func options(cfg *config.Config) []fx.Option {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideDelayResolver,
			pubsub.ProvideProvider,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		metrics.Module,
		registry.Module,
		service.Module,
		amqpdi.Module,
		httphandler.Module,
		grpcsrv.Module,
	}
	if cfg.Telemetry.Tracing {
		opts = append(opts, fx.Provide(ProvideTracerProvider, ProvideTracer))
	}
	if cfg.Outbound.Enabled {
		opts = append(opts, pubsub.OutboundModule)
	}
	return opts
}
