package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-coalescer-service/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ProvideLogger writes JSON to stdout and, with telemetry.otel_logs, also
// forwards records to the global OpenTelemetry log pipeline.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Service.LogLevel),
	})
	if cfg.Telemetry.OtelLogs {
		h = fanout{h, otelslog.NewHandler(ServiceName)}
	}

	logger := slog.New(h).With(
		"service", ServiceName,
		"version", version,
		"node_id", cfg.Service.NodeID,
	)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

func ProvideDelayResolver(cfg *config.Config, logger *slog.Logger) (*config.DelayResolver, error) {
	r := config.NewDelayResolver(cfg, logger)
	// The hub reads the effective delay before the watcher starts.
	if err := r.LoadUser(); err != nil {
		return nil, err
	}
	return r, nil
}

// ProvideTracerProvider installs an in-process SDK provider as the global
// one. Exporters are attached by the environment through the otel globals.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.version", version),
			attribute.String("service.instance.id", cfg.Service.NodeID),
		)),
	)
	otel.SetTracerProvider(tp)
	lc.Append(fx.StopHook(func(ctx context.Context) error { return tp.Shutdown(ctx) }))
	return tp
}

func ProvideTracer(tp *sdktrace.TracerProvider) trace.Tracer {
	return tp.Tracer("github.com/webitel/im-coalescer-service")
}

// fanout duplicates each record to every handler.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
