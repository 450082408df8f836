package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type HubParams struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Delay    *config.DelayResolver
	Observer coalescer.Observer `optional:"true"`
	Tracer   trace.Tracer       `optional:"true"`
	Sink     Sink               `optional:"true"`
}

// NewHubFromConfig translates service configuration into hub and engine
// options.
func NewHubFromConfig(p HubParams) (*Hub, error) {
	kinds := make([]model.EventKind, 0, len(p.Config.Coalescer.BypassKinds))
	for _, raw := range p.Config.Coalescer.BypassKinds {
		k, ok := model.ParseEventKind(raw)
		if !ok {
			return nil, fmt.Errorf("registry: unknown bypass kind %q", raw)
		}
		kinds = append(kinds, k)
	}

	delay, src := p.Delay.Resolve()
	p.Logger.Info("DELAY_RESOLVED", "delay_ms", delay.Milliseconds(), "source", src)

	return NewHub(
		WithLogger(p.Logger),
		WithIdleTimeout(p.Config.Hub.IdleTimeout),
		WithEvictionInterval(p.Config.Hub.EvictionInterval),
		WithSessionBuffer(p.Config.Hub.SessionBuffer),
		WithDelay(delay),
		WithSink(p.Sink),
		WithEngineOptions(
			coalescer.WithDedupWindow(p.Config.Coalescer.DedupWindow()),
			coalescer.WithDedupCapacity(p.Config.Coalescer.DedupCapacity),
			coalescer.WithLateFactor(p.Config.Coalescer.LateFactor),
			coalescer.WithBypassKinds(kinds...),
			coalescer.WithObserver(p.Observer),
			coalescer.WithTracer(p.Tracer),
		),
	), nil
}

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		NewHubFromConfig,
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber, delay *config.DelayResolver, logger *slog.Logger) {
		// [HOT_RELOAD] every effective delay change reaches all cells.
		delay.OnChange(func(d time.Duration, _ config.DelaySource) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.SetDelay(ctx, d); err != nil {
				logger.Warn("DELAY_APPLY_FAILED", "err", err)
			}
		})

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return delay.Watch()
			},
			OnStop: func(ctx context.Context) error {
				err := delay.Close()
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Stop all engine goroutines
				return err
			},
		})
	}),
)
