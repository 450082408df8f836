package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"go.uber.org/fx"
)

// NewRegistry is a private registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

var Module = fx.Module("metrics",
	fx.Provide(
		fx.Annotate(
			NewRegistry,
			fx.As(fx.Self()),
			fx.As(new(prometheus.Gatherer)),
		),
		func(r *prometheus.Registry) coalescer.Observer { return NewObserver(r) },
	),
	fx.Invoke(func(r *prometheus.Registry, hub registry.Hubber) {
		RegisterHubGauges(r, hub)
	}),
)
