// Package metrics exports engine signals as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

const namespace = "im_coalescer"

var _ coalescer.Observer = (*Observer)(nil)

// Observer aggregates the signals of every cell's engine.
type Observer struct {
	events      *prometheus.CounterVec
	late        prometheus.Counter
	reconciles  *prometheus.CounterVec
	flushes     *prometheus.CounterVec
	flushEvents prometheus.Histogram
	latency     prometheus.Histogram
	subFailures prometheus.Counter
	mismatched  prometheus.Counter
}

func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Submitted events by kind, priority and outcome.",
		}, []string{"kind", "priority", "outcome"}),
		late: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_deliveries_total",
			Help:      "Events that joined a batch later than the late threshold.",
		}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_reconciles_total",
			Help:      "Status reconciliations, split into replaced and ignored.",
		}, []string{"result"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Dispatched updates by mode.",
		}, []string{"immediate"}),
		flushEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_events",
			Help:      "Events reduced into one dispatched update.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from the first event of a batch to the end of its dispatch.",
			Buckets:   []float64{.005, .01, .05, .1, .15, .2, .3, .5, 1, 2, 3},
		}),
		subFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_failures_total",
			Help:      "Subscriber errors and recovered panics.",
		}),
		mismatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mismatched_surfaces_total",
			Help:      "Dispatches where subscriber durations diverged past the threshold.",
		}),
	}
	reg.MustRegister(o.events, o.late, o.reconciles, o.flushes, o.flushEvents, o.latency, o.subFailures, o.mismatched)
	return o
}

func (o *Observer) ObserveOutcome(kind model.EventKind, priority model.EventPriority, outcome coalescer.Outcome) {
	o.events.WithLabelValues(string(kind), priority.String(), outcome.String()).Inc()
}

func (o *Observer) ObserveLate() { o.late.Inc() }

func (o *Observer) ObserveReconcile(coalesced bool) {
	result := "ignored"
	if coalesced {
		result = "replaced"
	}
	o.reconciles.WithLabelValues(result).Inc()
}

func (o *Observer) ObserveFlush(immediate bool, events int, latency time.Duration) {
	o.flushes.WithLabelValues(strconv.FormatBool(immediate)).Inc()
	o.flushEvents.Observe(float64(events))
	o.latency.Observe(latency.Seconds())
}

func (o *Observer) ObserveSubscriberFailure() { o.subFailures.Inc() }

func (o *Observer) ObserveMismatchedSurfaces() { o.mismatched.Inc() }

// RegisterHubGauges exposes live cell and session counts.
func RegisterHubGauges(reg prometheus.Registerer, hub registry.Hubber) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_cells",
			Help:      "User cells hosted on this node.",
		}, func() float64 { return float64(hub.Stats().Cells) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Live UI sessions on this node.",
		}, func() float64 { return float64(hub.Stats().Sessions) }),
	)
}
