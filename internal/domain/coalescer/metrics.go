package coalescer

import (
	"maps"
	"slices"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

const latencySampleCap = 256

// Observer receives the same signals as the internal recorder, for export to
// an external metrics system. Calls happen on the engine goroutine.
type Observer interface {
	ObserveOutcome(kind model.EventKind, priority model.EventPriority, outcome Outcome)
	ObserveLate()
	ObserveReconcile(coalesced bool)
	ObserveFlush(immediate bool, events int, latency time.Duration)
	ObserveSubscriberFailure()
	ObserveMismatchedSurfaces()
}

// NopObserver discards every signal.
type NopObserver struct{}

func (NopObserver) ObserveOutcome(model.EventKind, model.EventPriority, Outcome) {}
func (NopObserver) ObserveLate()                                                {}
func (NopObserver) ObserveReconcile(bool)                                       {}
func (NopObserver) ObserveFlush(bool, int, time.Duration)                       {}
func (NopObserver) ObserveSubscriberFailure()                                   {}
func (NopObserver) ObserveMismatchedSurfaces()                                  {}

// LatencyStats summarizes the retained dispatch latency samples.
type LatencyStats struct {
	Samples int           `json:"samples"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Mean    time.Duration `json:"mean"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
}

// MetricsSnapshot is a copy of the recorder state at one point in time.
type MetricsSnapshot struct {
	TotalEvents        uint64 `json:"totalEvents"`
	Accepted           uint64 `json:"accepted"`
	Duplicates         uint64 `json:"duplicates"`
	Rejected           uint64 `json:"rejected"`
	// HighPriority counts accepted events that skipped the buffer, whether
	// tagged high or of a bypass kind.
	HighPriority       uint64 `json:"highPriority"`
	Buffered           uint64 `json:"buffered"`
	Immediate          uint64 `json:"immediate"`
	LateDeliveries     uint64 `json:"lateDeliveries"`
	Coalesced          uint64 `json:"coalesced"`
	StaleIgnored       uint64 `json:"staleIgnored"`
	Flushes            uint64 `json:"flushes"`
	SubscriberFailures uint64 `json:"subscriberFailures"`
	MismatchedSurfaces uint64 `json:"mismatchedSurfaces"`

	DuplicateRate float64 `json:"duplicateRate"`
	BufferHitRate float64 `json:"bufferHitRate"`

	DispatchLatency LatencyStats      `json:"dispatchLatency"`
	MessageUpdates  map[string]uint64 `json:"messageUpdates"`

	PendingEvents  int       `json:"pendingEvents"`
	TrackedStatus  int       `json:"trackedStatus"`
	DedupEntries   int       `json:"dedupEntries"`
	Subscribers    int       `json:"subscribers"`
	LastFlushAt    time.Time `json:"lastFlushAt"`
	CurrentDelayMs int64     `json:"currentDelayMs"`
}

// recorder passively counts what the pipeline does. It never influences
// correctness.
type recorder struct {
	observer Observer

	s       MetricsSnapshot
	samples []time.Duration
	next    int
	updates map[string]uint64
}

func newRecorder(observer Observer) *recorder {
	return &recorder{
		observer: observer,
		samples:  make([]time.Duration, 0, latencySampleCap),
		updates:  make(map[string]uint64),
	}
}

func (r *recorder) outcome(ev model.Event, o Outcome) {
	r.s.TotalEvents++
	switch o {
	case OutcomeDuplicate:
		r.s.Duplicates++
	case OutcomeRejected:
		r.s.Rejected++
	case OutcomeBuffered:
		r.s.Accepted++
		r.s.Buffered++
	case OutcomeDispatched:
		r.s.Accepted++
		r.s.Immediate++
	}
	if o.accepted() && ev.Priority >= model.PriorityHigh {
		r.s.HighPriority++
	}
	r.observer.ObserveOutcome(ev.Kind, ev.Priority, o)
}

func (r *recorder) late() {
	r.s.LateDeliveries++
	r.observer.ObserveLate()
}

func (r *recorder) reconciled(messageID string, res reconcileResult) {
	switch res {
	case reconcileFirst:
		r.updates[messageID]++
	case reconcileReplaced:
		r.updates[messageID]++
		r.s.Coalesced++
		r.observer.ObserveReconcile(true)
	case reconcileIgnored:
		r.s.StaleIgnored++
		r.observer.ObserveReconcile(false)
	}
}

func (r *recorder) flushed(at time.Time, immediate bool, events int, latency time.Duration) {
	r.s.Flushes++
	r.s.LastFlushAt = at

	if len(r.samples) < latencySampleCap {
		r.samples = append(r.samples, latency)
	} else {
		r.samples[r.next] = latency
		r.next = (r.next + 1) % latencySampleCap
	}
	r.observer.ObserveFlush(immediate, events, latency)
}

func (r *recorder) dispatched(rep dispatchReport, mismatchThreshold time.Duration) (mismatched bool) {
	if rep.failed > 0 {
		r.s.SubscriberFailures += uint64(rep.failed)
		for range rep.failed {
			r.observer.ObserveSubscriberFailure()
		}
	}
	if rep.invoked > 1 && rep.longest-rep.shortest > mismatchThreshold {
		r.s.MismatchedSurfaces++
		r.observer.ObserveMismatchedSurfaces()
		return true
	}
	return false
}

func (r *recorder) snapshot() MetricsSnapshot {
	out := r.s
	out.MessageUpdates = maps.Clone(r.updates)
	out.DispatchLatency = latencyStats(r.samples)

	if out.TotalEvents > 0 {
		out.DuplicateRate = float64(out.Duplicates) / float64(out.TotalEvents)
	}
	if out.Accepted > 0 {
		out.BufferHitRate = float64(out.Buffered) / float64(out.Accepted)
	}
	return out
}

func (r *recorder) reset() {
	r.s = MetricsSnapshot{}
	r.samples = r.samples[:0]
	r.next = 0
	clear(r.updates)
}

func latencyStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Samples: len(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    sum / time.Duration(len(sorted)),
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
	}
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
