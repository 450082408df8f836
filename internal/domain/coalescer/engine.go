/*
Package coalescer reconciles an unordered, retry-prone event stream into
one update per flush for UI consumers.

Pipeline (strictly one way):
  - Intake: validate and normalize the Event, stamp its arrival time.
  - Dedup: drop signatures repeated within the dedup window.
  - Buffer: debounce normal events; bypass kinds flush alone at once.
  - Coalesce: fold the batch, reconciling delivery status per message.
  - Dispatch: hand the same DispatchedUpdate to every subscriber once.

Concurrency: every piece of mutable state is owned by a single goroutine
started in New and reached only through the mailbox channel. Only the
debounce timer runs elsewhere, and it merely posts back into the mailbox.
*/
package coalescer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrStopped = errors.New("coalescer: engine stopped")

// Outcome is what happened to one submitted event.
type Outcome int8

const (
	OutcomeRejected Outcome = iota + 1
	OutcomeDuplicate
	OutcomeBuffered
	OutcomeDispatched
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDispatched:
		return "dispatched"
	}
	return "unknown"
}

func (o Outcome) accepted() bool { return o == OutcomeBuffered || o == OutcomeDispatched }

// Engine is one coalescing pipeline instance.
type Engine struct {
	cfg    settings
	logger *slog.Logger

	// [MAILBOX]
	// Serializes every state access onto the loop goroutine.
	mailbox chan func()
	doneCh  chan struct{}
	stopped sync.Once

	subs *subscriberRegistry

	// [LOOP_OWNED] touched only from loop()
	dedup   *deduplicator
	sched   *scheduler
	book    *statusBook
	reducer *reducer
	metrics *recorder
}

// New constructs an engine and starts its owning goroutine.
func New(opts ...Option) *Engine {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer("github.com/webitel/im-coalescer-service/coalescer")
	}

	logger := cfg.logger.With("component", "coalescer")
	if cfg.name != "" {
		logger = logger.With("engine", cfg.name)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		mailbox: make(chan func(), cfg.mailboxSize),
		doneCh:  make(chan struct{}),
		subs:    newSubscriberRegistry(logger),
		dedup:   newDeduplicator(cfg.dedupWindow, cfg.dedupCapacity),
		book:    newStatusBook(),
		metrics: newRecorder(cfg.observer),
	}
	e.sched = newScheduler(cfg.clock, cfg.delay, cfg.lateFactor, e.onTimer)
	e.reducer = &reducer{book: e.book, metrics: e.metrics, logger: logger}

	go e.loop()
	return e
}

func (e *Engine) loop() {
	for {
		select {
		case <-e.doneCh:
			e.sched.cancel()
			return
		case fn := <-e.mailbox:
			fn()
		}
	}
}

// Stop terminates the loop. Pending events are discarded; later calls
// return ErrStopped.
func (e *Engine) Stop() {
	e.stopped.Do(func() { close(e.doneCh) })
}

// do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case e.mailbox <- task:
	case <-e.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-e.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands one event to the pipeline. When it returns the event has been
// validated, deduplicated and either buffered or dispatched. Malformed events
// yield OutcomeRejected, never an error.
func (e *Engine) Submit(ctx context.Context, ev model.Event) (Outcome, error) {
	var out Outcome
	err := e.do(ctx, func() { out = e.submit(ev) })
	return out, err
}

func (e *Engine) submit(ev model.Event) Outcome {
	now := e.cfg.clock.Now()
	ev.ArrivalTime = now

	ev, err := normalize(ev)
	if err != nil {
		e.logger.Warn("EVENT_REJECTED", "kind", ev.Kind, "source", ev.Source, "err", err)
		e.metrics.outcome(ev, OutcomeRejected)
		return OutcomeRejected
	}

	// [BYPASS_CLASS] kinds exempt from buffering count as high priority.
	bypass := e.bypasses(ev)
	if bypass {
		ev.Priority = max(ev.Priority, model.PriorityHigh)
	}

	if e.dedup.seenRecently(signature(ev), now) {
		e.logger.Debug("EVENT_DUPLICATE_SUPPRESSED", "kind", ev.Kind, "event_id", ev.ID)
		e.metrics.outcome(ev, OutcomeDuplicate)
		return OutcomeDuplicate
	}

	if bypass {
		e.metrics.outcome(ev, OutcomeDispatched)
		e.flush([]model.Event{ev}, true)
		return OutcomeDispatched
	}

	if e.sched.add(ev) {
		e.logger.Debug("EVENT_LATE_DELIVERY", "kind", ev.Kind, "pending", e.sched.size())
		e.metrics.late()
	}
	e.metrics.outcome(ev, OutcomeBuffered)
	return OutcomeBuffered
}

func (e *Engine) bypasses(ev model.Event) bool {
	if ev.Priority >= model.PriorityHigh {
		return true
	}
	_, ok := e.cfg.bypass[ev.Kind]
	return ok
}

// onTimer runs on the clock's goroutine; it only posts back to the loop.
func (e *Engine) onTimer(gen uint64) {
	task := func() {
		if batch, ok := e.sched.due(gen); ok {
			e.flush(batch, false)
		}
	}
	select {
	case e.mailbox <- task:
	case <-e.doneCh:
	}
}

// flush reduces a batch and fans the result out.
func (e *Engine) flush(batch []model.Event, immediate bool) {
	_, span := e.cfg.tracer.Start(context.Background(), "coalescer.flush",
		trace.WithAttributes(
			attribute.Int("coalescer.batch_size", len(batch)),
			attribute.Bool("coalescer.immediate", immediate),
		),
	)
	defer span.End()

	now := e.cfg.clock.Now()
	update := e.reducer.reduce(batch, now, immediate)

	rep := e.subs.dispatch(update, e.cfg.clock.Now)
	if e.metrics.dispatched(rep, e.cfg.mismatchThreshold) {
		e.logger.Warn("MISMATCHED_SURFACES",
			"shortest_ms", rep.shortest.Milliseconds(),
			"longest_ms", rep.longest.Milliseconds(),
		)
	}

	done := e.cfg.clock.Now()
	latency := done.Sub(batch[0].ArrivalTime)
	e.metrics.flushed(done, immediate, len(batch), latency)
	span.SetAttributes(attribute.Int("coalescer.subscribers", rep.invoked))

	e.logger.Debug("FLUSH_DISPATCHED",
		"events", len(batch),
		"immediate", immediate,
		"notifications", len(update.Notifications),
		"statuses", len(update.StatusUpdatesDetailed),
		"subscribers", rep.invoked,
		"latency_ms", latency.Milliseconds(),
	)
}

// Subscribe registers a consumer and returns its disposer. Safe to call
// from any goroutine, including from inside a subscriber.
func (e *Engine) Subscribe(sub Subscriber) (unsubscribe func()) {
	return e.subs.add(sub)
}

// FlushNow cancels any pending timer and reduces the open batch at once.
// An empty batch dispatches nothing.
func (e *Engine) FlushNow(ctx context.Context) error {
	return e.do(ctx, func() {
		if e.sched.size() == 0 {
			return
		}
		e.flush(e.sched.take(), false)
	})
}

// Metrics returns a snapshot of the recorder and pipeline sizes.
func (e *Engine) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snap MetricsSnapshot
	err := e.do(ctx, func() {
		snap = e.metrics.snapshot()
		snap.PendingEvents = e.sched.size()
		snap.TrackedStatus = e.book.len()
		snap.DedupEntries = e.dedup.len()
		snap.Subscribers = e.subs.count()
		snap.CurrentDelayMs = e.sched.delay.Milliseconds()
	})
	return snap, err
}

// Reset fully reinitializes the pipeline: buffer, timer, dedup table,
// metrics and the per-message status map. Subscribers stay registered.
func (e *Engine) Reset(ctx context.Context) error {
	return e.do(ctx, func() {
		e.sched.take()
		e.dedup.reset()
		e.book.reset()
		e.metrics.reset()
		e.logger.Info("ENGINE_RESET")
	})
}

// SetDelay applies a new debounce delay, clamped to the supported range. An
// open batch keeps its armed timer; the next arrival re-arms with the new value.
func (e *Engine) SetDelay(ctx context.Context, d time.Duration) error {
	if d == 0 {
		d = DefaultDelay
	}
	d = ClampDelay(d)
	return e.do(ctx, func() {
		e.sched.setDelay(d)
		e.logger.Info("DELAY_UPDATED", "delay_ms", d.Milliseconds())
	})
}
