package coalescer

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// Subscriber consumes dispatched updates. Subscribers run on the engine
// goroutine and must not call back into the engine synchronously.
type Subscriber interface {
	OnUpdate(update *model.DispatchedUpdate) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(update *model.DispatchedUpdate) error

func (f SubscriberFunc) OnUpdate(update *model.DispatchedUpdate) error { return f(update) }

type subscription struct {
	id  uint64
	sub Subscriber
}

// subscriberRegistry is safe for use from any goroutine, including from
// inside a running callback.
type subscriberRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// dispatchReport summarizes one fan-out.
type dispatchReport struct {
	invoked  int
	failed   int
	shortest time.Duration
	longest  time.Duration
}

func newSubscriberRegistry(logger *slog.Logger) *subscriberRegistry {
	return &subscriberRegistry{logger: logger}
}

func (r *subscriberRegistry) add(sub Subscriber) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, sub: sub})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *subscriberRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

func (r *subscriberRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// dispatch invokes every registered subscriber once, in registration order,
// with the same update. Failures are isolated per subscriber.
func (r *subscriberRegistry) dispatch(update *model.DispatchedUpdate, now func() time.Time) dispatchReport {
	r.mu.RLock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	var rep dispatchReport
	for i, s := range subs {
		start := now()
		err := r.invoke(s, update)
		took := now().Sub(start)

		rep.invoked++
		if err != nil {
			rep.failed++
		}
		if i == 0 || took < rep.shortest {
			rep.shortest = took
		}
		if took > rep.longest {
			rep.longest = took
		}
	}
	return rep
}

// invoke runs one subscriber behind a panic barrier.
func (r *subscriberRegistry) invoke(s subscription, update *model.DispatchedUpdate) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("SUBSCRIBER_PANIC_RECOVERED",
				"subscriber_id", s.id,
				"err", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("subscriber %d panicked: %v", s.id, rec)
		}
	}()

	if err = s.sub.OnUpdate(update); err != nil {
		r.logger.Warn("SUBSCRIBER_FAILED", "subscriber_id", s.id, "err", err)
	}
	return err
}
