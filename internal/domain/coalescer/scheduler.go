package coalescer

import (
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// scheduler holds the pending batch and its single debounce timer.
// It is owned by the engine goroutine; only the timer callback runs
// elsewhere, and it merely posts the generation number back.
type scheduler struct {
	clock      Clock
	delay      time.Duration
	lateFactor float64

	pending    []model.Event
	batchStart time.Time

	timer Timer
	// gen identifies the most recently armed timer so a callback that raced
	// with a re-arm or cancel is ignored.
	gen  uint64
	fire func(gen uint64)
}

func newScheduler(clock Clock, delay time.Duration, lateFactor float64, fire func(uint64)) *scheduler {
	return &scheduler{
		clock:      clock,
		delay:      delay,
		lateFactor: lateFactor,
		fire:       fire,
	}
}

// add appends ev to the batch and re-arms the debounce timer. It reports
// whether the event arrived later than lateFactor*delay after the batch opened.
func (s *scheduler) add(ev model.Event) (late bool) {
	if len(s.pending) == 0 {
		s.batchStart = ev.ArrivalTime
	} else if ev.ArrivalTime.Sub(s.batchStart) > s.lateThreshold() {
		late = true
	}
	s.pending = append(s.pending, ev)
	s.arm()
	return late
}

func (s *scheduler) lateThreshold() time.Duration {
	return time.Duration(float64(s.delay) * s.lateFactor)
}

func (s *scheduler) arm() {
	s.cancel()
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *scheduler) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// due returns the batch if gen still names the armed timer.
func (s *scheduler) due(gen uint64) ([]model.Event, bool) {
	if gen != s.gen || len(s.pending) == 0 {
		return nil, false
	}
	s.timer = nil
	return s.take(), true
}

// take cancels the timer and hands over the pending batch.
func (s *scheduler) take() []model.Event {
	s.cancel()
	s.gen++
	batch := s.pending
	s.pending = nil
	s.batchStart = time.Time{}
	return batch
}

func (s *scheduler) setDelay(d time.Duration) { s.delay = d }

func (s *scheduler) size() int { return len(s.pending) }
