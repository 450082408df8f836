package coalescer

import (
	"log/slog"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDelay             = 150 * time.Millisecond
	MinDelay                 = 100 * time.Millisecond
	MaxDelay                 = 2000 * time.Millisecond
	DefaultDedupWindow       = time.Second
	DefaultDedupCapacity     = 10000
	DefaultLateFactor        = 1.5
	DefaultMismatchThreshold = 50 * time.Millisecond
	DefaultMailboxSize       = 256
)

// DefaultBypassKinds never wait on the debounce window. Configuration can
// only add to them.
var DefaultBypassKinds = []model.EventKind{model.KindMessageSeen}

type settings struct {
	name              string
	clock             Clock
	logger            *slog.Logger
	tracer            trace.Tracer
	observer          Observer
	delay             time.Duration
	dedupWindow       time.Duration
	dedupCapacity     int
	lateFactor        float64
	mismatchThreshold time.Duration
	mailboxSize       int
	bypass            map[model.EventKind]struct{}
}

// Option defines a functional configuration type for the Engine.
type Option func(*settings)

// WithName labels the engine in logs (typically the owning user id).
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

func WithClock(c Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithObserver forwards pipeline signals to an external metrics sink.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithDelay sets the [DEBOUNCE_WINDOW]. Zero keeps the default; any other
// value is clamped to [MinDelay, MaxDelay].
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		if d != 0 {
			s.delay = ClampDelay(d)
		}
	}
}

// WithDedupWindow sets the trailing window in which a signature repeat is
// dropped.
func WithDedupWindow(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.dedupWindow = d
		}
	}
}

func WithDedupCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.dedupCapacity = n
		}
	}
}

// WithLateFactor sets the multiple of the delay after which an event joining
// an open batch is flagged late.
func WithLateFactor(f float64) Option {
	return func(s *settings) {
		if f > 0 {
			s.lateFactor = f
		}
	}
}

// WithMismatchThreshold sets the subscriber duration spread recorded as a
// mismatched surface.
func WithMismatchThreshold(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.mismatchThreshold = d
		}
	}
}

func WithMailboxSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.mailboxSize = n
		}
	}
}

// WithBypassKinds sets the kinds that flush immediately. Read receipts
// (DefaultBypassKinds) always stay in the set.
func WithBypassKinds(kinds ...model.EventKind) Option {
	return func(s *settings) {
		s.bypass = make(map[model.EventKind]struct{}, len(kinds)+len(DefaultBypassKinds))
		for _, k := range DefaultBypassKinds {
			s.bypass[k] = struct{}{}
		}
		for _, k := range kinds {
			s.bypass[k] = struct{}{}
		}
	}
}

// ClampDelay bounds a debounce delay to the supported range.
func ClampDelay(d time.Duration) time.Duration {
	switch {
	case d < MinDelay:
		return MinDelay
	case d > MaxDelay:
		return MaxDelay
	}
	return d
}

func defaultSettings() settings {
	s := settings{
		clock:             SystemClock{},
		logger:            slog.Default(),
		observer:          NopObserver{},
		delay:             DefaultDelay,
		dedupWindow:       DefaultDedupWindow,
		dedupCapacity:     DefaultDedupCapacity,
		lateFactor:        DefaultLateFactor,
		mismatchThreshold: DefaultMismatchThreshold,
		mailboxSize:       DefaultMailboxSize,
	}
	WithBypassKinds(DefaultBypassKinds...)(&s)
	return s
}
