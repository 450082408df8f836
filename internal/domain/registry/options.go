package registry

import (
	"log/slog"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithEvictionInterval configures how often the [JANITOR] process runs
// to reclaim memory from inactive users. Zero disables the janitor.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.evictionInterval = d
	}
}

// WithIdleTimeout defines the [QUIET_PERIOD] after which a user cell
// without active sessions is considered eligible for eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.idleTimeout = d
	}
}

// WithSessionBuffer sets the per-session queue capacity.
func WithSessionBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.sessionBuffer = size
		}
	}
}

// WithEngineOptions appends options applied to every cell's engine.
func WithEngineOptions(opts ...coalescer.Option) Option {
	return func(h *Hub) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// WithDelay sets the debounce delay new cells start with.
func WithDelay(d time.Duration) Option {
	return func(h *Hub) {
		h.delay.Store(int64(d))
	}
}

// WithSink republishes every dispatched update of every cell.
func WithSink(s Sink) Option {
	return func(h *Hub) {
		h.sink = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithNow replaces the wall clock used for idleness accounting.
func WithNow(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}
