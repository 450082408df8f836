package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

var (
	ErrUnknownUser  = errors.New("registry: no cell for user")
	ErrHubShutdown  = errors.New("registry: hub is shut down")
	errCellReplaced = errors.New("registry: cell evicted")
)

// Hubber defines the gateway for user session management and event routing.
type Hubber interface {
	Register(conn Connector) error
	Unregister(userID, connID uuid.UUID)
	IsConnected(userID uuid.UUID) bool
	Submit(ctx context.Context, userID uuid.UUID, ev model.Event) (coalescer.Outcome, error)
	Cell(userID uuid.UUID) (*Cell, bool)
	SetDelay(ctx context.Context, d time.Duration) error
	Stats() HubStats
	SessionBuffer() int
	Shutdown()
}

// HubStats is a point in time view of the hub.
type HubStats struct {
	Cells    int `json:"cells"`
	Sessions int `json:"sessions"`
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	sessionBuffer    int
}

// Hub implements a [SCALABLE_REGISTRY] using the Virtual Cell pattern.
type Hub struct {
	// cells stores map[uuid.UUID]*Cell. Optimized for [READ_HEAVY] workloads.
	cells sync.Map

	config     hubConfig
	engineOpts []coalescer.Option
	delay      atomic.Int64
	sink       Sink
	logger     *slog.Logger
	engineLog  *slog.Logger
	now        func() time.Time

	// [LIFECYCLE_CONTROL]
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

var _ Hubber = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 5 * time.Minute,
			idleTimeout:      30 * time.Minute,
			sessionBuffer:    64,
		},
		logger: slog.Default(),
		now:    time.Now,
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.engineLog = h.logger
	h.logger = h.logger.With("component", "hub")

	if h.config.evictionInterval > 0 {
		h.wg.Add(1)
		go h.janitor()
	}
	return h
}

// SessionBuffer is the queue capacity new connectors are created with.
func (h *Hub) SessionBuffer() int { return h.config.sessionBuffer }

// IsConnected reports whether this node currently hosts a cell for userID.
func (h *Hub) IsConnected(userID uuid.UUID) bool {
	_, ok := h.cells.Load(userID)
	return ok
}

func (h *Hub) Cell(userID uuid.UUID) (*Cell, bool) {
	val, ok := h.cells.Load(userID)
	if !ok {
		return nil, false
	}
	return val.(*Cell), true
}

// cellFor returns the user's cell, creating it on first use.
func (h *Hub) cellFor(userID uuid.UUID) (*Cell, error) {
	if h.shutdown.Load() {
		return nil, ErrHubShutdown
	}
	if cell, ok := h.Cell(userID); ok {
		return cell, nil
	}

	// [LAZY_INIT] the engine goroutine starts in New, so only the winner of
	// LoadOrStore may keep its cell.
	fresh := h.newCell(userID)
	val, loaded := h.cells.LoadOrStore(userID, fresh)
	if loaded {
		fresh.Stop()
		return val.(*Cell), nil
	}
	h.logger.Debug("CELL_CREATED", "user_id", userID)
	return fresh, nil
}

func (h *Hub) newCell(userID uuid.UUID) *Cell {
	opts := make([]coalescer.Option, 0, len(h.engineOpts)+3)
	opts = append(opts, h.engineOpts...)
	opts = append(opts,
		coalescer.WithName(userID.String()),
		coalescer.WithLogger(h.engineLog),
		coalescer.WithDelay(time.Duration(h.delay.Load())),
	)
	return newCell(userID, coalescer.New(opts...), h.sink, h.logger, h.now)
}

// Register ensures [IDEMPOTENT] cell creation and attaches a new session.
func (h *Hub) Register(conn Connector) error {
	for {
		cell, err := h.cellFor(conn.GetUserID())
		if err != nil {
			return err
		}
		if cell.Attach(conn) {
			h.logger.Debug("SESSION_ATTACHED",
				"user_id", conn.GetUserID(),
				"conn_id", conn.GetID(),
				"transport", conn.Metadata().Transport,
			)
			return nil
		}
		// Lost a race with the janitor; retry on a fresh cell.
		h.cells.CompareAndDelete(conn.GetUserID(), cell)
	}
}

// Unregister detaches and closes a session. The cell outlives it until the
// janitor finds it idle.
func (h *Hub) Unregister(userID, connID uuid.UUID) {
	if cell, ok := h.Cell(userID); ok {
		cell.Detach(connID)
	}
}

// Submit routes one event into the user's engine.
func (h *Hub) Submit(ctx context.Context, userID uuid.UUID, ev model.Event) (coalescer.Outcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cell, err := h.cellFor(userID)
		if err != nil {
			return 0, err
		}
		out, err := cell.Submit(ctx, ev)
		if !errors.Is(err, coalescer.ErrStopped) {
			return out, err
		}
		// [EVICTION_RACE] the engine was stopped underneath us.
		h.cells.CompareAndDelete(userID, cell)
	}
	return 0, errCellReplaced
}

// SetDelay applies d to every hosted cell and to cells created later.
func (h *Hub) SetDelay(ctx context.Context, d time.Duration) error {
	h.delay.Store(int64(d))

	var errs []error
	h.cells.Range(func(_, val any) bool {
		if err := val.(*Cell).Engine().SetDelay(ctx, d); err != nil && !errors.Is(err, coalescer.ErrStopped) {
			errs = append(errs, err)
		}
		return ctx.Err() == nil
	})
	return errors.Join(errs...)
}

func (h *Hub) Stats() HubStats {
	var s HubStats
	h.cells.Range(func(_, val any) bool {
		s.Cells++
		s.Sessions += val.(*Cell).Sessions()
		return true
	})
	return s
}

// [JANITOR] periodically reclaims idle cells.
func (h *Hub) janitor() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.doneCh:
			return
		case <-ticker.C:
			if n := h.EvictIdle(); n > 0 {
				h.logger.Info("IDLE_CELLS_EVICTED", "count", n)
			}
		}
	}
}

// EvictIdle runs one janitor pass and returns the number of evicted cells.
func (h *Hub) EvictIdle() int {
	evicted := 0
	h.cells.Range(func(key, val any) bool {
		cell := val.(*Cell)
		if !cell.evictIfIdle(h.config.idleTimeout) {
			return true
		}
		h.cells.CompareAndDelete(key, cell)
		cell.Stop()
		h.logger.Debug("CELL_EVICTED", "user_id", key)
		evicted++
		return true
	})
	return evicted
}

// Shutdown stops the janitor and every cell. Later calls are no-ops.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.shutdown.Store(true)
		close(h.doneCh)
		h.wg.Wait()

		h.cells.Range(func(key, val any) bool {
			val.(*Cell).Stop()
			h.cells.Delete(key)
			return true
		})
		h.logger.Info("HUB_SHUTDOWN")
	})
}
