/*
Package registry hosts one coalescing pipeline per user and fans its output
out to the user's live sessions.

Key Architectural Concepts:
  - Virtual Cells: every active user is represented by an isolated Cell that
    owns a coalescer.Engine and all concurrent sessions of that identity.
  - Backpressure: sessions have bounded queues. A slow consumer sheds updates
    and is told to resync instead of blocking the engine.
  - Lifecycle: cells are created lazily on the first session or event and
    reclaimed by a janitor once idle. Eviction discards the status map.
*/
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// Sink receives every dispatched update of a cell, e.g. to republish it.
type Sink func(userID uuid.UUID, u *model.DispatchedUpdate) error

// Cell implements [ISOLATED_DELIVERY] logic for a single user.
type Cell struct {
	// [IDENTITY]
	userID uuid.UUID

	// [PIPELINE] the single engine of this user.
	engine *coalescer.Engine

	// [SESSIONS]
	// Multiplexes one update to every device of the user.
	sessions map[uuid.UUID]Connector
	mu       sync.RWMutex

	// lastActivityAt records the last session change or submitted event.
	lastActivityAt time.Time
	// evicted cells refuse new sessions; the hub replaces them.
	evicted bool

	disposers []func()
	logger    *slog.Logger
	now       func() time.Time
}

func newCell(userID uuid.UUID, engine *coalescer.Engine, sink Sink, logger *slog.Logger, now func() time.Time) *Cell {
	c := &Cell{
		userID:         userID,
		engine:         engine,
		sessions:       make(map[uuid.UUID]Connector),
		lastActivityAt: now(),
		logger:         logger.With("user_id", userID),
		now:            now,
	}

	c.disposers = append(c.disposers, engine.Subscribe(coalescer.SubscriberFunc(c.deliver)))
	if sink != nil {
		c.disposers = append(c.disposers, engine.Subscribe(coalescer.SubscriberFunc(
			func(u *model.DispatchedUpdate) error { return sink(userID, u) },
		)))
	}
	return c
}

func (c *Cell) UserID() uuid.UUID { return c.userID }

func (c *Cell) Engine() *coalescer.Engine { return c.engine }

// Sessions returns the number of attached sessions.
func (c *Cell) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// IsIdle returns true if the user has no active sessions and nothing
// happened for longer than timeout.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idleLocked(timeout)
}

func (c *Cell) idleLocked(timeout time.Duration) bool {
	return len(c.sessions) == 0 && c.now().Sub(c.lastActivityAt) > timeout
}

func (c *Cell) touch() {
	c.mu.Lock()
	c.lastActivityAt = c.now()
	c.mu.Unlock()
}

// Submit forwards an event into the cell's engine.
func (c *Cell) Submit(ctx context.Context, ev model.Event) (coalescer.Outcome, error) {
	c.touch() // Keep alive on incoming events
	return c.engine.Submit(ctx, ev)
}

// Attach adds a session. It fails once the cell has been evicted.
func (c *Cell) Attach(conn Connector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return false
	}
	c.lastActivityAt = c.now()
	c.sessions[conn.GetID()] = conn
	return true
}

// Detach removes a session and reports whether the cell is now empty.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.sessions[connID]; ok {
		conn.Close()
		delete(c.sessions, connID)
	}
	c.lastActivityAt = c.now()
	return len(c.sessions) == 0
}

// deliver is the engine subscriber. It runs on the engine goroutine.
func (c *Cell) deliver(u *model.DispatchedUpdate) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, conn := range c.sessions {
		if !conn.Send(u) {
			c.logger.Warn("SESSION_UPDATE_SHED", "conn_id", id, "dropped", conn.Dropped())
		}
	}
	return nil
}

// evictIfIdle marks the cell evicted when it is still idle under the lock.
func (c *Cell) evictIfIdle(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted || !c.idleLocked(timeout) {
		return false
	}
	c.evicted = true
	return true
}

// Stop closes every session and terminates the engine.
func (c *Cell) Stop() {
	for _, dispose := range c.disposers {
		dispose()
	}
	c.engine.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = true
	for id, conn := range c.sessions {
		conn.Close()
		delete(c.sessions, id)
	}
}
