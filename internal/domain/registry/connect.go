package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] one live UI session of a user (websocket, long-poll...).
type Connector interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	Metadata() ConnectMetadata
	// Send enqueues without blocking. False means the session is closed or
	// its queue is full.
	Send(u *model.DispatchedUpdate) bool
	Recv() <-chan *model.DispatchedUpdate
	Dropped() uint64
	Close()
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id        uuid.UUID
	userID    uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc

	// [CLOSE_GUARD] Send holds the read lock so Close never closes sendCh
	// under an in-flight send.
	mu     sync.RWMutex
	closed bool
	sendCh chan *model.DispatchedUpdate

	// [STALE] set when an update was shed. The next delivered update asks
	// the UI for a full resync.
	stale        atomic.Bool
	droppedCount atomic.Uint64
}

// NewConnector creates a session bound to ctx: cancelling ctx closes it.
func NewConnector(ctx context.Context, userID uuid.UUID, bufferSize int, meta ConnectMetadata) Connector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	childCtx, cancel := context.WithCancel(ctx)
	c := &connect{
		id:        uuid.New(),
		userID:    userID,
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan *model.DispatchedUpdate, bufferSize),
	}
	return c
}

func (c *connect) GetID() uuid.UUID          { return c.id }
func (c *connect) GetUserID() uuid.UUID      { return c.userID }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }
func (c *connect) Dropped() uint64           { return c.droppedCount.Load() }

func (c *connect) Send(u *model.DispatchedUpdate) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || c.ctx.Err() != nil {
		return false
	}

	out := u
	wasStale := c.stale.Load()
	if wasStale && !u.RefreshNeeded {
		out = u.Clone()
		out.RefreshNeeded = true
	}

	select {
	case c.sendCh <- out:
		if wasStale {
			c.stale.Store(false)
		}
		return true
	default:
		// [BACKPRESSURE] shed the update, the UI resyncs on the next one.
		c.stale.Store(true)
		c.droppedCount.Add(1)
		return false
	}
}

func (c *connect) Recv() <-chan *model.DispatchedUpdate { return c.sendCh }

// Close is idempotent. Readers observe the closed channel.
func (c *connect) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelFn()
	close(c.sendCh)
}
