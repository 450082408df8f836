package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T, opts ...Option) (*Hub, *coalescer.FakeClock) {
	t.Helper()
	clock := coalescer.NewFakeClock(epoch)
	base := []Option{
		WithEvictionInterval(0),
		WithIdleTimeout(time.Minute),
		WithNow(clock.Now),
		WithEngineOptions(coalescer.WithClock(clock)),
	}
	h := NewHub(append(base, opts...)...)
	t.Cleanup(h.Shutdown)
	return h, clock
}

func seen(msgID string) model.Event {
	return model.NewEvent(model.KindMessageSeen, &model.MessageStatusPayload{MessageID: msgID})
}

func delivered(msgID string) model.Event {
	return model.NewEvent(model.KindMessageDelivered, &model.MessageStatusPayload{MessageID: msgID})
}

func register(t *testing.T, h *Hub, userID uuid.UUID) Connector {
	t.Helper()
	conn := NewConnector(context.Background(), userID, h.SessionBuffer(), ConnectMetadata{Transport: "test"})
	require.NoError(t, h.Register(conn))
	return conn
}

func recv(t *testing.T, conn Connector) *model.DispatchedUpdate {
	t.Helper()
	select {
	case u, ok := <-conn.Recv():
		require.True(t, ok, "session closed")
		return u
	default:
		t.Fatal("no update queued")
		return nil
	}
}

func TestHub_FanOutToSessions(t *testing.T) {
	h, _ := newTestHub(t)
	user := uuid.New()

	web, mobile := register(t, h, user), register(t, h, user)
	assert.Equal(t, HubStats{Cells: 1, Sessions: 2}, h.Stats())

	out, err := h.Submit(context.Background(), user, seen("m1"))
	require.NoError(t, err)
	assert.Equal(t, coalescer.OutcomeDispatched, out)

	a, b := recv(t, web), recv(t, mobile)
	assert.Same(t, a, b, "every session sees the same update")
	assert.Equal(t, model.StatusRead, a.StatusUpdatesDetailed["m1"].Status)
}

func TestHub_DebouncedUpdateReachesSession(t *testing.T) {
	h, clock := newTestHub(t)
	user := uuid.New()
	conn := register(t, h, user)

	out, err := h.Submit(context.Background(), user, delivered("m1"))
	require.NoError(t, err)
	assert.Equal(t, coalescer.OutcomeBuffered, out)
	assert.Empty(t, conn.Recv())

	clock.Advance(coalescer.DefaultDelay)
	cell, ok := h.Cell(user)
	require.True(t, ok)
	_, err = cell.Engine().Metrics(context.Background()) // barrier
	require.NoError(t, err)

	assert.Equal(t, model.StatusDelivered, recv(t, conn).StatusUpdatesDetailed["m1"].Status)
}

func TestHub_SlowSessionIsToldToResync(t *testing.T) {
	h, _ := newTestHub(t, WithSessionBuffer(1))
	user := uuid.New()
	conn := register(t, h, user)
	ctx := context.Background()

	_, err := h.Submit(ctx, user, seen("m1"))
	require.NoError(t, err)
	_, err = h.Submit(ctx, user, seen("m2")) // queue full: shed
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conn.Dropped())

	first := recv(t, conn)
	assert.Contains(t, first.StatusUpdatesDetailed, "m1")
	assert.False(t, first.RefreshNeeded)

	_, err = h.Submit(ctx, user, seen("m3"))
	require.NoError(t, err)
	resync := recv(t, conn)
	assert.True(t, resync.RefreshNeeded)
	assert.Contains(t, resync.StatusUpdatesDetailed, "m3")

	_, err = h.Submit(ctx, user, seen("m4"))
	require.NoError(t, err)
	assert.False(t, recv(t, conn).RefreshNeeded, "stale flag clears after one resync")
}

func TestHub_EvictsIdleCells(t *testing.T) {
	h, clock := newTestHub(t)
	busy, quiet := uuid.New(), uuid.New()

	register(t, h, busy)
	conn := register(t, h, quiet)
	h.Unregister(quiet, conn.GetID())

	_, ok := <-conn.Recv()
	assert.False(t, ok, "unregister closes the session")

	assert.Zero(t, h.EvictIdle(), "quiet period not elapsed")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.EvictIdle())
	assert.False(t, h.IsConnected(quiet))
	assert.True(t, h.IsConnected(busy), "cells with sessions stay")

	// A later event recreates the cell with a fresh engine.
	out, err := h.Submit(context.Background(), quiet, seen("m1"))
	require.NoError(t, err)
	assert.Equal(t, coalescer.OutcomeDispatched, out)
	assert.True(t, h.IsConnected(quiet))
}

func TestHub_SetDelayReachesAllCells(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()
	existing := uuid.New()
	register(t, h, existing)

	require.NoError(t, h.SetDelay(ctx, 400*time.Millisecond))

	later := uuid.New()
	register(t, h, later)

	for _, user := range []uuid.UUID{existing, later} {
		cell, ok := h.Cell(user)
		require.True(t, ok)
		snap, err := cell.Engine().Metrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(400), snap.CurrentDelayMs)
	}
}

func TestHub_SinkReceivesUpdates(t *testing.T) {
	var mu sync.Mutex
	var got []uuid.UUID
	h, _ := newTestHub(t, WithSink(func(userID uuid.UUID, _ *model.DispatchedUpdate) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, userID)
		return nil
	}))
	user := uuid.New()

	_, err := h.Submit(context.Background(), user, seen("m1"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uuid.UUID{user}, got)
}

func TestHub_Shutdown(t *testing.T) {
	h, _ := newTestHub(t)
	user := uuid.New()
	conn := register(t, h, user)

	h.Shutdown()
	h.Shutdown()

	_, ok := <-conn.Recv()
	assert.False(t, ok)
	assert.Equal(t, HubStats{}, h.Stats())

	err := h.Register(NewConnector(context.Background(), user, 1, ConnectMetadata{}))
	assert.ErrorIs(t, err, ErrHubShutdown)
	_, err = h.Submit(context.Background(), user, seen("m1"))
	assert.ErrorIs(t, err, ErrHubShutdown)
}

func TestConnector_CloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := NewConnector(ctx, uuid.New(), 1, ConnectMetadata{})

	cancel()
	assert.False(t, conn.Send(model.NewDispatchedUpdate(epoch)), "cancelled session refuses updates")

	conn.Close()
	conn.Close()
	assert.False(t, conn.Send(model.NewDispatchedUpdate(epoch)))
}
