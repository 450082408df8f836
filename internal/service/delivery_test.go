package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

func newTestService(t *testing.T) (Deliverer, *registry.Hub) {
	t.Helper()
	hub := registry.NewHub(registry.WithEvictionInterval(0), registry.WithDelay(coalescer.MaxDelay))
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{}
	cfg.Coalescer.UserOverrideFile = filepath.Join(t.TempDir(), "user.yaml")
	delay := config.NewDelayResolver(cfg, nil)

	svc := NewDelivererMiddleware(NewDeliveryService(hub, delay), slog.Default())
	return svc, hub
}

func TestDeliveryService_SubscribeSubmitReceive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	conn, err := svc.Subscribe(ctx, user, registry.ConnectMetadata{Transport: "test"})
	require.NoError(t, err)

	out, err := svc.Submit(ctx, user, model.NewEvent(model.KindMessageSeen, &model.MessageStatusPayload{MessageID: "m1"}))
	require.NoError(t, err)
	assert.Equal(t, coalescer.OutcomeDispatched, out)

	select {
	case u := <-conn.Recv():
		assert.Equal(t, model.StatusRead, u.StatusUpdatesDetailed["m1"].Status)
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	assert.Equal(t, registry.HubStats{Cells: 1, Sessions: 1}, svc.Stats())
	svc.Unsubscribe(user, conn.GetID())
	assert.Equal(t, registry.HubStats{Cells: 1}, svc.Stats())
}

func TestDeliveryService_EngineControls(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.Metrics(ctx, user)
	assert.ErrorIs(t, err, registry.ErrUnknownUser)
	assert.ErrorIs(t, svc.Flush(ctx, user), registry.ErrUnknownUser)
	assert.ErrorIs(t, svc.Reset(ctx, user), registry.ErrUnknownUser)

	_, err = svc.Submit(ctx, user, model.NewEvent(model.KindMessageDelivered, &model.MessageStatusPayload{MessageID: "m1"}))
	require.NoError(t, err)

	snap, err := svc.Metrics(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PendingEvents)

	require.NoError(t, svc.Flush(ctx, user))
	snap, err = svc.Metrics(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, snap.PendingEvents)
	assert.Equal(t, uint64(1), snap.Flushes)

	require.NoError(t, svc.Reset(ctx, user))
	snap, err = svc.Metrics(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalEvents)
	assert.Zero(t, snap.TrackedStatus)
}

func TestDeliveryService_SetDelay(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	user := uuid.New()
	_, err := svc.Subscribe(ctx, user, registry.ConnectMetadata{})
	require.NoError(t, err)

	eff, src, err := svc.SetDelay(ctx, 300*time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, eff)
	assert.Equal(t, config.SourceUser, src)

	eff, src, err = svc.SetDelay(ctx, 5*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, config.MaxDelay, eff, "runtime override wins and is clamped")
	assert.Equal(t, config.SourceRuntime, src)

	cell, ok := hub.Cell(user)
	require.True(t, ok)
	snap, err := cell.Engine().Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.MaxDelay.Milliseconds(), snap.CurrentDelayMs)

	_, _, err = svc.SetDelay(ctx, -time.Second, false)
	assert.ErrorIs(t, err, ErrInvalidDelay)
}
