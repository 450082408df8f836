package amqp

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/adapter/pubsub"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"github.com/webitel/im-coalescer-service/internal/service"
)

type intake struct {
	hub      *registry.Hub
	svc      service.Deliverer
	provider *pubsub.ChannelProvider
}

func startIntake(t *testing.T, localOnly bool) *intake {
	t.Helper()
	wm := watermill.NopLogger{}

	cfg := &config.Config{}
	cfg.AMQP.Exchange = "im_notify.events"
	cfg.AMQP.Queue = "im-coalescer.intake.v1"
	cfg.Coalescer.UserOverrideFile = filepath.Join(t.TempDir(), "user.yaml")

	hub := registry.NewHub(registry.WithEvictionInterval(0), registry.WithDelay(coalescer.MaxDelay))
	t.Cleanup(hub.Shutdown)
	svc := service.NewDeliveryService(hub, config.NewDelayResolver(cfg, nil))

	provider := pubsub.NewChannelProvider(wm)
	router, err := NewWatermillRouter(wm)
	require.NoError(t, err)

	h := NewEventHandler(hub, svc, slog.Default(), wm, localOnly)
	require.NoError(t, h.RegisterHandlers(router, provider, cfg))

	ctx, cancel := context.WithCancel(context.Background())
	RunRouter(ctx, router, slog.Default())
	t.Cleanup(func() {
		cancel()
		_ = router.Close()
		_ = provider.Close()
	})

	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return &intake{hub: hub, svc: svc, provider: provider}
}

func (in *intake) publish(t *testing.T, userID uuid.UUID, body string) {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), []byte(body))
	msg.Metadata.Set("x-routing-key", "im_notify."+userID.String()+".event.v1")
	pub, err := in.provider.Publisher("")
	require.NoError(t, err)
	require.NoError(t, pub.Publish(TopicNotifyEvent, msg))
}

func (in *intake) totalEvents(userID uuid.UUID) func() uint64 {
	return func() uint64 {
		snap, err := in.svc.Metrics(context.Background(), userID)
		if err != nil {
			return 0
		}
		return snap.TotalEvents
	}
}

func TestIntake_SubmitsDecodedEnvelopes(t *testing.T) {
	in := startIntake(t, false)
	user := uuid.New()

	in.publish(t, user, `{"kind":"message_delivered","payload":{"messageId":"m1"}}`)
	in.publish(t, user, `{"kind":"message_delivered","payload":{"messageId":"m1"}}`)

	total := in.totalEvents(user)
	require.Eventually(t, func() bool { return total() == 2 }, 5*time.Second, 10*time.Millisecond)

	snap, err := in.svc.Metrics(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Duplicates)
	assert.Equal(t, 1, snap.PendingEvents)
}

func TestIntake_AcksMalformedInput(t *testing.T) {
	in := startIntake(t, false)
	user := uuid.New()

	in.publish(t, user, `not json`)
	in.publish(t, user, `{"kind":"message_exploded","payload":{}}`)
	in.publish(t, user, `{"kind":"notification_refresh"}`)

	// The valid event behind two bad ones proves the consumer moved on.
	total := in.totalEvents(user)
	require.Eventually(t, func() bool { return total() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestIntake_LocalityFilter(t *testing.T) {
	in := startIntake(t, true)
	remote, local := uuid.New(), uuid.New()

	conn, err := in.svc.Subscribe(context.Background(), local, registry.ConnectMetadata{Transport: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { in.svc.Unsubscribe(local, conn.GetID()) })

	in.publish(t, remote, `{"kind":"notification_refresh"}`)
	in.publish(t, local, `{"kind":"notification_refresh"}`)

	total := in.totalEvents(local)
	require.Eventually(t, func() bool { return total() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, in.hub.IsConnected(remote), "no cell is created for users hosted elsewhere")
}

func TestResolveUserID(t *testing.T) {
	user := uuid.New()

	msg := message.NewMessage("1", nil)
	msg.Metadata.Set("routing_key", "im_notify."+user.String()+".event.v1")
	got, ok := resolveUserID(msg)
	require.True(t, ok)
	assert.Equal(t, user, got)

	msg = message.NewMessage("2", nil)
	msg.Metadata.Set("user_id", user.String())
	got, ok = resolveUserID(msg)
	require.True(t, ok)
	assert.Equal(t, user, got)

	_, ok = resolveUserID(message.NewMessage("3", nil))
	assert.False(t, ok)
}
