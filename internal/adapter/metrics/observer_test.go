package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

func TestObserver_CountsEngineSignals(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObserver(reg)

	hub := registry.NewHub(
		registry.WithEvictionInterval(0),
		registry.WithEngineOptions(coalescer.WithObserver(obs)),
	)
	t.Cleanup(hub.Shutdown)
	RegisterHubGauges(reg, hub)

	ctx := context.Background()
	user := uuid.New()
	seen := model.NewEvent(model.KindMessageSeen, &model.MessageStatusPayload{MessageID: "m1"})

	_, err := hub.Submit(ctx, user, seen)
	require.NoError(t, err)
	_, err = hub.Submit(ctx, user, seen)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.events.WithLabelValues("message_seen", "high", "dispatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.events.WithLabelValues("message_seen", "high", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.flushes.WithLabelValues("true")))

	expected := `
# HELP im_coalescer_active_cells User cells hosted on this node.
# TYPE im_coalescer_active_cells gauge
im_coalescer_active_cells 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "im_coalescer_active_cells"))
}

func TestObserver_Reconcile(t *testing.T) {
	obs := NewObserver(prometheus.NewRegistry())
	obs.ObserveReconcile(true)
	obs.ObserveReconcile(false)
	obs.ObserveReconcile(false)
	obs.ObserveFlush(false, 3, 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.reconciles.WithLabelValues("replaced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.reconciles.WithLabelValues("ignored")))
	assert.Equal(t, 1, testutil.CollectAndCount(obs.latency))
}
