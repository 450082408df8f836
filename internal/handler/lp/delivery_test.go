package lp

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
)

func TestPollTimeout(t *testing.T) {
	h := NewLPHandler(nil, 10*time.Second)

	cases := map[string]time.Duration{
		"":            10 * time.Second,
		"?timeout=x":  10 * time.Second,
		"?timeout=0":  10 * time.Second,
		"?timeout=3":  3 * time.Second,
		"?timeout=99": 10 * time.Second,
	}
	for query, want := range cases {
		r := httptest.NewRequest("GET", "/poll"+query, nil)
		assert.Equal(t, want, h.pollTimeout(r), query)
	}
}

func TestDrainStopsAtBatchLimit(t *testing.T) {
	conn := registry.NewConnector(context.Background(), uuid.New(), maxBatch*2, registry.ConnectMetadata{Transport: "lp"})
	t.Cleanup(conn.Close)

	for range maxBatch * 2 {
		require.True(t, conn.Send(model.NewDispatchedUpdate(time.Now())))
	}

	first := model.NewDispatchedUpdate(time.Now())
	got := drain(conn, first)
	require.Len(t, got, maxBatch)
	assert.Same(t, first, got[0])

	assert.Len(t, drain(conn, first), maxBatch)
	assert.Len(t, drain(conn, first), 1)
}
