package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
)

func TestFetchSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/alice/metrics":
			_ = json.NewEncoder(w).Encode(coalescer.MetricsSnapshot{TotalEvents: 7, CurrentDelayMs: 150})
		case "/v1/users/bob/metrics":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	rows, err := fetchSnapshots(context.Background(), srv.Client(), srv.URL+"/", []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.NoError(t, rows[0].Err)
	assert.Equal(t, uint64(7), rows[0].Snap.TotalEvents)
	assert.ErrorIs(t, rows[1].Err, errNotHosted)
	assert.ErrorContains(t, rows[2].Err, "500")

	table := tableRows(rows)
	require.Len(t, table, 4)
	assert.Equal(t, topHeader, table[0])
	assert.Equal(t, "150", table[1][len(topHeader)-1])
	assert.Equal(t, "not hosted", table[2][1])
}

func TestFetchSnapshots_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetchSnapshots(ctx, http.DefaultClient, "http://127.0.0.1:1", []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "bogus": "INFO"} {
		assert.Equal(t, want, parseLevel(in).String(), in)
	}
}
