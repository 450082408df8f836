package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"sent":        StatusSent,
		"Delivered":   StatusDelivered,
		" read ":      StatusRead,
		"seen":        StatusRead,
		"pending":     StatusInProgress,
		"in_progress": StatusInProgress,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseStatus("archived")
	assert.False(t, ok)
}

func TestStatusUpdate_Supersedes(t *testing.T) {
	held := StatusUpdate{Status: StatusDelivered, Seq: 2, Timestamp: 100, NodeID: "node-b"}

	tests := []struct {
		name string
		in   StatusUpdate
		want bool
	}{
		{"forward move", StatusUpdate{Status: StatusRead, Seq: 0}, true},
		{"backward move with higher seq", StatusUpdate{Status: StatusSent, Seq: 9, Timestamp: 999}, false},
		{"higher seq", StatusUpdate{Status: StatusDelivered, Seq: 3}, true},
		{"lower seq", StatusUpdate{Status: StatusDelivered, Seq: 1, Timestamp: 999}, false},
		{"later timestamp", StatusUpdate{Status: StatusDelivered, Seq: 2, Timestamp: 101}, true},
		{"earlier timestamp", StatusUpdate{Status: StatusDelivered, Seq: 2, Timestamp: 99, NodeID: "node-z"}, false},
		{"greater node", StatusUpdate{Status: StatusDelivered, Seq: 2, Timestamp: 100, NodeID: "node-c"}, true},
		{"full tie", held, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Supersedes(held))
		})
	}
}

func TestStatusForKind(t *testing.T) {
	st, ok := StatusForKind(KindMessageSeen)
	require.True(t, ok)
	assert.Equal(t, StatusRead, st)

	_, ok = StatusForKind(KindNotification)
	assert.False(t, ok)
}
