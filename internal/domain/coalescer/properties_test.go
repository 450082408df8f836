package coalescer

import (
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"pgregory.net/rapid"
)

var statusKinds = []model.EventKind{
	model.KindMessageSent,
	model.KindMessageDelivered,
	model.KindMessageSeen,
}

// heldStatuses returns every status dispatched for msgID, in flush order.
func heldStatuses(updates []*model.DispatchedUpdate, msgID string) []model.StatusUpdate {
	var out []model.StatusUpdate
	for _, u := range updates {
		if st, ok := u.StatusUpdatesDetailed[msgID]; ok {
			out = append(out, st)
		}
	}
	return out
}

// TestStatusMonotonicInvariant verifies that for any interleaving of status
// events the dispatched status never regresses and ends at the highest
// status submitted.
func TestStatusMonotonicInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		defer h.engine.Stop()

		n := rapid.IntRange(1, 12).Draw(t, "n")
		highest := model.StatusInProgress
		for i := 0; i < n; i++ {
			kind := rapid.SampledFrom(statusKinds).Draw(t, "kind")
			var s *int64
			if rapid.Bool().Draw(t, "hasSeq") {
				s = seq(rapid.Int64Range(0, 5).Draw(t, "seq"))
			}

			h.submit(statusEvent(kind, "m1", s))
			if st, _ := model.StatusForKind(kind); st > highest {
				highest = st
			}

			h.advance(time.Duration(rapid.IntRange(0, 400).Draw(t, "gapMs")) * time.Millisecond)
		}
		h.advance(MaxDelay)

		held := heldStatuses(h.got.all(), "m1")
		if len(held) == 0 {
			t.Fatal("no status dispatched")
		}

		// PROPERTY: dispatched statuses are non-decreasing.
		for i := 1; i < len(held); i++ {
			if held[i].Status < held[i-1].Status {
				t.Fatalf("status regressed from %s to %s", held[i-1].Status, held[i].Status)
			}
		}

		// PROPERTY: the final status is the highest one submitted.
		if last := held[len(held)-1].Status; last != highest {
			t.Fatalf("final status %s, want %s", last, highest)
		}
	})
}

// TestTieBreakDeterminism verifies that two writers emitting the same status
// and seq resolve to the same record regardless of arrival order.
func TestTieBreakDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := rapid.SampledFrom([]string{"sent", "delivered", "read"}).Draw(t, "status")
		sq := rapid.Int64Range(1, 3).Draw(t, "seq")

		draw := func(label string) *model.StatusChangePayload {
			return &model.StatusChangePayload{
				MessageID: "m1",
				Status:    st,
				Seq:       seq(sq),
				Timestamp: rapid.Int64Range(1000, 1003).Draw(t, label+"Ts"),
				NodeID:    rapid.SampledFrom([]string{"node-a", "node-b", "node-c"}).Draw(t, label+"Node"),
			}
		}
		a, b := draw("a"), draw("b")

		final := func(first, second *model.StatusChangePayload) model.StatusUpdate {
			h := newHarness(t)
			defer h.engine.Stop()
			h.submit(model.NewEvent(model.KindStatusUpdate, first))
			h.advance(20 * time.Millisecond)
			h.submit(model.NewEvent(model.KindStatusUpdate, second))
			h.advance(MaxDelay)

			held := heldStatuses(h.got.all(), "m1")
			return held[len(held)-1]
		}

		ab, ba := final(a, b), final(b, a)

		// PROPERTY: arrival order does not change the winner.
		if ab != ba {
			t.Fatalf("order dependent result: %+v vs %+v", ab, ba)
		}

		// PROPERTY: the winner is the later timestamp, then the greater node.
		want := a
		if b.Timestamp > a.Timestamp || (b.Timestamp == a.Timestamp && b.NodeID > a.NodeID) {
			want = b
		}
		if ab.Timestamp != want.Timestamp || ab.NodeID != want.NodeID {
			t.Fatalf("winner %+v, want ts=%d node=%s", ab, want.Timestamp, want.NodeID)
		}
	})
}

// TestDedupIdempotence verifies that N submissions of one logical event
// within the window yield one acceptance and N-1 duplicates.
func TestDedupIdempotence(t *testing.T) {
	events := map[string]model.Event{
		"notification": reaction("u1", "p1"),
		"status":       statusEvent(model.KindMessageDelivered, "m1", seq(2)),
		"seen":         statusEvent(model.KindMessageSeen, "m1", nil),
		"refresh":      model.NewEvent(model.KindNotificationRefresh, nil),
		"absolute": model.NewEvent(model.KindNotificationCountUpdate,
			&model.NotificationCountPayload{UnreadCount: num(4)}),
	}
	names := slices.Sorted(maps.Keys(events))

	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		defer h.engine.Stop()

		ev := events[rapid.SampledFrom(names).Draw(t, "event")]
		n := rapid.IntRange(1, 20).Draw(t, "n")

		accepted := 0
		for i := 0; i < n; i++ {
			if out := h.submit(ev); out.accepted() {
				accepted++
			}
			// Stays inside both the dedup window and one second bucket.
			h.advance(time.Duration(rapid.IntRange(0, 40).Draw(t, "gapMs")) * time.Millisecond)
		}

		snap := h.metrics()
		if accepted != 1 {
			t.Fatalf("accepted %d of %d, want 1", accepted, n)
		}
		if snap.Duplicates != uint64(n-1) {
			t.Fatalf("duplicates %d, want %d", snap.Duplicates, n-1)
		}
	})
}
