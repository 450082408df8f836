package coalescer

import "github.com/webitel/im-coalescer-service/internal/domain/model"

// reconcileResult classifies one proposed status against the held record.
type reconcileResult int8

const (
	// reconcileFirst is the first acceptance for a message.
	reconcileFirst reconcileResult = iota + 1
	// reconcileReplaced is an accepted replacement of a held status.
	reconcileReplaced
	// reconcileIgnored is a stale or regressing proposal.
	reconcileIgnored
)

func (r reconcileResult) accepted() bool { return r != reconcileIgnored }

// statusBook is the long-lived per-message delivery state. Keyed by message
// id, so default sequence numbers are scoped per message.
type statusBook struct {
	held map[string]model.StatusUpdate
}

func newStatusBook() *statusBook {
	return &statusBook{held: make(map[string]model.StatusUpdate)}
}

func (b *statusBook) apply(messageID string, proposed model.StatusUpdate) reconcileResult {
	cur, ok := b.held[messageID]
	if !ok {
		b.held[messageID] = proposed
		return reconcileFirst
	}
	if !proposed.Supersedes(cur) {
		return reconcileIgnored
	}
	b.held[messageID] = proposed
	return reconcileReplaced
}

func (b *statusBook) get(messageID string) (model.StatusUpdate, bool) {
	u, ok := b.held[messageID]
	return u, ok
}

func (b *statusBook) len() int { return len(b.held) }

func (b *statusBook) reset() { clear(b.held) }
