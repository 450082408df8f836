package model

import "strings"

// Status is the delivery state of one message. Values double as priorities.
type Status int8

const (
	StatusInProgress Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "in_progress"
	}
}

// ParseStatus accepts the wire labels, including "seen" as an alias of read.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_progress", "inprogress", "pending":
		return StatusInProgress, true
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read", "seen":
		return StatusRead, true
	}
	return StatusInProgress, false
}

// DefaultSeq is the logical clock value assumed when a writer omits seq.
func (s Status) DefaultSeq() int64 {
	return int64(s)
}

// StatusForKind maps the dedicated status event kinds onto their status.
func StatusForKind(k EventKind) (Status, bool) {
	switch k {
	case KindMessageSent:
		return StatusSent, true
	case KindMessageDelivered:
		return StatusDelivered, true
	case KindMessageSeen:
		return StatusRead, true
	}
	return StatusInProgress, false
}

// StatusUpdate is the reconciled delivery state of one message.
type StatusUpdate struct {
	Status    Status `json:"status"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"nodeId,omitempty"`
}

// Supersedes reports whether u may replace held.
//
// Status priority decides first: forward moves are always accepted and
// backward moves never are. Equal statuses fall through to the freshness
// order (seq, then timestamp, then nodeId); a full tie keeps the held record.
func (u StatusUpdate) Supersedes(held StatusUpdate) bool {
	switch {
	case u.Status > held.Status:
		return true
	case u.Status < held.Status:
		return false
	case u.Seq != held.Seq:
		return u.Seq > held.Seq
	case u.Timestamp != held.Timestamp:
		return u.Timestamp > held.Timestamp
	default:
		return u.NodeID > held.NodeID
	}
}
