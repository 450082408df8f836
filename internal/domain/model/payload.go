package model

import "fmt"

// Payload is the kind-specific body of an Event.
type Payload interface {
	payload()
}

var (
	_ Payload = (*Notification)(nil)
	_ Payload = (*MessageStatusPayload)(nil)
	_ Payload = (*StatusChangePayload)(nil)
	_ Payload = (*NotificationCountPayload)(nil)
	_ Payload = (*ConversationCountPayload)(nil)
	_ Payload = (*RefreshPayload)(nil)
)

type NotificationType string

const (
	NotificationMessage                      NotificationType = "message"
	NotificationConnectionRequest            NotificationType = "connection_request"
	NotificationConnectionAccepted           NotificationType = "connection_accepted"
	NotificationCommentAdded                 NotificationType = "comment_added"
	NotificationReactionAdded                NotificationType = "reaction_added"
	NotificationPostReactionAdded            NotificationType = "post_reaction_added"
	NotificationReplyAdded                   NotificationType = "reply_added"
	NotificationPostCreated                  NotificationType = "post_created"
	NotificationCollaborationRequest         NotificationType = "collaboration_request"
	NotificationCollaborationRequestApproved NotificationType = "collaboration_request_approved"
	NotificationCollaborationRequestDeclined NotificationType = "collaboration_request_declined"
)

// targetKeys lists, per notification type, the metadata keys that identify
// the thing the notification is about. First non-empty key wins.
var targetKeys = map[NotificationType][]string{
	NotificationMessage:                      {"conversationId", "messageId"},
	NotificationConnectionRequest:            {"connectionId", "requestId"},
	NotificationConnectionAccepted:           {"connectionId", "requestId"},
	NotificationCommentAdded:                 {"postId", "commentId"},
	NotificationReactionAdded:                {"commentId", "postId", "messageId"},
	NotificationPostReactionAdded:            {"postId"},
	NotificationReplyAdded:                   {"commentId", "postId"},
	NotificationPostCreated:                  {"postId"},
	NotificationCollaborationRequest:         {"requestId", "roomId"},
	NotificationCollaborationRequestApproved: {"requestId", "roomId"},
	NotificationCollaborationRequestDeclined: {"requestId", "roomId"},
}

type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Notification is a user-facing occurrence (reaction, comment, request...).
type Notification struct {
	Type      NotificationType `json:"type" validate:"required"`
	Actor     Actor            `json:"actor"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
}

func (*Notification) payload() {}

// TargetID resolves the distinguishing target of the notification from its
// metadata. Unknown types fall back to a generic "id" key, then the actor.
func (n *Notification) TargetID() string {
	keys, ok := targetKeys[n.Type]
	if !ok {
		keys = []string{"id"}
	}
	for _, k := range keys {
		if v, ok := n.Metadata[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return n.Actor.ID
}

// MessageStatusPayload backs message_sent, message_delivered and message_seen.
type MessageStatusPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId" validate:"required"`
	Seq            *int64 `json:"seq,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	NodeID         string `json:"nodeId,omitempty"`
}

func (*MessageStatusPayload) payload() {}

// StatusChangePayload backs status_update, where the status travels as a label.
type StatusChangePayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Seq       *int64 `json:"seq,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`
}

func (*StatusChangePayload) payload() {}

// NotificationCountPayload carries either a delta or an absolute unread count.
type NotificationCountPayload struct {
	Increment   *int `json:"increment,omitempty"`
	UnreadCount *int `json:"unreadCount,omitempty" validate:"omitempty,min=0"`
}

func (*NotificationCountPayload) payload() {}

type ConversationCountPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Increment      *int   `json:"increment,omitempty"`
}

func (*ConversationCountPayload) payload() {}

// RefreshPayload hints that a full resync is advisable.
type RefreshPayload struct{}

func (*RefreshPayload) payload() {}
