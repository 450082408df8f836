package coalescer

import (
	"log/slog"
	"time"

	"github.com/webitel/im-coalescer-service/internal/domain/model"
)

// reducer folds a batch of events into one DispatchedUpdate. Status events
// mutate the book in arrival order, so flush N's effects are visible to
// flush N+1.
type reducer struct {
	book    *statusBook
	metrics *recorder
	logger  *slog.Logger
}

type notificationKey struct {
	typ    model.NotificationType
	target string
}

func (r *reducer) reduce(batch []model.Event, now time.Time, immediate bool) *model.DispatchedUpdate {
	out := model.NewDispatchedUpdate(now)
	out.Immediate = immediate
	out.EventCount = len(batch)

	seen := make(map[notificationKey]int)

	for _, ev := range batch {
		switch p := ev.Payload.(type) {
		case *model.Notification:
			r.foldNotification(out, seen, p)

		case *model.MessageStatusPayload, *model.StatusChangePayload:
			r.foldStatus(out, ev)

		case *model.NotificationCountPayload:
			foldCount(out, p)

		case *model.ConversationCountPayload:
			inc := 1
			if p.Increment != nil {
				inc = *p.Increment
			}
			out.ConversationCountUpdates[p.ConversationID] += inc

		case *model.RefreshPayload:
			out.RefreshNeeded = true
		}
	}
	return out
}

// foldNotification keeps the first occurrence per (type, target) in order and
// records every further distinct actor on it.
func (r *reducer) foldNotification(out *model.DispatchedUpdate, seen map[notificationKey]int, n *model.Notification) {
	key := notificationKey{typ: n.Type, target: n.TargetID()}

	idx, ok := seen[key]
	if !ok {
		seen[key] = len(out.Notifications)
		out.Notifications = append(out.Notifications, model.NotificationEntry{
			Notification: *n,
			Actors:       []model.Actor{n.Actor},
		})
		return
	}

	entry := &out.Notifications[idx]
	for _, a := range entry.Actors {
		if a.ID == n.Actor.ID {
			return
		}
	}
	entry.Actors = append(entry.Actors, n.Actor)
	entry.Others = len(entry.Actors) - 1
}

func (r *reducer) foldStatus(out *model.DispatchedUpdate, ev model.Event) {
	id, proposed, ok := resolveStatus(ev)
	if !ok {
		return
	}

	res := r.book.apply(id, proposed)
	r.metrics.reconciled(id, res)

	if !res.accepted() {
		held, _ := r.book.get(id)
		r.logger.Debug("STATUS_COALESCED_IGNORED",
			"message_id", id,
			"proposed", proposed.Status.String(),
			"proposed_seq", proposed.Seq,
			"held", held.Status.String(),
			"held_seq", held.Seq,
		)
		return
	}

	held, _ := r.book.get(id)
	out.StatusUpdatesDetailed[id] = held
}

// foldCount applies one notification_count_update. An absolute value replaces
// the running total and later increments add onto it.
func foldCount(out *model.DispatchedUpdate, p *model.NotificationCountPayload) {
	if out.CountUpdates == nil {
		out.CountUpdates = &model.CountUpdate{}
	}
	cu := out.CountUpdates

	if p.UnreadCount != nil {
		v := *p.UnreadCount
		cu.UnreadCount = &v
		cu.Increment = 0
		return
	}

	inc := 1
	if p.Increment != nil {
		inc = *p.Increment
	}
	if cu.UnreadCount != nil {
		*cu.UnreadCount += inc
		return
	}
	cu.Increment += inc
}
