package lp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/internal/domain/model"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-coalescer-service/internal/handler/marshaller/lp"
	"github.com/webitel/im-coalescer-service/internal/service"
)

const (
	DefaultPollTimeout = 30 * time.Second
	minPollTimeout     = time.Second
	maxBatch           = 16
)

type LPHandler struct {
	deliverer service.Deliverer
	timeout   time.Duration
}

func NewLPHandler(deliverer service.Deliverer, timeout time.Duration) *LPHandler {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &LPHandler{
		deliverer: deliverer,
		timeout:   timeout,
	}
}

// pollTimeout honours ?timeout=<seconds>, bounded by the handler timeout.
func (h *LPHandler) pollTimeout(r *http.Request) time.Duration {
	secs, err := strconv.Atoi(r.URL.Query().Get("timeout"))
	if err != nil || secs <= 0 {
		return h.timeout
	}
	return min(max(time.Duration(secs)*time.Second, minPollTimeout), h.timeout)
}

// Poll holds the request until at least one update is dispatched for the
// user, then returns it with whatever else is already queued. A quiet poll
// ends with 204.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	// [EPHEMERAL_SESSION] lives for this request only.
	conn, err := h.deliverer.Subscribe(r.Context(), userID, registry.ConnectMetadata{
		Transport: "lp",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusServiceUnavailable)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	timer := time.NewTimer(h.pollTimeout(r))
	defer timer.Stop()

	var first *model.DispatchedUpdate
	select {
	case <-r.Context().Done():
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case u, ok := <-conn.Recv():
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		first = u
	}

	data, err := lpmarshaller.MarshallUpdates(drain(conn, first))
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// drain collects first plus anything already queued, up to maxBatch.
func drain(conn registry.Connector, first *model.DispatchedUpdate) []*model.DispatchedUpdate {
	updates := []*model.DispatchedUpdate{first}
	for len(updates) < maxBatch {
		select {
		case next, ok := <-conn.Recv():
			if !ok {
				return updates
			}
			updates = append(updates, next)
		default:
			return updates
		}
	}
	return updates
}
