package httphandler

import (
	"net/http"
	"time"

	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"github.com/webitel/im-coalescer-service/internal/service/dto"
)

type healthResponse struct {
	Status string `json:"status"`
	registry.HubStats
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", HubStats: h.deliverer.Stats()})
}

type submitResponse struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var env dto.EventEnvelope
	if !decodeBody(w, r, &env) {
		return
	}
	ev, err := env.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := h.deliverer.Submit(r.Context(), id, ev)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Outcome: out.String()})
}

func (h *Handler) userMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	snap, err := h.deliverer.Metrics(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.deliverer.Flush(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.deliverer.Reset(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type delayRequest struct {
	// DelayMs zero clears the chosen override level.
	DelayMs int  `json:"delayMs"`
	Persist bool `json:"persist"`
}

type delayResponse struct {
	DelayMs int64              `json:"delayMs"`
	Source  config.DelaySource `json:"source"`
}

func (h *Handler) setDelay(w http.ResponseWriter, r *http.Request) {
	var req delayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eff, src, err := h.deliverer.SetDelay(r.Context(), time.Duration(req.DelayMs)*time.Millisecond, req.Persist)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, delayResponse{DelayMs: eff.Milliseconds(), Source: src})
}
