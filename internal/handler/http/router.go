// Package httphandler exposes the HTTP surface: session transports,
// event submission and per-user engine controls.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/domain/coalescer"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"github.com/webitel/im-coalescer-service/internal/handler/lp"
	"github.com/webitel/im-coalescer-service/internal/handler/ws"
	"github.com/webitel/im-coalescer-service/internal/service"
	"github.com/webitel/im-coalescer-service/internal/service/dto"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
	ws        *ws.WSHandler
	lp        *lp.LPHandler
	metrics   http.Handler
}

// NewHandler wires the transports. metrics may be nil.
func NewHandler(deliverer service.Deliverer, logger *slog.Logger, wsh *ws.WSHandler, lph *lp.LPHandler, metrics http.Handler) *Handler {
	return &Handler{
		deliverer: deliverer,
		logger:    logger.With("component", "http"),
		ws:        wsh,
		lp:        lph,
		metrics:   metrics,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.requestLogger, middleware.Recoverer)

	r.Get("/healthz", h.health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Put("/v1/delay", h.setDelay)

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/ws", h.ws.ServeHTTP)
		r.Get("/poll", h.lp.Poll)
		r.Post("/events", h.submit)
		r.Get("/metrics", h.userMetrics)
		r.Post("/flush", h.flush)
		r.Post("/reset", h.reset)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("HTTP_REQUEST_HANDLED",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, coalescer.ErrStopped), errors.Is(err, registry.ErrHubShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, config.ErrNoOverrideFile):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidDelay),
		errors.Is(err, dto.ErrUnknownKind),
		errors.Is(err, dto.ErrInvalidPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}
