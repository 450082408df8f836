package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-coalescer-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-coalescer-service/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only send control frames.
	maxInboundFrame = 512
)

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger.With("component", "ws"),
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   4096,
			EnableCompression: true,
			// Sessions are authenticated upstream by the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and streams the user's dispatched updates as
// JSON text frames until either side goes away.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := h.deliverer.Subscribe(ctx, userID, registry.ConnectMetadata{
		Transport: "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	ws.SetReadLimit(maxInboundFrame)
	go h.readPump(ws, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// [WRITE_PUMP] the only writer on ws.
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case u, ok := <-conn.Recv():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}

			data, err := wsmarshaller.MarshallUpdate(userID, u)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "err", err)
				continue
			}

			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("WS_SEND_FAILED", "user_id", userID, "err", err)
				return
			}
		}
	}
}

// readPump drains client frames so control frames are processed, and ends
// the session when the peer goes away.
func (h *WSHandler) readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
