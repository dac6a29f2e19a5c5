package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	upgrader       websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins задаётся как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades an authenticated request. Identity comes from the auth
// middleware; anything unauthenticated is refused before the upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	if err := h.hub.Register(client); err != nil {
		reason := "server error"
		if errors.Is(err, ws.ErrTooManyConnections) {
			reason = "too many connections"
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason), deadline)
		conn.Close()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
