package handlers

import (
	"github.com/gofiber/websocket/v2"

	"github.com/procx/backend/internal/events"
)

type WebSocketHandler struct {
	hub *events.Hub
}

func NewWebSocketHandler(hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleConnection streams scan progress events to the client.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.hub.ServeConn(c)
}
