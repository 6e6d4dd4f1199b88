// Package ws terminates websocket connections and bridges them onto the hub:
// one reader goroutine per connection, writes owned by the hub's session
// registry.
package ws

import (
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"github.com/eda3/ecs-wasm-game3/internal/hub"
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	Logger telemetry.Logger
	// CheckOrigin overrides the default allow-all origin policy.
	CheckOrigin func(r *nethttp.Request) bool
}

// Handler upgrades HTTP requests and runs the per-connection read loop.
type Handler struct {
	hub      *hub.Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a websocket handler over the given hub.
func NewHandler(h *hub.Hub, cfg HandlerConfig) *Handler {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *nethttp.Request) bool { return true }
	}
	return &Handler{
		hub:    h,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handle serves one websocket session. The first frame must be a Connect
// message; everything after it is funneled into the hub's intake queue and
// applied on the tick loop.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("ws: upgrade failed: %v", err)
		}
		return
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	msg, err := proto.Decode(payload)
	if err != nil || msg.Type != proto.TypeConnect {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected Connect")
		conn.WriteMessage(websocket.CloseMessage, closeMsg)
		conn.Close()
		return
	}

	playerID, err := h.hub.Connect(conn, msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("ws: connect failed: %v", err)
		}
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(playerID, "connection closed")
			return
		}
		h.hub.Intake(playerID, payload)
	}
}
