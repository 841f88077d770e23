package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// ClientMessage is one client to server message.
type ClientMessage struct {
	Type  string             `json:"type"`
	Kinds []kernel.EventKind `json:"kinds,omitempty"`
	PID   string             `json:"pid,omitempty"`
}

// Handler upgrades HTTP requests into event stream connections.
type Handler struct {
	hub     *Hub
	session string
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, session string) *Handler {
	return &Handler{hub: hub, session: session}
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient()
	h.hub.register(cl)
	go h.writePump(conn, cl)

	h.hub.direct(cl, Frame{
		Type:    "system",
		Message: "connected to isolation kernel event stream",
		Session: h.session,
	})
	h.readPump(conn, cl)
}

// readPump handles client messages until the connection fails.
func (h *Handler) readPump(conn *websocket.Conn, cl *client) {
	defer func() {
		h.hub.unregister(cl)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if h.hub.metrics != nil {
			h.hub.metrics.RecordWSMessage("in", "client")
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.hub.direct(cl, Frame{Type: "error", Message: "malformed message"})
			continue
		}
		switch msg.Type {
		case "subscribe":
			cl.subscribe(msg.Kinds, msg.PID)
			h.hub.direct(cl, Frame{Type: "subscribed"})
		case "ping":
			h.hub.direct(cl, Frame{Type: "pong", Dropped: h.hub.Dropped()})
		default:
			h.hub.direct(cl, Frame{Type: "error", Message: "unknown message type"})
		}
	}
}

// writePump writes queued frames and keep-alive pings. It ends when the
// hub closes the client's queue.
func (h *Handler) writePump(conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
