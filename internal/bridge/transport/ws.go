// Package transport carries bridge frames over WebSocket connections.
package transport

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/bridge"
	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dev tool, same-machine clients
	},
}

// Handler upgrades connections and pumps frames into the bridge.
type Handler struct {
	bridge *bridge.Bridge
	log    *logging.Logger
}

// NewHandler builds the WebSocket handler for one bridge.
func NewHandler(b *bridge.Bridge, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{bridge: b, log: log.Named("transport")}
}

// wsChannel serializes frame writes onto one connection.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send implements bridge.Channel.
func (c *wsChannel) Send(msg *bridge.Message) error {
	data, err := bridge.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// HandleConnection handles the WebSocket upgrade and the read loop. The
// connection stays attached to the bridge until the peer goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := &wsChannel{conn: conn}
	h.bridge.Attach(ch)
	defer h.bridge.Detach()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		msg, err := bridge.DecodeMessage(data)
		if err != nil {
			h.log.Warn("bad frame", zap.Error(err))
			continue
		}
		h.bridge.HandleMessage(ctx, msg)
	}
}
