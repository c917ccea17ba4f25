package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"KronosCast/internal/domain/models"
	"KronosCast/internal/services/security"
	xhttp "KronosCast/pkg/http"
	"KronosCast/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	code string
	once sync.Once
}

func (c *client) wants(ev models.PredictionEvent) bool {
	return c.code == "" || c.code == ev.StockCode
}

// Hub fans prediction lifecycle events out to websocket subscribers.
// Clients that fall behind by more than the send buffer are disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	log      *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: writeWait,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/predictions", h.Serve)
}

// Serve upgrades the request. An optional stock_code query restricts the stream to one security.
func (h *Hub) Serve(c echo.Context) error {
	var code string
	if q := c.QueryParam("stock_code"); q != "" {
		norm, err := security.Normalize(q)
		if err != nil {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		code = norm
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, h.buffer), code: code}
	if !h.add(cl) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}
	h.log.Debug("websocket client connected", logger.String("remote", c.RealIP()), logger.String("code", code))

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.once.Do(func() { close(cl.send) })
}

// readPump drains control frames until the peer goes away.
func (h *Hub) readPump(cl *client) {
	defer h.remove(cl)
	cl.conn.SetReadLimit(maxInboundSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish never blocks on a subscriber.
func (h *Hub) Publish(_ context.Context, ev models.PredictionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var slow []*client
	h.mu.RLock()
	for cl := range h.clients {
		if !cl.wants(ev) {
			continue
		}
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.log.Warn("websocket client too slow, disconnecting", logger.String("code", cl.code))
		h.remove(cl)
	}
	return nil
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()
	for _, cl := range clients {
		h.remove(cl)
	}
	return nil
}
