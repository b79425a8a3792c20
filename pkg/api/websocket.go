package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/bus"
	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled by the server
		return true
	},
}

// Gateway routes status events to the websocket client watching the
// event's order. It keeps at most one connection per order id; a newer
// connection for the same order replaces the older one. The map is mutated
// only by the Run goroutine.
type Gateway struct {
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewGateway(logger *zap.SugaredLogger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		log:        util.OrNop(logger),
		metrics:    m,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run consumes sub until it closes or ctx ends, then disconnects every
// client.
func (g *Gateway) Run(ctx context.Context, sub *bus.Subscription) {
	defer g.shutdown()
	for {
		select {
		case c := <-g.register:
			g.add(c)
		case c := <-g.unregister:
			g.remove(c)
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			g.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) add(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.clients[c.orderID]; ok {
		close(old.send)
		g.metrics.ClientDisconnected()
		g.log.Infow("ws_client_replaced", "order_id", c.orderID, "old", old.id, "new", c.id)
	}
	g.clients[c.orderID] = c
	g.metrics.ClientConnected()
	g.log.Infow("ws_client_connected", "order_id", c.orderID, "client", c.id, "total", len(g.clients))
}

// remove drops c only if it still owns its order's entry.
func (g *Gateway) remove(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.clients[c.orderID]; !ok || cur != c {
		return
	}
	delete(g.clients, c.orderID)
	close(c.send)
	g.metrics.ClientDisconnected()
	g.log.Infow("ws_client_disconnected", "order_id", c.orderID, "client", c.id, "total", len(g.clients))
}

func (g *Gateway) dispatch(ev order.StatusEvent) {
	g.mu.RLock()
	c, ok := g.clients[ev.OrderID]
	g.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		g.log.Errorw("ws_marshal_failed", "order_id", ev.OrderID, "err", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		g.metrics.EventDropped("gateway")
		g.log.Warnw("ws_send_buffer_full", "order_id", ev.OrderID, "state", ev.State)
	}
}

func (g *Gateway) shutdown() {
	close(g.done)
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, c := range g.clients {
		close(c.send)
		delete(g.clients, id)
		g.metrics.ClientDisconnected()
	}
}

// Subscribed reports whether a live connection watches orderID.
func (g *Gateway) Subscribed(orderID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.clients[orderID]
	return ok
}

// Client is one websocket connection bound to an order id.
type Client struct {
	gw      *Gateway
	conn    *websocket.Conn
	send    chan []byte
	orderID string
	id      string
}

// HandleWebSocket upgrades the request and binds the connection to the
// orderId query parameter. Requests without one are closed with a policy
// violation.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "OrderId required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := &Client{
		gw:      g,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		orderID: orderID,
		id:      conn.RemoteAddr().String(),
	}
	select {
	case g.register <- c:
	case <-g.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for the peer going away; clients send nothing.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.gw.unregister <- c:
		case <-c.gw.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.log.Debugw("ws_read_error", "order_id", c.orderID, "err", err)
			}
			return
		}
	}
}

// writePump sends one text frame per event. A closed send channel means the
// gateway dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
