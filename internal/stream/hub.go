package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// ErrClosed is returned by Serve after the hub stopped
var ErrClosed = errors.New("stream hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection relaying a fixed set of channels
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels []string
}

// Hub relays broadcast channels to connected websocket clients
type Hub struct {
	subscriber Subscriber
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a hub reading from subscriber
func NewHub(subscriber Subscriber) *Hub {
	return &Hub{
		subscriber: subscriber,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logging.WithComponent("stream"),
	}
}

// Run tracks client registration until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.Strings("channels", client.channels))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and relays channels until the client goes away
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channels []string) error {
	sub, err := h.subscriber.Subscribe(r.Context(), channels...)
	if err != nil {
		return err
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = sub.Close()
		return err
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: channels,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = sub.Close()
		conn.Close()
		return ErrClosed
	}

	go client.relay(sub)
	go client.writePump()
	go client.readPump(sub)
	return nil
}

// relay copies subscription messages into the send buffer, dropping
// frames when the client falls behind
func (c *Client) relay(sub Subscription) {
	for m := range sub.Messages() {
		frame, err := frameFor(m)
		if err != nil {
			c.hub.logger.Warn("dropping malformed event", zap.String("channel", m.Channel), zap.Error(err))
			continue
		}
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			select {
			case c.send <- frame:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

// readPump discards client input and detects disconnects
func (c *Client) readPump(sub Subscription) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes frames and keepalive pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
