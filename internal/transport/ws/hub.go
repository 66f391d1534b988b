package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/cuebridge/internal/auth"
	"github.com/danmuck/cuebridge/internal/logging"
	"github.com/danmuck/cuebridge/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultReadLimit    = 64 * 1024
	DefaultWriteTimeout = 5 * time.Second
)

// Config controls the client-facing WebSocket endpoint.
type Config struct {
	// Token, when set, must be presented by every client.
	Token string
	// ReadLimit caps one inbound frame; matches the engine datagram limit.
	ReadLimit int64
	// WriteTimeout bounds a write when the caller's ctx has no deadline.
	WriteTimeout time.Duration
	// AllowedOrigins restricts the Origin header. Empty accepts any origin,
	// including the "null" origin sandboxed hosts send.
	AllowedOrigins []string
}

func (c Config) WithDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Hub is the client-facing channel. Every connected client is one peer of the
// same logical client side: inbound binary frames from any of them go to the
// handler, and Send broadcasts to all of them.
type Hub struct {
	cfg       Config
	validator auth.Validator
	upgrader  websocket.Upgrader
	handler   transport.Handler

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(cfg Config, h transport.Handler) *Hub {
	cfg = cfg.WithDefaults()
	hub := &Hub{
		cfg:       cfg,
		validator: auth.ForToken(cfg.Token),
		handler:   h,
		clients:   make(map[*client]struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     hub.checkOrigin,
	}
	return hub
}

// ServeHTTP upgrades the request and runs the client's read loop until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.validator.Validate(auth.TokenFromRequest(r)); err != nil {
		logging.Warnf("ws.Hub.ServeHTTP rejected remote=%q err=%v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.isClosed() {
		http.Error(w, "relay closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warnf("ws.Hub.ServeHTTP upgrade failed remote=%q err=%v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	c := &client{id: uuid.NewString(), conn: conn}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	logging.Infof("ws.Hub.ServeHTTP connected client=%s remote=%q clients=%d", c.id, r.RemoteAddr, h.Clients())
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !h.isClosed() {
				h.handler.OnError(transport.SideClient, transport.Wrap(transport.SideClient, fmt.Errorf("client=%s: %w", c.id, err)))
			}
			logging.Debugf("ws.Hub.readLoop closed client=%s err=%v", c.id, err)
			return
		}
		if kind != websocket.BinaryMessage {
			logging.Warnf("ws.Hub.readLoop ignored non-binary frame client=%s type=%d", c.id, kind)
			continue
		}
		h.handler.OnFrame(transport.SideClient, data)
	}
}

// Send writes frame to every connected client. Clients whose write fails are
// disconnected. With no clients connected the frame is dropped.
func (h *Hub) Send(ctx context.Context, frame []byte) error {
	if h.isClosed() {
		return transport.Wrap(transport.SideClient, transport.ErrClosed)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(h.cfg.WriteTimeout)
	}

	var errs []error
	for _, c := range h.snapshot() {
		if err := c.write(deadline, frame); err != nil {
			errs = append(errs, fmt.Errorf("client=%s: %w", c.id, err))
			h.drop(c)
		}
	}
	if len(errs) > 0 {
		return transport.Wrap(transport.SideClient, errors.Join(errs...))
	}
	return nil
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	logging.Infof("ws.Hub.Close clients=%d", len(clients))
	return nil
}

func (c *client) write(deadline time.Time, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		logging.Infof("ws.Hub.drop client=%s", c.id)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}
