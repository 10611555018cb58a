package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/types"
	"github.com/conneroisu/excerpt/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. A failed ping closes the
	// connection, which ends the read loop.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// pushed lists the event types forwarded to clients.
var pushed = map[types.EventType]bool{
	types.EventSourceUpdated: true,
	types.EventSourceDeleted: true,
	types.EventIncludeSynced: true,
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans repository events out to websocket clients.
type Hub struct {
	repo    *repository.Repository
	origins []string
	logger  logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub accepting connections from origins. An origin of
// "*" accepts any.
func NewHub(repo *repository.Repository, origins []string, logger logging.Logger) *Hub {
	return &Hub{
		repo:    repo,
		origins: origins,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	patterns, ok := h.checkOrigin(r)
	if !ok {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     patterns,
		InsecureSkipVerify: patterns == nil,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// checkOrigin validates the request origin and returns the host
// patterns to hand to Accept. A nil slice means any origin.
func (h *Hub) checkOrigin(r *http.Request) ([]string, bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Reject connections without origin header
		return nil, false
	}
	if err := validation.ValidateOrigin(origin); err != nil || origin == "*" {
		return nil, false
	}

	var patterns []string
	allowed := false
	for _, o := range h.origins {
		if o == "*" {
			return nil, true
		}
		if o == origin {
			allowed = true
		}
		if host := validation.OriginHost(o); host != "" {
			patterns = append(patterns, host)
		}
	}
	return patterns, allowed
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug(context.Background(), "Client connected", "clients", len(h.clients))
	return true
}

// unregister removes c and closes its send channel once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug(context.Background(), "Client disconnected", "clients", len(h.clients))
	}
}

// Start subscribes to repository events and forwards them until ctx
// ends. Events recorded after Start returns are delivered.
func (h *Hub) Start(ctx context.Context) {
	events := h.repo.Watch()
	go h.run(ctx, events)
}

func (h *Hub) run(ctx context.Context, events <-chan types.Event) {
	defer h.repo.Unwatch(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !pushed[ev.Type] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn(ctx, err, "Failed to marshal event", "type", string(ev.Type))
				continue
			}
			h.Broadcast(data)
		}
	}
}

// Broadcast queues message for every client. A client whose buffer is
// full is disconnected.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	var failed []*client
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range failed {
		h.unregister(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway && status != -1 {
				h.logger.Warn(ctx, err, "WebSocket read failed")
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Warn(ctx, err, "WebSocket write failed")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
