package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Messenger delivers messages to users other than the one being served,
// such as valentine recipients.
type Messenger interface {
	Send(ctx context.Context, userID string, replies ...Reply) error
}

// ErrOffline is returned by Hub.Send when the user has no open connection.
var ErrOffline = errors.New("user has no open connection")

const pushWriteTimeout = 5 * time.Second

// envelope is the frame written to websocket clients.
type envelope struct {
	Type    string  `json:"type"`
	Replies []Reply `json:"replies,omitempty"`
}

// Hub tracks open websocket connections per user and pushes messages to them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a user. A user may hold several.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[userID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	h.active[userID][connID] = conn
	slog.Info("Chat connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (h *Hub) Unregister(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.active, userID)
			}
			slog.Info("Chat connection unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Online reports whether the user has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID]) > 0
}

// Send pushes replies to every open connection of userID. It succeeds if
// at least one connection accepted the frame.
func (h *Hub) Send(ctx context.Context, userID string, replies ...Reply) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, c := range h.active[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrOffline
	}

	frame := envelope{Type: "push", Replies: replies}
	var errs []error
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, pushWriteTimeout)
		err := wsjson.Write(wctx, c, frame)
		cancel()
		if err != nil {
			slog.Debug("Chat push failed", "user_id", userID, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return errors.Join(errs...)
	}
	return nil
}

// CloseAll terminates every open connection. Used on shutdown, since
// hijacked connections are not closed by http.Server.Shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.active {
		for cid, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Chat connection closed", "user_id", userID, "conn_id", cid)
		}
	}
	clear(h.active)
}
