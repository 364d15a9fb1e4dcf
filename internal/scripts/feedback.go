package scripts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/storewatch/storewatch/internal/logging"
)

// FeedbackMessage is pushed to browser clients on every script compile
// state change.
type FeedbackMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// FeedbackHub broadcasts script build feedback over websocket
// connections. A connection whose write fails is dropped; the rest of
// the broadcast continues.
type FeedbackHub struct {
	logger logging.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewFeedbackHub creates an empty hub.
func NewFeedbackHub(logger logging.Logger) *FeedbackHub {
	return &FeedbackHub{
		logger: logger.WithComponent("script-feedback"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Handle upgrades the request and keeps the connection registered until
// the client goes away.
func (h *FeedbackHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Clients only listen; the read loop exists to notice the close.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Broadcast sends the status to every connected client.
func (h *FeedbackHub) Broadcast(status logging.Status, detail string) {
	data, err := json.Marshal(FeedbackMessage{
		Type:   "script-status",
		Status: string(status),
		Detail: detail,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
			conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

// Close terminates every connection.
func (h *FeedbackHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
