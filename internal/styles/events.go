package styles

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// UpdateMessage is one frame on the update channel. Clients compare the
// version against their last-seen value and are idempotent to repeats.
type UpdateMessage struct {
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// EventHub fans update messages out to long-lived subscriber streams.
// Subscribers live until their connection closes; a subscriber whose
// buffer is full or whose write fails is dropped and the rest of the
// broadcast continues.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[chan []byte]struct{})}
}

// Subscribe registers a new stream and returns its channel plus an
// unsubscribe function.
func (h *EventHub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
}

// Broadcast sends the message to every subscriber. Slow subscribers are
// dropped rather than blocking the broadcast.
func (h *EventHub) Broadcast(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- data:
		default:
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

// SubscriberCount returns the number of open streams.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close terminates every subscriber stream.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// ServeStream runs one subscriber's server-push loop: a connected frame
// first, then every broadcast until the client goes away.
func (h *EventHub) ServeStream(w http.ResponseWriter, r *http.Request, version int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	connected, _ := json.Marshal(UpdateMessage{Type: "connected", Version: version})
	fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
