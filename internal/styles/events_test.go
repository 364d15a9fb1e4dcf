package styles

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Broadcast(UpdateMessage{Type: "css-update", Version: 42})

	select {
	case data := <-ch:
		var msg UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "css-update", msg.Type)
		assert.Equal(t, int64(42), msg.Version)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the subscriber")
	}
}

func TestEventHubDropsSlowSubscribers(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	_, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	// Overflow the subscriber buffer without draining it.
	for i := 0; i < 32; i++ {
		hub.Broadcast(UpdateMessage{Type: "css-update", Version: int64(i)})
	}

	assert.Equal(t, 0, hub.SubscriberCount(), "a full subscriber is dropped instead of blocking")
}

func TestEventHubClose(t *testing.T) {
	hub := NewEventHub()
	ch, _ := hub.Subscribe()

	hub.Close()

	_, open := <-ch
	assert.False(t, open, "close terminates subscriber channels")
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestServeStream(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeStream(w, r, 7)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)
	readFrame := func() UpdateMessage {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg UpdateMessage
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
			return msg
		}
	}

	connected := readFrame()
	assert.Equal(t, "connected", connected.Type)
	assert.Equal(t, int64(7), connected.Version, "the connected frame carries the current version")

	// Wait for the subscription before broadcasting.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast(UpdateMessage{Type: "css-update", Version: 8})
	update := readFrame()
	assert.Equal(t, "css-update", update.Type)
	assert.Equal(t, int64(8), update.Version)
}
