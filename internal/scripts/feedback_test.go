package scripts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/internal/logging"
)

func discardLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Output: io.Discard,
	})
}

func TestFeedbackHubBroadcast(t *testing.T) {
	hub := NewFeedbackHub(discardLogger())
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait until the server side registered the connection.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.Broadcast(logging.StatusErr, "unexpected token in main.js")

	kind, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, kind)

	var msg FeedbackMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "script-status", msg.Type)
	assert.Equal(t, "ERR", msg.Status)
	assert.Equal(t, "unexpected token in main.js", msg.Detail)
}

func TestFeedbackHubDropsClosedConnections(t *testing.T) {
	hub := NewFeedbackHub(discardLogger())
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")

	// The server read loop notices the close and deregisters.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Broadcasting to an empty hub is a no-op.
	hub.Broadcast(logging.StatusOK, "")
}

func TestFeedbackHubClose(t *testing.T) {
	hub := NewFeedbackHub(discardLogger())

	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.Close()

	_, _, err = conn.Read(ctx)
	assert.Error(t, err, "close terminates client connections")
}
