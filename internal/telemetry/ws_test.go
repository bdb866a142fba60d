package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.HandleWebSocket())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// The subscriber is registered before the handler blocks on reads,
	// but give the server goroutine a moment on slow machines.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, hub.SubscriberCount())
	return conn
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	hub.Emit(EventPanicActivated, map[string]any{"scope": "system"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))

	assert.Equal(t, EventPanicActivated, ev.Name)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "system", ev.Payload["scope"])
}

func TestHubRemovesClosedSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, hub.SubscriberCount())

	// Emitting with no subscribers is a no-op.
	hub.Emit(EventKillSwitch, nil)
}
