package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpHandlerFunc(h *Hub) http.HandlerFunc {
	return h.HandleWS
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(httpHandlerFunc(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c1, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c1.Close()
	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c2.Close()

	waitForCount(t, h, 2)

	h.Broadcast(EventQueryAnswered, map[string]string{"session_id": "abc"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, EventQueryAnswered, msg.Event)
		assert.Equal(t, int64(1), msg.Seq)
	}
}

func TestBroadcastSequenceIncreases(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(httpHandlerFunc(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForCount(t, h, 1)

	h.Broadcast(EventSessionCreated, nil)
	h.Broadcast(EventSessionDeleted, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second EventMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, EventSessionCreated, first.Event)
	assert.Equal(t, EventSessionDeleted, second.Event)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(httpHandlerFunc(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	waitForCount(t, h, 1)
	conn.Close()
	waitForCount(t, h, 0)

	// Broadcasting with no subscribers is a no-op, not a panic.
	h.Broadcast(EventDocumentIngested, nil)
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, want, h.Count())
}

func TestBroadcastBoundedByWriteDeadline(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.writeTimeout = 100 * time.Millisecond
	srv := httptest.NewServer(httpHandlerFunc(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForCount(t, h, 1)

	// The subscriber never reads; large payloads fill its socket buffers.
	// Each write gives up at the deadline instead of blocking forever.
	payload := strings.Repeat("x", 1<<20)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 8; i++ {
			h.Broadcast(EventQueryAnswered, payload)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a subscriber that stopped reading")
	}
}
