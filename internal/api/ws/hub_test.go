package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facekiosk/pkg/dto"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) dto.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg dto.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSnapshotAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	h.Snapshot = func() []*dto.WSMessage {
		return []*dto.WSMessage{{Type: "state", Data: map[string]int{"faces": 0}}}
	}
	go h.Run(ctx)

	conn := dial(t, h)
	first := readMessage(t, conn)
	assert.Equal(t, "state", first.Type)

	// The snapshot is written only after the client registered.
	h.Broadcast(&dto.WSMessage{Type: "playback", Data: nil})
	second := readMessage(t, conn)
	assert.Equal(t, "playback", second.Type)
}

func TestForward(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	h.Snapshot = func() []*dto.WSMessage { return []*dto.WSMessage{{Type: "hello"}} }
	go h.Run(ctx)
	conn := dial(t, h)
	readMessage(t, conn)

	ch := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		Forward(ctx, h, ch, "count", func(v int) any { return v * 2 })
		close(done)
	}()

	ch <- 21
	msg := readMessage(t, conn)
	assert.Equal(t, "count", msg.Type)
	assert.Equal(t, float64(42), msg.Data)

	close(ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return after channel close")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	h.Snapshot = func() []*dto.WSMessage { return []*dto.WSMessage{{Type: "hello"}} }
	go h.Run(ctx)
	conn := dial(t, h)
	readMessage(t, conn)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
