package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aytekaytemur/perseptor/internal/pipeline"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHubSendsWelcomeOnConnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	assert.Equal(t, "welcome", msg.Type)

	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsProgress(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	require.Equal(t, "welcome", msg.Type)

	hub.BroadcastProgress(pipeline.ProgressEvent{
		Stage:    "ioc_done",
		Progress: 50,
		Message:  "Extracted 12 indicators",
	})

	msg = readMessage(t, conn)
	require.Equal(t, "progress", msg.Type)

	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ioc_done", data["stage"])
	assert.Equal(t, float64(50), data["progress"])
	assert.Equal(t, "Extracted 12 indicators", data["message"])
}

func TestHubBroadcastsToMultipleClients(t *testing.T) {
	hub, srv := startHub(t)

	first := dial(t, srv)
	second := dial(t, srv)
	require.Equal(t, "welcome", readMessage(t, first).Type)
	require.Equal(t, "welcome", readMessage(t, second).Type)

	hub.BroadcastReportSaved("report-42")

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		require.Equal(t, "reportSaved", msg.Type)
		data, ok := msg.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "report-42", data["report_id"])
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	require.Equal(t, "welcome", readMessage(t, conn).Type)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRespondsToClientPing(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv)
	require.Equal(t, "welcome", readMessage(t, conn).Type)

	ping := Message{Type: "ping", Data: map[string]int64{"timestamp": time.Now().Unix()}}
	raw, err := json.Marshal(ping)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)
}
