package eventbus

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
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server, func()) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.ServeWS(w, r))
	}))

	return hub, srv, func() {
		cancel()
		srv.Close()
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestPublishFansOutToSubscriber(t *testing.T) {
	hub, srv, cleanup := newTestServer(t)
	defer cleanup()

	conn := dialWS(t, srv)
	defer conn.Close()

	// Give the hub a moment to process the register before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(NewStateChangedEvent("Running"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, EventStateChanged, evt.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "Running", payload["state"])
}

func TestPublishReachesMultipleSubscribers(t *testing.T) {
	hub, srv, cleanup := newTestServer(t)
	defer cleanup()

	connA := dialWS(t, srv)
	defer connA.Close()
	connB := dialWS(t, srv)
	defer connB.Close()

	time.Sleep(50 * time.Millisecond)
	hub.Publish(NewErrorEvent(assert.AnError))

	for _, conn := range []*websocket.Conn{connA, connB} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt Event
		require.NoError(t, json.Unmarshal(data, &evt))
		assert.Equal(t, EventError, evt.Type)
	}
}

func TestNewAudioConfigEventEncodesTimeouts(t *testing.T) {
	evt := NewAudioConfigEvent(100, 100, 100)
	assert.Equal(t, EventAudioConfig, evt.Type)

	var payload map[string]uint32
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.EqualValues(t, 100, payload["start_timeout"])
	assert.EqualValues(t, 100, payload["afk_timeout"])
	assert.EqualValues(t, 100, payload["afk_timeout_disconnect"])
}

func TestNewCorruptFrameEventEncodesRange(t *testing.T) {
	evt := NewCorruptFrameEvent("video", 7, 9)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "video", payload["kind"])
	assert.EqualValues(t, 7, payload["start"])
	assert.EqualValues(t, 9, payload["end"])
}
