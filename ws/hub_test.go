package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Real-vivek09/collabkart/auth"
)

func dialHub(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Add("Cookie", "x-uid="+uid)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e Envelope
	require.NoError(t, json.Unmarshal(data, &e))
	return &e
}

func TestHubRejectsUnauthenticated(t *testing.T) {
	hub := NewHub(&auth.MockVerifier{}, 5)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubBroadcastToRoom(t *testing.T) {
	hub := NewHub(&auth.MockVerifier{}, 5)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "u2")
	require.Eventually(t, func() bool { return hub.NumSessions() == 1 }, time.Second, 10*time.Millisecond)

	assert.True(t, hub.Broadcast("u2", "newMessage", map[string]string{"content": "hi"}))

	e := readEnvelope(t, conn)
	assert.Equal(t, "newMessage", e.Event)
	assert.Equal(t, map[string]any{"content": "hi"}, e.Data)

	// No room for u9: a no-op, reported as such.
	assert.False(t, hub.Broadcast("u9", "newMessage", "ignored"))
}

func TestHubBroadcastAllSessionsOfUser(t *testing.T) {
	hub := NewHub(&auth.MockVerifier{}, 5)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dialHub(t, srv, "u1")
	c2 := dialHub(t, srv, "u1")
	other := dialHub(t, srv, "u2")
	require.Eventually(t, func() bool { return hub.NumSessions() == 3 }, time.Second, 10*time.Millisecond)

	hub.Broadcast("u1", "newMessage", "fan out")

	for _, conn := range []*websocket.Conn{c1, c2} {
		e := readEnvelope(t, conn)
		assert.Equal(t, "fan out", e.Data)
	}

	// u2 got nothing.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestHubDropsSessionOnWriteFailure(t *testing.T) {
	hub := NewHub(&auth.MockVerifier{}, 5)

	connC := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connC <- c
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer client.Close()

	serverConn := <-connC
	handler := &Handler{
		dataChan: make(chan *sessionData, 16),
		session:  &Session{UID: "u1", Sid: "s-dead", CreateTime: time.Now().UnixNano()},
		conn:     serverConn,
		hub:      hub,
	}
	hub.addHandler(handler)
	go handler.sendLoop()

	// Kill the transport under the session, then push a frame at it.
	require.NoError(t, serverConn.UnderlyingConn().Close())
	hub.Broadcast("u1", "newMessage", "unreachable")

	// The failed write must tear the session down, not strand it in the
	// registry with nobody draining its channel.
	require.Eventually(t, func() bool { return hub.NumSessions() == 0 }, time.Second, 10*time.Millisecond)

	// Once the room is gone, broadcasts return promptly even well past
	// the per-session buffer depth.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			hub.Broadcast("u1", "newMessage", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after session teardown")
	}
}

func TestHubSessionQuota(t *testing.T) {
	hub := NewHub(&auth.MockVerifier{}, 1)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dialHub(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.NumSessions() == 1 }, time.Second, 10*time.Millisecond)

	_ = dialHub(t, srv, "u1")

	// The older session is kicked, the newer survives.
	require.Eventually(t, func() bool { return hub.NumSessions() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break // closed by the hub
		}
	}
}
