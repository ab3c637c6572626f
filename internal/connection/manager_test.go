package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartlink/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// echoServer accepts websocket sessions and echoes every frame back,
// which lets Publish round-trip into Subscribe handlers.
func echoServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var accepted atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		defer conn.Close()
		for {
			kind, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &accepted
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testCreds() Credentials {
	return Credentials{Token: "token-abc", UserID: "u1"}
}

func TestConnectRequiresCredentials(t *testing.T) {
	m := NewManager("ws://127.0.0.1:0/ws", 1, time.Millisecond)

	assert.ErrorIs(t, m.Connect(Credentials{}), ErrMissingCreds)
	assert.ErrorIs(t, m.Connect(Credentials{Token: "t"}), ErrMissingCreds)
	assert.ErrorIs(t, m.Connect(Credentials{UserID: "u"}), ErrMissingCreds)
	assert.False(t, m.Connected())
}

func TestConnectAnnouncesLogin(t *testing.T) {
	srv, _ := echoServer(t)
	m := NewManager(wsURL(srv), 1, time.Millisecond)
	defer m.Disconnect()

	got := make(chan protocol.LoginPayload, 1)
	m.Subscribe(protocol.EventUserLogin, func(data json.RawMessage) {
		var p protocol.LoginPayload
		if json.Unmarshal(data, &p) == nil {
			got <- p
		}
	})

	require.NoError(t, m.Connect(testCreds()))
	require.True(t, m.Connected())

	select {
	case p := <-got:
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, "token-abc", p.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("login announcement never arrived")
	}
}

func TestConnectWhileLiveIsNoOp(t *testing.T) {
	srv, accepted := echoServer(t)
	m := NewManager(wsURL(srv), 1, time.Millisecond)
	defer m.Disconnect()

	require.NoError(t, m.Connect(testCreds()))
	require.NoError(t, m.Connect(testCreds()))
	require.NoError(t, m.Connect(testCreds()))

	assert.Eventually(t, func() bool { return accepted.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, m.Connected())
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv, _ := echoServer(t)
	m := NewManager(wsURL(srv), 1, time.Millisecond)
	defer m.Disconnect()

	got := make(chan protocol.TypingPayload, 4)
	m.Subscribe(protocol.EventTyping, func(data json.RawMessage) {
		var p protocol.TypingPayload
		if json.Unmarshal(data, &p) == nil {
			got <- p
		}
	})

	require.NoError(t, m.Connect(testCreds()))
	require.NoError(t, m.Publish(protocol.EventTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u1"}))

	select {
	case p := <-got:
		assert.Equal(t, "r1", p.RoomID)
		assert.Equal(t, "u1", p.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("published event never echoed back")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	srv, _ := echoServer(t)
	m := NewManager(wsURL(srv), 1, time.Millisecond)
	defer m.Disconnect()

	var kept, cancelled atomic.Int32
	m.Subscribe(protocol.EventTyping, func(json.RawMessage) { kept.Add(1) })
	cancel := m.Subscribe(protocol.EventTyping, func(json.RawMessage) { cancelled.Add(1) })
	cancel()
	cancel() // idempotent

	require.NoError(t, m.Connect(testCreds()))
	require.NoError(t, m.Publish(protocol.EventTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u1"}))

	assert.Eventually(t, func() bool { return kept.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, cancelled.Load())
}

func TestPublishWhenDown(t *testing.T) {
	m := NewManager("ws://127.0.0.1:0/ws", 1, time.Millisecond)
	err := m.Publish(protocol.EventTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	srv, _ := echoServer(t)
	m := NewManager(wsURL(srv), 1, time.Millisecond)

	var delivered atomic.Int32
	m.Subscribe(protocol.EventTyping, func(json.RawMessage) { delivered.Add(1) })

	require.NoError(t, m.Connect(testCreds()))
	m.Disconnect()
	assert.False(t, m.Connected())

	// a fresh session must not re-deliver to the released handler
	require.NoError(t, m.Connect(testCreds()))
	defer m.Disconnect()
	require.NoError(t, m.Publish(protocol.EventTyping, protocol.TypingPayload{RoomID: "r1", UserID: "u1"}))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, delivered.Load())
}

func TestDialGivesUpAfterBoundedAttempts(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", 3, time.Millisecond)

	start := time.Now()
	err := m.Connect(testCreds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.False(t, m.Connected())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDroppedChannelReportsFailureOnce(t *testing.T) {
	srv, _ := echoServer(t)
	m := NewManager(wsURL(srv), 2, time.Millisecond)

	var failures atomic.Int32
	m.OnFailure(func(error) { failures.Add(1) })

	require.NoError(t, m.Connect(testCreds()))

	// kill the server so both the session and every redial die
	srv.CloseClientConnections()
	srv.Close()

	assert.Eventually(t, func() bool { return failures.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, m.Connected())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), failures.Load())
}
