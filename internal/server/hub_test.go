package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/server"
	"github.com/Tyrowin/gochat/internal/store"
	"github.com/Tyrowin/gochat/internal/testhelpers"
)

const (
	testOrigin  = "http://localhost:3000"
	readTimeout = 2 * time.Second
	quietPeriod = 300 * time.Millisecond
)

type relay struct {
	hub    *server.Hub
	server *httptest.Server
	store  store.Store
	wsURL  string
}

func startRelay(t *testing.T, st store.Store, customize func(cfg *server.Config)) *relay {
	t.Helper()

	if st == nil {
		sqlStore, err := store.OpenSQL(context.Background(), store.DriverSQLite, ":memory:", chat.DefaultHistoryLimit, logger.Nop())
		require.NoError(t, err)
		st = sqlStore
	}

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimitBurst = 1000
	if customize != nil {
		customize(cfg)
	}

	hub := server.NewHub(*cfg, st, logger.Nop())
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		_ = st.Close()
	})

	return &relay{hub: hub, server: ts, store: st, wsURL: testhelpers.WebSocketURL(ts.URL)}
}

// join connects a client and consumes the history pushed on connect, after
// which the client is registered in the default channel.
func (r *relay) join(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := testhelpers.ConnectWebSocket(t, r.wsURL, testOrigin)
	env := testhelpers.ReadEnvelope(t, conn, readTimeout)
	require.Equal(t, "history", env.Type)
	require.Equal(t, chat.DefaultChannel, env.Channel)
	return conn
}

func message(username, text, channel string) map[string]string {
	return map[string]string{"type": "message", "username": username, "message": text, "channel": channel}
}

// TestMessageFanOut sends one message and expects a single stored record and
// an identified broadcast to every member of the channel, sender included.
func TestMessageFanOut(t *testing.T) {
	r := startRelay(t, nil, nil)
	alice := r.join(t)
	bob := r.join(t)

	testhelpers.SendJSON(t, alice, message("alice", "hi", "#general"))

	aliceEnv := testhelpers.ReadEnvelope(t, alice, readTimeout)
	bobEnv := testhelpers.ReadEnvelope(t, bob, readTimeout)
	for _, env := range []testhelpers.Envelope{aliceEnv, bobEnv} {
		assert.Equal(t, "message", env.Type)
		assert.Equal(t, "alice", env.Username)
		assert.Equal(t, "hi", env.Message)
		assert.Equal(t, "#general", env.Channel)
		assert.NotEmpty(t, env.ID)
	}
	assert.Equal(t, aliceEnv.ID, bobEnv.ID)

	events, err := r.store.QueryRecent(context.Background(), "#general", 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, aliceEnv.ID, events[0].ID)
	assert.Equal(t, "alice", events[0].Username)
	assert.Equal(t, "hi", events[0].Message)
}

// TestHistoryRequestForOtherChannel asks for another channel's history and
// expects nobody else to hear about it.
func TestHistoryRequestForOtherChannel(t *testing.T) {
	r := startRelay(t, nil, nil)
	ev := chat.Event{Username: "carol", Message: "random stuff", Channel: "#random", Type: chat.TypeMessage}
	require.NoError(t, r.store.Append(context.Background(), &ev))

	alice := r.join(t)
	bob := r.join(t)

	testhelpers.SendJSON(t, alice, map[string]string{"type": "get_history", "channel": "#random"})

	env := testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "history", env.Type)
	assert.Equal(t, "#random", env.Channel)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, ev.ID, env.Messages[0]["id"])
	assert.Equal(t, "random stuff", env.Messages[0]["message"])

	testhelpers.ExpectNoMessage(t, bob, quietPeriod)
}

// TestMalformedFrameKeepsConnectionOpen sends garbage, then a valid message.
func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	r := startRelay(t, nil, nil)
	alice := r.join(t)

	testhelpers.SendRaw(t, alice, "{not json")
	env := testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "malformed_payload", env.Error)

	testhelpers.SendJSON(t, alice, message("alice", "still here", ""))
	env = testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "message", env.Type)
	assert.Equal(t, "still here", env.Message)
	assert.Equal(t, chat.DefaultChannel, env.Channel)

	events, err := r.store.QueryRecent(context.Background(), chat.DefaultChannel, 50)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// TestHistoryIsBoundedAndChronological persists 60 messages and expects the
// newest 50, oldest first, both on request and on connect.
func TestHistoryIsBoundedAndChronological(t *testing.T) {
	r := startRelay(t, nil, nil)
	for i := 0; i < 60; i++ {
		ev := chat.Event{Username: "alice", Message: fmt.Sprintf("message %d", i), Channel: chat.DefaultChannel, Type: chat.TypeMessage}
		require.NoError(t, r.store.Append(context.Background(), &ev))
	}

	conn := testhelpers.ConnectWebSocket(t, r.wsURL, testOrigin)
	onConnect := testhelpers.ReadEnvelope(t, conn, readTimeout)
	require.Equal(t, "history", onConnect.Type)
	require.Len(t, onConnect.Messages, 50)

	testhelpers.SendJSON(t, conn, map[string]string{"type": "get_history"})
	env := testhelpers.ReadEnvelope(t, conn, readTimeout)
	require.Equal(t, "history", env.Type)
	require.Len(t, env.Messages, 50)
	assert.Equal(t, "message 10", env.Messages[0]["message"])
	assert.Equal(t, "message 59", env.Messages[49]["message"])
	assert.Equal(t, onConnect.Messages, env.Messages)
}

// TestChannelIsolation keeps a client that moved to #random away from #general traffic.
func TestChannelIsolation(t *testing.T) {
	r := startRelay(t, nil, nil)
	alice := r.join(t)
	bob := r.join(t)

	testhelpers.SendJSON(t, alice, map[string]string{"type": "get_history", "channel": "#random"})
	testhelpers.ReadUntil(t, alice, "history", readTimeout)

	testhelpers.SendJSON(t, bob, message("bob", "general only", "#general"))
	env := testhelpers.ReadEnvelope(t, bob, readTimeout)
	require.Equal(t, "general only", env.Message)

	testhelpers.ExpectNoMessage(t, alice, quietPeriod)
}

func TestUsernameChangeBroadcast(t *testing.T) {
	r := startRelay(t, nil, nil)
	alice := r.join(t)
	bob := r.join(t)

	testhelpers.SendJSON(t, alice, map[string]string{
		"type":        "username_change",
		"oldUsername": "alice",
		"message":     "alice is now alicia",
	})

	env := testhelpers.ReadEnvelope(t, bob, readTimeout)
	assert.Equal(t, "username_change", env.Type)
	assert.Equal(t, "alice", env.Username)
	assert.Equal(t, "alice is now alicia", env.Message)
	assert.NotEmpty(t, env.ID)
}

// TestDegradedStore keeps connections usable while every store call fails.
func TestDegradedStore(t *testing.T) {
	r := startRelay(t, store.Unavailable{Cause: fmt.Errorf("dial tcp: connection refused")}, nil)

	alice := testhelpers.ConnectWebSocket(t, r.wsURL, testOrigin)
	env := testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "store_unavailable", env.Error)

	testhelpers.SendJSON(t, alice, message("alice", "into the void", ""))
	env = testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "persistence_failed", env.Error)

	testhelpers.SendJSON(t, alice, map[string]string{"type": "get_history"})
	env = testhelpers.ReadEnvelope(t, alice, readTimeout)
	assert.Equal(t, "store_unavailable", env.Error)
}

func TestHistoryOnConnectDisabled(t *testing.T) {
	r := startRelay(t, nil, func(cfg *server.Config) { cfg.HistoryOnConnect = false })

	conn := testhelpers.ConnectWebSocket(t, r.wsURL, testOrigin)
	testhelpers.ExpectNoMessage(t, conn, quietPeriod)
}

// TestDisconnectDeregisters verifies closed connections leave the hub and registry.
func TestDisconnectDeregisters(t *testing.T) {
	r := startRelay(t, nil, nil)
	alice := r.join(t)
	bob := r.join(t)
	require.Equal(t, 2, r.hub.ClientCount())

	require.NoError(t, testhelpers.CloseWebSocket(alice))
	require.Eventually(t, func() bool { return r.hub.ClientCount() == 1 }, readTimeout, 10*time.Millisecond)
	assert.Len(t, r.hub.Registry().MembersOf(chat.DefaultChannel), 1)

	testhelpers.SendJSON(t, bob, message("bob", "anyone?", ""))
	env := testhelpers.ReadEnvelope(t, bob, readTimeout)
	assert.Equal(t, "anyone?", env.Message)
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	r := startRelay(t, nil, nil)

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(r.wsURL, headers)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	r := startRelay(t, nil, nil)

	resp, err := http.Post(r.server.URL+"/ws", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	r := startRelay(t, nil, nil)
	r.join(t)
	r.join(t)

	resp, err := http.Get(r.server.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	resp, err = http.Get(r.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats server.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, map[string]int{chat.DefaultChannel: 2}, stats.Channels)

	resp, err = http.Get(r.server.URL + "/test")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

// TestShutdownClosesClients verifies Shutdown drops live connections and returns in time.
func TestShutdownClosesClients(t *testing.T) {
	r := startRelay(t, nil, nil)
	conns := []*websocket.Conn{r.join(t), r.join(t), r.join(t)}

	require.NoError(t, r.hub.Shutdown(2*time.Second))

	for i, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "client %d still connected", i)
	}
	assert.Zero(t, r.hub.ClientCount())
}
