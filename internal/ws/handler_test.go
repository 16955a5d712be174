package ws_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/presence"
	"chatrelay/internal/service"
	"chatrelay/internal/store/sqlite"
	"chatrelay/internal/ws"
)

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	registry := presence.NewRegistry()
	hub := ws.NewHub()
	chat := service.NewChatService(sqlite.NewUserRepo(db), sqlite.NewMessageRepo(db), registry, 100)

	srv := httptest.NewServer(ws.MakeHandler(hub, registry, chat, []string{testOrigin}))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {testOrigin}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readEvent reads frames until one with the wanted type arrives,
// skipping unrelated broadcasts (presence churn from other clients).
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m map[string]any
		require.NoError(t, conn.ReadJSON(&m))
		if m["type"] == wantType {
			return m
		}
	}
	t.Fatalf("no %q event within deadline", wantType)
	return nil
}

func login(t *testing.T, conn *websocket.Conn, name string) int64 {
	t.Helper()
	send(t, conn, map[string]any{"type": "login", "name": name})
	ev := readEvent(t, conn, "presence")
	for _, v := range ev["users"].([]any) {
		u := v.(map[string]any)
		if u["name"] == name {
			return int64(u["id"].(float64))
		}
	}
	t.Fatalf("user %q missing from presence snapshot", name)
	return 0
}

func TestLoginAndPresence(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	aliceID := login(t, alice, "alice")
	require.NotZero(t, aliceID)

	bob := dial(t, srv)
	bobID := login(t, bob, "bob")
	require.NotEqual(t, aliceID, bobID)

	// alice observes bob's arrival via broadcast
	ev := readEvent(t, alice, "presence")
	users := ev["users"].([]any)
	require.Len(t, users, 2)
	for _, v := range users {
		u := v.(map[string]any)
		assert.Equal(t, true, u["is_online"], "user %v should be online", u["name"])
		// snapshot entries carry exactly id, name, is_online, last_seen
		assert.Len(t, u, 4)
		assert.Contains(t, u, "id")
		assert.Contains(t, u, "last_seen")
		assert.NotContains(t, u, "created_at")
	}
}

func TestConcurrentLoginsConverge(t *testing.T) {
	srv := newTestServer(t)

	const clients = 5
	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = dial(t, srv)
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			assert.NoError(t, conn.WriteJSON(map[string]any{
				"type": "login",
				"name": fmt.Sprintf("user-%d", i),
			}))
		}(i, conn)
	}
	wg.Wait()

	// After the churn settles, the last snapshot each connection saw
	// must be the freshest one: all clients present and online. A stale
	// snapshot delivered after a newer one would fail this.
	for i, conn := range conns {
		var last map[string]any
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				break
			}
			if m["type"] == "presence" {
				last = m
			}
		}
		require.NotNil(t, last, "connection %d saw no snapshot", i)
		users := last["users"].([]any)
		require.Len(t, users, clients, "connection %d ended on a stale snapshot", i)
		for _, v := range users {
			u := v.(map[string]any)
			assert.Equal(t, true, u["is_online"], "user %v should be online", u["name"])
		}
	}
}

func TestEmptyLoginIgnored(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv)
	send(t, conn, map[string]any{"type": "login", "name": "   "})
	// silently rejected; the next login succeeds and its snapshot is
	// the first frame this connection sees
	id := login(t, conn, "alice")
	require.NotZero(t, id)
}

func TestDirectMessageDelivery(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	aliceID := login(t, alice, "alice")
	bob := dial(t, srv)
	bobID := login(t, bob, "bob")

	send(t, alice, map[string]any{
		"type":        "message",
		"receiver_id": bobID,
		"content":     "hi",
	})

	echo := readEvent(t, alice, "message")
	assert.Equal(t, "self", echo["sender_id"])
	assert.Equal(t, "hi", echo["content"])

	delivered := readEvent(t, bob, "message")
	assert.Equal(t, float64(aliceID), delivered["sender_id"])
	assert.Equal(t, "hi", delivered["content"])

	// bob pulls the conversation and sees alice as the sender
	send(t, bob, map[string]any{"type": "history", "with_user_id": aliceID})
	hist := readEvent(t, bob, "history")
	assert.Equal(t, float64(aliceID), hist["with_user_id"])
	msgs := hist["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, float64(aliceID), first["sender_id"])
	assert.Equal(t, "hi", first["content"])

	// the same fetch from alice's side is relabeled "self"
	send(t, alice, map[string]any{"type": "history", "with_user_id": bobID})
	hist = readEvent(t, alice, "history")
	msgs = hist["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "self", msgs[0].(map[string]any)["sender_id"])
}

func TestOfflineReceiverMessageStored(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	aliceID := login(t, alice, "alice")

	bob := dial(t, srv)
	bobID := login(t, bob, "bob")
	bob.Close()

	// wait until alice sees bob go offline
	for {
		ev := readEvent(t, alice, "presence")
		offline := false
		for _, v := range ev["users"].([]any) {
			u := v.(map[string]any)
			if u["name"] == "bob" && u["is_online"] == false {
				offline = true
			}
		}
		if offline {
			break
		}
	}

	send(t, alice, map[string]any{
		"type":        "message",
		"receiver_id": bobID,
		"content":     "catch up later",
	})
	echo := readEvent(t, alice, "message")
	assert.Equal(t, "self", echo["sender_id"])

	// bob logs back in and pulls the conversation
	bob2 := dial(t, srv)
	login(t, bob2, "bob")
	send(t, bob2, map[string]any{"type": "history", "with_user_id": aliceID})
	hist := readEvent(t, bob2, "history")
	msgs := hist["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "catch up later", msgs[0].(map[string]any)["content"])
}

func TestTypingRelay(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	aliceID := login(t, alice, "alice")
	bob := dial(t, srv)
	bobID := login(t, bob, "bob")

	send(t, alice, map[string]any{
		"type":        "typing",
		"receiver_id": bobID,
		"is_typing":   true,
	})

	ev := readEvent(t, bob, "typing")
	assert.Equal(t, float64(aliceID), ev["sender_id"])
	assert.Equal(t, true, ev["is_typing"])
}

func TestTypingToOfflineReceiverIsSilent(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	login(t, alice, "alice")

	// receiver id 999 has no connection; nothing should come back and
	// the connection must stay usable
	send(t, alice, map[string]any{
		"type":        "typing",
		"receiver_id": 999,
		"is_typing":   true,
	})
	send(t, alice, map[string]any{"type": "presence"})
	ev := readEvent(t, alice, "presence")
	require.NotNil(t, ev)
}

func TestMessageValidationFailure(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	bob := dial(t, srv)
	login(t, alice, "alice")
	bobID := login(t, bob, "bob")

	send(t, alice, map[string]any{
		"type":        "message",
		"receiver_id": bobID,
		"content":     "   ",
	})
	ev := readEvent(t, alice, "send_failed")
	assert.NotEmpty(t, ev["reason"])
}

func TestUnauthenticatedOperations(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv)
	// message before login is dropped without any event
	send(t, conn, map[string]any{
		"type":        "message",
		"receiver_id": 1,
		"content":     "hi",
	})
	// history before login answers with a failure event; it arriving
	// first also proves the message above produced nothing
	send(t, conn, map[string]any{"type": "history", "with_user_id": 1})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "history_failed", ev["type"])
	assert.Equal(t, "login required", ev["reason"])
}

func TestOriginRejected(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
