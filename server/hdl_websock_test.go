package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"

	_ "github.com/bazaarline/chat/server/auth/token"
)

const testTokenConf = `{"key":"MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=","serial_num":1,"expire_in":3600}`

func TestMain(m *testing.M) {
	logs.Init(os.Stderr, "stdFlags,shortfile")

	if err := store.GetAuthHandler("token").Init(json.RawMessage(testTokenConf), "token"); err != nil {
		logs.Err.Fatal("Failed to init token auth: ", err)
	}

	os.Exit(m.Run())
}

func mintToken(t *testing.T, uid types.Uid) string {
	t.Helper()
	secret, _, err := store.GetAuthHandler("token").GenSecret(&auth.Rec{Uid: uid, AuthLevel: auth.LevelAuth})
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return string(secret)
}

type wsTestEnv struct {
	srv      *httptest.Server
	registry *presence.Registry
	sessions *SessionStore
	mocks    *storeMocks
}

// newWsTestEnv starts a websocket endpoint at /v0/channels backed by mocked persistence.
func newWsTestEnv(t *testing.T, queueDepth int) *wsTestEnv {
	t.Helper()

	m := setupStoreMocks(t)
	var sidCount atomic.Int64
	m.store.EXPECT().GetUidString().DoAndReturn(func() string {
		return "sid" + strconv.FormatInt(sidCount.Add(1), 10)
	}).AnyTimes()

	registry := presence.NewRegistry()
	router := NewRouter(registry, 100)
	sessions := NewSessionStore(registry, router, queueDepth)
	globals.registry, globals.router, globals.sessionStore = registry, router, sessions

	mux := http.NewServeMux()
	mux.HandleFunc("/v0/channels", serveWebSocket)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		sessions.Shutdown(time.Second)
		srv.Close()
	})

	return &wsTestEnv{srv: srv, registry: registry, sessions: sessions, mocks: m}
}

func (env *wsTestEnv) url() string {
	return "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v0/channels"
}

// dial connects as the given user and waits until the session is registered.
func (env *wsTestEnv) dial(t *testing.T, uid types.Uid) (*websocket.Conn, *presence.Handle) {
	t.Helper()

	prev, _ := env.registry.Lookup(uid)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+mintToken(t, uid))
	conn, resp, err := websocket.DefaultDialer.Dial(env.url(), hdr)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })

	var h *presence.Handle
	waitFor(t, "session registration", func() bool {
		var ok bool
		h, ok = env.registry.Lookup(uid)
		return ok && h != prev
	})
	return conn, h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected a text frame, got type %d", mt)
	}
	return raw
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	var msg MsgServerError
	raw := readRaw(t, conn)
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != frameError {
		t.Fatalf("expected an error frame, got '%s'", raw)
	}
	return msg.Message
}

// expectSilence checks that nothing arrives for a while. The connection is unusable afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame: '%s'", raw)
	}
}

func sendTo(t *testing.T, conn *websocket.Conn, receiver types.Uid, content string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, clientMsg(receiver, content)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func expectConversation(m *storeMocks, conv *types.Conversation, sender types.Uid, name *string) {
	m.convs.EXPECT().GetOrCreate(sender, conv.Other(sender)).Return(conv, nil).AnyTimes()
	m.msgs.EXPECT().Save(conv.Id, sender, gomock.Any()).DoAndReturn(fakeSave).AnyTimes()
	m.users.EXPECT().GetName(sender).Return(name, nil).AnyTimes()
}

func TestWebsocketExchange(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	aliceName, bobName := "Alice", "Bob"
	expectConversation(env.mocks, conv, alice, &aliceName)
	expectConversation(env.mocks, conv, bob, &bobName)

	ca, _ := env.dial(t, alice)
	cb, _ := env.dial(t, bob)

	sendTo(t, ca, bob, "hi bob")

	delivered := decodeData(t, readRaw(t, cb))
	echo := decodeData(t, readRaw(t, ca))
	if delivered.Content != "hi bob" || delivered.SenderId != alice.String() || *delivered.SenderName != aliceName {
		t.Errorf("unexpected delivery: %+v", delivered)
	}
	if delivered.ConvId != conv.Id.String() {
		t.Errorf("expected conversation %s, got %s", conv.Id, delivered.ConvId)
	}
	if echo.Id != delivered.Id {
		t.Errorf("echo id %s differs from delivered id %s", echo.Id, delivered.Id)
	}

	sendTo(t, cb, alice, "hi alice")

	reply := decodeData(t, readRaw(t, ca))
	if reply.Content != "hi alice" || reply.SenderId != bob.String() {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if reply.ConvId != delivered.ConvId {
		t.Error("both directions must share the conversation")
	}
	if echo := decodeData(t, readRaw(t, cb)); echo.Id != reply.Id {
		t.Errorf("unexpected echo to bob: %+v", echo)
	}
}

func TestWebsocketOfflineReceiverGetsNothingSenderGetsEcho(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice, bob := types.NewUid(), types.NewUid()
	expectConversation(env.mocks, newConversation(alice, bob), alice, nil)

	ca, _ := env.dial(t, alice)
	sendTo(t, ca, bob, "offline")

	if echo := decodeData(t, readRaw(t, ca)); echo.Content != "offline" || echo.SenderName != nil {
		t.Errorf("unexpected echo: %+v", echo)
	}
}

func TestWebsocketInvalidMessageKeepsConnection(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice, bob := types.NewUid(), types.NewUid()
	expectConversation(env.mocks, newConversation(alice, bob), alice, nil)

	ca, _ := env.dial(t, alice)

	if err := ca.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if reason := readError(t, ca); reason != reasonInvalidFormat {
		t.Errorf("expected '%s', got '%s'", reasonInvalidFormat, reason)
	}

	if err := ca.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if reason := readError(t, ca); reason != reasonBinaryFrame {
		t.Errorf("expected '%s', got '%s'", reasonBinaryFrame, reason)
	}

	sendTo(t, ca, bob, "   ")
	if reason := readError(t, ca); reason != reasonEmptyContent {
		t.Errorf("expected '%s', got '%s'", reasonEmptyContent, reason)
	}

	// Still connected and routable.
	sendTo(t, ca, bob, "valid")
	if echo := decodeData(t, readRaw(t, ca)); echo.Content != "valid" {
		t.Errorf("unexpected echo: %+v", echo)
	}
}

func TestWebsocketSaveFailureReported(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	env.mocks.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	env.mocks.msgs.EXPECT().Save(conv.Id, alice, "lost").Return(nil, types.ErrInternal)

	ca, _ := env.dial(t, alice)
	cb, _ := env.dial(t, bob)

	sendTo(t, ca, bob, "lost")
	if reason := readError(t, ca); reason != reasonInternal {
		t.Errorf("expected '%s', got '%s'", reasonInternal, reason)
	}
	expectSilence(t, cb)
}

func TestWebsocketRateLimit(t *testing.T) {
	env := newWsTestEnv(t, 16)
	env.sessions.SetInboundRate(0.001, 1)

	alice, bob := types.NewUid(), types.NewUid()
	expectConversation(env.mocks, newConversation(alice, bob), alice, nil)

	ca, _ := env.dial(t, alice)

	sendTo(t, ca, bob, "first")
	if echo := decodeData(t, readRaw(t, ca)); echo.Content != "first" {
		t.Errorf("unexpected echo: %+v", echo)
	}
	sendTo(t, ca, bob, "second")
	if reason := readError(t, ca); reason != reasonRateLimited {
		t.Errorf("expected '%s', got '%s'", reasonRateLimited, reason)
	}
}

func TestWebsocketUnauthorized(t *testing.T) {
	env := newWsTestEnv(t, 16)

	cases := []struct {
		name string
		url  string
		hdr  http.Header
	}{
		{"no token", env.url(), nil},
		{"garbage token", env.url() + "?token=garbage", nil},
		{"wrong scheme", env.url(), http.Header{"Authorization": []string{"Basic " + mintToken(t, types.NewUid())}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tc.url, tc.hdr)
			if err == nil {
				t.Fatal("connection must be refused")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %v", resp)
			}
		})
	}

	if env.registry.Len() != 0 || env.sessions.Len() != 0 {
		t.Errorf("refused connections must not register: registry=%d sessions=%d",
			env.registry.Len(), env.sessions.Len())
	}
}

func TestWebsocketTokenInQuery(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice := types.NewUid()
	conn, _, err := websocket.DefaultDialer.Dial(env.url()+"?token="+mintToken(t, alice), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, "session registration", func() bool {
		_, ok := env.registry.Lookup(alice)
		return ok
	})
}

func TestWebsocketMethodNotAllowed(t *testing.T) {
	env := newWsTestEnv(t, 16)

	resp, err := http.Post(env.srv.URL+"/v0/channels", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice := types.NewUid()
	ca, _ := env.dial(t, alice)
	ca.Close()

	waitFor(t, "unregistration", func() bool {
		_, ok := env.registry.Lookup(alice)
		return !ok && env.sessions.Len() == 0
	})
}

func TestWebsocketReconnectSupersedes(t *testing.T) {
	env := newWsTestEnv(t, 16)

	alice, bob := types.NewUid(), types.NewUid()
	expectConversation(env.mocks, newConversation(alice, bob), bob, nil)

	older, h1 := env.dial(t, alice)
	newer, h2 := env.dial(t, alice)
	if h1 == h2 {
		t.Fatal("reconnect must register a new handle")
	}

	cb, _ := env.dial(t, bob)
	sendTo(t, cb, alice, "to the newest")
	if got := decodeData(t, readRaw(t, newer)); got.Content != "to the newest" {
		t.Errorf("unexpected delivery: %+v", got)
	}
	readRaw(t, cb)

	// Closing the superseded connection leaves the newer registration alone.
	older.Close()
	waitFor(t, "older session cleanup", func() bool { return env.sessions.Len() == 2 })
	if h, ok := env.registry.Lookup(alice); !ok || h != h2 {
		t.Error("stale session removed the current registration")
	}
}

func TestWebsocketOverflowDisconnects(t *testing.T) {
	env := newWsTestEnv(t, 1)

	alice := types.NewUid()
	ca, h := env.dial(t, alice)

	// The writer drains concurrently. Keep pushing until the queue overflows.
	for i := 0; i < 1000000 && h.Push([]byte(`{"type":"message"}`)); i++ {
	}
	if !h.Overflowed() {
		t.Fatal("queue did not overflow")
	}

	ca.SetReadDeadline(time.Now().Add(3 * time.Second))
	var err error
	for err == nil {
		_, _, err = ca.ReadMessage()
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected close %d, got %v", websocket.ClosePolicyViolation, err)
	}

	waitFor(t, "unregistration", func() bool {
		_, ok := env.registry.Lookup(alice)
		return !ok
	})
}

func TestWebsocketShutdown(t *testing.T) {
	env := newWsTestEnv(t, 16)

	ca, _ := env.dial(t, types.NewUid())
	cb, _ := env.dial(t, types.NewUid())

	if !env.sessions.Shutdown(3 * time.Second) {
		t.Fatal("sessions did not terminate in time")
	}
	// Shutdown returns only after every session has unregistered.
	if n, m := env.sessions.Len(), env.registry.Len(); n != 0 || m != 0 {
		t.Errorf("expected no sessions and no online users, got %d sessions, %d users", n, m)
	}

	for _, conn := range []*websocket.Conn{ca, cb} {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("expected close %d, got %v", websocket.CloseGoingAway, err)
		}
	}
}
