package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/mock_store"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
)

type storeMocks struct {
	store *mock_store.MockPersistentStorageInterface
	users *mock_store.MockUsersPersistenceInterface
	convs *mock_store.MockConversationsPersistenceInterface
	msgs  *mock_store.MockMessagesPersistenceInterface
}

// setupStoreMocks replaces the persistence mappers with mocks for the duration of the test.
func setupStoreMocks(t *testing.T) *storeMocks {
	t.Helper()

	ctrl := gomock.NewController(t)
	m := &storeMocks{
		store: mock_store.NewMockPersistentStorageInterface(ctrl),
		users: mock_store.NewMockUsersPersistenceInterface(ctrl),
		convs: mock_store.NewMockConversationsPersistenceInterface(ctrl),
		msgs:  mock_store.NewMockMessagesPersistenceInterface(ctrl),
	}

	oldStore, oldUsers, oldConvs, oldMsgs := store.Store, store.Users, store.Conversations, store.Messages
	store.Store, store.Users, store.Conversations, store.Messages = m.store, m.users, m.convs, m.msgs
	t.Cleanup(func() {
		store.Store, store.Users, store.Conversations, store.Messages = oldStore, oldUsers, oldConvs, oldMsgs
	})
	return m
}

func newConversation(u1, u2 types.Uid) *types.Conversation {
	user1, user2 := types.OrderPair(u1, u2)
	now := types.TimeNow()
	return &types.Conversation{
		Id:          types.NewUid(),
		CreatedAt:   now,
		User1:       user1,
		User2:       user2,
		LastUpdated: now,
	}
}

// fakeSave stamps messages like the real mapper does.
func fakeSave(convId, senderId types.Uid, content string) (*types.Message, error) {
	return &types.Message{
		Id:       types.NewOrderedUid(),
		ConvId:   convId,
		SenderId: senderId,
		Content:  content,
		SentAt:   types.TimeNow(),
	}, nil
}

func clientMsg(receiver types.Uid, content string) []byte {
	out, _ := json.Marshal(map[string]string{"receiver_id": receiver.String(), "content": content})
	return out
}

// drain returns everything queued in the handle without blocking.
func drain(h *presence.Handle) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-h.C():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func decodeData(t *testing.T, raw []byte) *MsgServerData {
	t.Helper()
	var msg MsgServerData
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to decode frame '%s': %v", raw, err)
	}
	return &msg
}

func TestRouteDeliversToReceiverAndEchoesToSender(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	name := "Alice"
	saved := &types.Message{
		Id:       types.NewOrderedUid(),
		ConvId:   conv.Id,
		SenderId: alice,
		Content:  "hello",
		SentAt:   time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}

	gomock.InOrder(
		m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil),
		m.msgs.EXPECT().Save(conv.Id, alice, "hello").Return(saved, nil),
		m.users.EXPECT().GetName(alice).Return(&name, nil),
	)

	reg := presence.NewRegistry()
	ha, hb := presence.NewHandle(4), presence.NewHandle(4)
	reg.Register(alice, ha)
	reg.Register(bob, hb)

	if err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "hello")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	toBob, toAlice := drain(hb), drain(ha)
	if len(toBob) != 1 || len(toAlice) != 1 {
		t.Fatalf("expected one frame each, got receiver=%d sender=%d", len(toBob), len(toAlice))
	}
	if string(toBob[0]) != string(toAlice[0]) {
		t.Errorf("echo differs from delivered message:\n%s\n%s", toAlice[0], toBob[0])
	}

	want := &MsgServerData{
		Type:       frameMessage,
		Id:         saved.Id.String(),
		ConvId:     conv.Id.String(),
		SenderId:   alice.String(),
		SenderName: &name,
		Content:    "hello",
		SentAt:     saved.SentAt,
	}
	if diff := cmp.Diff(want, decodeData(t, toBob[0])); diff != "" {
		t.Errorf("delivered frame mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteOfflineReceiver(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "are you there?").DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, nil)

	reg := presence.NewRegistry()
	ha := presence.NewHandle(4)
	reg.Register(alice, ha)

	if err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "are you there?")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	frames := drain(ha)
	if len(frames) != 1 {
		t.Fatalf("expected the echo only, got %d frames", len(frames))
	}
	if got := decodeData(t, frames[0]); got.Content != "are you there?" || got.SenderName != nil {
		t.Errorf("unexpected echo: %+v", got)
	}
}

func TestRouteValidation(t *testing.T) {
	// No store calls are expected: the mocks fail the test on any call.
	setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	reg := presence.NewRegistry()
	ha, hb := presence.NewHandle(4), presence.NewHandle(4)
	reg.Register(alice, ha)
	reg.Register(bob, hb)
	router := NewRouter(reg, 10)

	cases := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `hello`, reasonInvalidFormat},
		{"array", `[]`, reasonInvalidFormat},
		{"receiver is a number", `{"receiver_id":123,"content":"hi"}`, reasonInvalidFormat},
		{"no receiver", `{"content":"hi"}`, reasonMissingReceiver},
		{"empty receiver", `{"receiver_id":"","content":"hi"}`, reasonMissingReceiver},
		{"bad receiver", `{"receiver_id":"bob","content":"hi"}`, reasonInvalidReceiver},
		{"zero receiver", `{"receiver_id":"00000000-0000-0000-0000-000000000000","content":"hi"}`, reasonInvalidReceiver},
		{"no content", `{"receiver_id":"` + bob.String() + `"}`, reasonMissingContent},
		{"null content", `{"receiver_id":"` + bob.String() + `","content":null}`, reasonMissingContent},
		{"empty content", `{"receiver_id":"` + bob.String() + `","content":""}`, reasonEmptyContent},
		{"blank content", `{"receiver_id":"` + bob.String() + `","content":" \n\t "}`, reasonEmptyContent},
		{"long content", string(clientMsg(bob, "12345678901")), reasonContentTooLong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := router.Route(alice, []byte(tc.raw))
			var rerr *RouteError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RouteError, got %v", err)
			}
			if rerr.Kind != ErrValidation {
				t.Errorf("expected validation error, got kind %d", rerr.Kind)
			}
			if rerr.Reason != tc.reason {
				t.Errorf("expected reason '%s', got '%s'", tc.reason, rerr.Reason)
			}
		})
	}

	if n := len(drain(ha)) + len(drain(hb)); n != 0 {
		t.Errorf("invalid messages must not be delivered, got %d frames", n)
	}
}

func TestRouteCountsGraphemeClusters(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	// Ten family emoji: ten grapheme clusters but many more bytes and runes.
	content := strings.Repeat("\U0001F468‍\U0001F469‍\U0001F467", 10)

	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, content).DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, nil)

	if err := NewRouter(presence.NewRegistry(), 10).Route(alice, clientMsg(bob, content)); err != nil {
		t.Fatalf("content within the limit rejected: %v", err)
	}
}

func TestRouteReceiverNotFound(t *testing.T) {
	m := setupStoreMocks(t)

	alice, ghost := types.NewUid(), types.NewUid()
	m.convs.EXPECT().GetOrCreate(alice, ghost).Return(nil, types.ErrUserNotFound)

	reg := presence.NewRegistry()
	ha := presence.NewHandle(4)
	reg.Register(alice, ha)

	err := NewRouter(reg, 100).Route(alice, clientMsg(ghost, "hi"))
	var rerr *RouteError
	if !errors.As(err, &rerr) || rerr.Kind != ErrValidation || rerr.Reason != reasonReceiverNotFound {
		t.Fatalf("expected '%s' validation error, got %v", reasonReceiverNotFound, err)
	}
	if frames := drain(ha); len(frames) != 0 {
		t.Errorf("expected no frames, got %d", len(frames))
	}
}

func TestRouteSaveFailure(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "lost").Return(nil, types.ErrInternal)

	reg := presence.NewRegistry()
	ha, hb := presence.NewHandle(4), presence.NewHandle(4)
	reg.Register(alice, ha)
	reg.Register(bob, hb)

	err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "lost"))
	var rerr *RouteError
	if !errors.As(err, &rerr) || rerr.Kind != ErrPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if rerr.Reason != reasonInternal {
		t.Errorf("expected reason '%s', got '%s'", reasonInternal, rerr.Reason)
	}
	if !errors.Is(err, types.ErrInternal) {
		t.Errorf("cause is not preserved: %v", err)
	}
	if n := len(drain(ha)) + len(drain(hb)); n != 0 {
		t.Errorf("unsaved message must not be delivered, got %d frames", n)
	}
}

func TestRouteConversationFailure(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(nil, errors.New("connection refused"))

	err := NewRouter(presence.NewRegistry(), 100).Route(alice, clientMsg(bob, "hi"))
	var rerr *RouteError
	if !errors.As(err, &rerr) || rerr.Kind != ErrPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestRouteSenderNameFailure(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "hi").DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, errors.New("timeout"))

	reg := presence.NewRegistry()
	hb := presence.NewHandle(4)
	reg.Register(bob, hb)

	if err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "hi")); err != nil {
		t.Fatalf("name lookup failure must not fail routing: %v", err)
	}
	frames := drain(hb)
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if !strings.Contains(string(frames[0]), `"sender_name":null`) {
		t.Errorf("expected null sender name: %s", frames[0])
	}
}

func TestRouteSelfMessageDeliveredOnce(t *testing.T) {
	m := setupStoreMocks(t)

	alice := types.NewUid()
	conv := newConversation(alice, alice)
	m.convs.EXPECT().GetOrCreate(alice, alice).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "note to self").DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, nil)

	reg := presence.NewRegistry()
	ha := presence.NewHandle(4)
	reg.Register(alice, ha)

	if err := NewRouter(reg, 100).Route(alice, clientMsg(alice, "note to self")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if frames := drain(ha); len(frames) != 1 {
		t.Errorf("expected exactly one frame, got %d", len(frames))
	}
}

func TestRouteSkipsReplacedHandle(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "hi").DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, nil)

	reg := presence.NewRegistry()
	older, newer := presence.NewHandle(4), presence.NewHandle(4)
	reg.Register(bob, older)
	reg.Register(bob, newer)

	if err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "hi")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if frames := drain(older); len(frames) != 0 {
		t.Errorf("replaced handle received %d frames", len(frames))
	}
	if frames := drain(newer); len(frames) != 1 {
		t.Errorf("current handle expected one frame, got %d", len(frames))
	}
}

func TestRoutePreservesOrder(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil).Times(3)
	m.msgs.EXPECT().Save(conv.Id, alice, gomock.Any()).DoAndReturn(fakeSave).Times(3)
	m.users.EXPECT().GetName(alice).Return(nil, nil).Times(3)

	reg := presence.NewRegistry()
	hb := presence.NewHandle(8)
	reg.Register(bob, hb)

	router := NewRouter(reg, 100)
	sent := []string{"one", "two", "three"}
	for _, content := range sent {
		if err := router.Route(alice, clientMsg(bob, content)); err != nil {
			t.Fatalf("Route '%s' failed: %v", content, err)
		}
	}

	var got []string
	for _, raw := range drain(hb) {
		got = append(got, decodeData(t, raw).Content)
	}
	if diff := cmp.Diff(sent, got); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteReceiverOverflow(t *testing.T) {
	m := setupStoreMocks(t)

	alice, bob := types.NewUid(), types.NewUid()
	conv := newConversation(alice, bob)
	m.convs.EXPECT().GetOrCreate(alice, bob).Return(conv, nil)
	m.msgs.EXPECT().Save(conv.Id, alice, "hi").DoAndReturn(fakeSave)
	m.users.EXPECT().GetName(alice).Return(nil, nil)

	reg := presence.NewRegistry()
	ha, hb := presence.NewHandle(4), presence.NewHandle(1)
	reg.Register(alice, ha)
	reg.Register(bob, hb)
	hb.Push([]byte("backlog"))

	if err := NewRouter(reg, 100).Route(alice, clientMsg(bob, "hi")); err != nil {
		t.Fatalf("slow receiver must not fail routing: %v", err)
	}
	if !hb.Overflowed() || !hb.IsClosed() {
		t.Error("receiver handle must be closed as overflowed")
	}
	if frames := drain(ha); len(frames) != 1 {
		t.Errorf("sender expected the echo, got %d frames", len(frames))
	}
}
