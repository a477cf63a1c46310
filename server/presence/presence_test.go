package presence

import (
	"strconv"
	"sync"
	"testing"

	"github.com/bazaarline/chat/server/store/types"
)

func TestRegisterLookup(t *testing.T) {
	r := NewRegistry()
	uid := types.NewUid()

	if _, ok := r.Lookup(uid); ok {
		t.Fatal("empty registry must not return a handle")
	}

	h := NewHandle(4)
	if replaced := r.Register(uid, h); replaced != nil {
		t.Errorf("first registration must not replace anything, got %p", replaced)
	}
	if got, ok := r.Lookup(uid); !ok || got != h {
		t.Errorf("Lookup: expected %p, got %p (%v)", h, got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len: expected 1, got %d", r.Len())
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	uid := types.NewUid()
	old, fresh := NewHandle(4), NewHandle(4)

	r.Register(uid, old)
	if replaced := r.Register(uid, fresh); replaced != old {
		t.Errorf("second registration must return the replaced handle")
	}
	if got, _ := r.Lookup(uid); got != fresh {
		t.Error("lookup must return the newest handle")
	}
	if old.IsClosed() {
		t.Error("replaced handle must stay open until its owner closes it")
	}

	// The stale owner unregistering must not remove the newer registration.
	if r.Unregister(uid, old) {
		t.Error("unregistering a stale handle must be a no-op")
	}
	if got, ok := r.Lookup(uid); !ok || got != fresh {
		t.Error("newer registration must survive stale unregistration")
	}

	if !r.Unregister(uid, fresh) {
		t.Error("owner must be able to unregister its own handle")
	}
	if _, ok := r.Lookup(uid); ok {
		t.Error("user must be offline after unregistering")
	}
}

func TestUnregisterAbsent(t *testing.T) {
	r := NewRegistry()
	present := types.NewUid()
	h := NewHandle(1)
	r.Register(present, h)

	if r.Unregister(types.NewUid(), nil) {
		t.Error("unregistering an absent user must report nothing removed")
	}
	if r.Unregister(types.NewUid(), h) {
		t.Error("unregistering an absent user must report nothing removed")
	}
	if got, ok := r.Lookup(present); !ok || got != h {
		t.Error("other users must not be affected")
	}

	if !r.Unregister(present, nil) {
		t.Error("nil handle must remove unconditionally")
	}
	if r.Unregister(present, nil) {
		t.Error("second unregistration must be a no-op")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	users := make([]types.Uid, 32)
	for i := range users {
		users[i] = types.NewUid()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				uid := users[j%len(users)]
				h := NewHandle(1)
				r.Register(uid, h)
				if got, ok := r.Lookup(uid); ok && got != nil {
					got.Push([]byte(strconv.Itoa(j)))
				}
				r.Unregister(uid, h)
			}
		}()
	}
	wg.Wait()

	// Every registration was paired with its own unregistration. Entries may remain only
	// where a later registration replaced an earlier one and its owner already left,
	// which cannot happen here because each owner removes only itself.
	for _, uid := range users {
		if h, ok := r.Lookup(uid); ok {
			r.Unregister(uid, h)
		}
	}
	if r.Len() != 0 {
		t.Errorf("registry must be empty, got %d entries", r.Len())
	}
}

func TestHandlePush(t *testing.T) {
	h := NewHandle(2)

	if !h.Push([]byte("one")) || !h.Push([]byte("two")) {
		t.Fatal("push within capacity must succeed")
	}
	if h.Len() != 2 {
		t.Errorf("Len: expected 2, got %d", h.Len())
	}
	if got := string(<-h.C()); got != "one" {
		t.Errorf("expected FIFO order, got %q", got)
	}
	if got := string(<-h.C()); got != "two" {
		t.Errorf("expected FIFO order, got %q", got)
	}
	if h.Overflowed() || h.IsClosed() {
		t.Error("handle must be open")
	}
}

func TestHandleOverflow(t *testing.T) {
	h := NewHandle(1)

	if !h.Push([]byte("fits")) {
		t.Fatal("first push must succeed")
	}
	if h.Push([]byte("overflow")) {
		t.Fatal("push into a full queue must fail")
	}
	if !h.Overflowed() {
		t.Error("handle must be marked as overflowed")
	}
	select {
	case <-h.Done():
	default:
		t.Error("overflowed handle must be closed")
	}
	if h.Push([]byte("late")) {
		t.Error("push after close must fail")
	}
}

func TestHandleClose(t *testing.T) {
	h := NewHandle(0)
	if cap(h.queue) != DefaultQueueDepth {
		t.Errorf("expected default depth %d, got %d", DefaultQueueDepth, cap(h.queue))
	}

	h.Close()
	h.Close()
	if !h.IsClosed() {
		t.Error("handle must be closed")
	}
	if h.Overflowed() {
		t.Error("explicitly closed handle is not overflowed")
	}
	if h.Push([]byte("x")) {
		t.Error("push after close must fail")
	}
}
