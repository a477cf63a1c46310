/******************************************************************************
 *
 *  Description :
 *
 *  Directory of online users: maps a user to the delivery handle of the
 *  user's current connection. Last registered connection wins.
 *
 *****************************************************************************/

// Package presence keeps track of users who have a live connection and the
// outbound queues used to deliver messages to them.
package presence

import (
	"sync"

	"github.com/bazaarline/chat/server/store/types"
)

// Registry maps a user to the delivery handle of the user's live connection.
// At most one handle is kept per user. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[types.Uid]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[types.Uid]*Handle)}
}

// Register makes h the current handle of the user. A handle registered earlier for the
// same user is replaced and returned; the replaced handle is not closed.
func (r *Registry) Register(uid types.Uid, h *Handle) *Handle {
	r.mu.Lock()
	replaced := r.handles[uid]
	r.handles[uid] = h
	r.mu.Unlock()

	if replaced == h {
		return nil
	}
	return replaced
}

// Unregister removes the user's entry if it still points at h. If h is nil the entry is
// removed unconditionally. Removing an absent entry is a no-op.
// Returns true if an entry was removed.
func (r *Registry) Unregister(uid types.Uid, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[uid]
	if !ok || (h != nil && current != h) {
		return false
	}
	delete(r.handles, uid)
	return true
}

// Lookup returns the current handle of the user, if any.
func (r *Registry) Lookup(uid types.Uid) (*Handle, bool) {
	r.mu.RLock()
	h, ok := r.handles[uid]
	r.mu.RUnlock()
	return h, ok
}

// Len returns the number of users with a registered handle.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
