/******************************************************************************
 *
 *  Description :
 *
 *  Management of live sessions
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SessionStore holds live sessions indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	// Directory of online users, shared with the router.
	registry *presence.Registry
	router   *Router

	// Depth of each session's outbound queue.
	queueDepth int

	// Inbound rate limit per session. Zero limit means unlimited.
	inboundRate  rate.Limit
	inboundBurst int

	// All sessions indexed by session ID
	sessCache map[string]*Session

	// Sessions which have not finished cleaning up yet.
	live sync.WaitGroup
}

// NewSession creates a new active session and saves it to the session store.
func (ss *SessionStore) NewSession(conn *websocket.Conn, rec *auth.Rec) (*Session, int) {
	s := &Session{
		ws:       conn,
		uid:      rec.Uid,
		sid:      store.Store.GetUidString(),
		registry: ss.registry,
		router:   ss.router,
		store:    ss,
		stop:     make(chan struct{}, 1), // Buffered by 1 just to make it non-blocking
	}
	if ss.inboundRate > 0 {
		s.limiter = rate.NewLimiter(ss.inboundRate, ss.inboundBurst)
	}

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	ss.live.Add(1)
	count := len(ss.sessCache)
	ss.lock.Unlock()

	s.activate(ss.queueDepth)

	statsInc("TotalSessions", 1)
	statsSet("LiveSessions", int64(count))

	return s, count
}

// Delete removes session from store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	if _, ok := ss.sessCache[s.sid]; ok {
		delete(ss.sessCache, s.sid)
		ss.live.Done()
	}
	return len(ss.sessCache)
}

// Len returns the number of live sessions.
func (ss *SessionStore) Len() int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return len(ss.sessCache)
}

// Shutdown asks every session to terminate and waits up to timeout for all of them
// to unregister. Returns false if some sessions were still running when the timeout expired.
func (ss *SessionStore) Shutdown(timeout time.Duration) bool {
	ss.lock.Lock()
	count := len(ss.sessCache)
	for _, s := range ss.sessCache {
		select {
		case s.stop <- struct{}{}:
		default:
		}
	}
	ss.lock.Unlock()

	done := make(chan struct{})
	go func() {
		ss.live.Wait()
		close(done)
	}()

	select {
	case <-done:
		logs.Info.Printf("SessionStore shut down, sessions terminated: %d", count)
		return true
	case <-time.After(timeout):
		logs.Warn.Printf("SessionStore shut down, sessions still running: %d of %d", ss.Len(), count)
		return false
	}
}

// NewSessionStore initializes a session store.
func NewSessionStore(registry *presence.Registry, router *Router, queueDepth int) *SessionStore {
	return &SessionStore{
		registry:   registry,
		router:     router,
		queueDepth: queueDepth,

		sessCache: make(map[string]*Session),
	}
}

// SetInboundRate configures the per-session limit of inbound messages.
func (ss *SessionStore) SetInboundRate(perSecond float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	ss.inboundRate = rate.Limit(perSecond)
	ss.inboundBurst = burst
}
