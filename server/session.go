/******************************************************************************
 *
 *  Description :
 *
 *  Handling of user sessions/connections. A user has at most one session which
 *  receives messages: the most recent one.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Session states.
const (
	// Handshake is not complete yet.
	sessConnecting int32 = iota
	// Registered, running read and write loops.
	sessActive
	// Close observed, loops are exiting.
	sessClosing
	// Unregistered, resources released.
	sessClosed
)

// Session represents a single websocket connection of an authenticated user.
type Session struct {
	// Websocket.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// ID of the current user.
	uid types.Uid

	// Session ID
	sid string

	// One of sessConnecting, sessActive, sessClosing, sessClosed.
	state atomic.Int32

	// Outbound messages. Created when the session becomes active.
	handle *presence.Handle

	// Directory of online users the handle is registered with.
	registry *presence.Registry

	// Router of inbound messages.
	router *Router

	// Session store the session belongs to.
	store *SessionStore

	// Limiter of inbound messages, could be nil.
	limiter *rate.Limiter

	// Channel for shutting down the session, buffer 1.
	stop chan struct{}

	cleanupOnce sync.Once
}

// activate registers the session's handle as the destination of the user's messages.
func (s *Session) activate(queueDepth int) {
	s.handle = presence.NewHandle(queueDepth)
	if replaced := s.registry.Register(s.uid, s.handle); replaced != nil {
		logs.Info.Println("s.activate: superseded older session of", s.uid, s.sid)
	}
	s.state.Store(sessActive)
	statsSet("OnlineUsers", int64(s.registry.Len()))
}

// setClosing moves an active session into closing state.
func (s *Session) setClosing() {
	s.state.CompareAndSwap(sessActive, sessClosing)
}

// queueOut pushes a serialized message to this session's own handle.
func (s *Session) queueOut(msg []byte) bool {
	if s == nil || s.handle == nil {
		return true
	}

	if !s.handle.Push(msg) {
		logs.Warn.Println("s.queueOut: message dropped", s.sid)
		return false
	}
	return true
}

// queueError reports an error to this session only.
func (s *Session) queueError(reason string) {
	s.queueOut(errorFrame(reason))
}

// cleanUp releases session resources. Safe to call more than once.
func (s *Session) cleanUp() {
	s.cleanupOnce.Do(func() {
		s.state.Store(sessClosing)

		if s.handle != nil {
			s.registry.Unregister(s.uid, s.handle)
			s.handle.Close()
		}
		statsSet("OnlineUsers", int64(s.registry.Len()))

		count := 0
		if s.store != nil {
			count = s.store.Delete(s)
		}
		statsSet("LiveSessions", int64(count))

		s.state.Store(sessClosed)
		logs.Info.Println("ws: session closed", s.sid, s.uid, count)
	})
}

// Message received, route it and report a failure, if any, back to the client.
func (s *Session) dispatchRaw(raw []byte) {
	toLog := raw
	truncated := ""
	if len(raw) > 512 {
		toLog = raw[:512]
		truncated = "<...>"
	}
	logs.Info.Printf("in: '%s%s' sid='%s' uid='%s'", toLog, truncated, s.sid, s.uid)

	if s.limiter != nil && !s.limiter.Allow() {
		statsInc("RateLimitedTotal", 1)
		s.queueError(reasonRateLimited)
		return
	}

	if err := s.router.Route(s.uid, raw); err != nil {
		statsInc("RouterErrorsTotal", 1)

		reason := reasonInternal
		var rerr *RouteError
		if errors.As(err, &rerr) {
			reason = rerr.Reason
			if rerr.Kind == ErrPersistence {
				logs.Err.Println("s.dispatch: failed to store message", s.sid, rerr.Err)
			} else if rerr.Err != nil {
				logs.Info.Println("s.dispatch: invalid message", s.sid, rerr.Err)
			}
		} else {
			logs.Err.Println("s.dispatch:", s.sid, err)
		}
		s.queueError(reason)
	}
}
