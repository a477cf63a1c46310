/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bazaarline/chat/server/logs"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Default time allowed to read the next pong message from the peer.
	defaultIdleSessionTimeout = 55 * time.Second

	closeReasonOverflow = "outbound queue limit exceeded"
	closeReasonShutdown = "server shutdown"
)

// Time allowed to read the next pong message from the peer.
func pongWait() time.Duration {
	if globals.idleSessionTimeout > 0 {
		return globals.idleSessionTimeout
	}
	return defaultIdleSessionTimeout
}

// Send pings to peer with this period. Must be less than pongWait.
func pingPeriod() time.Duration {
	return (pongWait() * 9) / 10
}

func (sess *Session) closeWS() {
	sess.ws.Close()
}

func (sess *Session) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			logs.Err.Println("ws: panic in readLoop", sess.sid, r)
		}
		sess.closeWS()
		sess.cleanUp()
	}()

	if globals.maxMessageSize > 0 {
		sess.ws.SetReadLimit(globals.maxMessageSize)
	}
	sess.ws.SetReadDeadline(time.Now().Add(pongWait()))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait()))
		return nil
	})

	for {
		mt, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sess.sid, err)
			}
			sess.setClosing()
			return
		}
		statsInc("IncomingMessagesWebsockTotal", 1)

		if mt != websocket.TextMessage {
			sess.queueError(reasonBinaryFrame)
			continue
		}
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) sendMessage(msg []byte) bool {
	statsInc("OutgoingMessagesWebsockTotal", 1)
	if err := wsWrite(sess.ws, websocket.TextMessage, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", sess.sid, err)
		}
		return false
	}
	return true
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod())

	defer func() {
		ticker.Stop()
		sess.setClosing()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case msg := <-sess.handle.C():
			if !sess.sendMessage(msg) {
				return
			}

		case <-sess.handle.Done():
			if sess.handle.Overflowed() {
				logs.Warn.Println("ws: outbound queue limit exceeded", sess.sid)
				wsWriteClose(sess.ws, websocket.ClosePolicyViolation, closeReasonOverflow)
			}
			return

		case <-sess.stop:
			// Shutdown requested, don't care if the close frame is delivered.
			wsWriteClose(sess.ws, websocket.CloseGoingAway, closeReasonShutdown)
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, msg)
}

// Writes a close frame with the given code and reason.
func wsWriteClose(ws *websocket.Conn, code int, reason string) error {
	return ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}

// Handles websocket requests from peers.
func newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: globals.wsCompression,
		// Allow connections from any Origin
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	now := time.Now().UTC().Round(time.Millisecond)

	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(wrt).Encode(ErrOperationNotAllowed(now))
		logs.Err.Println("ws: Invalid HTTP method", req.Method)
		return
	}

	// Authenticate before upgrading: unauthenticated peers never get a session.
	rec, errmsg := authHttpRequest(req, now)
	if errmsg != nil {
		wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
		wrt.WriteHeader(errmsg.Ctrl.Code)
		json.NewEncoder(wrt).Encode(errmsg)
		logs.Warn.Println("ws: upgrade refused", getRemoteAddr(req), errmsg.describe())
		return
	}

	ws, err := newUpgrader().Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: Not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to Upgrade ", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, rec)
	sess.remoteAddr = getRemoteAddr(req)

	logs.Info.Println("ws: session started", sess.sid, sess.uid, sess.remoteAddr, count)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
