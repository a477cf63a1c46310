// Generic data manipulation utilities.

package main

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bazaarline/chat/server/auth"
	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
)

// Extracts the authentication token from the Authorization header or, for clients
// which cannot set headers on websocket upgrade, from the 'token' query parameter.
func getHttpAuthToken(req *http.Request) string {
	if hdr := req.Header.Get("Authorization"); hdr != "" {
		parts := strings.SplitN(strings.TrimSpace(hdr), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// authHttpRequest authenticates an HTTP request. Returns an auth record or an
// error message to send to the client.
func authHttpRequest(req *http.Request, now time.Time) (*auth.Rec, *ServerComMessage) {
	token := getHttpAuthToken(req)
	if token == "" {
		return nil, ErrAuthRequired(now)
	}

	authhdl := store.GetAuthHandler("token")
	if authhdl == nil || !authhdl.IsInitialized() {
		logs.Err.Println("http: token is present but token auth handler is not configured")
		return nil, ErrAuthFailed(now)
	}

	rec, err := authhdl.Authenticate([]byte(token))
	if err != nil {
		return nil, decodeAuthError(err, now)
	}
	if rec.Uid.IsZero() || rec.AuthLevel < auth.LevelAuth {
		return nil, ErrPermissionDenied(now)
	}
	return rec, nil
}

func decodeAuthError(err error, ts time.Time) *ServerComMessage {
	var errmsg *ServerComMessage
	switch err {
	case auth.ErrInternal:
		errmsg = ErrUnknown(ts)
	case auth.ErrMalformed, auth.ErrFailed, auth.ErrExpired:
		errmsg = ErrAuthFailed(ts)
	case auth.ErrUnsupported:
		errmsg = ErrNotImplemented(ts)
	default:
		errmsg = ErrAuthFailed(ts)
	}
	return errmsg
}

// decodeStoreError converts a persistence error into a REST error message.
func decodeStoreError(err error, ts time.Time) *ServerComMessage {
	var errmsg *ServerComMessage

	if err == nil {
		return nil
	}

	var storeErr types.StoreError
	if !errors.As(err, &storeErr) {
		return ErrUnknown(ts)
	}

	switch storeErr {
	case types.ErrInternal:
		errmsg = ErrUnknown(ts)
	case types.ErrMalformed:
		errmsg = ErrMalformed(ts)
	case types.ErrPermissionDenied:
		errmsg = ErrPermissionDenied(ts)
	case types.ErrConversationNotFound:
		errmsg = ErrConversationNotFound(ts)
	case types.ErrNotFound, types.ErrUserNotFound:
		errmsg = ErrNotFound(ts)
	case types.ErrUnsupported:
		errmsg = ErrNotImplemented(ts)
	default:
		errmsg = ErrUnknown(ts)
	}
	return errmsg
}

// Obtains the IP address of the client, honoring X-Forwarded-For if configured.
func getRemoteAddr(req *http.Request) string {
	var addr string
	if globals.useXForwardedFor {
		addr = req.Header.Get("X-Forwarded-For")
		if idx := strings.IndexByte(addr, ','); idx >= 0 {
			addr = addr[:idx]
		}
		addr = strings.TrimSpace(addr)
		if !isRoutableIP(addr) {
			addr = ""
		}
	}
	if addr != "" {
		return addr
	}
	return req.RemoteAddr
}

// Checks if the IP address is a valid, publicly routable address.
func isRoutableIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() && !ip.IsLinkLocalUnicast()
}

// Parses query options of a history request: ?limit=N&before=<RFC3339 timestamp>.
func parseQueryOpts(req *http.Request) (*types.QueryOpt, error) {
	query := req.URL.Query()
	opts := &types.QueryOpt{}

	if val := query.Get("limit"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			return nil, types.ErrMalformed
		}
		opts.Limit = limit
	}

	if val := query.Get("before"); val != "" {
		before, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return nil, types.ErrMalformed
		}
		before = before.UTC()
		opts.Before = &before
	}

	return opts, nil
}
