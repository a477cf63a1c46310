/******************************************************************************
 *
 *  Description :
 *
 *    REST handlers: list of conversations, conversation history, health check.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/gorilla/handlers"
)

// Registers REST endpoints at the given API path. Handlers are wrapped into an
// access logger and response compression.
func serveRest(mux *http.ServeMux, apiPath string) {
	wrap := func(hdl http.HandlerFunc) http.Handler {
		return handlers.CombinedLoggingHandler(logs.Info.Writer(), handlers.CompressHandler(getOnly(hdl)))
	}

	mux.Handle(path.Join(apiPath, "conversations"), wrap(serveConversations))
	mux.Handle(path.Join(apiPath, "messages", "{conv_id}"), wrap(serveMessages))
	mux.Handle("/health", wrap(serveHealth))
}

// Rejects anything but GET (and HEAD) with a ctrl message instead of ServeMux's plain text 405.
func getOnly(hdl http.HandlerFunc) http.HandlerFunc {
	return func(wrt http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			wrt.Header().Set("Allow", "GET, HEAD")
			writeHttpError(wrt, ErrOperationNotAllowed(types.TimeNow()))
			logs.Warn.Println("rest: invalid HTTP method", req.Method, req.URL.Path)
			return
		}
		hdl(wrt, req)
	}
}

func writeHttpResponse(wrt http.ResponseWriter, status int, payload any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(status)
	if err := json.NewEncoder(wrt).Encode(payload); err != nil {
		logs.Warn.Println("rest: failed to write response", err)
	}
}

func writeHttpError(wrt http.ResponseWriter, msg *ServerComMessage) {
	writeHttpResponse(wrt, msg.Ctrl.Code, msg)
}

// GET {api_path}/conversations?limit=N
func serveConversations(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	rec, errmsg := authHttpRequest(req, now)
	if errmsg != nil {
		writeHttpError(wrt, errmsg)
		return
	}

	var opts *types.QueryOpt
	if val := req.URL.Query().Get("limit"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			writeHttpError(wrt, ErrMalformed(now))
			return
		}
		opts = &types.QueryOpt{Limit: limit}
	}

	summaries, err := store.Conversations.ListForUser(rec.Uid, opts)
	if err != nil {
		logs.Err.Println("rest: failed to list conversations", rec.Uid, err)
		writeHttpError(wrt, decodeStoreError(err, now))
		return
	}

	convs := make([]MsgConversation, 0, len(summaries))
	for i := range summaries {
		sum := &summaries[i]
		convs = append(convs, MsgConversation{
			Id:              sum.Id.String(),
			OtherUserId:     sum.OtherUserId.String(),
			OtherUserName:   sum.OtherUserName,
			LastMessage:     sum.LastMessage,
			LastMessageTime: sum.LastMessageAt,
			LastUpdated:     sum.LastUpdated,
		})
	}

	writeHttpResponse(wrt, http.StatusOK, map[string]any{"conversations": convs})
}

// GET {api_path}/messages/{conv_id}?limit=N&before=<RFC3339>
func serveMessages(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	rec, errmsg := authHttpRequest(req, now)
	if errmsg != nil {
		writeHttpError(wrt, errmsg)
		return
	}

	convId := types.ParseUid(req.PathValue("conv_id"))
	if convId.IsZero() {
		writeHttpError(wrt, ErrMalformed(now))
		return
	}

	opts, err := parseQueryOpts(req)
	if err != nil {
		writeHttpError(wrt, ErrMalformed(now))
		return
	}

	conv, err := store.Conversations.Get(convId)
	if err != nil {
		if err != types.ErrConversationNotFound {
			logs.Err.Println("rest: failed to get conversation", convId, err)
		}
		writeHttpError(wrt, decodeStoreError(err, now))
		return
	}
	if !conv.IsParticipant(rec.Uid) {
		writeHttpError(wrt, ErrPermissionDenied(now))
		return
	}

	msgs, err := store.Messages.GetAll(convId, opts)
	if err != nil {
		logs.Err.Println("rest: failed to load messages", convId, err)
		writeHttpError(wrt, decodeStoreError(err, now))
		return
	}

	// Only two possible senders.
	names := make(map[types.Uid]*string, 2)
	for _, uid := range []types.Uid{conv.User1, conv.User2} {
		name, err := store.Users.GetName(uid)
		if err != nil {
			logs.Warn.Println("rest: failed to get user name", uid, err)
		}
		names[uid] = name
	}

	items := make([]MsgHistoryItem, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		items = append(items, MsgHistoryItem{
			Id:         msg.Id.String(),
			ConvId:     msg.ConvId.String(),
			SenderId:   msg.SenderId.String(),
			SenderName: names[msg.SenderId],
			Content:    msg.Content,
			SentAt:     msg.SentAt,
		})
	}

	writeHttpResponse(wrt, http.StatusOK, map[string]any{"messages": items})
}

// GET /health
func serveHealth(wrt http.ResponseWriter, req *http.Request) {
	resp := MsgHealth{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Round(time.Millisecond),
		Services: map[string]string{
			"database": "up",
			"api":      "up",
		},
	}

	status := http.StatusOK
	if err := store.Store.Ping(); err != nil {
		logs.Warn.Println("rest: database is unreachable", err)
		resp.Status = "degraded"
		resp.Services["database"] = "down"
		status = http.StatusServiceUnavailable
	}

	writeHttpResponse(wrt, status, &resp)
}
