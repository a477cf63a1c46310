package main

/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures
 *
 *****************************************************************************/

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bazaarline/chat/server/store/types"
)

// Values of the "type" field of outbound websocket frames.
const (
	frameMessage = "message"
	frameError   = "error"
)

// MsgClientSend is the only message a client sends over the websocket:
// a text message to another user.
type MsgClientSend struct {
	// Recipient of the message, a UUID string.
	ReceiverId string `json:"receiver_id"`
	// Message text. A pointer to tell a missing field from an empty one.
	Content *string `json:"content"`
}

// MsgServerData is a message delivered to both the receiver and the sender.
type MsgServerData struct {
	Type       string    `json:"type"`
	Id         string    `json:"id"`
	ConvId     string    `json:"conv_id"`
	SenderId   string    `json:"sender_id"`
	SenderName *string   `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

// MsgServerError reports a failure to handle a client message. Sent only to the
// session which produced the failed message.
type MsgServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// dataFrame renders a stored message into a serialized websocket frame.
func dataFrame(msg *types.Message, senderName *string) []byte {
	out, _ := json.Marshal(&MsgServerData{
		Type:       frameMessage,
		Id:         msg.Id.String(),
		ConvId:     msg.ConvId.String(),
		SenderId:   msg.SenderId.String(),
		SenderName: senderName,
		Content:    msg.Content,
		SentAt:     msg.SentAt,
	})
	return out
}

// errorFrame renders an error reason into a serialized websocket frame.
func errorFrame(reason string) []byte {
	out, _ := json.Marshal(&MsgServerError{Type: frameError, Message: reason})
	return out
}

// REST payloads.

// MsgConversation is an entry in the list of user's conversations.
type MsgConversation struct {
	Id              string     `json:"id"`
	OtherUserId     string     `json:"other_user_id"`
	OtherUserName   *string    `json:"other_user_name"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// MsgHistoryItem is a message in conversation history.
type MsgHistoryItem struct {
	Id         string    `json:"id"`
	ConvId     string    `json:"conv_id"`
	SenderId   string    `json:"sender_id"`
	SenderName *string   `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

// MsgHealth is the response to a health check.
type MsgHealth struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// MsgServerCtrl is a server control message {ctrl}. Used by the REST endpoints to
// report errors.
type MsgServerCtrl struct {
	Code      int       `json:"code"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"ts"`
}

func (src *MsgServerCtrl) describe() string {
	return "code=" + strconv.Itoa(src.Code) + " txt=" + src.Text
}

// ServerComMessage is a wrapper for server-side REST responses.
type ServerComMessage struct {
	Ctrl *MsgServerCtrl `json:"ctrl,omitempty"`
}

func (src *ServerComMessage) describe() string {
	if src == nil || src.Ctrl == nil {
		return "{nil}"
	}
	return "{ctrl " + src.Ctrl.describe() + "}"
}

func ctrlMessage(code int, text string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{Code: code, Text: text, Timestamp: ts}}
}

// Generators of server-side error messages {ctrl}.

// ErrMalformed request malformed (400).
func ErrMalformed(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusBadRequest, "malformed", ts)
}

// ErrAuthRequired authentication required - user must authenticate first (401).
func ErrAuthRequired(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusUnauthorized, "authentication required", ts)
}

// ErrAuthFailed authentication failed (401).
func ErrAuthFailed(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusUnauthorized, "authentication failed", ts)
}

// ErrPermissionDenied user is authenticated but operation is not permitted (403).
func ErrPermissionDenied(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusForbidden, "permission denied", ts)
}

// ErrConversationNotFound conversation is not found (404).
func ErrConversationNotFound(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusNotFound, "conversation not found", ts)
}

// ErrNotFound is an error for missing objects other than conversations (404).
func ErrNotFound(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusNotFound, "not found", ts)
}

// ErrOperationNotAllowed a valid operation is not permitted in this context (405).
func ErrOperationNotAllowed(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusMethodNotAllowed, "operation or method not allowed", ts)
}

// ErrUnknown database or other server error (500).
func ErrUnknown(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusInternalServerError, "internal error", ts)
}

// ErrNotImplemented feature not implemented (501).
func ErrNotImplemented(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusNotImplemented, "not implemented", ts)
}

// ErrServiceUnavailable server is unable to serve the request (503).
func ErrServiceUnavailable(ts time.Time) *ServerComMessage {
	return ctrlMessage(http.StatusServiceUnavailable, "service unavailable", ts)
}
