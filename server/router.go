/******************************************************************************
 *
 *  Description :
 *
 *    Routing of client messages: validation, persistence and delivery to the
 *    receiver and back to the sender.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/presence"
	"github.com/bazaarline/chat/server/store"
	"github.com/bazaarline/chat/server/store/types"
	"github.com/rivo/uniseg"
)

// RouteErrorKind classifies routing failures.
type RouteErrorKind int

const (
	// ErrValidation means the client message is invalid. Nothing was stored.
	ErrValidation RouteErrorKind = iota + 1
	// ErrPersistence means the message could not be stored. Nothing was delivered.
	ErrPersistence
)

// Reasons reported to clients.
const (
	reasonInvalidFormat    = "invalid message format"
	reasonMissingReceiver  = "missing receiver_id"
	reasonInvalidReceiver  = "invalid receiver_id"
	reasonMissingContent   = "missing content"
	reasonEmptyContent     = "empty content"
	reasonContentTooLong   = "content too long"
	reasonReceiverNotFound = "receiver not found"
	reasonInternal         = "internal server error"
	reasonRateLimited      = "rate limit exceeded"
	reasonBinaryFrame      = "binary frames are not supported"
)

// RouteError is returned by Router.Route. Reason is safe to show to the client,
// Err is the underlying cause, if any.
type RouteError struct {
	Kind   RouteErrorKind
	Reason string
	Err    error
}

func (e *RouteError) Error() string {
	return e.Reason
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func validationError(reason string, cause error) *RouteError {
	return &RouteError{Kind: ErrValidation, Reason: reason, Err: cause}
}

func persistenceError(cause error) *RouteError {
	return &RouteError{Kind: ErrPersistence, Reason: reasonInternal, Err: cause}
}

// Router validates and stores client messages then pushes them to online participants.
// It holds no per-message state and is safe for concurrent use.
type Router struct {
	registry *presence.Registry
	// Maximum length of message content in grapheme clusters, 0 for unlimited.
	maxContentLength int
}

// NewRouter creates a router which delivers through the given registry.
func NewRouter(registry *presence.Registry, maxContentLength int) *Router {
	return &Router{registry: registry, maxContentLength: maxContentLength}
}

// Route handles one raw client message sent by the user 'sender'.
func (r *Router) Route(sender types.Uid, raw []byte) error {
	var msg MsgClientSend
	if err := json.Unmarshal(raw, &msg); err != nil {
		return validationError(reasonInvalidFormat, err)
	}

	if msg.ReceiverId == "" {
		return validationError(reasonMissingReceiver, nil)
	}
	receiver := types.ParseUid(msg.ReceiverId)
	if receiver.IsZero() {
		return validationError(reasonInvalidReceiver, nil)
	}
	if msg.Content == nil {
		return validationError(reasonMissingContent, nil)
	}
	content := *msg.Content
	if strings.TrimSpace(content) == "" {
		return validationError(reasonEmptyContent, nil)
	}
	if r.maxContentLength > 0 && uniseg.GraphemeClusterCount(content) > r.maxContentLength {
		return validationError(reasonContentTooLong, nil)
	}

	conv, err := store.Conversations.GetOrCreate(sender, receiver)
	if err != nil {
		if errors.Is(err, types.ErrUserNotFound) {
			return validationError(reasonReceiverNotFound, err)
		}
		return persistenceError(err)
	}

	saved, err := store.Messages.Save(conv.Id, sender, content)
	if err != nil {
		return persistenceError(err)
	}

	// The message is stored. From here on failures only affect delivery.
	senderName, err := store.Users.GetName(sender)
	if err != nil {
		logs.Warn.Println("router: failed to get sender name", sender, err)
		senderName = nil
	}

	payload := dataFrame(saved, senderName)
	statsInc("MessagesRoutedTotal", 1)

	r.deliver(receiver, payload)
	if receiver != sender {
		// Echo to the sender.
		r.deliver(sender, payload)
	}

	return nil
}

// deliver pushes the payload to the user's current handle. Returns false if the user is
// offline or the message was not accepted.
func (r *Router) deliver(uid types.Uid, payload []byte) bool {
	h, ok := r.registry.Lookup(uid)
	if !ok {
		return false
	}
	if !h.Push(payload) {
		if h.Overflowed() {
			statsInc("DeliveryOverflowsTotal", 1)
			logs.Warn.Println("router: outbound queue overflow", uid)
		}
		return false
	}
	return true
}
