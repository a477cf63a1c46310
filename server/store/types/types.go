// Package types provides data types for persisting objects in the databases.
package types

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the input is malformed.
	ErrMalformed = StoreError("malformed")
	// ErrFailed means an operation failed for reasons other than internal failure.
	ErrFailed = StoreError("failed")
	// ErrDuplicate means duplicate object, e.g. a user with this id already exists.
	ErrDuplicate = StoreError("duplicate value")
	// ErrUnsupported means an operation is not supported.
	ErrUnsupported = StoreError("unsupported")
	// ErrExpired means the secret has expired.
	ErrExpired = StoreError("expired")
	// ErrPermissionDenied means the operation is not permitted.
	ErrPermissionDenied = StoreError("denied")
	// ErrNotFound means the object was not found.
	ErrNotFound = StoreError("not found")
	// ErrUserNotFound means the user was not found.
	ErrUserNotFound = StoreError("user not found")
	// ErrConversationNotFound means the conversation was not found.
	ErrConversationNotFound = StoreError("conversation not found")
)

// Uid is a unique identifier of a user, a conversation or a message.
type Uid uuid.UUID

// ZeroUid is a constant representing uninitialized Uid.
var ZeroUid Uid

// NewUid returns a random (version 4) Uid.
func NewUid() Uid {
	return Uid(uuid.New())
}

// NewOrderedUid returns a time-ordered (version 7) Uid. Ids generated by one process
// sort in the order of generation.
func NewOrderedUid() Uid {
	id, err := uuid.NewV7()
	if err != nil {
		return NewUid()
	}
	return Uid(id)
}

// ParseUid parses a canonical UUID string. Returns ZeroUid if the string cannot be parsed.
func ParseUid(s string) Uid {
	id, err := uuid.Parse(s)
	if err != nil {
		return ZeroUid
	}
	return Uid(id)
}

// IsZero checks if Uid is uninitialized.
func (uid Uid) IsZero() bool {
	return uid == ZeroUid
}

// Compare returns 0 if uid is equal to u2, -1 if uid sorts before u2, 1 otherwise.
func (uid Uid) Compare(u2 Uid) int {
	return bytes.Compare(uid[:], u2[:])
}

// String converts Uid to its canonical string representation. ZeroUid is an empty string.
func (uid Uid) String() string {
	if uid.IsZero() {
		return ""
	}
	return uuid.UUID(uid).String()
}

// MarshalText converts Uid to its text representation.
func (uid Uid) MarshalText() ([]byte, error) {
	return []byte(uid.String()), nil
}

// UnmarshalText reads Uid from text. Empty input produces ZeroUid.
func (uid *Uid) UnmarshalText(src []byte) error {
	if len(src) == 0 {
		*uid = ZeroUid
		return nil
	}
	id, err := uuid.ParseBytes(src)
	if err != nil {
		return errors.New("Uid.UnmarshalText: " + err.Error())
	}
	*uid = Uid(id)
	return nil
}

// Scan implements sql.Scanner interface. Accepts text or raw 16-byte values.
func (uid *Uid) Scan(src interface{}) error {
	if src == nil {
		*uid = ZeroUid
		return nil
	}
	var id uuid.UUID
	if err := id.Scan(src); err != nil {
		return err
	}
	*uid = Uid(id)
	return nil
}

// Value implements driver.Valuer interface. ZeroUid is stored as NULL.
func (uid Uid) Value() (driver.Value, error) {
	if uid.IsZero() {
		return nil, nil
	}
	return uid.String(), nil
}

// PairKey returns the canonical key of an unordered pair of users.
// PairKey(a, b) == PairKey(b, a).
func PairKey(u1, u2 Uid) string {
	u1, u2 = OrderPair(u1, u2)
	return u1.String() + ":" + u2.String()
}

// OrderPair returns the two Uids in canonical order: the smaller one first.
func OrderPair(u1, u2 Uid) (Uid, Uid) {
	if u1.Compare(u2) > 0 {
		return u2, u1
	}
	return u1, u2
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// User is a representation of a registered account. Only the fields used by
// the messaging core are stored.
type User struct {
	Id        Uid
	CreatedAt time.Time
	// Display name, optional.
	Name *string
}

// Conversation is a durable record pairing exactly two users. User1 always sorts
// before or equal to User2.
type Conversation struct {
	Id          Uid
	CreatedAt   time.Time
	User1       Uid
	User2       Uid
	LastUpdated time.Time
}

// Other returns the participant which is not uid, or ZeroUid if uid is not a participant.
func (c *Conversation) Other(uid Uid) Uid {
	switch uid {
	case c.User1:
		return c.User2
	case c.User2:
		return c.User1
	}
	return ZeroUid
}

// IsParticipant checks if uid is one of the two participants.
func (c *Conversation) IsParticipant(uid Uid) bool {
	return uid == c.User1 || uid == c.User2
}

// Message is a stored message. Immutable once saved.
type Message struct {
	Id       Uid
	ConvId   Uid
	SenderId Uid
	Content  string
	SentAt   time.Time
}

// ConversationSummary is a row of the user's conversation list.
type ConversationSummary struct {
	Id            Uid
	OtherUserId   Uid
	OtherUserName *string
	LastMessage   *string
	LastMessageAt *time.Time
	LastUpdated   time.Time
}

// QueryOpt is options of a history or list query.
type QueryOpt struct {
	// Return messages sent strictly before this time.
	Before *time.Time
	// Maximum number of results to return.
	Limit int
}
