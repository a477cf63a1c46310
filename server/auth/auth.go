// Package auth defines the interface implemented by authentication providers and the
// common types they exchange with the server.
package auth

import (
	"encoding/json"
	"time"

	"github.com/bazaarline/chat/server/store/types"
)

// AuthErr is a structure for reporting an error condition.
type AuthErr string

func (e AuthErr) Error() string {
	return string(e)
}

const (
	// ErrInternal means DB or other internal failure
	ErrInternal = AuthErr("internal")
	// ErrMalformed means the secret cannot be parsed or otherwise wrong
	ErrMalformed = AuthErr("malformed")
	// ErrFailed means authentication failed (wrong signature, revoked secret, etc)
	ErrFailed = AuthErr("failed")
	// ErrUnsupported means an operation is not supported
	ErrUnsupported = AuthErr("unsupported")
	// ErrExpired means the secret has expired
	ErrExpired = AuthErr("expired")
)

// Level is the type for authentication levels.
type Level int

// Authentication levels.
const (
	// LevelNone is undefined/not authenticated
	LevelNone Level = iota * 10
	// LevelAnon is anonymous user/light authentication
	LevelAnon
	// LevelAuth is fully authenticated user
	LevelAuth
	// LevelRoot is a superuser (currently unused)
	LevelRoot
)

// String implements Stringer interface: gets human-readable name for a numeric authentication level.
func (a Level) String() string {
	switch a {
	case LevelNone:
		return ""
	case LevelAnon:
		return "anon"
	case LevelAuth:
		return "auth"
	case LevelRoot:
		return "root"
	default:
		return "unkn"
	}
}

// ParseAuthLevel parses authentication level from a string.
func ParseAuthLevel(name string) Level {
	switch name {
	case "anon", "ANON":
		return LevelAnon
	case "auth", "AUTH":
		return LevelAuth
	case "root", "ROOT":
		return LevelRoot
	default:
		return LevelNone
	}
}

// Rec is an authentication record.
type Rec struct {
	// User ID
	Uid types.Uid `json:"uid,omitempty"`
	// Authentication level
	AuthLevel Level `json:"authlvl,omitempty"`
	// Lifetime of this record
	Lifetime time.Duration `json:"lifetime,omitempty"`
	// Time when the secret expires
	Expires time.Time `json:"expires,omitempty"`
}

// AuthHandler is the interface which auth providers must implement.
type AuthHandler interface {
	// Init initializes the handler taking config string and logical name as parameters.
	Init(jsonconf json.RawMessage, name string) error

	// IsInitialized returns true if the handler is initialized.
	IsInitialized() bool

	// Authenticate: given a user-provided authentication secret return the auth record
	// or an AuthErr.
	Authenticate(secret []byte) (*Rec, error)

	// GenSecret generates a new secret for the given record, if appropriate.
	// Returns the secret and the time when it expires.
	GenSecret(rec *Rec) ([]byte, time.Time, error)
}
