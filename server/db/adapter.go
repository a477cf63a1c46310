// Package adapter contains the interfaces to be implemented by the database adapter
package adapter

import (
	"encoding/json"

	t "github.com/bazaarline/chat/server/store/types"
)

// Adapter is the interface that must be implemented by a database
// adapter. The current schema supports a single connection by database type.
type Adapter interface {
	// General

	// Open and configure the adapter
	Open(config json.RawMessage) error
	// Close the adapter
	Close() error
	// IsOpen checks if the adapter is ready for use
	IsOpen() bool
	// GetDbVersion returns current database version.
	GetDbVersion() (int, error)
	// CheckDbVersion checks if the actual database version matches adapter version.
	CheckDbVersion() error
	// GetName returns the name of the adapter
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error
	// UpgradeDb upgrades database to the current adapter version.
	UpgradeDb() error
	// Version returns adapter version
	Version() int
	// DB connection stats object.
	Stats() interface{}
	// Ping checks that the database is reachable.
	Ping() error

	// User management

	// UserCreate creates user record
	UserCreate(user *t.User) error
	// UserGet returns record for a given user ID, nil if the user does not exist.
	UserGet(uid t.Uid) (*t.User, error)

	// Conversation management

	// ConvGetByUsers returns the conversation between two users or nil if there is none.
	// The users may be given in any order.
	ConvGetByUsers(u1, u2 t.Uid) (*t.Conversation, error)
	// ConvGetOrCreate inserts the candidate conversation unless a conversation for the same
	// pair of users already exists. Returns the stored conversation in either case.
	// Must be safe to call concurrently for the same pair.
	ConvGetOrCreate(candidate *t.Conversation) (*t.Conversation, error)
	// ConvGet returns conversation by ID, nil if not found.
	ConvGet(id t.Uid) (*t.Conversation, error)
	// ConvsForUser returns user's conversations, most recently updated first.
	ConvsForUser(uid t.Uid, opts *t.QueryOpt) ([]t.ConversationSummary, error)

	// Messages

	// MessageSave saves message to database and advances the conversation's last update time
	// as a single atomic unit where the database allows it.
	MessageSave(msg *t.Message) error
	// MessageGetAll returns messages of a conversation ordered by sent time, oldest first.
	MessageGetAll(convId t.Uid, opts *t.QueryOpt) ([]t.Message, error)
}
