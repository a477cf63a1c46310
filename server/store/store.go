// Package store provides methods for registering and accessing database adapters.
package store

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/bazaarline/chat/server/auth"
	adapter "github.com/bazaarline/chat/server/db"
	"github.com/bazaarline/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator for sessions and other in-memory objects.
var idGen types.IdGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.IdGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from adapter.
	MaxResults int `json:"max_results"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `chat.conf`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := idGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init id generator: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interation with persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetAdapterVersion() int
	GetDbVersion() int
	InitDb(jsonconf json.RawMessage, reset bool) error
	UpgradeDb(jsonconf json.RawMessage) error
	GetUidString() string
	Ping() error
	DbStats() func() interface{}
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool for a database instance.
//
//	workerId - snowflake worker ID used for generating session ids
//	jsonconf - configuration string
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	if err := openAdapter(workerId, jsonconf); err != nil {
		return err
	}

	return adp.CheckDbVersion()
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adater.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetAdapterVersion returns version of the current adater.
func (storeObj) GetAdapterVersion() int {
	if adp != nil {
		return adp.Version()
	}

	return -1
}

// GetDbVersion returns version of the underlying database.
func (storeObj) GetDbVersion() int {
	if adp != nil {
		vers, _ := adp.GetDbVersion()
		return vers
	}

	return -1
}

// InitDb creates and configures a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If jsconf is nil it will assume that the adapter is
// already open. If it's non-nil and the adapter is not open, it will use the config string
// to open the adapter first.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// UpgradeDb performes an upgrade of the database to the current adapter version.
// If jsconf is nil it will assume that the adapter is already open. If it's non-nil and the
// adapter is not open, it will use the config string to open the adapter first.
func (s storeObj) UpgradeDb(jsonconf json.RawMessage) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.UpgradeDb()
}

// GetUidString generates a unique opaque ID as a string.
func (storeObj) GetUidString() string {
	return idGen.GetStr()
}

// Ping checks if the database is reachable.
func (s storeObj) Ping() error {
	if !s.IsOpen() {
		return errors.New("store: not connected")
	}
	return adp.Ping()
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() interface{} {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// GetAdapterNames returns names of all adapters compiled into the binary, sorted.
func GetAdapterNames() []string {
	names := make([]string, 0, len(availableAdapters))
	for name := range availableAdapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var authHandlers = make(map[string]auth.AuthHandler)

// RegisterAuthScheme registers an authentication scheme handler.
// The 'name' must be lower case. If Register is called twice or if the handler is nil, it panics.
func RegisterAuthScheme(name string, handler auth.AuthHandler) {
	if name == "" {
		panic("RegisterAuthScheme: empty auth scheme name")
	}
	if handler == nil {
		panic("RegisterAuthScheme: scheme handler is nil")
	}

	name = strings.ToLower(name)
	if _, dup := authHandlers[name]; dup {
		panic("RegisterAuthScheme: called twice for scheme " + name)
	}
	authHandlers[name] = handler
}

// GetAuthHandler returns an auth handler by name. Returns nil if the scheme is unknown.
func GetAuthHandler(name string) auth.AuthHandler {
	return authHandlers[strings.ToLower(name)]
}

// UsersPersistenceInterface is an interface which defines methods for persistent storage of user records.
type UsersPersistenceInterface interface {
	Create(user *types.User) (*types.User, error)
	Get(uid types.Uid) (*types.User, error)
	GetName(uid types.Uid) (*string, error)
}

// UsersObjMapper is a users struct to hold methods for persistence mapping for the User object.
type UsersObjMapper struct{}

// Users is the ancor for storing/retrieving User objects
var Users UsersPersistenceInterface

// Create inserts User object into a database. Assigns UID and creation time if missing.
func (UsersObjMapper) Create(user *types.User) (*types.User, error) {
	if user.Id.IsZero() {
		user.Id = types.NewUid()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = types.TimeNow()
	}
	if user.Name != nil {
		name := strings.TrimSpace(*user.Name)
		if name == "" {
			user.Name = nil
		} else {
			user.Name = &name
		}
	}

	if err := adp.UserCreate(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns a user object for the given user id.
func (UsersObjMapper) Get(uid types.Uid) (*types.User, error) {
	user, err := adp.UserGet(uid)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, types.ErrUserNotFound
	}
	return user, nil
}

// GetName returns the display name of the user. A missing user or a user without a name
// produces a nil name and no error.
func (UsersObjMapper) GetName(uid types.Uid) (*string, error) {
	user, err := adp.UserGet(uid)
	if err != nil || user == nil {
		return nil, err
	}
	return user.Name, nil
}

// ConversationsPersistenceInterface is an interface which defines methods for persistent storage
// of conversations.
type ConversationsPersistenceInterface interface {
	GetOrCreate(u1, u2 types.Uid) (*types.Conversation, error)
	Get(id types.Uid) (*types.Conversation, error)
	ListForUser(uid types.Uid, opts *types.QueryOpt) ([]types.ConversationSummary, error)
}

// ConversationsObjMapper is a struct to hold methods for persistence mapping for the Conversation object.
type ConversationsObjMapper struct{}

// Conversations is an instance of ConversationsObjMapper to map methods to.
var Conversations ConversationsPersistenceInterface

// GetOrCreate returns the conversation between two users creating it on the first call.
// Concurrent calls for the same pair return the same conversation.
func (ConversationsObjMapper) GetOrCreate(u1, u2 types.Uid) (*types.Conversation, error) {
	if u1.IsZero() || u2.IsZero() {
		return nil, types.ErrMalformed
	}

	conv, err := adp.ConvGetByUsers(u1, u2)
	if err != nil || conv != nil {
		return conv, err
	}

	// First message between the pair. Make sure both users exist.
	for _, uid := range []types.Uid{u1, u2} {
		user, err := adp.UserGet(uid)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, types.ErrUserNotFound
		}
	}

	now := types.TimeNow()
	user1, user2 := types.OrderPair(u1, u2)
	return adp.ConvGetOrCreate(&types.Conversation{
		Id:          types.NewUid(),
		CreatedAt:   now,
		User1:       user1,
		User2:       user2,
		LastUpdated: now,
	})
}

// Get returns the conversation by ID.
func (ConversationsObjMapper) Get(id types.Uid) (*types.Conversation, error) {
	conv, err := adp.ConvGet(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, types.ErrConversationNotFound
	}
	return conv, nil
}

// ListForUser returns conversations of the given user, most recently updated first.
func (ConversationsObjMapper) ListForUser(uid types.Uid, opts *types.QueryOpt) ([]types.ConversationSummary, error) {
	return adp.ConvsForUser(uid, opts)
}

// MessagesPersistenceInterface is an interface which defines methods for persistent storage of messages.
type MessagesPersistenceInterface interface {
	Save(convId, senderId types.Uid, content string) (*types.Message, error)
	GetAll(convId types.Uid, opts *types.QueryOpt) ([]types.Message, error)
}

// MessagesObjMapper is a struct to hold methods for persistence mapping for the Message object.
type MessagesObjMapper struct{}

// Messages is an instance of MessagesObjMapper to map methods to.
var Messages MessagesPersistenceInterface

// Save assigns ID and timestamp to a new message and stores it. The conversation's
// last update time is advanced in the same operation.
func (MessagesObjMapper) Save(convId, senderId types.Uid, content string) (*types.Message, error) {
	msg := &types.Message{
		Id:       types.NewOrderedUid(),
		ConvId:   convId,
		SenderId: senderId,
		Content:  content,
		SentAt:   types.TimeNow(),
	}
	if err := adp.MessageSave(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetAll returns messages of a conversation, oldest first.
func (MessagesObjMapper) GetAll(convId types.Uid, opts *types.QueryOpt) ([]types.Message, error) {
	return adp.MessageGetAll(convId, opts)
}

func init() {
	Store = storeObj{}
	Users = UsersObjMapper{}
	Conversations = ConversationsObjMapper{}
	Messages = MessagesObjMapper{}
}
