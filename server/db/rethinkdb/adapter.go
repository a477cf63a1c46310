// Package rethinkdb is a database adapter for RethinkDB.
package rethinkdb

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bazaarline/chat/server/db/common"
	"github.com/bazaarline/chat/server/store"
	t "github.com/bazaarline/chat/server/store/types"
	rdb "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

// adapter holds RethinkDb connection data.
type adapter struct {
	conn              *rdb.Session
	dbName            string
	maxResults        int
	maxMessageResults int
	version           int
}

const (
	defaultHost     = "localhost:28015"
	defaultDatabase = "bazaarline"

	adpVersion = 2

	adapterName = "rethinkdb"

	defaultMaxResults = 1024
	// This is capped by the Session's send queue limit (128).
	defaultMaxMessageResults = 100
)

// See https://godoc.org/github.com/rethinkdb/rethinkdb-go#ConnectOpts for explanations.
type configType struct {
	Database          string      `json:"database,omitempty"`
	Addresses         interface{} `json:"addresses,omitempty"`
	Username          string      `json:"username,omitempty"`
	Password          string      `json:"password,omitempty"`
	AuthKey           string      `json:"authkey,omitempty"`
	Timeout           int         `json:"timeout,omitempty"`
	WriteTimeout      int         `json:"write_timeout,omitempty"`
	ReadTimeout       int         `json:"read_timeout,omitempty"`
	KeepAlivePeriod   int         `json:"keep_alive_timeout,omitempty"`
	InitialCap        int         `json:"initial_cap,omitempty"`
	MaxOpen           int         `json:"max_open,omitempty"`
	DiscoverHosts     bool        `json:"discover_hosts,omitempty"`
	HostDecayDuration int         `json:"host_decay_duration,omitempty"`
}

// Stored representations. Ids are kept as canonical UUID strings.
type userDoc struct {
	Id        string
	CreatedAt time.Time
	Name      *string `rethinkdb:",omitempty"`
}

// Primary key of a conversation is the canonical pair key "user1:user2", which makes
// the database reject a second conversation for the same pair.
type convDoc struct {
	Id          string
	ConvId      string
	CreatedAt   time.Time
	User1       string
	User2       string
	LastUpdated time.Time
}

type messageDoc struct {
	Id       string
	ConvId   string
	SenderId string
	Content  string
	SentAt   time.Time
}

func (d *convDoc) toConversation() *t.Conversation {
	return &t.Conversation{
		Id:          t.ParseUid(d.ConvId),
		CreatedAt:   d.CreatedAt,
		User1:       t.ParseUid(d.User1),
		User2:       t.ParseUid(d.User2),
		LastUpdated: d.LastUpdated,
	}
}

// Open initializes rethinkdb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter rethinkdb is already connected")
	}

	if len(jsonconfig) < 2 {
		return errors.New("adapter rethinkdb missing config")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter rethinkdb failed to parse config: " + err.Error())
	}

	var opts rdb.ConnectOpts

	if config.Addresses == nil {
		opts.Address = defaultHost
	} else if host, ok := config.Addresses.(string); ok {
		opts.Address = host
	} else if ihosts, ok := config.Addresses.([]interface{}); ok && len(ihosts) > 0 {
		hosts := make([]string, len(ihosts))
		for i, ih := range ihosts {
			h, ok := ih.(string)
			if !ok || h == "" {
				return errors.New("adapter rethinkdb invalid config.Addresses value")
			}
			hosts[i] = h
		}
		opts.Addresses = hosts
	} else {
		return errors.New("adapter rethinkdb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	if a.maxMessageResults <= 0 {
		a.maxMessageResults = defaultMaxMessageResults
	}

	opts.Database = a.dbName
	opts.Username = config.Username
	opts.Password = config.Password
	opts.AuthKey = config.AuthKey
	opts.Timeout = time.Duration(config.Timeout) * time.Second
	opts.WriteTimeout = time.Duration(config.WriteTimeout) * time.Second
	opts.ReadTimeout = time.Duration(config.ReadTimeout) * time.Second
	opts.KeepAlivePeriod = time.Duration(config.KeepAlivePeriod) * time.Second
	opts.InitialCap = config.InitialCap
	opts.MaxOpen = config.MaxOpen
	opts.DiscoverHosts = config.DiscoverHosts
	opts.HostDecayDuration = time.Duration(config.HostDecayDuration) * time.Second

	a.conn, err = rdb.Connect(opts)
	if err != nil {
		return err
	}

	a.version = -1

	return nil
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		// Close will wait for all outstanding requests to finish
		err = a.conn.Close()
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	cursor, err := rdb.DB(a.dbName).Table("kvmeta").Get("version").Field("value").Run(a.conn)
	if err != nil {
		if isMissingDb(err) {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return -1, errors.New("Database not initialized")
	}

	var vers int
	if err = cursor.One(&vers); err != nil {
		return -1, err
	}

	a.version = vers

	return vers, nil
}

func (a *adapter) updateDbVersion(v int) error {
	a.version = -1
	if _, err := rdb.DB(a.dbName).Table("kvmeta").Get("version").
		Update(map[string]interface{}{"value": v}).RunWrite(a.conn); err != nil {
		return err
	}
	return nil
}

// CheckDbVersion checks whether the actual DB version matches the expected version of this adapter.
func (a *adapter) CheckDbVersion() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}

	if version != adpVersion {
		return errors.New("Invalid database version " + strconv.Itoa(version) +
			". Expected " + strconv.Itoa(adpVersion))
	}

	return nil
}

// Version returns adapter version.
func (adapter) Version() int {
	return adpVersion
}

// Stats returns DB connection stats object. RethinkDB driver does not report stats.
func (a *adapter) Stats() interface{} {
	return nil
}

// GetName returns string that adapter uses to register itself with store.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}

	return nil
}

// Ping checks that the database is reachable.
func (a *adapter) Ping() error {
	if a.conn == nil {
		return errors.New("adapter rethinkdb is not connected")
	}
	cursor, err := rdb.Expr(1).Run(a.conn)
	if err != nil {
		return err
	}
	return cursor.Close()
}

// CreateDb initializes the storage. If reset is true, the database is first deleted losing all the data.
func (a *adapter) CreateDb(reset bool) error {
	// Drop database if exists, ignore error if it does not.
	if reset {
		rdb.DBDrop(a.dbName).RunWrite(a.conn)
	}

	if _, err := rdb.DBCreate(a.dbName).RunWrite(a.conn); err != nil {
		return err
	}

	// Users
	if _, err := rdb.DB(a.dbName).TableCreate("users", rdb.TableCreateOpts{PrimaryKey: "Id"}).RunWrite(a.conn); err != nil {
		return err
	}

	// Conversations. The primary key is a user1:user2 string.
	if _, err := rdb.DB(a.dbName).TableCreate("conversations", rdb.TableCreateOpts{PrimaryKey: "Id"}).RunWrite(a.conn); err != nil {
		return err
	}
	if _, err := rdb.DB(a.dbName).Table("conversations").IndexCreate("ConvId").RunWrite(a.conn); err != nil {
		return err
	}
	// Multi-index on both participants for listing conversations of a user.
	if _, err := rdb.DB(a.dbName).Table("conversations").IndexCreateFunc("Users",
		func(row rdb.Term) interface{} {
			return []interface{}{row.Field("User1"), row.Field("User2")}
		}, rdb.IndexCreateOpts{Multi: true}).RunWrite(a.conn); err != nil {
		return err
	}

	// Stored messages
	if _, err := rdb.DB(a.dbName).TableCreate("messages", rdb.TableCreateOpts{PrimaryKey: "Id"}).RunWrite(a.conn); err != nil {
		return err
	}
	if _, err := rdb.DB(a.dbName).Table("messages").IndexCreateFunc("ConvId_SentAt_Id",
		func(row rdb.Term) interface{} {
			return []interface{}{row.Field("ConvId"), row.Field("SentAt"), row.Field("Id")}
		}).RunWrite(a.conn); err != nil {
		return err
	}

	// Key-value metadata.
	if _, err := rdb.DB(a.dbName).TableCreate("kvmeta", rdb.TableCreateOpts{PrimaryKey: "key"}).RunWrite(a.conn); err != nil {
		return err
	}

	// Record current DB version.
	if _, err := rdb.DB(a.dbName).Table("kvmeta").Insert(
		map[string]interface{}{"key": "version", "value": adpVersion, "createdat": t.TimeNow()}).RunWrite(a.conn); err != nil {
		return err
	}

	// Wait for indexes to be built before returning.
	for _, table := range []string{"conversations", "messages"} {
		if _, err := rdb.DB(a.dbName).Table(table).IndexWait().Run(a.conn); err != nil {
			return err
		}
	}

	return nil
}

// UpgradeDb upgrades the database, if necessary.
func (a *adapter) UpgradeDb() error {
	bumpVersion := func(a *adapter, x int) error {
		if err := a.updateDbVersion(x); err != nil {
			return err
		}
		_, err := a.GetDbVersion()
		return err
	}

	if _, err := a.GetDbVersion(); err != nil {
		return err
	}

	if a.version == 1 {
		// Perform database upgrade from version 1 to version 2.

		// History pagination uses message id as a tie breaker.
		if _, err := rdb.DB(a.dbName).Table("messages").IndexDrop("ConvId_SentAt").RunWrite(a.conn); err != nil {
			return err
		}
		if _, err := rdb.DB(a.dbName).Table("messages").IndexCreateFunc("ConvId_SentAt_Id",
			func(row rdb.Term) interface{} {
				return []interface{}{row.Field("ConvId"), row.Field("SentAt"), row.Field("Id")}
			}).RunWrite(a.conn); err != nil {
			return err
		}

		if err := bumpVersion(a, 2); err != nil {
			return err
		}
	}

	if a.version != adpVersion {
		return errors.New("Failed to perform database upgrade to version " + strconv.Itoa(adpVersion) +
			". DB is still at " + strconv.Itoa(a.version))
	}
	return nil
}

// UserCreate creates a new user. Returns t.ErrDuplicate if a user with the same ID exists.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := rdb.DB(a.dbName).Table("users").Insert(&userDoc{
		Id:        user.Id.String(),
		CreatedAt: user.CreatedAt,
		Name:      user.Name,
	}).RunWrite(a.conn)
	if err != nil && rdb.IsConflictErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by user id. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	cursor, err := rdb.DB(a.dbName).Table("users").Get(uid.String()).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, nil
	}

	var doc userDoc
	if err = cursor.One(&doc); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return &t.User{Id: t.ParseUid(doc.Id), CreatedAt: doc.CreatedAt, Name: doc.Name}, nil
}

func (a *adapter) convGetOne(term rdb.Term) (*t.Conversation, error) {
	cursor, err := term.Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, nil
	}

	var doc convDoc
	if err = cursor.One(&doc); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return doc.toConversation(), nil
}

// ConvGetByUsers returns the conversation between two users, nil if there is none.
func (a *adapter) ConvGetByUsers(u1, u2 t.Uid) (*t.Conversation, error) {
	return a.convGetOne(rdb.DB(a.dbName).Table("conversations").Get(t.PairKey(u1, u2)))
}

// ConvGetOrCreate inserts the candidate unless the pair already has a conversation.
func (a *adapter) ConvGetOrCreate(candidate *t.Conversation) (*t.Conversation, error) {
	user1, user2 := t.OrderPair(candidate.User1, candidate.User2)
	key := t.PairKey(user1, user2)
	_, err := rdb.DB(a.dbName).Table("conversations").Insert(&convDoc{
		Id:          key,
		ConvId:      candidate.Id.String(),
		CreatedAt:   candidate.CreatedAt,
		User1:       user1.String(),
		User2:       user2.String(),
		LastUpdated: candidate.LastUpdated,
	}, rdb.InsertOpts{Conflict: "error"}).RunWrite(a.conn)
	if err != nil && !rdb.IsConflictErr(err) {
		return nil, err
	}

	conv, err := a.convGetOne(rdb.DB(a.dbName).Table("conversations").Get(key))
	if err == nil && conv == nil {
		err = t.ErrInternal
	}
	return conv, err
}

// ConvGet returns conversation by ID, nil if not found.
func (a *adapter) ConvGet(id t.Uid) (*t.Conversation, error) {
	return a.convGetOne(rdb.DB(a.dbName).Table("conversations").GetAllByIndex("ConvId", id.String()).Limit(1))
}

// lastMessage returns the most recent message of a conversation, nil if there are none.
func (a *adapter) lastMessage(convId string) (*messageDoc, error) {
	cursor, err := rdb.DB(a.dbName).Table("messages").
		Between([]interface{}{convId, rdb.MinVal, rdb.MinVal}, []interface{}{convId, rdb.MaxVal, rdb.MaxVal},
			rdb.BetweenOpts{Index: "ConvId_SentAt_Id"}).
		OrderBy(rdb.OrderByOpts{Index: rdb.Desc("ConvId_SentAt_Id")}).Limit(1).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var msg messageDoc
	if err = cursor.One(&msg); err != nil {
		if err == rdb.ErrEmptyResult {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ConvsForUser returns user's conversations with the other participant's name and the last message,
// most recently updated first.
func (a *adapter) ConvsForUser(uid t.Uid, opts *t.QueryOpt) ([]t.ConversationSummary, error) {
	cursor, err := rdb.DB(a.dbName).Table("conversations").GetAllByIndex("Users", uid.String()).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var docs []convDoc
	if err = cursor.All(&docs); err != nil {
		return nil, err
	}

	// Conversation with self is indexed twice.
	seen := make(map[string]bool, len(docs))
	var result []t.ConversationSummary
	for i := range docs {
		if seen[docs[i].Id] {
			continue
		}
		seen[docs[i].Id] = true
		conv := docs[i].toConversation()
		result = append(result, t.ConversationSummary{
			Id:          conv.Id,
			OtherUserId: conv.Other(uid),
			LastUpdated: conv.LastUpdated,
		})
	}
	result = common.SortSummaries(result, common.QueryLimit(opts, a.maxResults))

	others := make(map[string][]int)
	for i := range result {
		last, err := a.lastMessage(result[i].Id.String())
		if err != nil {
			return nil, err
		}
		if last != nil {
			content, sentAt := last.Content, last.SentAt
			result[i].LastMessage, result[i].LastMessageAt = &content, &sentAt
		}
		other := result[i].OtherUserId.String()
		others[other] = append(others[other], i)
	}

	if len(others) == 0 {
		return result, nil
	}

	ids := make([]interface{}, 0, len(others))
	for id := range others {
		ids = append(ids, id)
	}
	ucursor, err := rdb.DB(a.dbName).Table("users").GetAll(ids...).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer ucursor.Close()

	var user userDoc
	for ucursor.Next(&user) {
		for _, i := range others[user.Id] {
			result[i].OtherUserName = user.Name
		}
		user = userDoc{}
	}

	return result, ucursor.Err()
}

// MessageSave saves the message and advances conversation's last update time.
// RethinkDB has no multi-document transactions: the message is inserted before the
// conversation is touched so a failed insert leaves the conversation unchanged.
func (a *adapter) MessageSave(msg *t.Message) error {
	conv, err := a.ConvGet(msg.ConvId)
	if err != nil {
		return err
	}
	if conv == nil {
		return t.ErrConversationNotFound
	}

	if _, err = rdb.DB(a.dbName).Table("messages").Insert(&messageDoc{
		Id:       msg.Id.String(),
		ConvId:   msg.ConvId.String(),
		SenderId: msg.SenderId.String(),
		Content:  msg.Content,
		SentAt:   msg.SentAt,
	}).RunWrite(a.conn); err != nil {
		if rdb.IsConflictErr(err) {
			return t.ErrDuplicate
		}
		return err
	}

	sentAt := msg.SentAt
	_, err = rdb.DB(a.dbName).Table("conversations").GetAllByIndex("ConvId", msg.ConvId.String()).
		Update(func(row rdb.Term) interface{} {
			return map[string]interface{}{
				"LastUpdated": rdb.Branch(row.Field("LastUpdated").Lt(sentAt), sentAt, row.Field("LastUpdated")),
			}
		}).RunWrite(a.conn)
	return err
}

// MessageGetAll returns the most recent messages of a conversation sent before opts.Before,
// oldest first.
func (a *adapter) MessageGetAll(convId t.Uid, opts *t.QueryOpt) ([]t.Message, error) {
	limit := common.QueryLimit(opts, a.maxMessageResults)
	before := common.QueryBefore(opts)

	id := convId.String()
	lower := []interface{}{id, rdb.MinVal, rdb.MinVal}
	var upper []interface{}
	if before.IsZero() {
		upper = []interface{}{id, rdb.MaxVal, rdb.MaxVal}
	} else {
		// Right bound is open by default: [id, before, MinVal] excludes everything sent at 'before'.
		upper = []interface{}{id, before, rdb.MinVal}
	}

	cursor, err := rdb.DB(a.dbName).Table("messages").
		Between(lower, upper, rdb.BetweenOpts{Index: "ConvId_SentAt_Id"}).
		OrderBy(rdb.OrderByOpts{Index: rdb.Desc("ConvId_SentAt_Id")}).Limit(limit).Run(a.conn)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	msgs := make([]t.Message, 0, limit)
	var doc messageDoc
	for cursor.Next(&doc) {
		msgs = append(msgs, t.Message{
			Id:       t.ParseUid(doc.Id),
			ConvId:   t.ParseUid(doc.ConvId),
			SenderId: t.ParseUid(doc.SenderId),
			Content:  doc.Content,
			SentAt:   doc.SentAt,
		})
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}

	return common.ReverseMessages(msgs), nil
}

func isMissingDb(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "does not exist")
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
