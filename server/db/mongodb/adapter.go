// Package mongodb is a database adapter for MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bazaarline/chat/server/db/common"
	"github.com/bazaarline/chat/server/logs"
	"github.com/bazaarline/chat/server/store"
	t "github.com/bazaarline/chat/server/store/types"
	b "go.mongodb.org/mongo-driver/bson"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn              *mdb.Client
	db                *mdb.Database
	dbName            string
	maxResults        int
	maxMessageResults int
	version           int
	ctx               context.Context
	useTransactions   bool
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "bazaarline"

	adpVersion  = 2
	adapterName = "mongodb"

	defaultMaxResults = 1024
	// This is capped by the Session's send queue limit (128).
	defaultMaxMessageResults = 100
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	// Connection string URI https://www.mongodb.com/docs/manual/reference/connection-string/
	Uri            string      `json:"uri,omitempty"`
	Addresses      interface{} `json:"addresses,omitempty"`
	ConnectTimeout int         `json:"timeout,omitempty"`

	// Options separately from ClientOptions (custom options):
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthMechanism string `json:"auth_mechanism,omitempty"`
	AuthSource    string `json:"auth_source,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`

	UseTLS bool `json:"tls,omitempty"`
}

// Stored representations. Ids are kept as canonical UUID strings.
type userDoc struct {
	Id        string    `bson:"_id"`
	CreatedAt time.Time `bson:"createdat"`
	Name      *string   `bson:"name,omitempty"`
}

type convDoc struct {
	Id          string    `bson:"_id"`
	CreatedAt   time.Time `bson:"createdat"`
	User1       string    `bson:"user1"`
	User2       string    `bson:"user2"`
	LastUpdated time.Time `bson:"lastupdated"`
}

type messageDoc struct {
	Id       string    `bson:"_id"`
	ConvId   string    `bson:"convid"`
	SenderId string    `bson:"senderid"`
	Content  string    `bson:"content"`
	SentAt   time.Time `bson:"sentat"`
}

func (d *convDoc) toConversation() *t.Conversation {
	return &t.Conversation{
		Id:          t.ParseUid(d.Id),
		CreatedAt:   d.CreatedAt,
		User1:       t.ParseUid(d.User1),
		User2:       t.ParseUid(d.User2),
		LastUpdated: d.LastUpdated,
	}
}

func (d *messageDoc) toMessage() t.Message {
	return t.Message{
		Id:       t.ParseUid(d.Id),
		ConvId:   t.ParseUid(d.ConvId),
		SenderId: t.ParseUid(d.SenderId),
		Content:  d.Content,
		SentAt:   d.SentAt,
	}
}

// Open initializes mongodb session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	if len(jsonconfig) < 2 {
		return errors.New("adapter mongodb missing config")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter mongodb failed to parse config: " + err.Error())
	}

	var opts mdbopts.ClientOptions

	if config.Uri != "" {
		opts.ApplyURI(config.Uri)
	} else if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if ihosts, ok := config.Addresses.([]interface{}); ok && len(ihosts) > 0 {
		hosts := make([]string, len(ihosts))
		for i, ih := range ihosts {
			h, ok := ih.(string)
			if !ok || h == "" {
				return errors.New("adapter mongodb invalid config.Addresses value")
			}
			hosts[i] = h
		}
		opts.SetHosts(hosts)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet == "" {
		logs.Info.Println("MongoDB configured as standalone or replica_set option not set. Transaction support is disabled.")
	} else {
		opts.SetReplicaSet(config.ReplicaSet)
		a.useTransactions = true
	}

	if config.Username != "" {
		if config.AuthMechanism == "" {
			config.AuthMechanism = "SCRAM-SHA-256"
		}
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: config.AuthMechanism,
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   config.Password != "",
			})
	}

	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(config.ConnectTimeout) * time.Second)
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	if a.maxMessageResults <= 0 {
		a.maxMessageResults = defaultMaxMessageResults
	}

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	if err != nil {
		return err
	}
	a.db = a.conn.Database(a.dbName)
	a.version = -1

	return nil
}

// Close the adapter
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen checks if the adapter is ready for use
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var result struct {
		Key   string `bson:"_id"`
		Value int
	}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}).Decode(&result); err != nil {
		if err == mdb.ErrNoDocuments {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = result.Value
	return result.Value, nil
}

func (a *adapter) updateDbVersion(v int) error {
	a.version = -1
	_, err := a.db.Collection("kvmeta").UpdateOne(a.ctx,
		b.M{"_id": "version"},
		b.M{"$set": b.M{"value": v}},
	)
	return err
}

// CheckDbVersion checks if the actual database version matches adapter version.
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

// Version returns adapter version
func (a *adapter) Version() int {
	return adpVersion
}

// Stats returns DB connection stats object.
func (a *adapter) Stats() interface{} {
	if a.conn == nil {
		return nil
	}
	return map[string]int{"SessionsInProgress": a.conn.NumberSessionsInProgress()}
}

// GetName returns the name of the adapter
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
		return errors.New("adapter mongodb is not connected")
	}
	return a.conn.Ping(a.ctx, nil)
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		logs.Info.Print("Dropping database...")
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	} else if a.isDbInitialized() {
		return errors.New("Database already initialized")
	}
	// Collections (tables) do not need to be explicitly created since MongoDB creates them with first write operation

	indexes := []struct {
		Collection string
		Field      string
		IndexOpts  mdb.IndexModel
	}{
		// Conversations.
		// At most one conversation per pair of users. The pair is stored in canonical order.
		{
			Collection: "conversations",
			IndexOpts: mdb.IndexModel{
				Keys:    b.D{{Key: "user1", Value: 1}, {Key: "user2", Value: 1}},
				Options: mdbopts.Index().SetUnique(true),
			},
		},
		// Listing conversations of a user.
		{
			Collection: "conversations",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "user1", Value: 1}, {Key: "lastupdated", Value: -1}}},
		},
		{
			Collection: "conversations",
			IndexOpts:  mdb.IndexModel{Keys: b.D{{Key: "user2", Value: 1}, {Key: "lastupdated", Value: -1}}},
		},

		// Stored messages.
		// Compound index of 'convid - sentat - _id' for selecting history of a conversation.
		{
			Collection: "messages",
			IndexOpts: mdb.IndexModel{
				Keys: b.D{{Key: "convid", Value: 1}, {Key: "sentat", Value: 1}, {Key: "_id", Value: 1}},
			},
		},
	}

	var err error
	for _, idx := range indexes {
		if idx.Field != "" {
			_, err = a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, mdb.IndexModel{Keys: b.M{idx.Field: 1}})
		} else {
			_, err = a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts)
		}
		if err != nil {
			return err
		}
	}

	// Collection "kvmeta" with metadata key-value pairs.
	// Key in "_id" field.
	// Record current DB version.
	if _, err := a.db.Collection("kvmeta").InsertOne(a.ctx,
		map[string]interface{}{"_id": "version", "value": adpVersion, "createdat": t.TimeNow()}); err != nil {
		return err
	}

	return nil
}

// UpgradeDb upgrades database to the current adapter version.
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
		if _, err := a.db.Collection("messages").Indexes().DropOne(a.ctx, "convid_1_sentat_1"); err != nil {
			return err
		}
		if _, err := a.db.Collection("messages").Indexes().CreateOne(a.ctx, mdb.IndexModel{
			Keys: b.D{{Key: "convid", Value: 1}, {Key: "sentat", Value: 1}, {Key: "_id", Value: 1}},
		}); err != nil {
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

func (a *adapter) maybeStartTransaction(sess mdb.Session) error {
	if a.useTransactions {
		return sess.StartTransaction()
	}
	return nil
}

func (a *adapter) maybeCommitTransaction(ctx context.Context, sess mdb.Session) error {
	if a.useTransactions {
		return sess.CommitTransaction(ctx)
	}
	return nil
}

func (a *adapter) maybeAbortTransaction(ctx context.Context, sess mdb.Session) {
	if a.useTransactions {
		sess.AbortTransaction(ctx)
	}
}

// UserCreate creates user record
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Collection("users").InsertOne(a.ctx, &userDoc{
		Id:        user.Id.String(),
		CreatedAt: user.CreatedAt,
		Name:      user.Name,
	})
	if isDuplicateErr(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by user id. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	var doc userDoc
	if err := a.db.Collection("users").FindOne(a.ctx, b.M{"_id": uid.String()}).Decode(&doc); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &t.User{Id: t.ParseUid(doc.Id), CreatedAt: doc.CreatedAt, Name: doc.Name}, nil
}

func (a *adapter) convFindOne(ctx context.Context, filter b.M) (*t.Conversation, error) {
	var doc convDoc
	if err := a.db.Collection("conversations").FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mdb.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return doc.toConversation(), nil
}

// ConvGetByUsers returns the conversation between two users, nil if there is none.
func (a *adapter) ConvGetByUsers(u1, u2 t.Uid) (*t.Conversation, error) {
	u1, u2 = t.OrderPair(u1, u2)
	return a.convFindOne(a.ctx, b.M{"user1": u1.String(), "user2": u2.String()})
}

// ConvGetOrCreate inserts the candidate unless the pair already has a conversation.
// The unique index on {user1, user2} rejects the second of two concurrent inserts,
// the loser then reads the winner's document.
func (a *adapter) ConvGetOrCreate(candidate *t.Conversation) (*t.Conversation, error) {
	user1, user2 := t.OrderPair(candidate.User1, candidate.User2)
	_, err := a.db.Collection("conversations").InsertOne(a.ctx, &convDoc{
		Id:          candidate.Id.String(),
		CreatedAt:   candidate.CreatedAt,
		User1:       user1.String(),
		User2:       user2.String(),
		LastUpdated: candidate.LastUpdated,
	})
	if err != nil && !isDuplicateErr(err) {
		return nil, err
	}

	conv, err := a.convFindOne(a.ctx, b.M{"user1": user1.String(), "user2": user2.String()})
	if err == nil && conv == nil {
		err = t.ErrInternal
	}
	return conv, err
}

// ConvGet returns conversation by ID, nil if not found.
func (a *adapter) ConvGet(id t.Uid) (*t.Conversation, error) {
	return a.convFindOne(a.ctx, b.M{"_id": id.String()})
}

// ConvsForUser returns user's conversations with the other participant's name and the last message,
// most recently updated first.
func (a *adapter) ConvsForUser(uid t.Uid, opts *t.QueryOpt) ([]t.ConversationSummary, error) {
	limit := common.QueryLimit(opts, a.maxResults)
	findOpts := mdbopts.Find().
		SetSort(b.D{{Key: "lastupdated", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := a.db.Collection("conversations").Find(a.ctx,
		b.M{"$or": b.A{b.M{"user1": uid.String()}, b.M{"user2": uid.String()}}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	var result []t.ConversationSummary
	others := make(map[string][]int)
	for cur.Next(a.ctx) {
		var doc convDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, err
		}
		conv := doc.toConversation()
		sum := t.ConversationSummary{
			Id:          conv.Id,
			OtherUserId: conv.Other(uid),
			LastUpdated: conv.LastUpdated,
		}

		var last messageDoc
		err = a.db.Collection("messages").FindOne(a.ctx, b.M{"convid": doc.Id},
			mdbopts.FindOne().SetSort(b.D{{Key: "sentat", Value: -1}, {Key: "_id", Value: -1}})).Decode(&last)
		if err == nil {
			content, sentAt := last.Content, last.SentAt
			sum.LastMessage, sum.LastMessageAt = &content, &sentAt
		} else if err != mdb.ErrNoDocuments {
			return nil, err
		}

		other := sum.OtherUserId.String()
		others[other] = append(others[other], len(result))
		result = append(result, sum)
	}
	if err = cur.Err(); err != nil {
		return nil, err
	}

	if len(others) == 0 {
		return result, nil
	}

	// Fetch names of the other participants in one query.
	ids := make(b.A, 0, len(others))
	for id := range others {
		ids = append(ids, id)
	}
	ucur, err := a.db.Collection("users").Find(a.ctx, b.M{"_id": b.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer ucur.Close(a.ctx)

	for ucur.Next(a.ctx) {
		var user userDoc
		if err = ucur.Decode(&user); err != nil {
			return nil, err
		}
		for _, i := range others[user.Id] {
			result[i].OtherUserName = user.Name
		}
	}

	return result, ucur.Err()
}

// MessageSave saves the message and advances conversation's last update time. Both writes
// are done in one transaction when the server is a replica set.
func (a *adapter) MessageSave(msg *t.Message) error {
	sess, err := a.conn.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(a.ctx)

	if err = a.maybeStartTransaction(sess); err != nil {
		return err
	}

	return mdb.WithSession(a.ctx, sess, func(sc mdb.SessionContext) error {
		conv, err := a.convFindOne(sc, b.M{"_id": msg.ConvId.String()})
		if err != nil {
			a.maybeAbortTransaction(sc, sess)
			return err
		}
		if conv == nil {
			a.maybeAbortTransaction(sc, sess)
			return t.ErrConversationNotFound
		}

		// Without a replica set there is no transaction: insert the message before
		// touching the conversation so a failed insert leaves it unchanged.
		if _, err = a.db.Collection("messages").InsertOne(sc, &messageDoc{
			Id:       msg.Id.String(),
			ConvId:   msg.ConvId.String(),
			SenderId: msg.SenderId.String(),
			Content:  msg.Content,
			SentAt:   msg.SentAt,
		}); err != nil {
			a.maybeAbortTransaction(sc, sess)
			if isDuplicateErr(err) {
				return t.ErrDuplicate
			}
			return err
		}

		if _, err = a.db.Collection("conversations").UpdateOne(sc,
			b.M{"_id": msg.ConvId.String()},
			b.M{"$max": b.M{"lastupdated": msg.SentAt}}); err != nil {
			a.maybeAbortTransaction(sc, sess)
			return err
		}

		// Finally commit all changes
		return a.maybeCommitTransaction(sc, sess)
	})
}

// MessageGetAll returns the most recent messages of a conversation sent before opts.Before,
// oldest first.
func (a *adapter) MessageGetAll(convId t.Uid, opts *t.QueryOpt) ([]t.Message, error) {
	limit := common.QueryLimit(opts, a.maxMessageResults)
	before := common.QueryBefore(opts)

	filter := b.M{"convid": convId.String()}
	if !before.IsZero() {
		filter["sentat"] = b.M{"$lt": before}
	}
	findOpts := mdbopts.Find().
		SetSort(b.D{{Key: "sentat", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := a.db.Collection("messages").Find(a.ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	msgs := make([]t.Message, 0, limit)
	for cur.Next(a.ctx) {
		var doc messageDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, err
		}
		msgs = append(msgs, doc.toMessage())
	}
	if err = cur.Err(); err != nil {
		return nil, err
	}

	return common.ReverseMessages(msgs), nil
}

func (a *adapter) isDbInitialized() bool {
	var result map[string]int

	findOpts := mdbopts.FindOneOptions{Projection: b.M{"value": 1, "_id": 0}}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}, &findOpts).Decode(&result); err != nil {
		return false
	}
	return true
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}

	if mdb.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key error")
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
