// Package mysql is a database adapter for MySQL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bazaarline/chat/server/db/common"
	"github.com/bazaarline/chat/server/store"
	t "github.com/bazaarline/chat/server/store/types"
	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dsn    string
	dbName string
	// Maximum number of records to return
	maxResults int
	// Maximum number of message records to return
	maxMessageResults int
	version           int

	// Single query timeout.
	sqlTimeout time.Duration
	// DB transaction timeout.
	txTimeout time.Duration
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/bazaarline?parseTime=true"
	defaultDatabase = "bazaarline"

	adpVersion = 2

	adapterName = "mysql"

	defaultMaxResults = 1024
	// This is capped by the Session's send queue limit (128).
	defaultMaxMessageResults = 100

	// If DB request timeout is specified,
	// we allocate txTimeoutMultiplier times more time for transactions.
	txTimeoutMultiplier = 1.5
)

type configType struct {
	// DB connection settings.
	// Please, see https://pkg.go.dev/github.com/go-sql-driver/mysql#Config
	// for the full list of fields.
	ms.Config
	// Deprecated.
	DSN      string `json:"dsn,omitempty"`
	Database string `json:"database,omitempty"`

	// Connection pool settings.
	//
	// Maximum number of open connections to the database.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// Maximum number of connections in the idle connection pool.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// Maximum amount of time a connection may be reused (in seconds).
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`

	// DB request timeout (in seconds).
	// If 0 (or negative), no timeout is applied.
	SqlTimeout int `json:"sql_timeout,omitempty"`
}

func (a *adapter) getContext() (context.Context, context.CancelFunc) {
	if a.sqlTimeout > 0 {
		return context.WithTimeout(context.Background(), a.sqlTimeout)
	}
	return context.Background(), nil
}

func (a *adapter) getContextForTx() (context.Context, context.CancelFunc) {
	if a.txTimeout > 0 {
		return context.WithTimeout(context.Background(), a.txTimeout)
	}
	return context.Background(), nil
}

// Open initializes database session
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	if len(jsonconfig) < 2 {
		return errors.New("adapter mysql missing config")
	}

	var err error
	defaultCfg := ms.NewConfig()
	config := configType{Config: *defaultCfg}
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("mysql adapter failed to parse config: " + err.Error())
	}

	if dsn := config.FormatDSN(); dsn != defaultCfg.FormatDSN() {
		// MySql config is specified. Use it.
		a.dbName = config.DBName
		a.dsn = dsn
		if config.DSN != "" || config.Database != "" {
			return errors.New("mysql config: `dsn` and `database` fields are deprecated. Please, specify individual connection settings via mysql.Config: https://pkg.go.dev/github.com/go-sql-driver/mysql#Config")
		}
	} else {
		// Otherwise, use DSN and Database to configure database connection.
		// Note: this method is deprecated.
		if config.DSN != "" {
			a.dsn = config.DSN
		} else {
			a.dsn = defaultDSN
		}
		a.dbName = config.Database
	}

	// Timestamps must be returned as time.Time.
	cfg, err := ms.ParseDSN(a.dsn)
	if err != nil {
		return errors.New("mysql adapter failed to parse dsn: " + err.Error())
	}
	cfg.ParseTime = true
	if a.dbName == "" {
		a.dbName = cfg.DBName
	}
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}
	cfg.DBName = a.dbName
	a.dsn = cfg.FormatDSN()

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	if a.maxMessageResults <= 0 {
		a.maxMessageResults = defaultMaxMessageResults
	}

	// This just initializes the driver but does not open the network connection.
	a.db, err = sqlx.Open("mysql", a.dsn)
	if err != nil {
		return err
	}

	// Actually opening the network connection.
	err = a.db.Ping()
	if isMissingDb(err) {
		// Ignore missing database here. If we are initializing the database
		// missing DB is OK.
		err = nil
	}
	if err == nil {
		if config.MaxOpenConns > 0 {
			a.db.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			a.db.SetMaxIdleConns(config.MaxIdleConns)
		}
		if config.ConnMaxLifetime > 0 {
			a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
		}
		if config.SqlTimeout > 0 {
			a.sqlTimeout = time.Duration(config.SqlTimeout) * time.Second
			// We allocate txTimeoutMultiplier times sqlTimeout for transactions.
			a.txTimeout = time.Duration(float64(config.SqlTimeout)*txTimeoutMultiplier) * time.Second
		}
	}
	return err
}

// Close closes the underlying database connection
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does not check if
// connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}
	var vers int
	err := a.db.GetContext(ctx, &vers, "SELECT `value` FROM kvmeta WHERE `key`='version'")
	if err != nil {
		if isMissingDb(err) || isMissingTable(err) || err == sql.ErrNoRows {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = vers

	return vers, nil
}

func (a *adapter) updateDbVersion(v int) error {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}
	a.version = -1
	if _, err := a.db.ExecContext(ctx, "UPDATE kvmeta SET `value`=? WHERE `key`='version'", v); err != nil {
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

// Stats returns DB connection stats object.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	return a.db.Stats()
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
	if a.db == nil {
		return errors.New("mysql adapter is not connected")
	}
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}
	return a.db.PingContext(ctx)
}

// CreateDb initializes the storage.
func (a *adapter) CreateDb(reset bool) error {
	var err error

	// Can't use an existing connection because it's configured with a database name which may not exist.
	// Don't care if it does not close cleanly.
	a.db.Close()

	// This DSN has been parsed before and produced no error, not checking for errors here.
	cfg, _ := ms.ParseDSN(a.dsn)
	// Clear database name
	cfg.DBName = ""

	a.db, err = sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}

	if reset {
		if _, err = a.db.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}

	if _, err = a.db.Exec("CREATE DATABASE " + a.dbName + " CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return err
	}

	// Reopen the pool with the new database selected: USE applies to a single connection only.
	a.db.Close()
	if a.db, err = sqlx.Open("mysql", a.dsn); err != nil {
		return err
	}

	// MySQL commits implicitly after every CREATE TABLE so there is no point in a transaction here.
	if _, err = a.db.Exec(
		`CREATE TABLE users(
			id        CHAR(36) NOT NULL,
			createdat DATETIME(3) NOT NULL,
			name      VARCHAR(255),
			PRIMARY KEY(id)
		)`); err != nil {
		return err
	}

	// Exactly one conversation per unordered pair of users: the pair is stored
	// in canonical order and the (user1, user2) index is unique.
	if _, err = a.db.Exec(
		`CREATE TABLE conversations(
			id          CHAR(36) NOT NULL,
			createdat   DATETIME(3) NOT NULL,
			user1       CHAR(36) NOT NULL,
			user2       CHAR(36) NOT NULL,
			lastupdated DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			FOREIGN KEY(user1) REFERENCES users(id),
			FOREIGN KEY(user2) REFERENCES users(id),
			UNIQUE INDEX conversations_user1_user2(user1, user2),
			INDEX conversations_user1_lastupdated(user1, lastupdated),
			INDEX conversations_user2_lastupdated(user2, lastupdated)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		`CREATE TABLE messages(
			id       CHAR(36) NOT NULL,
			convid   CHAR(36) NOT NULL,
			senderid CHAR(36) NOT NULL,
			content  TEXT NOT NULL,
			sentat   DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			FOREIGN KEY(convid) REFERENCES conversations(id),
			FOREIGN KEY(senderid) REFERENCES users(id),
			INDEX messages_convid_sentat_id(convid, sentat, id)
		)`); err != nil {
		return err
	}

	if _, err = a.db.Exec(
		"CREATE TABLE kvmeta(" +
			"`key`       VARCHAR(64) NOT NULL," +
			"createdat   DATETIME(3)," +
			"`value`     TEXT," +
			"PRIMARY KEY(`key`)" +
			")"); err != nil {
		return err
	}
	_, err = a.db.Exec("INSERT INTO kvmeta(`key`,createdat,`value`) VALUES('version',?,?)",
		t.TimeNow(), adpVersion)
	return err
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
		if _, err := a.db.Exec("ALTER TABLE messages DROP INDEX messages_convid_sentat"); err != nil {
			return err
		}
		if _, err := a.db.Exec("ALTER TABLE messages ADD INDEX messages_convid_sentat_id(convid, sentat, id)"); err != nil {
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
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	_, err := a.db.ExecContext(ctx, "INSERT INTO users(id,createdat,name) VALUES(?,?,?)",
		user.Id, user.CreatedAt, user.Name)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet fetches a single user by user id. If user is not found it returns (nil, nil)
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	var user t.User
	err := a.db.QueryRowxContext(ctx, "SELECT id,createdat,name FROM users WHERE id=?", uid).
		Scan(&user.Id, &user.CreatedAt, &user.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type queryer interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func convGetByUsers(ctx context.Context, q queryer, user1, user2 t.Uid) (*t.Conversation, error) {
	var conv t.Conversation
	err := q.QueryRowxContext(ctx,
		"SELECT id,createdat,user1,user2,lastupdated FROM conversations WHERE user1=? AND user2=?", user1, user2).
		Scan(&conv.Id, &conv.CreatedAt, &conv.User1, &conv.User2, &conv.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConvGetByUsers returns the conversation between two users, nil if there is none.
func (a *adapter) ConvGetByUsers(u1, u2 t.Uid) (*t.Conversation, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	u1, u2 = t.OrderPair(u1, u2)
	return convGetByUsers(ctx, a.db, u1, u2)
}

// ConvGetOrCreate inserts the candidate unless the pair already has a conversation.
// A duplicate key error means another caller won the race, its conversation is returned.
func (a *adapter) ConvGetOrCreate(candidate *t.Conversation) (*t.Conversation, error) {
	ctx, cancel := a.getContextForTx()
	if cancel != nil {
		defer cancel()
	}

	user1, user2 := t.OrderPair(candidate.User1, candidate.User2)
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO conversations(id,createdat,user1,user2,lastupdated) VALUES(?,?,?,?,?)",
		candidate.Id, candidate.CreatedAt, user1, user2, candidate.LastUpdated)
	if err != nil && !isDupe(err) {
		return nil, err
	}

	conv, err := convGetByUsers(ctx, a.db, user1, user2)
	if err == nil && conv == nil {
		err = t.ErrInternal
	}
	return conv, err
}

// ConvGet returns conversation by ID, nil if not found.
func (a *adapter) ConvGet(id t.Uid) (*t.Conversation, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	var conv t.Conversation
	err := a.db.QueryRowxContext(ctx,
		"SELECT id,createdat,user1,user2,lastupdated FROM conversations WHERE id=?", id).
		Scan(&conv.Id, &conv.CreatedAt, &conv.User1, &conv.User2, &conv.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConvsForUser returns user's conversations with the other participant's name and the last message,
// most recently updated first.
func (a *adapter) ConvsForUser(uid t.Uid, opts *t.QueryOpt) ([]t.ConversationSummary, error) {
	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	limit := common.QueryLimit(opts, a.maxResults)
	rows, err := a.db.QueryxContext(ctx,
		`SELECT c.id, IF(c.user1=?, c.user2, c.user1) AS other, u.name,
				(SELECT m.content FROM messages AS m WHERE m.convid=c.id ORDER BY m.sentat DESC, m.id DESC LIMIT 1),
				(SELECT m.sentat FROM messages AS m WHERE m.convid=c.id ORDER BY m.sentat DESC, m.id DESC LIMIT 1),
				c.lastupdated
			FROM conversations AS c
			LEFT JOIN users AS u ON u.id=IF(c.user1=?, c.user2, c.user1)
			WHERE c.user1=? OR c.user2=?
			ORDER BY c.lastupdated DESC, c.id
			LIMIT ?`, uid, uid, uid, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []t.ConversationSummary
	for rows.Next() {
		var sum t.ConversationSummary
		if err = rows.Scan(&sum.Id, &sum.OtherUserId, &sum.OtherUserName, &sum.LastMessage,
			&sum.LastMessageAt, &sum.LastUpdated); err != nil {
			break
		}
		result = append(result, sum)
	}
	if err == nil {
		err = rows.Err()
	}

	return result, err
}

// MessageSave saves the message and advances conversation's last update time in one transaction.
func (a *adapter) MessageSave(msg *t.Message) error {
	ctx, cancel := a.getContextForTx()
	if cancel != nil {
		defer cancel()
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO messages(id,convid,senderid,content,sentat) VALUES(?,?,?,?,?)",
		msg.Id, msg.ConvId, msg.SenderId, msg.Content, msg.SentAt); err != nil {
		if isDupe(err) {
			err = t.ErrDuplicate
		}
		return err
	}

	var res sql.Result
	if res, err = tx.ExecContext(ctx,
		"UPDATE conversations SET lastupdated=GREATEST(lastupdated,?) WHERE id=?",
		msg.SentAt, msg.ConvId); err != nil {
		return err
	}
	// MySQL reports zero affected rows when the value did not change, so check existence separately.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err = tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM conversations WHERE id=?", msg.ConvId); err != nil {
			return err
		}
		if exists == 0 {
			err = t.ErrConversationNotFound
			return err
		}
	}

	return tx.Commit()
}

// MessageGetAll returns the most recent messages of a conversation sent before opts.Before,
// oldest first.
func (a *adapter) MessageGetAll(convId t.Uid, opts *t.QueryOpt) ([]t.Message, error) {
	limit := common.QueryLimit(opts, a.maxMessageResults)
	before := common.QueryBefore(opts)

	ctx, cancel := a.getContext()
	if cancel != nil {
		defer cancel()
	}

	query := "SELECT id,convid,senderid,content,sentat FROM messages WHERE convid=?"
	args := []interface{}{convId}
	if !before.IsZero() {
		query += " AND sentat<?"
		args = append(args, before)
	}
	query += " ORDER BY sentat DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]t.Message, 0, limit)
	for rows.Next() {
		var msg t.Message
		if err = rows.Scan(&msg.Id, &msg.ConvId, &msg.SenderId, &msg.Content, &msg.SentAt); err != nil {
			break
		}
		msgs = append(msgs, msg)
	}
	if err == nil {
		err = rows.Err()
	}

	return common.ReverseMessages(msgs), err
}

func isDupe(err error) bool {
	if err == nil {
		return false
	}

	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1062
}

func isMissingDb(err error) bool {
	if err == nil {
		return false
	}

	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1049
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}

	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1146
}

// GetTestAdapter returns an adapter object. It's required for running tests.
func GetTestAdapter() *adapter {
	return &adapter{}
}

func init() {
	store.RegisterAdapter(&adapter{})
}
