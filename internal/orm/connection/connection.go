// Package connection provides the ObjectConnection handed to the object
// manager: a dedicated database connection with explicit commit/rollback and
// a scoped acquisition helper that always releases it.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by every call on a closed connection
	ErrClosed = errors.New("connection is closed")
	// ErrReadOnly is returned when a write is attempted on a read-only connection
	ErrReadOnly = errors.New("connection is read-only")
	// ErrNoTransaction is returned by Commit and Rollback in autocommit mode
	ErrNoTransaction = errors.New("connection is in autocommit mode")
)

// ObjectConnection is the datastore connection an object manager operation
// runs on. Connections are not shared between goroutines.
type ObjectConnection interface {
	Datastore() any
	ReadOnly() bool
	SetReadOnly(bool) error
	AutoCommit() bool
	SetAutoCommit(bool) error
	Commit() error
	Rollback() error
	Close() error
	IsClosed() bool
}

// Querier is the statement target of a SQL connection: the open transaction
// or the connection itself. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadUncommitted allows dirty reads
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// TxOptions converts the level to sql.TxOptions
func (l IsolationLevel) TxOptions(readOnly bool) *sql.TxOptions {
	var level sql.IsolationLevel
	switch l {
	case ReadUncommitted:
		level = sql.LevelReadUncommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	default:
		level = sql.LevelReadCommitted
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: readOnly}
}

// Option configures a SQLConnection.
type Option func(*SQLConnection)

// WithIsolation sets the isolation of the transactions the connection opens.
func WithIsolation(level IsolationLevel) Option {
	return func(c *SQLConnection) {
		c.isolation = level
	}
}

// WithReadOnly opens the connection read-only.
func WithReadOnly(readOnly bool) Option {
	return func(c *SQLConnection) {
		c.readOnly = readOnly
	}
}

// WithAutoCommit sets the initial autocommit mode. Connections default to
// autocommit.
func WithAutoCommit(autoCommit bool) Option {
	return func(c *SQLConnection) {
		c.autoCommit = autoCommit
	}
}

// SQLConnection is an ObjectConnection over a dedicated *sql.Conn. With
// autocommit off it always has an open transaction: Commit and Rollback end
// it and begin the next one.
type SQLConnection struct {
	ctx  context.Context
	conn *sql.Conn

	mu         sync.Mutex
	tx         *sql.Tx
	isolation  IsolationLevel
	readOnly   bool
	autoCommit bool
	closed     atomic.Bool
}

// Open takes a dedicated connection from db.
func Open(ctx context.Context, db *sql.DB, opts ...Option) (*SQLConnection, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	c := &SQLConnection{
		ctx:        ctx,
		conn:       conn,
		isolation:  ReadCommitted,
		autoCommit: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !c.autoCommit {
		c.mu.Lock()
		err := c.beginLocked()
		c.mu.Unlock()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *SQLConnection) beginLocked() error {
	tx, err := c.conn.BeginTx(c.ctx, c.isolation.TxOptions(c.readOnly))
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

// Datastore returns the underlying *sql.Conn.
func (c *SQLConnection) Datastore() any {
	return c.conn
}

// Querier returns the open transaction, or the connection in autocommit mode.
func (c *SQLConnection) Querier() (Querier, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return c.tx, nil
	}
	return c.conn, nil
}

// InTransaction reports whether a transaction is open.
func (c *SQLConnection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

func (c *SQLConnection) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// SetReadOnly takes effect for the next transaction.
func (c *SQLConnection) SetReadOnly(readOnly bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = readOnly
	return nil
}

func (c *SQLConnection) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

// SetAutoCommit(false) begins a transaction. SetAutoCommit(true) commits the
// open one.
func (c *SQLConnection) SetAutoCommit(autoCommit bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if autoCommit == c.autoCommit {
		return nil
	}
	c.autoCommit = autoCommit
	if !autoCommit {
		return c.beginLocked()
	}
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Commit commits the open transaction and begins the next.
func (c *SQLConnection) Commit() error {
	return c.end(func(tx *sql.Tx) error { return tx.Commit() }, "commit")
}

// Rollback rolls back the open transaction and begins the next.
func (c *SQLConnection) Rollback() error {
	return c.end(func(tx *sql.Tx) error { return tx.Rollback() }, "rollback")
}

func (c *SQLConnection) end(fn func(*sql.Tx) error, op string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return ErrNoTransaction
	}
	err := fn(c.tx)
	c.tx = nil
	if err != nil {
		return fmt.Errorf("failed to %s transaction: %w", op, err)
	}
	return c.beginLocked()
}

// Close rolls back an open transaction and releases the connection. Closing
// twice is a no-op.
func (c *SQLConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var rbErr error
	if c.tx != nil {
		rbErr = c.tx.Rollback()
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback on close: %w", rbErr)
	}
	return nil
}

func (c *SQLConnection) IsClosed() bool {
	return c.closed.Load()
}

// With runs fn on a new connection with autocommit off. The transaction is
// committed when fn succeeds and rolled back when it fails or panics. The
// connection is closed on every path.
func With(ctx context.Context, db *sql.DB, fn func(c *SQLConnection) error, opts ...Option) (err error) {
	opts = append(opts, WithAutoCommit(false))
	c, err := Open(ctx, db, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			_ = c.finish(false)
			panic(p)
		}
	}()

	if err := fn(c); err != nil {
		if rbErr := c.finish(false); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	return c.finish(true)
}

// finish ends the open transaction without beginning another.
func (c *SQLConnection) finish(commit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.tx
	c.tx = nil
	c.autoCommit = true
	if tx == nil {
		return nil
	}
	if commit {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
