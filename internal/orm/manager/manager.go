// Package manager runs the persistence lifecycle of objects: auto fields,
// listeners and state transitions around the calls of a Persister.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/cache"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/object"
)

// ConnectFunc opens a connection for one unit of work.
type ConnectFunc func(ctx context.Context) (connection.ObjectConnection, error)

// Manager is safe for concurrent use. Connections are not: every goroutine
// works on its own.
type Manager struct {
	persister Persister
	connect   ConnectFunc
	tree      *metadata.Tree
	logger    *zap.Logger
	listeners []Listener
	now       func() time.Time

	cache    cache.Cache
	cacheTTL time.Duration

	// Per MetaObject, keyed by node identity
	primaryKeys sync.Map
	autoFields  sync.Map
	persistable sync.Map

	asyncWorkers int
	asyncQueue   int
	asyncOnce    sync.Once
	async        *AsyncExecutor
	closeMu      sync.RWMutex
	closed       bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger. Operations log at debug, failures at error.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithListeners adds persistence listeners, called in order.
func WithListeners(listeners ...Listener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, listeners...)
	}
}

// WithAsyncWorkers sizes the pool that runs the async operations.
func WithAsyncWorkers(workers, queueSize int) Option {
	return func(m *Manager) {
		m.asyncWorkers = workers
		m.asyncQueue = queueSize
	}
}

// WithObjectCache caches objects read by reference.
func WithObjectCache(c cache.Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache = c
		m.cacheTTL = ttl
	}
}

// WithClock replaces time.Now for auto fields.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithConnector sets how connections are opened.
func WithConnector(fn ConnectFunc) Option {
	return func(m *Manager) {
		m.connect = fn
	}
}

// WithMetadata sets the tree object references are resolved against.
func WithMetadata(tree *metadata.Tree) Option {
	return func(m *Manager) {
		m.tree = tree
	}
}

// New creates a manager over p. Without WithConnector a persister that
// implements Connector opens the connections.
func New(p Persister, opts ...Option) *Manager {
	m := &Manager{
		persister: p,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.connect == nil {
		if c, ok := p.(Connector); ok {
			m.connect = c.Connect
		}
	}
	return m
}

// Persister returns the persister the manager delegates to.
func (m *Manager) Persister() Persister {
	return m.persister
}

// PrimaryKeys returns the key fields of meta in declaration order.
func (m *Manager) PrimaryKeys(meta *metadata.Node) ([]string, error) {
	keys := cached(&m.primaryKeys, meta, func() []string {
		var keys []string
		for _, f := range meta.Fields() {
			if f.AttrBool(IsKey) {
				keys = append(keys, f.Name())
			}
		}
		return keys
	})
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, meta.Name())
	}
	return keys, nil
}

// AutoFields returns the fields of meta that carry an auto attribute.
func (m *Manager) AutoFields(meta *metadata.Node) []AutoField {
	return cached(&m.autoFields, meta, func() []AutoField {
		var autos []AutoField
		for _, f := range meta.Fields() {
			if s, ok := f.AttrString(Auto); ok && s != "" {
				autos = append(autos, AutoField{Field: f.Name(), Strategy: strings.ToLower(s), Type: f.DataType()})
			}
		}
		return autos
	})
}

// persistableFields returns the writable fields of meta.
func (m *Manager) persistableFields(meta *metadata.Node) []string {
	return cached(&m.persistable, meta, func() []string {
		var fields []string
		for _, f := range meta.Fields() {
			if !f.AttrBool(IsReadOnly) {
				fields = append(fields, f.Name())
			}
		}
		return fields
	})
}

// cached computes a value once per MetaObject. A concurrent first call may
// compute it twice, both results are the same.
func cached[T any](m *sync.Map, meta *metadata.Node, compute func() T) T {
	if v, ok := m.Load(meta); ok {
		return v.(T)
	}
	v, _ := m.LoadOrStore(meta, compute())
	return v.(T)
}

// updateFields returns the fields an update writes. State-aware objects
// write their modified fields, others every field that is set.
func (m *Manager) updateFields(obj *object.Object) []string {
	var candidates map[string]bool
	if sa, ok := object.AsStateAware(obj); ok {
		candidates = make(map[string]bool)
		for _, f := range sa.ModifiedFields() {
			candidates[f] = true
		}
	} else {
		values := obj.Values()
		candidates = make(map[string]bool, len(values))
		for f := range values {
			candidates[f] = true
		}
	}

	var fields []string
	for _, f := range m.persistableFields(obj.Meta()) {
		if candidates[f] {
			fields = append(fields, f)
		}
	}
	return fields
}

// stampAutoFields sets the auto fields the manager owns for op.
func (m *Manager) stampAutoFields(op Operation, obj *object.Object) {
	for _, a := range m.AutoFields(obj.Meta()) {
		if !a.stampsOn(op) {
			continue
		}

		var err error
		switch a.Strategy {
		case AutoUUID:
			v, _ := obj.Get(a.Field)
			if v == nil || v == "" {
				err = obj.Set(a.Field, uuid.NewString())
			}
		default:
			now := m.now()
			if a.Type == metadata.Long {
				err = obj.Set(a.Field, now.UnixMilli())
			} else {
				err = obj.Set(a.Field, now)
			}
		}
		if err != nil {
			m.logger.Warn("auto field not stamped",
				zap.String("type", obj.TypeName()),
				zap.String("field", a.Field),
				zap.String("auto", a.Strategy),
				zap.Error(err))
		}
	}
}

// prePersistence stamps auto fields and fires the before events.
func (m *Manager) prePersistence(ctx context.Context, op Operation, obj *object.Object) {
	if op == Create || op == Update {
		m.stampAutoFields(op, obj)
	}
	for _, l := range m.listeners {
		m.notify("before", op, obj, func() error { return l.Before(ctx, op, obj) })
	}
}

// postPersistence moves obj to its persisted state and fires the after
// events. It only runs after the persister succeeded.
func (m *Manager) postPersistence(ctx context.Context, op Operation, obj *object.Object) {
	sa, stateAware := object.AsStateAware(obj)
	switch op {
	case Create:
		if stateAware {
			sa.SetNew(false)
			sa.SetModified(false)
		} else {
			obj.Reset()
		}
	case Update:
		if stateAware {
			sa.SetModified(false)
		} else {
			obj.Reset()
		}
	case Delete:
		// The row is gone, so the object is new again. Storing it does
		// nothing until the delete mark is cleared.
		if stateAware {
			sa.SetDeleted(true)
			sa.SetNew(true)
		}
	}

	for _, l := range m.listeners {
		m.notify("after", op, obj, func() error { return l.After(ctx, op, obj) })
	}
}

// fail wraps err in a PersistenceError and fires the error events.
func (m *Manager) fail(ctx context.Context, op Operation, typeName string, obj *object.Object, err error) error {
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		pe = &PersistenceError{Op: op, Type: typeName, Err: err}
	}
	m.logger.Error("persistence failed",
		zap.Stringer("op", op), zap.String("type", typeName), zap.Error(err))
	m.notifyError(ctx, op, obj, pe)
	return pe
}

func (m *Manager) notifyError(ctx context.Context, op Operation, obj *object.Object, err error) {
	for _, l := range m.listeners {
		m.notify("error", op, obj, func() error {
			l.OnError(ctx, op, obj, err)
			return nil
		})
	}
}

// notify runs one listener callback. A failing or panicking listener is
// logged and never stops the operation or the other listeners.
func (m *Manager) notify(event string, op Operation, obj *object.Object, call func() error) {
	typeName := ""
	if obj != nil {
		typeName = obj.TypeName()
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn(event+" listener panicked",
				zap.Stringer("op", op), zap.String("type", typeName), zap.Any("panic", r))
		}
	}()
	if err := call(); err != nil {
		m.logger.Warn(event+" listener failed",
			zap.Stringer("op", op), zap.String("type", typeName), zap.Error(err))
	}
}

// GetConnection opens a connection. Release it with ReleaseConnection.
func (m *Manager) GetConnection(ctx context.Context) (connection.ObjectConnection, error) {
	if m.connect == nil {
		return nil, ErrNoConnector
	}
	return m.connect(ctx)
}

// ReleaseConnection closes c. Releasing a closed connection is a no-op.
func (m *Manager) ReleaseConnection(c connection.ObjectConnection) error {
	if c == nil || c.IsClosed() {
		return nil
	}
	return c.Close()
}

// WithConnection runs fn on a new connection and releases it afterwards.
// Connections outside autocommit are committed when fn succeeds and rolled
// back when it fails.
func (m *Manager) WithConnection(ctx context.Context, fn func(c connection.ObjectConnection) error) (err error) {
	c, err := m.GetConnection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := m.ReleaseConnection(c); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if err = fn(c); err != nil {
		if !c.AutoCommit() && !c.IsClosed() {
			if rbErr := c.Rollback(); rbErr != nil {
				m.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
		return err
	}
	if !c.AutoCommit() {
		return c.Commit()
	}
	return nil
}

// Close waits for queued async operations and rejects new ones.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()

	// No pool is started once closed
	m.asyncOnce.Do(func() {})
	if m.async != nil {
		m.async.Shutdown()
	}
	return nil
}

func (m *Manager) executor() *AsyncExecutor {
	m.asyncOnce.Do(func() {
		m.async = NewAsyncExecutor(m.asyncWorkers, m.asyncQueue, m.logger)
		m.async.Start()
	})
	return m.async
}
