package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/manager"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

var (
	// ErrTransactionRequired is returned for writes on autocommit
	// connections when transactions are enforced
	ErrTransactionRequired = errors.New("write requires a transaction")

	// ErrMissingTables is returned by ValidateTables
	ErrMissingTables = errors.New("missing tables")

	// ErrNoQuerier is returned for connections that are not SQL connections
	ErrNoQuerier = errors.New("connection does not provide a SQL querier")
)

var (
	_ manager.Persister   = (*Store)(nil)
	_ manager.Connector   = (*Store)(nil)
	_ manager.BulkCreator = (*Store)(nil)
)

type mappingKind int

const (
	createMapping mappingKind = iota
	readMapping
	updateMapping
	deleteMapping
)

type mappingKey struct {
	meta *metadata.Node
	kind mappingKind
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger of the store and its driver.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnforceTransactions rejects writes on autocommit connections.
func WithEnforceTransactions(enforce bool) StoreOption {
	return func(s *Store) {
		s.enforceTx = enforce
	}
}

// WithDefaultNames derives table and column names for objects and fields
// without dbTable or dbColumn.
func WithDefaultNames(enabled bool) StoreOption {
	return func(s *Store) {
		s.handler.DefaultNames = enabled
	}
}

// WithConnectionOptions sets the options of the connections Connect opens.
func WithConnectionOptions(opts ...connection.Option) StoreOption {
	return func(s *Store) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// WithConcurrency bounds the statements CreateTables and ValidateTables run
// at once.
func WithConcurrency(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Store is the relational Persister: it maps objects through their
// metadata and runs the Driver on the connection of each operation.
type Store struct {
	db          *sql.DB
	driver      *Driver
	handler     *mapping.Handler
	logger      *zap.Logger
	enforceTx   bool
	connOpts    []connection.Option
	concurrency int

	mappings sync.Map // mappingKey -> *mapping.ObjectMapping
}

// NewStore creates a store over db.
func NewStore(db *sql.DB, dialect *Dialect, opts ...StoreOption) *Store {
	s := &Store{
		db:          db,
		handler:     &mapping.Handler{},
		logger:      zap.NewNop(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.driver = NewDriver(dialect, s.logger)
	return s
}

// Driver returns the statement driver.
func (s *Store) Driver() *Driver {
	return s.driver
}

// DB returns the database the store connects to.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Connect opens a dedicated connection.
func (s *Store) Connect(ctx context.Context) (connection.ObjectConnection, error) {
	return connection.Open(ctx, s.db, s.connOpts...)
}

// Mapping returns the cached mapping of meta used for reads.
func (s *Store) Mapping(meta *metadata.Node) (*mapping.ObjectMapping, error) {
	return s.mapping(meta, readMapping)
}

// TableMapping returns the cached mapping of meta used for writes.
func (s *Store) TableMapping(meta *metadata.Node) (*mapping.ObjectMapping, error) {
	return s.mapping(meta, createMapping)
}

func (s *Store) mapping(meta *metadata.Node, kind mappingKind) (*mapping.ObjectMapping, error) {
	key := mappingKey{meta: meta, kind: kind}
	if m, ok := s.mappings.Load(key); ok {
		return m.(*mapping.ObjectMapping), nil
	}

	var (
		m   *mapping.ObjectMapping
		err error
	)
	switch kind {
	case readMapping:
		m, err = s.handler.ReadMapping(meta)
	case updateMapping:
		m, err = s.handler.UpdateMapping(meta)
	case deleteMapping:
		m, err = s.handler.DeleteMapping(meta)
	default:
		m, err = s.handler.CreateMapping(meta)
	}
	if err != nil {
		return nil, err
	}
	actual, _ := s.mappings.LoadOrStore(key, m)
	return actual.(*mapping.ObjectMapping), nil
}

// querier returns the statement target of c after checking it may run the
// operation.
func (s *Store) querier(c connection.ObjectConnection, write bool) (ExecQuerier, error) {
	if c == nil {
		return nil, ErrNoQuerier
	}
	if c.IsClosed() {
		return nil, connection.ErrClosed
	}
	if write {
		if c.ReadOnly() {
			return nil, connection.ErrReadOnly
		}
		if s.enforceTx && c.AutoCommit() {
			return nil, ErrTransactionRequired
		}
	}
	if sc, ok := c.(interface {
		Querier() (connection.Querier, error)
	}); ok {
		return sc.Querier()
	}
	if q, ok := c.Datastore().(ExecQuerier); ok {
		return q, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNoQuerier, c)
}

// Create inserts obj.
func (s *Store) Create(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	q, err := s.querier(c, true)
	if err != nil {
		return err
	}
	m, err := s.mapping(obj.Meta(), createMapping)
	if err != nil {
		return err
	}
	return s.driver.Create(ctx, q, m, obj)
}

// Update writes fields of obj. Objects with dbAllowDirtyWrite false only
// update when their dbDirtyWriteCheckField still holds the value it was
// read with.
func (s *Store) Update(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error {
	q, err := s.querier(c, true)
	if err != nil {
		return err
	}
	m, err := s.mapping(obj.Meta(), updateMapping)
	if err != nil {
		return err
	}

	check := dirtyCheck(obj)
	ok, err := s.driver.Update(ctx, q, m, obj, fields, check)
	if err != nil || ok {
		return err
	}

	key := keyString(m, obj)
	if check != nil {
		exists, err := s.exists(ctx, q, obj)
		if err != nil {
			return err
		}
		if exists {
			return &manager.DirtyWriteError{Type: obj.TypeName(), Key: key, Field: check.Field}
		}
	}
	return &manager.ObjectNotFoundError{Type: obj.TypeName(), Key: key}
}

func dirtyCheck(obj *object.Object) *DirtyCheck {
	meta := obj.Meta()
	if _, ok := meta.AttrValue(metadata.AttrDBAllowDirtyWrite); !ok || meta.AttrBool(metadata.AttrDBAllowDirtyWrite) {
		return nil
	}
	field, ok := meta.AttrString(metadata.AttrDBDirtyWriteCheckField)
	if !ok || field == "" {
		return nil
	}
	return &DirtyCheck{Field: field, Value: obj.PreviousValue(field)}
}

func (s *Store) exists(ctx context.Context, q ExecQuerier, obj *object.Object) (bool, error) {
	m, err := s.mapping(obj.Meta(), readMapping)
	if err != nil {
		return false, err
	}
	exp, err := keyExpression(m, obj)
	if err != nil {
		return false, err
	}
	n, err := s.driver.Count(ctx, q, m, exp)
	return n > 0, err
}

func keyString(m *mapping.ObjectMapping, obj *object.Object) string {
	exp, err := keyExpression(m, obj)
	if err != nil {
		return obj.String()
	}
	return exp.String()
}

// Delete removes obj.
func (s *Store) Delete(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	q, err := s.querier(c, true)
	if err != nil {
		return err
	}
	m, err := s.mapping(obj.Meta(), deleteMapping)
	if err != nil {
		return err
	}
	ok, err := s.driver.Delete(ctx, q, m, obj)
	if err != nil {
		return err
	}
	if !ok {
		return &manager.ObjectNotFoundError{Type: obj.TypeName(), Key: keyString(m, obj)}
	}
	return nil
}

// Load reads the object with the key values of obj into obj.
func (s *Store) Load(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	q, err := s.querier(c, false)
	if err != nil {
		return err
	}
	m, err := s.mapping(obj.Meta(), readMapping)
	if err != nil {
		return err
	}
	exp, err := keyExpression(m, obj)
	if err != nil {
		return err
	}
	found, err := s.driver.Read(ctx, q, m, exp, obj)
	if err != nil {
		return err
	}
	if !found {
		return &manager.ObjectNotFoundError{Type: obj.TypeName(), Key: exp.String()}
	}
	return nil
}

// LoadObject reads the object of meta with the given primary key values,
// in key field order.
func (s *Store) LoadObject(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, keys ...any) (*object.Object, error) {
	m, err := s.mapping(meta, readMapping)
	if err != nil {
		return nil, err
	}
	fields := m.KeyFields()
	if len(fields) == 0 || len(fields) != len(keys) {
		return nil, fmt.Errorf("%w: %s has %d key fields, got %d values", ErrNoPrimaryKey, meta.Name(), len(fields), len(keys))
	}
	obj, err := object.New(meta)
	if err != nil {
		return nil, err
	}
	for i, f := range fields {
		if err := obj.Set(f, keys[i]); err != nil {
			return nil, err
		}
	}
	if err := s.Load(ctx, c, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Query returns the objects of meta matching opts.
func (s *Store) Query(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error) {
	q, err := s.querier(c, false)
	if err != nil {
		return nil, err
	}
	m, err := s.mapping(meta, readMapping)
	if err != nil {
		return nil, err
	}
	return s.driver.ReadMany(ctx, q, m, opts)
}

// Count counts the objects of meta matching exp.
func (s *Store) Count(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	q, err := s.querier(c, false)
	if err != nil {
		return 0, err
	}
	m, err := s.mapping(meta, readMapping)
	if err != nil {
		return 0, err
	}
	return s.driver.Count(ctx, q, m, exp)
}

// DeleteMany removes the objects of meta matching exp.
func (s *Store) DeleteMany(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	q, err := s.querier(c, true)
	if err != nil {
		return 0, err
	}
	m, err := s.mapping(meta, deleteMapping)
	if err != nil {
		return 0, err
	}
	return s.driver.DeleteMany(ctx, q, m, exp)
}

// Execute runs a raw statement on c.
func (s *Store) Execute(ctx context.Context, c connection.ObjectConnection, query string, args ...any) (int64, error) {
	q, err := s.querier(c, true)
	if err != nil {
		return 0, err
	}
	return s.driver.Execute(ctx, q, query, args...)
}

// ExecuteQuery runs a raw query on c and maps its rows onto objects of meta.
func (s *Store) ExecuteQuery(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, query string, args ...any) ([]*object.Object, error) {
	q, err := s.querier(c, false)
	if err != nil {
		return nil, err
	}
	m, err := s.mapping(meta, readMapping)
	if err != nil {
		return nil, err
	}
	return s.driver.ExecuteQuery(ctx, q, m, query, args...)
}

// Schema returns the tables and views of the mapped objects among metas.
func (s *Store) Schema(metas ...*metadata.Node) ([]*mapping.TableDef, []*mapping.ViewDef, error) {
	tables, err := s.handler.Tables(metas...)
	if err != nil {
		return nil, nil, err
	}
	views, err := s.handler.Views(metas...)
	if err != nil {
		return nil, nil, err
	}
	return tables, views, nil
}

// CreateTables creates the tables, sequences, indexes, foreign keys and
// views of the mapped objects among metas, dropping them first when drop is
// set. Tables are created concurrently; everything referencing them follows.
func (s *Store) CreateTables(ctx context.Context, drop bool, metas ...*metadata.Node) error {
	tables, views, err := s.Schema(metas...)
	if err != nil {
		return err
	}
	d := s.driver.Dialect

	if drop {
		for _, stmt := range d.DropStatements(tables, views) {
			if _, err := s.driver.exec(ctx, s.db, "drop", stmt, nil); err != nil {
				return err
			}
		}
	}

	// Validate every statement before any is sent.
	if _, err := d.CreateStatements(tables, views); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range tables {
		t := t
		g.Go(func() error {
			for _, seq := range t.Sequences() {
				for _, stmt := range d.DDL.CreateSequence(d, seq) {
					if _, err := s.driver.exec(gctx, s.db, "create sequence", stmt, nil); err != nil {
						return err
					}
				}
			}
			stmt, err := d.DDL.CreateTable(d, t)
			if err != nil {
				return err
			}
			_, err = s.driver.exec(gctx, s.db, "create table", stmt, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range tables {
		for _, idx := range t.Indexes {
			if _, err := s.driver.exec(ctx, s.db, "create index", d.DDL.CreateIndex(d, idx), nil); err != nil {
				return err
			}
		}
		for _, fk := range t.ForeignKeys {
			if stmt := d.DDL.CreateForeignKey(d, fk); stmt != "" {
				if _, err := s.driver.exec(ctx, s.db, "create foreign key", stmt, nil); err != nil {
					return err
				}
			}
		}
	}
	for _, v := range views {
		stmt, err := d.DDL.CreateView(d, v)
		if err != nil {
			return err
		}
		if _, err := s.driver.exec(ctx, s.db, "create view", stmt, nil); err != nil {
			return err
		}
	}

	s.logger.Info("created tables", zap.Int("tables", len(tables)), zap.Int("views", len(views)))
	return nil
}

// ValidateTables checks that the tables and views of the mapped objects
// among metas exist.
func (s *Store) ValidateTables(ctx context.Context, metas ...*metadata.Node) error {
	tables, views, err := s.Schema(metas...)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(tables)+len(views))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	for _, v := range views {
		names = append(names, v.Name)
	}

	exists := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			ok, err := s.driver.TableExists(gctx, s.db, name)
			exists[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var missing []string
	for i, ok := range exists {
		if !ok {
			missing = append(missing, names[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTables, strings.Join(missing, ", "))
	}
	return nil
}
