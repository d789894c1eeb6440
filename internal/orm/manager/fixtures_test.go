package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/meta/loader"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

const bankYAML = `
objects:
  - name: Account
    subType: managed
    attrs:
      dbAllowDirtyWrite: false
      dbDirtyWriteCheckField: version
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, auto: last}
      - name: email
      - name: balance
        subType: int
      - name: version
        subType: int
      - name: created
        subType: date
        attrs: {auto: create}
      - name: updated
        subType: date
        attrs: {auto: update}
      - name: note
        attrs: {isReadOnly: true}
  - name: Token
    subType: managed
    fields:
      - name: id
        attrs: {isKey: true, auto: uuid}
      - name: owner
  - name: Setting
    fields:
      - name: key
        attrs: {isKey: true}
      - name: value
  - name: Pair
    subType: managed
    fields:
      - name: a
        subType: int
        attrs: {isKey: true}
      - name: b
        attrs: {isKey: true}
      - name: label
  - name: Log
    subType: managed
    fields:
      - name: line
`

type bank struct {
	tree    *metadata.Tree
	account *metadata.Node
	token   *metadata.Node
	setting *metadata.Node
	pair    *metadata.Node
	log     *metadata.Node
}

func newBank(t *testing.T) bank {
	t.Helper()
	tree, err := metadata.NewTree(registry.New(registry.WithProviders(metadata.CoreProvider())))
	require.NoError(t, err)
	require.NoError(t, loader.LoadBytes(tree, []byte(bankYAML)))

	get := func(name string) *metadata.Node {
		n, err := tree.Object(name)
		require.NoError(t, err)
		return n
	}
	return bank{
		tree:    tree,
		account: get("Account"),
		token:   get("Token"),
		setting: get("Setting"),
		pair:    get("Pair"),
		log:     get("Log"),
	}
}

func newObject(t *testing.T, meta *metadata.Node, values map[string]any) *object.Object {
	t.Helper()
	obj, err := object.New(meta)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, obj.Set(k, v))
	}
	return obj
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// memoryManager returns a manager over a fresh MemoryPersister and a
// connection to it.
func memoryManager(t *testing.T, opts ...Option) (*Manager, connection.ObjectConnection, bank) {
	t.Helper()
	b := newBank(t)
	m := New(NewMemoryPersister(), append([]Option{WithMetadata(b.tree)}, opts...)...)
	t.Cleanup(func() { m.Close() })
	c, err := m.GetConnection(context.Background())
	require.NoError(t, err)
	return m, c, b
}

// PersisterFuncs is a Persister whose methods delegate to functions. Unset
// functions succeed without doing anything.
type PersisterFuncs struct {
	CreateFunc     func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	UpdateFunc     func(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error
	DeleteFunc     func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	LoadFunc       func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	QueryFunc      func(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error)
	CountFunc      func(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error)
	DeleteManyFunc func(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error)
}

func (p *PersisterFuncs) Create(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, c, obj)
	}
	return nil
}

func (p *PersisterFuncs) Update(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error {
	if p.UpdateFunc != nil {
		return p.UpdateFunc(ctx, c, obj, fields)
	}
	return nil
}

func (p *PersisterFuncs) Delete(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if p.DeleteFunc != nil {
		return p.DeleteFunc(ctx, c, obj)
	}
	return nil
}

func (p *PersisterFuncs) Load(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if p.LoadFunc != nil {
		return p.LoadFunc(ctx, c, obj)
	}
	return nil
}

func (p *PersisterFuncs) Query(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error) {
	if p.QueryFunc != nil {
		return p.QueryFunc(ctx, c, meta, opts)
	}
	return nil, nil
}

func (p *PersisterFuncs) Count(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	if p.CountFunc != nil {
		return p.CountFunc(ctx, c, meta, exp)
	}
	return 0, nil
}

func (p *PersisterFuncs) DeleteMany(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	if p.DeleteManyFunc != nil {
		return p.DeleteManyFunc(ctx, c, meta, exp)
	}
	return 0, nil
}

// event is one listener call.
type event struct {
	Kind string
	Op   Operation
	Type string
	Err  error
}

// recorder is a Listener that keeps every call.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func typeOf(obj *object.Object) string {
	if obj == nil {
		return ""
	}
	return obj.TypeName()
}

func (r *recorder) Before(ctx context.Context, op Operation, obj *object.Object) error {
	r.add(event{Kind: "before", Op: op, Type: typeOf(obj)})
	return nil
}

func (r *recorder) After(ctx context.Context, op Operation, obj *object.Object) error {
	r.add(event{Kind: "after", Op: op, Type: typeOf(obj)})
	return nil
}

func (r *recorder) OnError(ctx context.Context, op Operation, obj *object.Object, err error) {
	r.add(event{Kind: "error", Op: op, Type: typeOf(obj), Err: err})
}
