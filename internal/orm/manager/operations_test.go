package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// bulkPersister adds CreateMany to PersisterFuncs.
type bulkPersister struct {
	PersisterFuncs
	CreateManyFunc func(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error
}

func (p *bulkPersister) CreateMany(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	return p.CreateManyFunc(ctx, c, objs)
}

func TestCreateObjectsGroupsByType(t *testing.T) {
	ctx := context.Background()
	b := newBank(t)

	var batches [][]string
	var singles []string
	p := &bulkPersister{
		PersisterFuncs: PersisterFuncs{
			CreateFunc: func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
				singles = append(singles, obj.TypeName())
				return nil
			},
		},
		CreateManyFunc: func(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
			var types []string
			for _, o := range objs {
				types = append(types, o.TypeName())
			}
			batches = append(batches, types)
			return nil
		},
	}
	m := New(p)
	defer m.Close()

	objs := []*object.Object{
		newObject(t, b.account, map[string]any{"id": 1}),
		newObject(t, b.token, map[string]any{"owner": "ann"}),
		newObject(t, b.account, map[string]any{"id": 2}),
	}
	require.NoError(t, m.CreateObjects(ctx, connection.NewMemory(nil), objs))

	assert.Equal(t, [][]string{{"Account", "Account"}}, batches)
	assert.Equal(t, []string{"Token"}, singles)
	for _, o := range objs {
		sa, _ := object.AsStateAware(o)
		assert.False(t, sa.IsNew())
	}
	created, _ := objs[2].Get("created")
	assert.NotNil(t, created, "bulk creates stamp auto fields")
}

func TestCreateObjectsBulkFailure(t *testing.T) {
	ctx := context.Background()
	b := newBank(t)
	rec := &recorder{}
	p := &bulkPersister{
		CreateManyFunc: func(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
			return errBoom
		},
	}
	m := New(p, WithListeners(rec))
	defer m.Close()

	objs := []*object.Object{
		newObject(t, b.account, map[string]any{"id": 1}),
		newObject(t, b.account, map[string]any{"id": 2}),
	}
	err := m.CreateObjects(ctx, connection.NewMemory(nil), objs)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, Create, pe.Op)

	for _, o := range objs {
		sa, _ := object.AsStateAware(o)
		assert.True(t, sa.IsNew())
	}
	errs := 0
	for _, e := range rec.Events() {
		if e.Kind == "error" {
			errs++
		}
	}
	assert.Equal(t, 2, errs, "every object of the batch is reported")
}

func TestCreateObjectsMemoryIsAllOrNone(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	require.NoError(t, m.CreateObject(ctx, c, newObject(t, b.setting, map[string]any{"key": "b"})))
	err := m.CreateObjects(ctx, c, []*object.Object{
		newObject(t, b.setting, map[string]any{"key": "a"}),
		newObject(t, b.setting, map[string]any{"key": "b"}),
	})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	n, err := m.GetObjectsCount(ctx, c, b.setting, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateObjectsSkipsCleanObjects(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	objs := []*object.Object{
		newObject(t, b.account, map[string]any{"email": "a", "version": 1}),
		newObject(t, b.account, map[string]any{"email": "b", "version": 1}),
		newObject(t, b.account, map[string]any{"email": "c", "version": 1}),
	}
	require.NoError(t, m.CreateObjects(ctx, c, objs))

	rec := &recorder{}
	m.listeners = append(m.listeners, rec)

	require.NoError(t, objs[0].Set("balance", 5))
	require.NoError(t, objs[2].Set("balance", 7))
	require.NoError(t, m.UpdateObjects(ctx, c, objs))

	updates := 0
	for _, e := range rec.Events() {
		if e.Kind == "after" && e.Op == Update {
			updates++
		}
	}
	assert.Equal(t, 2, updates)

	stored, err := m.GetObjects(ctx, c, b.account, query.NewOptions(nil).OrderBy(query.Asc("email")))
	require.NoError(t, err)
	var balances []any
	for _, o := range stored {
		v, _ := o.Get("balance")
		balances = append(balances, v)
	}
	assert.Equal(t, []any{int32(5), nil, int32(7)}, balances)
}

func TestUpdateObjectsBulkRollsBackOnDirtyWrite(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	objs := []*object.Object{
		newObject(t, b.account, map[string]any{"email": "a", "balance": 1, "version": 1}),
		newObject(t, b.account, map[string]any{"email": "b", "balance": 1, "version": 1}),
	}
	require.NoError(t, m.CreateObjects(ctx, c, objs))

	stale := newObject(t, b.account, map[string]any{"id": 2})
	require.NoError(t, m.LoadObject(ctx, c, stale))
	require.NoError(t, objs[1].Set("version", 2))
	require.NoError(t, m.UpdateObject(ctx, c, objs[1]))

	require.NoError(t, objs[0].Set("balance", 9))
	require.NoError(t, stale.Set("balance", 9))
	err := m.UpdateObjects(ctx, c, []*object.Object{objs[0], stale})
	assert.True(t, IsDirtyWrite(err))

	first := newObject(t, b.account, map[string]any{"id": 1})
	require.NoError(t, m.LoadObject(ctx, c, first))
	balance, _ := first.Get("balance")
	assert.EqualValues(t, 1, balance, "the batch is not applied")
	sa, _ := object.AsStateAware(objs[0])
	assert.True(t, sa.IsModified())
}

func TestDeleteAndStoreObjects(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	a := newObject(t, b.account, map[string]any{"email": "a"})
	d := newObject(t, b.account, map[string]any{"email": "d"})
	require.NoError(t, m.StoreObjects(ctx, c, []*object.Object{a, d}))

	ds, _ := object.AsStateAware(d)
	ds.MarkDeleted()
	fresh := newObject(t, b.account, map[string]any{"email": "f"})
	require.NoError(t, m.StoreObjects(ctx, c, []*object.Object{a, d, fresh}))

	stored, err := m.GetObjects(ctx, c, b.account, nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.NoError(t, m.DeleteObjects(ctx, c, []*object.Object{a, fresh}))
	n, err := m.GetObjectsCount(ctx, c, b.account, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFindFirst(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	_, err := m.FindFirst(ctx, c, b.account, nil)
	var nf *ObjectNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "*", nf.Key)

	require.NoError(t, m.CreateObject(ctx, c, newObject(t, b.account, map[string]any{"email": "a"})))
	opts := query.NewOptions(expression.New("email", "a"))
	obj, err := m.FindFirst(ctx, c, b.account, opts)
	require.NoError(t, err)
	assert.NotNil(t, obj)
	assert.Nil(t, opts.Range, "the caller's options are not changed")
}

func TestInMemoryUtilities(t *testing.T) {
	m, _, b := memoryManager(t)

	objs := []*object.Object{
		newObject(t, b.account, map[string]any{"email": "c", "balance": 2}),
		newObject(t, b.account, map[string]any{"email": "a", "balance": 1}),
		newObject(t, b.account, map[string]any{"email": "b", "balance": 2}),
	}

	require.NoError(t, m.SortObjects(objs, query.Asc("email")))
	assert.Equal(t, []string{"a", "b", "c"}, emails(t, objs))

	rich, err := m.FilterObjects(objs, expression.MustParse("balance = 2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, emails(t, rich))

	clipped, err := m.ClipObjects(objs, query.NewRange(2, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, emails(t, clipped))

	_, err = m.ClipObjects(objs, query.NewRange(3, 2))
	assert.ErrorIs(t, err, query.ErrInvalidRange)

	distinct, err := m.DistinctObjects(objs, "balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, emails(t, distinct))

	ok, err := m.ExpressionResult(objs[0], expression.MustParse("email = 'a' AND balance < 2"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.ExpressionResult(objs[0], expression.MustParse("nope = 1"))
	assert.Error(t, err)
}
