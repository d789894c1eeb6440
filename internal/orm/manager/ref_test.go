package manager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/cache"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/object"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    ObjectRef
		wantErr bool
	}{
		{in: "object:Account:7", want: ObjectRef{Type: "Account", ID: "7"}},
		{in: "object:acme::Account:7", want: ObjectRef{Type: "acme::Account", ID: "7"}},
		{in: "object:Pair:1-x", want: ObjectRef{Type: "Pair", ID: "1-x"}},
		{in: "Account:7", wantErr: true},
		{in: "object:Account:", wantErr: true},
		{in: "object::7", wantErr: true},
		{in: "object:7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestRefKeys(t *testing.T) {
	r := ObjectRef{Type: "Token", ID: "3f1c2a9e-5b7d-4c1e-9a0b-1d2e3f4a5b6c"}
	keys, err := r.Keys(1)
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, keys)

	keys, err = ObjectRef{Type: "Pair", ID: "1-x-y"}.Keys(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "x-y"}, keys)

	_, err = ObjectRef{Type: "Pair", ID: "1"}.Keys(2)
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestGetObjectRef(t *testing.T) {
	m, _, b := memoryManager(t)

	pair := newObject(t, b.pair, map[string]any{"a": 1, "b": "x"})
	ref, err := m.GetObjectRef(pair)
	require.NoError(t, err)
	assert.Equal(t, "object:Pair:1-x", ref.String())

	_, err = m.GetObjectRef(newObject(t, b.pair, map[string]any{"a": 1}))
	assert.ErrorIs(t, err, ErrNoPrimaryKey)

	_, err = m.GetObjectRef(newObject(t, b.log, map[string]any{"line": "x"}))
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestGetObjectByRef(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t)

	pair := newObject(t, b.pair, map[string]any{"a": 2, "b": "x-y", "label": "two"})
	require.NoError(t, m.CreateObject(ctx, c, pair))
	ref, err := m.GetObjectRef(pair)
	require.NoError(t, err)

	got, err := m.GetObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)
	label, _ := got.Get("label")
	assert.Equal(t, "two", label)
	sa, _ := object.AsStateAware(got)
	assert.False(t, sa.IsNew())

	_, err = m.GetObjectByRef(ctx, c, "object:Pair:9-z")
	assert.True(t, IsObjectNotFound(err))

	_, ok, err := m.FindObjectByRef(ctx, c, "object:Pair:9-z")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = m.FindObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.GetObjectByRef(ctx, c, "object:Nope:1")
	assert.True(t, metadata.IsNotFound(err))

	_, err = m.GetObjectByRef(ctx, c, "object:Pair:notanint-x")
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, _, err = m.FindObjectByRef(ctx, c, "garbage")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestGetObjectByRefWithoutMetadata(t *testing.T) {
	m := New(NewMemoryPersister())
	defer m.Close()
	c, err := m.GetConnection(context.Background())
	require.NoError(t, err)

	_, err = m.GetObjectByRef(context.Background(), c, "object:Account:1")
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestObjectCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	b := newBank(t)
	store := NewMemoryPersister()

	var loads atomic.Int32
	p := &PersisterFuncs{
		CreateFunc: store.Create,
		UpdateFunc: store.Update,
		DeleteFunc: store.Delete,
		LoadFunc: func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
			loads.Add(1)
			return store.Load(ctx, c, obj)
		},
	}

	objects, err := cache.NewMemory(64, cache.DefaultConfig())
	require.NoError(t, err)
	m := New(p, WithMetadata(b.tree), WithObjectCache(objects, time.Minute), WithConnector(store.Connect))
	defer m.Close()
	c, err := m.GetConnection(ctx)
	require.NoError(t, err)

	acct := newObject(t, b.account, map[string]any{"email": "a@example.com", "balance": 3})
	require.NoError(t, m.CreateObject(ctx, c, acct))

	// Creating populates the cache
	got, err := m.GetObjectByRef(ctx, c, "object:Account:1")
	require.NoError(t, err)
	balance, _ := got.Get("balance")
	assert.EqualValues(t, 3, balance)
	assert.Zero(t, loads.Load())

	// Updates invalidate it
	require.NoError(t, acct.Set("balance", 4))
	require.NoError(t, m.UpdateObject(ctx, c, acct))
	got, err = m.GetObjectByRef(ctx, c, "object:Account:1")
	require.NoError(t, err)
	balance, _ = got.Get("balance")
	assert.EqualValues(t, 4, balance)
	assert.Equal(t, int32(1), loads.Load())

	// The load repopulated it
	_, err = m.GetObjectByRef(ctx, c, "object:Account:1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())

	// Deletes invalidate it
	require.NoError(t, m.DeleteObject(ctx, c, acct))
	_, err = m.GetObjectByRef(ctx, c, "object:Account:1")
	assert.True(t, IsObjectNotFound(err))
	assert.Equal(t, int32(2), loads.Load())
	assert.Zero(t, objects.Len())
}

func TestDeleteObjectsWhereClearsCache(t *testing.T) {
	ctx := context.Background()
	b := newBank(t)
	objects, err := cache.NewMemory(64, cache.DefaultConfig())
	require.NoError(t, err)
	m := New(NewMemoryPersister(), WithMetadata(b.tree), WithObjectCache(objects, time.Minute))
	defer m.Close()
	c, err := m.GetConnection(ctx)
	require.NoError(t, err)

	for _, email := range []string{"a", "b"} {
		require.NoError(t, m.CreateObject(ctx, c, newObject(t, b.account, map[string]any{"email": email})))
	}
	assert.Equal(t, 2, objects.Len())

	n, err := m.DeleteObjectsWhere(ctx, c, b.account, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, objects.Len())
}
