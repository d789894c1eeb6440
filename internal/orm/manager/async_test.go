package manager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

func TestAsyncExecutor(t *testing.T) {
	e := NewAsyncExecutor(2, 4, nil)

	err := e.Submit(context.Background(), "early", func() {})
	assert.Error(t, err, "submitting before Start fails")

	e.Start()
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Submit(context.Background(), "count", func() { ran.Add(1) }))
	}
	require.NoError(t, e.Submit(context.Background(), "panics", func() { panic("worker") }))
	e.Shutdown()

	assert.Equal(t, int32(10), ran.Load())
	assert.ErrorIs(t, e.Submit(context.Background(), "late", func() {}), ErrClosed)
}

func TestFutureWaitHonoursContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.complete(7, nil)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.NotEmpty(t, f.ID())
}

func TestAsyncOperations(t *testing.T) {
	ctx := context.Background()
	m, c, b := memoryManager(t, WithAsyncWorkers(2, 8))

	accounts := make([]*object.Object, 3)
	futures := make([]Awaiter, 3)
	for i := range accounts {
		accounts[i] = newObject(t, b.account, map[string]any{"email": string(rune('a' + i)), "balance": i})
		futures[i] = m.CreateObjectAsync(ctx, accounts[i])
	}
	require.NoError(t, WaitAll(ctx, futures...))

	n, err := m.GetObjectsCountAsync(ctx, b.account, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	objs, err := m.GetObjectsAsync(ctx, b.account, query.NewOptions(nil).OrderBy(query.Desc("balance"))).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	first, _ := objs[0].Get("email")
	assert.Equal(t, "c", first)

	first0, err := m.FindFirstAsync(ctx, b.account, query.NewOptions(expression.New("email", "b"))).Wait(ctx)
	require.NoError(t, err)
	balance, _ := first0.Get("balance")
	assert.EqualValues(t, 1, balance)

	ref, err := m.GetObjectRef(accounts[0])
	require.NoError(t, err)
	byRef, err := m.GetObjectByRefAsync(ctx, ref.String()).Wait(ctx)
	require.NoError(t, err)
	email, _ := byRef.Get("email")
	assert.Equal(t, "a", email)

	require.NoError(t, accounts[0].Set("balance", 100))
	_, err = m.StoreObjectAsync(ctx, accounts[0]).Wait(ctx)
	require.NoError(t, err)
	sa, _ := object.AsStateAware(accounts[0])
	assert.False(t, sa.IsModified())

	removed, err := m.DeleteObjectsWhereAsync(ctx, b.account, expression.NewComparison("balance", expression.Lesser, 100)).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = m.GetObjectsCount(ctx, c, b.account, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAsyncFailuresReachErrorListeners(t *testing.T) {
	ctx := context.Background()
	b := newBank(t)
	rec := &recorder{}
	p := &PersisterFuncs{
		CreateFunc: func(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
			return errBoom
		},
		UpdateFunc: func(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error {
			panic("driver bug")
		},
	}
	m := New(p, WithListeners(rec), WithConnector(func(ctx context.Context) (connection.ObjectConnection, error) {
		return connection.NewMemory(nil), nil
	}))
	defer m.Close()

	_, err := m.CreateObjectAsync(ctx, newObject(t, b.account, map[string]any{"email": "a"})).Wait(ctx)
	assert.ErrorIs(t, err, errBoom)

	acct, err := object.New(b.account)
	require.NoError(t, err)
	require.NoError(t, acct.Load(map[string]any{"id": 1}))
	require.NoError(t, acct.Set("balance", 1))
	_, err = m.UpdateObjectAsync(ctx, acct).Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in async update Account")

	var errs []event
	for _, e := range rec.Events() {
		if e.Kind == "error" {
			errs = append(errs, e)
		}
	}
	require.Len(t, errs, 2)
	assert.Equal(t, Create, errs[0].Op)
	assert.Equal(t, Update, errs[1].Op)
	assert.Equal(t, "Account", errs[1].Type)
}

func TestAsyncAfterClose(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m, _, b := memoryManager(t, WithListeners(rec))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.CreateObjectAsync(ctx, newObject(t, b.account, map[string]any{"email": "a"})).Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, "error", rec.Events()[0].Kind)
}

func TestAsyncNotFoundIsNotReported(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m, _, _ := memoryManager(t, WithListeners(rec))

	_, ok, err := m.FindObjectByRef(ctx, nil, "garbage")
	assert.False(t, ok)
	assert.Error(t, err)

	_, err = m.GetObjectByRefAsync(ctx, "object:Account:42").Wait(ctx)
	assert.True(t, IsObjectNotFound(err))

	// The load reported its own failure once
	errs := 0
	for _, e := range rec.Events() {
		if e.Kind == "error" {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
}
