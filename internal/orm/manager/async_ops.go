package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

type asyncCall[T any] func(ctx context.Context, c connection.ObjectConnection) (T, error)

// runAsync runs fn on the pool with a connection of its own. Every failure,
// a panic included, reaches the error listeners before the future resolves.
func runAsync[T any](m *Manager, ctx context.Context, op Operation, typeName string, obj *object.Object, fn asyncCall[T]) *Future[T] {
	f := newFuture[T]()

	report := func(err error) error {
		// Reported already, or not a failure in the sync form either
		var pe *PersistenceError
		if errors.As(err, &pe) || isNotFound(err) {
			return err
		}
		return m.fail(ctx, op, typeName, obj, err)
	}

	task := func() {
		var v T
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in async %s %s: %v", op, typeName, r)
				}
			}()
			return m.WithConnection(ctx, func(c connection.ObjectConnection) error {
				var err error
				v, err = fn(ctx, c)
				return err
			})
		}()
		if err != nil {
			var zero T
			f.complete(zero, report(err))
			return
		}
		f.complete(v, nil)
	}

	m.closeMu.RLock()
	defer m.closeMu.RUnlock()

	if m.closed {
		var zero T
		f.complete(zero, report(ErrClosed))
		return f
	}
	if err := m.executor().Submit(ctx, op.String()+" "+typeName, task); err != nil {
		var zero T
		f.complete(zero, report(err))
	}
	return f
}

// CreateObjectAsync runs CreateObject on the async pool.
func (m *Manager) CreateObjectAsync(ctx context.Context, obj *object.Object) *Future[*object.Object] {
	return runAsync(m, ctx, Create, obj.TypeName(), obj, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return obj, m.CreateObject(ctx, c, obj)
	})
}

// UpdateObjectAsync runs UpdateObject on the async pool.
func (m *Manager) UpdateObjectAsync(ctx context.Context, obj *object.Object) *Future[*object.Object] {
	return runAsync(m, ctx, Update, obj.TypeName(), obj, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return obj, m.UpdateObject(ctx, c, obj)
	})
}

// DeleteObjectAsync runs DeleteObject on the async pool.
func (m *Manager) DeleteObjectAsync(ctx context.Context, obj *object.Object) *Future[*object.Object] {
	return runAsync(m, ctx, Delete, obj.TypeName(), obj, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return obj, m.DeleteObject(ctx, c, obj)
	})
}

// StoreObjectAsync runs StoreObject on the async pool.
func (m *Manager) StoreObjectAsync(ctx context.Context, obj *object.Object) *Future[*object.Object] {
	return runAsync(m, ctx, storeOperation(obj), obj.TypeName(), obj, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return obj, m.StoreObject(ctx, c, obj)
	})
}

// storeOperation guesses the operation StoreObject will run, for error
// reports raised before it gets to decide.
func storeOperation(obj *object.Object) Operation {
	if sa, ok := object.AsStateAware(obj); ok {
		switch {
		case sa.IsDeleted():
			return Delete
		case sa.IsNew():
			return Create
		}
	}
	return Update
}

// LoadObjectAsync runs LoadObject on the async pool.
func (m *Manager) LoadObjectAsync(ctx context.Context, obj *object.Object) *Future[*object.Object] {
	return runAsync(m, ctx, Load, obj.TypeName(), obj, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return obj, m.LoadObject(ctx, c, obj)
	})
}

func listType(objs []*object.Object) string {
	if len(objs) == 0 {
		return ""
	}
	return objs[0].TypeName()
}

// CreateObjectsAsync runs CreateObjects on the async pool.
func (m *Manager) CreateObjectsAsync(ctx context.Context, objs []*object.Object) *Future[[]*object.Object] {
	return runAsync(m, ctx, Create, listType(objs), nil, func(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
		return objs, m.CreateObjects(ctx, c, objs)
	})
}

// UpdateObjectsAsync runs UpdateObjects on the async pool.
func (m *Manager) UpdateObjectsAsync(ctx context.Context, objs []*object.Object) *Future[[]*object.Object] {
	return runAsync(m, ctx, Update, listType(objs), nil, func(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
		return objs, m.UpdateObjects(ctx, c, objs)
	})
}

// DeleteObjectsAsync runs DeleteObjects on the async pool.
func (m *Manager) DeleteObjectsAsync(ctx context.Context, objs []*object.Object) *Future[[]*object.Object] {
	return runAsync(m, ctx, Delete, listType(objs), nil, func(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
		return objs, m.DeleteObjects(ctx, c, objs)
	})
}

// StoreObjectsAsync runs StoreObjects on the async pool.
func (m *Manager) StoreObjectsAsync(ctx context.Context, objs []*object.Object) *Future[[]*object.Object] {
	return runAsync(m, ctx, Update, listType(objs), nil, func(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
		return objs, m.StoreObjects(ctx, c, objs)
	})
}

// DeleteObjectsWhereAsync runs DeleteObjectsWhere on the async pool.
func (m *Manager) DeleteObjectsWhereAsync(ctx context.Context, meta *metadata.Node, exp expression.Expression) *Future[int64] {
	return runAsync(m, ctx, Delete, meta.Name(), nil, func(ctx context.Context, c connection.ObjectConnection) (int64, error) {
		return m.DeleteObjectsWhere(ctx, c, meta, exp)
	})
}

// GetObjectsAsync runs GetObjects on the async pool.
func (m *Manager) GetObjectsAsync(ctx context.Context, meta *metadata.Node, opts *query.Options) *Future[[]*object.Object] {
	return runAsync(m, ctx, Query, meta.Name(), nil, func(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
		return m.GetObjects(ctx, c, meta, opts)
	})
}

// GetObjectsCountAsync runs GetObjectsCount on the async pool.
func (m *Manager) GetObjectsCountAsync(ctx context.Context, meta *metadata.Node, exp expression.Expression) *Future[int64] {
	return runAsync(m, ctx, Query, meta.Name(), nil, func(ctx context.Context, c connection.ObjectConnection) (int64, error) {
		return m.GetObjectsCount(ctx, c, meta, exp)
	})
}

// FindFirstAsync runs FindFirst on the async pool.
func (m *Manager) FindFirstAsync(ctx context.Context, meta *metadata.Node, opts *query.Options) *Future[*object.Object] {
	return runAsync(m, ctx, Query, meta.Name(), nil, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return m.FindFirst(ctx, c, meta, opts)
	})
}

// GetObjectByRefAsync runs GetObjectByRef on the async pool.
func (m *Manager) GetObjectByRefAsync(ctx context.Context, ref string) *Future[*object.Object] {
	typeName := ref
	if r, err := ParseRef(ref); err == nil {
		typeName = r.Type
	}
	return runAsync(m, ctx, Load, typeName, nil, func(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
		return m.GetObjectByRef(ctx, c, ref)
	})
}
