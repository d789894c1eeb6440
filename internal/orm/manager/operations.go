package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// NewObject returns a new, empty object of meta.
func (m *Manager) NewObject(meta *metadata.Node) (*object.Object, error) {
	return object.New(meta)
}

// CreateObject inserts obj. The object stays new when the insert fails.
func (m *Manager) CreateObject(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	m.logger.Debug("create object", zap.String("type", obj.TypeName()))

	m.prePersistence(ctx, Create, obj)
	if err := m.persister.Create(ctx, c, obj); err != nil {
		return m.fail(ctx, Create, obj.TypeName(), obj, err)
	}
	m.postPersistence(ctx, Create, obj)
	m.cachePut(ctx, obj)
	return nil
}

// UpdateObject writes the changed fields of obj.
func (m *Manager) UpdateObject(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	m.logger.Debug("update object", zap.String("type", obj.TypeName()))

	m.prePersistence(ctx, Update, obj)
	m.cacheDelete(ctx, obj)
	if err := m.persister.Update(ctx, c, obj, m.updateFields(obj)); err != nil {
		return m.fail(ctx, Update, obj.TypeName(), obj, err)
	}
	m.postPersistence(ctx, Update, obj)
	return nil
}

// DeleteObject removes obj.
func (m *Manager) DeleteObject(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	m.logger.Debug("delete object", zap.String("type", obj.TypeName()))

	m.prePersistence(ctx, Delete, obj)
	m.cacheDelete(ctx, obj)
	if err := m.persister.Delete(ctx, c, obj); err != nil {
		return m.fail(ctx, Delete, obj.TypeName(), obj, err)
	}
	m.postPersistence(ctx, Delete, obj)
	return nil
}

// StoreObject creates, updates or deletes obj depending on its state.
// Objects that are neither new, modified nor deleted are left alone.
func (m *Manager) StoreObject(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	sa, ok := object.AsStateAware(obj)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotStateAware, obj.TypeName())
	}

	switch {
	case sa.IsDeleted() && sa.IsNew():
		// Not stored, or already deleted
		return nil
	case sa.IsDeleted():
		return m.DeleteObject(ctx, c, obj)
	case sa.IsNew():
		return m.CreateObject(ctx, c, obj)
	case sa.IsModified():
		return m.UpdateObject(ctx, c, obj)
	}
	return nil
}

// LoadObject reads the stored values of the object with the key values of
// obj into obj.
func (m *Manager) LoadObject(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	m.logger.Debug("load object", zap.String("type", obj.TypeName()))

	if err := m.persister.Load(ctx, c, obj); err != nil {
		return m.fail(ctx, Load, obj.TypeName(), obj, err)
	}
	m.cachePut(ctx, obj)
	return nil
}

// groupByMeta splits objs by MetaObject, keeping the order of first
// appearance.
func groupByMeta(objs []*object.Object) [][]*object.Object {
	index := make(map[*metadata.Node]int)
	var groups [][]*object.Object
	for _, obj := range objs {
		i, ok := index[obj.Meta()]
		if !ok {
			i = len(groups)
			index[obj.Meta()] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], obj)
	}
	return groups
}

// CreateObjects inserts objs. Persisters implementing BulkCreator get one
// call per MetaObject, others one call per object.
func (m *Manager) CreateObjects(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	for _, group := range groupByMeta(objs) {
		if err := m.createObjectsBulk(ctx, c, group); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createObjectsBulk(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	bulk, ok := m.persister.(BulkCreator)
	if !ok || len(objs) < 2 {
		for _, obj := range objs {
			if err := m.CreateObject(ctx, c, obj); err != nil {
				return err
			}
		}
		return nil
	}

	typeName := objs[0].TypeName()
	m.logger.Debug("create objects", zap.String("type", typeName), zap.Int("count", len(objs)))

	for _, obj := range objs {
		m.prePersistence(ctx, Create, obj)
	}
	if err := bulk.CreateMany(ctx, c, objs); err != nil {
		return m.failAll(ctx, Create, typeName, objs, err)
	}
	for _, obj := range objs {
		m.postPersistence(ctx, Create, obj)
		m.cachePut(ctx, obj)
	}
	return nil
}

// UpdateObjects writes objs. State-aware objects that are not modified are
// skipped.
func (m *Manager) UpdateObjects(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	var pending []*object.Object
	for _, obj := range objs {
		if sa, ok := object.AsStateAware(obj); ok && !sa.IsModified() {
			continue
		}
		pending = append(pending, obj)
	}

	for _, group := range groupByMeta(pending) {
		if err := m.updateObjectsBulk(ctx, c, group); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) updateObjectsBulk(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	bulk, ok := m.persister.(BulkUpdater)
	if !ok || len(objs) < 2 {
		for _, obj := range objs {
			if err := m.UpdateObject(ctx, c, obj); err != nil {
				return err
			}
		}
		return nil
	}

	typeName := objs[0].TypeName()
	m.logger.Debug("update objects", zap.String("type", typeName), zap.Int("count", len(objs)))

	updates := make([]FieldUpdate, len(objs))
	for i, obj := range objs {
		m.prePersistence(ctx, Update, obj)
		m.cacheDelete(ctx, obj)
		updates[i] = FieldUpdate{Object: obj, Fields: m.updateFields(obj)}
	}
	if err := bulk.UpdateMany(ctx, c, updates); err != nil {
		return m.failAll(ctx, Update, typeName, objs, err)
	}
	for _, obj := range objs {
		m.postPersistence(ctx, Update, obj)
	}
	return nil
}

// failAll reports a failed bulk call once per object.
func (m *Manager) failAll(ctx context.Context, op Operation, typeName string, objs []*object.Object, err error) error {
	pe := &PersistenceError{Op: op, Type: typeName, Err: err}
	m.logger.Error("bulk persistence failed",
		zap.Stringer("op", op), zap.String("type", typeName), zap.Int("count", len(objs)), zap.Error(err))
	for _, obj := range objs {
		m.notifyError(ctx, op, obj, pe)
	}
	return pe
}

// DeleteObjects deletes objs one by one and stops at the first failure.
func (m *Manager) DeleteObjects(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	for _, obj := range objs {
		if err := m.DeleteObject(ctx, c, obj); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObjectsWhere deletes the objects of meta matching exp and returns
// how many were removed. No listener sees the individual objects.
func (m *Manager) DeleteObjectsWhere(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	m.logger.Debug("delete objects", zap.String("type", meta.Name()), zap.String("where", exprString(exp)))

	n, err := m.persister.DeleteMany(ctx, c, meta, exp)
	if err != nil {
		return 0, m.fail(ctx, Delete, meta.Name(), nil, err)
	}
	m.cacheClear(ctx)
	return n, nil
}

// StoreObjects stores objs one by one and stops at the first failure.
func (m *Manager) StoreObjects(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	for _, obj := range objs {
		if err := m.StoreObject(ctx, c, obj); err != nil {
			return err
		}
	}
	return nil
}

// GetObjects returns the objects of meta matching opts. nil options select
// every object.
func (m *Manager) GetObjects(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error) {
	if opts == nil {
		opts = query.NewOptions(nil)
	}
	m.logger.Debug("get objects", zap.String("type", meta.Name()), zap.String("where", exprString(opts.Expression)))

	objs, err := m.persister.Query(ctx, c, meta, opts)
	if err != nil {
		return nil, m.fail(ctx, Query, meta.Name(), nil, err)
	}
	return objs, nil
}

// GetObjectsCount counts the objects of meta matching exp.
func (m *Manager) GetObjectsCount(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	m.logger.Debug("count objects", zap.String("type", meta.Name()), zap.String("where", exprString(exp)))

	n, err := m.persister.Count(ctx, c, meta, exp)
	if err != nil {
		return 0, m.fail(ctx, Query, meta.Name(), nil, err)
	}
	return n, nil
}

// FindFirst returns the first object matching opts, or an
// ObjectNotFoundError.
func (m *Manager) FindFirst(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) (*object.Object, error) {
	obj, ok, err := m.FindFirstOptional(ctx, c, meta, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		key := "*"
		if opts != nil && opts.Expression != nil {
			key = opts.Expression.String()
		}
		return nil, &ObjectNotFoundError{Type: meta.Name(), Key: key}
	}
	return obj, nil
}

// FindFirstOptional is FindFirst reporting a missing object with false.
func (m *Manager) FindFirstOptional(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) (*object.Object, bool, error) {
	first := opts.Clone().WithRange(1, 1)
	objs, err := m.GetObjects(ctx, c, meta, first)
	if err != nil {
		return nil, false, err
	}
	if len(objs) == 0 {
		return nil, false, nil
	}
	return objs[0], true, nil
}

// SortObjects sorts loaded objects in place.
func (m *Manager) SortObjects(objs []*object.Object, order ...query.SortOrder) error {
	return query.Sort(objs, order...)
}

// FilterObjects returns the loaded objects matching exp.
func (m *Manager) FilterObjects(objs []*object.Object, exp expression.Expression) ([]*object.Object, error) {
	return query.Filter(objs, exp)
}

// ClipObjects returns the part of objs covered by r.
func (m *Manager) ClipObjects(objs []*object.Object, r query.Range) ([]*object.Object, error) {
	return query.Clip(objs, r)
}

// DistinctObjects drops objects repeating the values of fields.
func (m *Manager) DistinctObjects(objs []*object.Object, fields ...string) ([]*object.Object, error) {
	return query.Distinct(objs, fields)
}

// ExpressionResult evaluates exp against obj in memory. It decides exactly
// as the SQL compiled from exp does.
func (m *Manager) ExpressionResult(obj *object.Object, exp expression.Expression) (bool, error) {
	return expression.Evaluate(exp, obj)
}

// cachePut stores the values of obj under its reference.
func (m *Manager) cachePut(ctx context.Context, obj *object.Object) {
	if m.cache == nil {
		return
	}
	ref, err := m.GetObjectRef(obj)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, ref.String(), obj.Values(), m.cacheTTL); err != nil {
		m.logger.Warn("object cache set failed", zap.Stringer("ref", ref), zap.Error(err))
	}
}

func (m *Manager) cacheDelete(ctx context.Context, obj *object.Object) {
	if m.cache == nil {
		return
	}
	ref, err := m.GetObjectRef(obj)
	if err != nil {
		return
	}
	if err := m.cache.Delete(ctx, ref.String()); err != nil {
		m.logger.Warn("object cache delete failed", zap.Stringer("ref", ref), zap.Error(err))
	}
}

func (m *Manager) cacheClear(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Clear(ctx); err != nil {
		m.logger.Warn("object cache clear failed", zap.Error(err))
	}
}

func exprString(exp expression.Expression) string {
	if exp == nil {
		return ""
	}
	return exp.String()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
