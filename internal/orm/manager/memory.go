package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// ErrDuplicateKey is returned by MemoryPersister.Create for a key that is
// already stored.
var ErrDuplicateKey = errors.New("duplicate key")

var (
	_ Persister   = (*MemoryPersister)(nil)
	_ Connector   = (*MemoryPersister)(nil)
	_ BulkCreator = (*MemoryPersister)(nil)
	_ BulkUpdater = (*MemoryPersister)(nil)
)

// MemoryPersister keeps objects in process memory. Every MetaObject is its
// own table, so a query for a super type does not return sub type objects.
// Unset key fields with a generated auto strategy are numbered from 1.
type MemoryPersister struct {
	mu     sync.RWMutex
	tables map[*metadata.Node]*memoryTable
}

type memoryTable struct {
	rows  map[string]map[string]any
	order []string
	next  int64
}

// NewMemoryPersister creates an empty store.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{tables: make(map[*metadata.Node]*memoryTable)}
}

// Connect returns a connection whose datastore is p.
func (p *MemoryPersister) Connect(ctx context.Context) (connection.ObjectConnection, error) {
	return connection.NewMemory(p), nil
}

func (p *MemoryPersister) table(meta *metadata.Node) *memoryTable {
	t, ok := p.tables[meta]
	if !ok {
		t = &memoryTable{rows: make(map[string]map[string]any)}
		p.tables[meta] = t
	}
	return t
}

func checkConnection(c connection.ObjectConnection, write bool) error {
	if c == nil {
		return errors.New("nil connection")
	}
	if c.IsClosed() {
		return connection.ErrClosed
	}
	if write && c.ReadOnly() {
		return connection.ErrReadOnly
	}
	return nil
}

func keyFields(meta *metadata.Node) []*metadata.Node {
	var keys []*metadata.Node
	for _, f := range meta.Fields() {
		if f.AttrBool(IsKey) {
			keys = append(keys, f)
		}
	}
	return keys
}

func rowKey(obj *object.Object, keys []*metadata.Node) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoPrimaryKey, obj.TypeName())
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, err := obj.Get(k.Name())
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", fmt.Errorf("%w: %s.%s is not set", ErrNoPrimaryKey, obj.TypeName(), k.Name())
		}
		parts[i] = expression.Literal(v)
	}
	return strings.Join(parts, "\x00"), nil
}

// assignKeys numbers unset generated integer keys.
func (t *memoryTable) assignKeys(obj *object.Object, keys []*metadata.Node) error {
	for _, k := range keys {
		auto, _ := k.AttrString(Auto)
		switch strings.ToLower(auto) {
		case AutoID, AutoLastID, AutoIncrement:
		default:
			continue
		}
		if v, _ := obj.Get(k.Name()); v != nil {
			if n, ok := v.(int64); ok && n > t.next {
				t.next = n
			}
			continue
		}
		t.next++
		if err := obj.Set(k.Name(), t.next); err != nil {
			return err
		}
	}
	return nil
}

// Create stores obj.
func (p *MemoryPersister) Create(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if err := checkConnection(c, true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.create(obj)
}

func (p *MemoryPersister) create(obj *object.Object) error {
	t := p.table(obj.Meta())
	keys := keyFields(obj.Meta())
	if err := t.assignKeys(obj, keys); err != nil {
		return err
	}
	key, err := rowKey(obj, keys)
	if err != nil {
		return err
	}
	if _, exists := t.rows[key]; exists {
		return fmt.Errorf("%w: %s [%s]", ErrDuplicateKey, obj.TypeName(), strings.ReplaceAll(key, "\x00", ", "))
	}
	t.rows[key] = obj.Values()
	t.order = append(t.order, key)
	return nil
}

// CreateMany stores objs, all or none.
func (p *MemoryPersister) CreateMany(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	if err := checkConnection(c, true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obj := range objs {
		if err := p.create(obj); err != nil {
			for _, done := range objs[:i] {
				p.remove(done)
			}
			return err
		}
	}
	return nil
}

// Update writes fields of obj.
func (p *MemoryPersister) Update(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error {
	if err := checkConnection(c, true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.update(obj, fields)
}

func (p *MemoryPersister) update(obj *object.Object, fields []string) error {
	t := p.table(obj.Meta())
	key, err := rowKey(obj, keyFields(obj.Meta()))
	if err != nil {
		return err
	}
	row, ok := t.rows[key]
	if !ok {
		return &ObjectNotFoundError{Type: obj.TypeName(), Key: strings.ReplaceAll(key, "\x00", ", ")}
	}

	meta := obj.Meta()
	if _, set := meta.AttrValue(metadata.AttrDBAllowDirtyWrite); set && !meta.AttrBool(metadata.AttrDBAllowDirtyWrite) {
		if field, ok := meta.AttrString(metadata.AttrDBDirtyWriteCheckField); ok && field != "" {
			n, err := expression.Compare(row[field], obj.PreviousValue(field))
			if err != nil || n != 0 {
				return &DirtyWriteError{Type: obj.TypeName(), Key: strings.ReplaceAll(key, "\x00", ", "), Field: field}
			}
		}
	}

	values := obj.Values()
	for _, f := range fields {
		if v, ok := values[f]; ok {
			row[f] = v
		} else {
			delete(row, f)
		}
	}
	return nil
}

// UpdateMany applies every update, all or none.
func (p *MemoryPersister) UpdateMany(ctx context.Context, c connection.ObjectConnection, updates []FieldUpdate) error {
	if err := checkConnection(c, true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	saved := make(map[*memoryTable]map[string]map[string]any)
	for _, u := range updates {
		t := p.table(u.Object.Meta())
		if key, err := rowKey(u.Object, keyFields(u.Object.Meta())); err == nil {
			if row, ok := t.rows[key]; ok {
				if saved[t] == nil {
					saved[t] = make(map[string]map[string]any)
				}
				if _, done := saved[t][key]; !done {
					saved[t][key] = copyRow(row)
				}
			}
		}
	}

	for _, u := range updates {
		if err := p.update(u.Object, u.Fields); err != nil {
			for t, rows := range saved {
				for key, row := range rows {
					t.rows[key] = row
				}
			}
			return err
		}
	}
	return nil
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Delete removes obj.
func (p *MemoryPersister) Delete(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if err := checkConnection(c, true); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := rowKey(obj, keyFields(obj.Meta()))
	if err != nil {
		return err
	}
	if _, ok := p.table(obj.Meta()).rows[key]; !ok {
		return &ObjectNotFoundError{Type: obj.TypeName(), Key: strings.ReplaceAll(key, "\x00", ", ")}
	}
	p.remove(obj)
	return nil
}

func (p *MemoryPersister) remove(obj *object.Object) {
	t := p.table(obj.Meta())
	key, err := rowKey(obj, keyFields(obj.Meta()))
	if err != nil {
		return
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Load reads the stored values for the key values of obj.
func (p *MemoryPersister) Load(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error {
	if err := checkConnection(c, false); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, err := rowKey(obj, keyFields(obj.Meta()))
	if err != nil {
		return err
	}
	t, ok := p.tables[obj.Meta()]
	if !ok {
		return &ObjectNotFoundError{Type: obj.TypeName(), Key: strings.ReplaceAll(key, "\x00", ", ")}
	}
	row, ok := t.rows[key]
	if !ok {
		return &ObjectNotFoundError{Type: obj.TypeName(), Key: strings.ReplaceAll(key, "\x00", ", ")}
	}
	return obj.Load(copyRow(row))
}

// all returns the stored objects of meta in insertion order.
func (p *MemoryPersister) all(meta *metadata.Node) ([]*object.Object, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.tables[meta]
	if !ok {
		return nil, nil
	}
	objs := make([]*object.Object, 0, len(t.order))
	for _, key := range t.order {
		obj, err := object.New(meta)
		if err != nil {
			return nil, err
		}
		if err := obj.Load(copyRow(t.rows[key])); err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Query returns the objects of meta matching opts. Selected fields limit
// the loaded values, key fields are always loaded.
func (p *MemoryPersister) Query(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error) {
	if err := checkConnection(c, false); err != nil {
		return nil, err
	}
	objs, err := p.all(meta)
	if err != nil {
		return nil, err
	}
	out, err := query.Apply(objs, opts)
	if err != nil {
		return nil, err
	}
	if opts == nil || len(opts.Fields) == 0 {
		return out, nil
	}

	keep := make(map[string]bool)
	for _, f := range opts.Fields {
		if _, err := meta.Field(f); err != nil {
			return nil, err
		}
		keep[f] = true
	}
	for _, k := range keyFields(meta) {
		keep[k.Name()] = true
	}
	for _, obj := range out {
		values := obj.Values()
		for f := range values {
			if !keep[f] {
				delete(values, f)
			}
		}
		if err := obj.Load(values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Count counts the objects of meta matching exp.
func (p *MemoryPersister) Count(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	if err := checkConnection(c, false); err != nil {
		return 0, err
	}
	objs, err := p.all(meta)
	if err != nil {
		return 0, err
	}
	matched, err := query.Filter(objs, exp)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// DeleteMany removes the objects of meta matching exp.
func (p *MemoryPersister) DeleteMany(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error) {
	if err := checkConnection(c, true); err != nil {
		return 0, err
	}
	objs, err := p.all(meta)
	if err != nil {
		return 0, err
	}
	matched, err := query.Filter(objs, exp)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, obj := range matched {
		p.remove(obj)
	}
	return int64(len(matched)), nil
}
