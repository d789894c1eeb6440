// Package object provides the dynamic, metadata backed value that the object
// manager persists.
package object

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
)

// ErrNotObject is returned when an Object is created from a node that does
// not describe an object.
var ErrNotObject = errors.New("metadata node is not an object")

// Object holds field values for one instance of a MetaObject. It is safe for
// concurrent use.
type Object struct {
	meta   *metadata.Node
	fields map[string]*metadata.Node
	order  []string

	mu      sync.RWMutex
	values  map[string]any
	tracker *tracker

	isNew    bool
	modified bool
	deleted  bool
}

// New creates an empty object of the given MetaObject. The object starts new.
func New(meta *metadata.Node) (*Object, error) {
	if meta == nil || !meta.IsObject() {
		return nil, ErrNotObject
	}
	if err := meta.ValidateObject(); err != nil {
		return nil, err
	}

	fields := meta.Fields()
	o := &Object{
		meta:    meta,
		fields:  make(map[string]*metadata.Node, len(fields)),
		order:   make([]string, len(fields)),
		values:  make(map[string]any, len(fields)),
		tracker: newTracker(),
		isNew:   true,
	}
	for i, f := range fields {
		o.fields[f.Name()] = f
		o.order[i] = f.Name()
	}
	return o, nil
}

// Meta returns the MetaObject the object is an instance of.
func (o *Object) Meta() *metadata.Node {
	return o.meta
}

// TypeName returns the name of the MetaObject.
func (o *Object) TypeName() string {
	return o.meta.Name()
}

// FieldNames returns the field names in declaration order, inherited first.
func (o *Object) FieldNames() []string {
	return append([]string(nil), o.order...)
}

// Field returns the field metadata.
func (o *Object) Field(name string) (*metadata.Node, error) {
	f, ok := o.fields[name]
	if !ok {
		return nil, o.notFound(name)
	}
	return f, nil
}

func (o *Object) notFound(name string) error {
	available := append([]string(nil), o.order...)
	sort.Strings(available)
	return &metadata.NotFoundError{
		ParentPath: o.meta.Path(),
		Kind:       metadata.TypeField,
		Name:       name,
		Available:  available,
	}
}

// Get returns the value of a field. Unset fields are nil.
func (o *Object) Get(name string) (any, error) {
	if _, ok := o.fields[name]; !ok {
		return nil, o.notFound(name)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.values[name], nil
}

// FieldValue implements expression.Values.
func (o *Object) FieldValue(name string) (any, error) {
	return o.Get(name)
}

// Set converts v to the field's data type and records the change.
func (o *Object) Set(name string, v any) error {
	f, ok := o.fields[name]
	if !ok {
		return o.notFound(name)
	}
	coerced, err := f.DataType().Coerce(v)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", o.meta.Name(), name, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[name] = coerced
	o.tracker.set(name, coerced)
	if !o.isNew && o.tracker.changed(name) {
		o.modified = true
	}
	return nil
}

// MustSet is Set that panics on error. It is meant for tests and fixtures.
func (o *Object) MustSet(name string, v any) *Object {
	if err := o.Set(name, v); err != nil {
		panic(err)
	}
	return o
}

// Load replaces the field values with values read from a datastore. Unknown
// keys are ignored. The object becomes persisted and unmodified.
func (o *Object) Load(values map[string]any) error {
	coerced := make(map[string]any, len(values))
	for name, v := range values {
		f, ok := o.fields[name]
		if !ok {
			continue
		}
		c, err := f.DataType().Coerce(v)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", o.meta.Name(), name, err)
		}
		coerced[name] = c
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = coerced
	o.tracker.reset(coerced)
	o.isNew, o.modified, o.deleted = false, false, false
	return nil
}

// Values returns a copy of the set field values.
func (o *Object) Values() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return deepCopyMap(o.values)
}

// Changed reports whether field changed since the object was loaded or last
// persisted.
func (o *Object) Changed(field string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tracker.changed(field)
}

// ChangedFields returns the changed field names in sorted order.
func (o *Object) ChangedFields() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tracker.changedFields()
}

// Change returns the change recorded for field, or nil.
func (o *Object) Change(field string) *FieldChange {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.tracker.changes[field]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// PreviousValue returns the value the field had when last persisted.
func (o *Object) PreviousValue(field string) any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tracker.original[field]
}

// ChangedData returns the changed fields with their new values.
func (o *Object) ChangedData() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.tracker.changes))
	for f, c := range o.tracker.changes {
		out[f] = c.NewValue
	}
	return out
}

// Reset makes the current values the persisted baseline.
func (o *Object) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracker.reset(o.values)
}

// Clone returns an independent copy with the same values and state.
func (o *Object) Clone() *Object {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c := &Object{
		meta:     o.meta,
		fields:   o.fields,
		order:    o.order,
		values:   deepCopyMap(o.values),
		tracker:  &tracker{original: deepCopyMap(o.tracker.original), changes: make(map[string]*FieldChange)},
		isNew:    o.isNew,
		modified: o.modified,
		deleted:  o.deleted,
	}
	for f, ch := range o.tracker.changes {
		cp := *ch
		c.tracker.changes[f] = &cp
	}
	return c
}

func (o *Object) String() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	parts := make([]string, 0, len(o.order))
	for _, name := range o.order {
		if v, ok := o.values[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
	}
	return o.meta.Name() + "{" + strings.Join(parts, ", ") + "}"
}
