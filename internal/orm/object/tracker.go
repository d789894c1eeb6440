package object

import (
	"reflect"
	"sort"
)

// FieldChange is a change to a single field since the object was loaded or
// last persisted.
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// tracker records original values and field changes. It is guarded by the
// owning Object's mutex.
type tracker struct {
	original map[string]any
	changes  map[string]*FieldChange
}

func newTracker() *tracker {
	return &tracker{
		original: make(map[string]any),
		changes:  make(map[string]*FieldChange),
	}
}

// set records value as the field's new value. A value reverted to the
// original drops the change.
func (t *tracker) set(field string, value any) {
	oldValue, hadOld := t.original[field]
	if !hadOld || !deepEqual(oldValue, value) {
		if c, ok := t.changes[field]; ok {
			c.NewValue = value
			return
		}
		t.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: value}
		return
	}
	delete(t.changes, field)
}

// reset makes current the new original state.
func (t *tracker) reset(current map[string]any) {
	t.original = deepCopyMap(current)
	t.changes = make(map[string]*FieldChange)
}

func (t *tracker) changed(field string) bool {
	_, ok := t.changes[field]
	return ok
}

func (t *tracker) changedFields() []string {
	fields := make([]string, 0, len(t.changes))
	for f := range t.changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	}
	return v
}

func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
