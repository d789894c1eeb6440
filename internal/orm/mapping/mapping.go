package mapping

import (
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
)

// ObjectMapping binds the fields of a MetaObject to the columns of one table
// or view. A table mapping of an object stored across an inheritance chain
// only holds the columns of its own table; Super holds the rest.
type ObjectMapping struct {
	Meta  *metadata.Node
	Table *TableDef
	View  *ViewDef
	Super *ObjectMapping

	fields   []string
	byField  map[string]*ColumnDef
	byColumn map[string]string
}

func newMapping(meta *metadata.Node) *ObjectMapping {
	return &ObjectMapping{
		Meta:     meta,
		byField:  make(map[string]*ColumnDef),
		byColumn: make(map[string]string),
	}
}

func (m *ObjectMapping) add(field string, col *ColumnDef) {
	m.fields = append(m.fields, field)
	m.byField[field] = col
	m.byColumn[col.Name] = field
}

// Name returns the table or view name.
func (m *ObjectMapping) Name() string {
	if m.View != nil {
		return m.View.Name
	}
	return m.Table.Name
}

// IsView reports whether the mapping reads from a view.
func (m *ObjectMapping) IsView() bool {
	return m.View != nil
}

// Columns returns the mapped columns of this table or view in field order.
func (m *ObjectMapping) Columns() []*ColumnDef {
	cols := make([]*ColumnDef, len(m.fields))
	for i, f := range m.fields {
		cols[i] = m.byField[f]
	}
	return cols
}

// Fields returns the fields stored in this table or view.
func (m *ObjectMapping) Fields() []string {
	return append([]string(nil), m.fields...)
}

// ColumnFor returns the column a field is stored in, in this table only.
func (m *ObjectMapping) ColumnFor(field string) (*ColumnDef, bool) {
	c, ok := m.byField[field]
	return c, ok
}

// FieldFor returns the field stored in a column of this table.
func (m *ObjectMapping) FieldFor(column string) (string, bool) {
	f, ok := m.byColumn[column]
	return f, ok
}

// Chain returns the mapping followed by its super mappings.
func (m *ObjectMapping) Chain() []*ObjectMapping {
	var chain []*ObjectMapping
	for cur := m; cur != nil; cur = cur.Super {
		chain = append(chain, cur)
	}
	return chain
}

// Lookup finds the column of a field anywhere in the chain. depth is the
// position of the owning mapping in Chain.
func (m *ObjectMapping) Lookup(field string) (col *ColumnDef, depth int, ok bool) {
	for i, cur := range m.Chain() {
		if c, ok := cur.byField[field]; ok {
			return c, i, true
		}
	}
	return nil, 0, false
}

// AllFields returns every field mapped anywhere in the chain, in the
// MetaObject's field order.
func (m *ObjectMapping) AllFields() []string {
	var out []string
	for _, name := range m.Meta.FieldNames() {
		if _, _, ok := m.Lookup(name); ok {
			out = append(out, name)
		}
	}
	return out
}

// Inheritance returns the link to the super table, if any.
func (m *ObjectMapping) Inheritance() *InheritanceDef {
	if m.Table == nil {
		return nil
	}
	return m.Table.Inheritance
}

// KeyFields returns the primary key fields of this table.
func (m *ObjectMapping) KeyFields() []string {
	var keys []string
	for _, f := range m.fields {
		if m.byField[f].PrimaryKey {
			keys = append(keys, f)
		}
	}
	return keys
}

func (m *ObjectMapping) String() string {
	if m.View != nil {
		return "view " + m.View.Name
	}
	return "table " + m.Table.Name
}
