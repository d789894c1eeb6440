package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
)

var (
	// ErrNotMapped is returned for objects without a table or view
	ErrNotMapped = errors.New("object has no table mapping")
	// ErrInheritanceCycle is returned when dbInheritance chains loop
	ErrInheritanceCycle = errors.New("cyclic table inheritance")
	// ErrInvalidMapping is returned for inconsistent mapping attributes
	ErrInvalidMapping = errors.New("invalid mapping")
)

// Keys of the dbInheritance properties attribute.
const (
	InheritSuper              = "super"
	InheritJoiner             = "joiner"
	InheritSuperJoiner        = "superJoiner"
	InheritDiscriminator      = "discriminator"
	InheritDiscriminatorValue = "discriminatorValue"
)

// Values of the auto attribute.
const (
	AutoValueID        = "id"
	AutoValueLast      = "last"
	AutoValueIncrement = "increment"
	AutoValueCreate    = "create"
	AutoValueUpdate    = "update"
	AutoValueUUID      = "uuid"
)

// Handler derives table and view mappings from metadata attributes. With
// DefaultNames set, objects without dbTable and fields without dbColumn are
// mapped to inflected names (Person to people, firstName to first_name).
type Handler struct {
	DefaultNames bool
}

// CreateMapping returns the table mapping used to insert objects.
func (h *Handler) CreateMapping(meta *metadata.Node) (*ObjectMapping, error) {
	return h.tableMapping(meta, make(map[metadata.NodeID]bool))
}

// ReadMapping returns the view mapping when the object declares a view,
// otherwise the table mapping.
func (h *Handler) ReadMapping(meta *metadata.Node) (*ObjectMapping, error) {
	if name, ok := meta.AttrString(metadata.AttrDBView); ok && name != "" {
		return h.viewMapping(meta, name)
	}
	return h.CreateMapping(meta)
}

// UpdateMapping returns the table mapping used to update objects.
func (h *Handler) UpdateMapping(meta *metadata.Node) (*ObjectMapping, error) {
	return h.CreateMapping(meta)
}

// DeleteMapping returns the table mapping used to delete objects.
func (h *Handler) DeleteMapping(meta *metadata.Node) (*ObjectMapping, error) {
	return h.CreateMapping(meta)
}

// TableName returns the table an object is stored in.
func (h *Handler) TableName(meta *metadata.Node) (string, bool) {
	if name, ok := meta.AttrString(metadata.AttrDBTable); ok && name != "" {
		return name, true
	}
	if h.DefaultNames {
		return inflect.Underscore(inflect.Pluralize(meta.Name())), true
	}
	return "", false
}

// ColumnName returns the column a field is stored in.
func (h *Handler) ColumnName(field *metadata.Node) (string, bool) {
	if name, ok := field.AttrString(metadata.AttrDBColumn); ok && name != "" {
		return name, true
	}
	if h.DefaultNames {
		return inflect.Underscore(field.Name()), true
	}
	return "", false
}

func (h *Handler) tableMapping(meta *metadata.Node, visiting map[metadata.NodeID]bool) (*ObjectMapping, error) {
	if meta == nil || !meta.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMapping)
	}
	name, ok := h.TableName(meta)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMapped, meta.Name())
	}
	if visiting[meta.ID()] {
		return nil, fmt.Errorf("%w at %s", ErrInheritanceCycle, meta.Name())
	}
	visiting[meta.ID()] = true
	defer delete(visiting, meta.ID())

	table := &TableDef{Name: name}
	m := newMapping(meta)
	m.Table = table
	fields, err := meta.FieldsErr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	props, inherits := meta.AttrProperties(metadata.AttrDBInheritance)
	var superMeta *metadata.Node
	if inherits {
		superMeta, err = h.superObject(meta, props)
		if err != nil {
			return nil, err
		}
		superMap, err := h.tableMapping(superMeta, visiting)
		if err != nil {
			return nil, err
		}
		m.Super = superMap
		inherited, err := superMeta.FieldsErr()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
		}
		fields = ownFields(fields, inherited)
	}

	if err := h.loadColumns(fields, m, true); err != nil {
		return nil, err
	}

	if inherits {
		def, err := h.inheritance(m, props)
		if err != nil {
			return nil, err
		}
		table.Inheritance = def
	}
	return m, nil
}

func (h *Handler) superObject(meta *metadata.Node, props map[string]string) (*metadata.Node, error) {
	name := props[InheritSuper]
	if name == "" {
		s, ok, err := meta.Super()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s declares %s without a super object", ErrInvalidMapping, meta.Name(), metadata.AttrDBInheritance)
		}
		return s, nil
	}
	s, err := meta.Tree().Object(name)
	if err != nil {
		return nil, fmt.Errorf("%w: super object of %s: %v", ErrInvalidMapping, meta.Name(), err)
	}
	return s, nil
}

func (h *Handler) inheritance(m *ObjectMapping, props map[string]string) (*InheritanceDef, error) {
	superMap := m.Super

	superJoiner := props[InheritSuperJoiner]
	if superJoiner == "" {
		keys := superMap.KeyFields()
		if len(keys) != 1 {
			return nil, fmt.Errorf("%w: %s needs a superJoiner, %s has %d key fields",
				ErrInvalidMapping, m.Meta.Name(), superMap.Meta.Name(), len(keys))
		}
		superJoiner = keys[0]
	}
	superCol, ok := superMap.ColumnFor(superJoiner)
	if !ok {
		return nil, fmt.Errorf("%w: superJoiner %s is not stored in %s", ErrInvalidMapping, superJoiner, superMap.Table.Name)
	}

	joiner := props[InheritJoiner]
	if joiner == "" {
		joiner = superJoiner
	}
	refCol, ok := m.ColumnFor(joiner)
	if !ok {
		return nil, fmt.Errorf("%w: joiner %s is not stored in %s", ErrInvalidMapping, joiner, m.Table.Name)
	}

	def := &InheritanceDef{
		RefColumn:          refCol.Name,
		SuperTable:         superMap.Table,
		SuperColumn:        superCol,
		DiscriminatorValue: props[InheritDiscriminatorValue],
	}
	if field := props[InheritDiscriminator]; field != "" {
		col, _, ok := m.Lookup(field)
		if !ok {
			return nil, fmt.Errorf("%w: discriminator %s of %s is not mapped", ErrInvalidMapping, field, m.Meta.Name())
		}
		def.DiscriminatorColumn = col.Name
	}
	return def, nil
}

// ownFields drops the fields a sub object inherits unchanged from its super
// object. Redeclared fields stay.
func ownFields(fields, inherited []*metadata.Node) []*metadata.Node {
	var out []*metadata.Node
	for _, f := range fields {
		found := false
		for _, s := range inherited {
			if f == s {
				found = true
				break
			}
		}
		if !found {
			out = append(out, f)
		}
	}
	return out
}

func (h *Handler) viewMapping(meta *metadata.Node, name string) (*ObjectMapping, error) {
	view := &ViewDef{Name: name}
	if sql, ok := meta.AttrString(metadata.AttrDBViewSQL); ok {
		view.SQL = sql
	}
	m := newMapping(meta)
	m.View = view
	fields, err := meta.FieldsErr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if err := h.loadColumns(fields, m, false); err != nil {
		return nil, err
	}
	view.Columns = m.Columns()
	return m, nil
}

func (h *Handler) loadColumns(fields []*metadata.Node, m *ObjectMapping, table bool) error {
	for _, f := range fields {
		name, ok := h.ColumnName(f)
		if !ok {
			continue
		}
		if table && f.AttrBool(metadata.AttrIsViewOnly) {
			continue
		}

		typ, length, err := sqlType(f)
		if err != nil {
			return err
		}
		col := &ColumnDef{
			Name:       name,
			SQLType:    typ,
			Length:     length,
			PrimaryKey: f.AttrBool(metadata.AttrIsKey),
		}
		if l, ok := f.AttrInt(metadata.AttrLength); ok && l > 0 {
			col.Length = l
		}

		if table {
			if err := h.tableColumn(f, col, m); err != nil {
				return err
			}
			m.Table.Columns = append(m.Table.Columns, col)
		}
		m.add(f.Name(), col)
	}
	return nil
}

func (h *Handler) tableColumn(f *metadata.Node, col *ColumnDef, m *ObjectMapping) error {
	t := m.Table
	if auto, ok := f.AttrString(metadata.AttrAuto); ok {
		switch strings.ToLower(auto) {
		case AutoValueID:
			col.Auto = AutoID
		case AutoValueLast:
			col.Auto = AutoLastID
		case AutoValueIncrement:
			col.Auto = AutoIncrement
		case AutoValueCreate:
			col.Auto = AutoDateCreate
		case AutoValueUpdate:
			col.Auto = AutoDateUpdate
		}
	}

	if seq, ok := f.AttrString(metadata.AttrDBSequence); ok && seq != "" {
		start, _ := f.AttrInt(metadata.AttrDBSeqStart)
		if start < 1 {
			start = 1
		}
		col.Sequence = &SequenceDef{Name: seq, Start: start, Increment: 1}
	}

	col.Unique = f.AttrBool(metadata.AttrIsUnique)
	if f.AttrBool(metadata.AttrIsIndex) {
		t.Indexes = append(t.Indexes, &IndexDef{
			Name:    t.Name + "_" + col.Name + "_index",
			Table:   t.Name,
			Columns: []string{col.Name},
		})
	}

	if ref, ok := f.AttrString(metadata.AttrDBForeignKey); ok && ref != "" {
		fk, err := h.foreignKey(t, col, ref, f)
		if err != nil {
			return err
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return nil
}

// foreignKey resolves a dbForeignKey reference of the form Object.field.
func (h *Handler) foreignKey(t *TableDef, col *ColumnDef, ref string, f *metadata.Node) (*ForeignKeyDef, error) {
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return nil, fmt.Errorf("%w: %s on %s must have the form Object.field", ErrInvalidMapping, metadata.AttrDBForeignKey, f.Path())
	}
	target, err := f.Tree().Object(ref[:i])
	if err != nil {
		return nil, fmt.Errorf("%w: foreign key of %s: %v", ErrInvalidMapping, f.Path(), err)
	}
	refTable, ok := h.TableName(target)
	if !ok {
		return nil, fmt.Errorf("%w: foreign key target %s", ErrNotMapped, target.Name())
	}
	targetField, err := target.Field(ref[i+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: foreign key of %s: %v", ErrInvalidMapping, f.Path(), err)
	}
	refCol, ok := h.ColumnName(targetField)
	if !ok {
		return nil, fmt.Errorf("%w: foreign key target %s has no column", ErrInvalidMapping, ref)
	}
	return &ForeignKeyDef{
		Name:      "fk_" + t.Name + "_" + col.Name,
		Table:     t.Name,
		Column:    col.Name,
		RefTable:  refTable,
		RefColumn: refCol,
	}, nil
}

func sqlType(f *metadata.Node) (SQLType, int, error) {
	switch f.DataType() {
	case metadata.Boolean:
		return Bit, 1, nil
	case metadata.Byte:
		return TinyInt, 2, nil
	case metadata.Short:
		return SmallInt, 4, nil
	case metadata.Int:
		return Integer, 8, nil
	case metadata.Long:
		return BigInt, 8, nil
	case metadata.Float:
		return Float, 8, nil
	case metadata.Double:
		return Double, 8, nil
	case metadata.Date:
		return Timestamp, 8, nil
	case metadata.String:
		return Varchar, 50, nil
	case metadata.StringArray:
		return Varchar, 255, nil
	case metadata.Object:
		return Blob, 100, nil
	default:
		return 0, 0, fmt.Errorf("%w: no SQL type for field %s of type %s", ErrInvalidMapping, f.Path(), f.DataType())
	}
}

// Tables returns the tables of the mapped objects, super tables before the
// tables that join them. Objects without a table are skipped.
func (h *Handler) Tables(metas ...*metadata.Node) ([]*TableDef, error) {
	var tables []*TableDef
	seen := make(map[string]bool)
	for _, meta := range metas {
		m, err := h.CreateMapping(meta)
		if errors.Is(err, ErrNotMapped) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chain := m.Chain()
		for i := len(chain) - 1; i >= 0; i-- {
			t := chain[i].Table
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// Views returns the views of the objects that declare one.
func (h *Handler) Views(metas ...*metadata.Node) ([]*ViewDef, error) {
	var views []*ViewDef
	for _, meta := range metas {
		m, err := h.ReadMapping(meta)
		if errors.Is(err, ErrNotMapped) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.View != nil {
			views = append(views, m.View)
		}
	}
	return views, nil
}
