package mapping

import (
	"testing"

	"github.com/metaobjects/metaobjects/internal/meta/loader"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zooYAML = `
objects:
  - name: Animal
    subType: managed
    attrs:
      dbTable: animals
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: id, dbSequence: animal_seq, dbSeqStart: 100}
      - name: kind
        attrs: {dbColumn: kind}
      - name: name
        attrs: {dbColumn: name, length: 80, isIndex: true}
      - name: born
        subType: date
        attrs: {dbColumn: born, auto: create}
  - name: Dog
    subType: managed
    attrs:
      super: Animal
      dbTable: dogs
      dbInheritance: {discriminator: kind, discriminatorValue: dog}
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: animal_id}
      - name: breed
        attrs: {dbColumn: breed, isUnique: true}
      - name: ownerId
        subType: long
        attrs: {dbColumn: owner_id, dbForeignKey: Owner.id}
      - name: nickname
        attrs: {dbColumn: nickname, isViewOnly: true}
  - name: Owner
    attrs:
      dbTable: owners
      dbView: owner_view
      dbViewSQL: SELECT id, name FROM owners
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: last}
      - name: name
        attrs: {dbColumn: name}
      - name: unmapped
  - name: OrderItem
    fields:
      - name: unitPrice
        subType: double
      - name: quantity
        subType: int
`

func loadTree(t *testing.T, src string) *metadata.Tree {
	t.Helper()
	tree, err := metadata.NewTree(registry.New(registry.WithProviders(metadata.CoreProvider())))
	require.NoError(t, err)
	require.NoError(t, loader.LoadBytes(tree, []byte(src)))
	return tree
}

func object(t *testing.T, tree *metadata.Tree, name string) *metadata.Node {
	t.Helper()
	o, err := tree.Object(name)
	require.NoError(t, err)
	return o
}

func TestTableMapping(t *testing.T) {
	tree := loadTree(t, zooYAML)
	h := &Handler{}

	m, err := h.CreateMapping(object(t, tree, "Animal"))
	require.NoError(t, err)
	assert.Equal(t, "animals", m.Name())
	assert.False(t, m.IsView())
	assert.Nil(t, m.Super)
	assert.Equal(t, []string{"id", "kind", "name", "born"}, m.Fields())

	id, ok := m.ColumnFor("id")
	require.True(t, ok)
	assert.True(t, id.PrimaryKey)
	assert.Equal(t, BigInt, id.SQLType)
	assert.Equal(t, AutoID, id.Auto)
	require.NotNil(t, id.Sequence)
	assert.Equal(t, SequenceDef{Name: "animal_seq", Start: 100, Increment: 1}, *id.Sequence)

	name, _ := m.ColumnFor("name")
	assert.Equal(t, Varchar, name.SQLType)
	assert.Equal(t, 80, name.Length, "length attribute overrides the default")
	kind, _ := m.ColumnFor("kind")
	assert.Equal(t, 50, kind.Length)
	born, _ := m.ColumnFor("born")
	assert.Equal(t, Timestamp, born.SQLType)
	assert.Equal(t, AutoDateCreate, born.Auto)

	require.Len(t, m.Table.Indexes, 1)
	assert.Equal(t, "animals_name_index", m.Table.Indexes[0].Name)

	f, ok := m.FieldFor("kind")
	assert.True(t, ok)
	assert.Equal(t, "kind", f)
	assert.Equal(t, []string{"id"}, m.KeyFields())
	assert.Equal(t, []*SequenceDef{id.Sequence}, m.Table.Sequences())
	assert.Equal(t, []string{"id", "kind", "name", "born"}, columnNames(m.Table))
}

func columnNames(t *TableDef) []string {
	var names []string
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

func TestInheritanceMapping(t *testing.T) {
	tree := loadTree(t, zooYAML)
	h := &Handler{}

	m, err := h.CreateMapping(object(t, tree, "Dog"))
	require.NoError(t, err)
	assert.Equal(t, "dogs", m.Name())
	assert.Equal(t, []string{"id", "breed", "ownerId"}, m.Fields(), "inherited and view-only fields are not stored in the sub table")
	assert.Equal(t, []string{"animal_id", "breed", "owner_id"}, columnNames(m.Table))

	require.NotNil(t, m.Super)
	assert.Equal(t, "animals", m.Super.Name())
	assert.Len(t, m.Chain(), 2)

	inh := m.Inheritance()
	require.NotNil(t, inh)
	assert.Equal(t, "animal_id", inh.RefColumn)
	assert.Equal(t, "animals", inh.SuperTable.Name)
	assert.Equal(t, "id", inh.SuperColumn.Name)
	assert.Equal(t, "kind", inh.DiscriminatorColumn)
	assert.Equal(t, "dog", inh.DiscriminatorValue)

	col, depth, ok := m.Lookup("kind")
	require.True(t, ok)
	assert.Equal(t, 1, depth)
	assert.Equal(t, "kind", col.Name)

	col, depth, ok = m.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, 0, depth, "a redeclared field belongs to the sub table")
	assert.Equal(t, "animal_id", col.Name)

	_, _, ok = m.Lookup("nickname")
	assert.False(t, ok)
	assert.Equal(t, []string{"id", "kind", "name", "born", "breed", "ownerId"}, m.AllFields())

	breed, _ := m.ColumnFor("breed")
	assert.True(t, breed.Unique)

	require.Len(t, m.Table.ForeignKeys, 1)
	assert.Equal(t, ForeignKeyDef{
		Name:      "fk_dogs_owner_id",
		Table:     "dogs",
		Column:    "owner_id",
		RefTable:  "owners",
		RefColumn: "id",
	}, *m.Table.ForeignKeys[0])
}

func TestViewMapping(t *testing.T) {
	tree := loadTree(t, zooYAML)
	h := &Handler{}
	owner := object(t, tree, "Owner")

	read, err := h.ReadMapping(owner)
	require.NoError(t, err)
	assert.True(t, read.IsView())
	assert.Equal(t, "owner_view", read.Name())
	assert.Equal(t, "SELECT id, name FROM owners", read.View.SQL)
	assert.Len(t, read.View.Columns, 2, "fields without a column are not mapped")

	for _, fn := range []func(*metadata.Node) (*ObjectMapping, error){h.CreateMapping, h.UpdateMapping, h.DeleteMapping} {
		m, err := fn(owner)
		require.NoError(t, err)
		assert.Equal(t, "owners", m.Name())
		id, _ := m.ColumnFor("id")
		assert.True(t, id.IsIdentity())
	}

	views, err := h.Views(owner, object(t, tree, "Animal"))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "owner_view", views[0].Name)
}

func TestDefaultNames(t *testing.T) {
	tree := loadTree(t, zooYAML)
	item := object(t, tree, "OrderItem")

	_, err := (&Handler{}).CreateMapping(item)
	assert.ErrorIs(t, err, ErrNotMapped)

	m, err := (&Handler{DefaultNames: true}).CreateMapping(item)
	require.NoError(t, err)
	assert.Equal(t, "order_items", m.Name())
	price, ok := m.ColumnFor("unitPrice")
	require.True(t, ok)
	assert.Equal(t, "unit_price", price.Name)
	assert.Equal(t, Double, price.SQLType)
	qty, _ := m.ColumnFor("quantity")
	assert.Equal(t, Integer, qty.SQLType)
}

func TestTablesOrdersSuperFirst(t *testing.T) {
	tree := loadTree(t, zooYAML)
	h := &Handler{}

	tables, err := h.Tables(object(t, tree, "Dog"), object(t, tree, "Animal"), object(t, tree, "Owner"), object(t, tree, "OrderItem"))
	require.NoError(t, err)
	names := make([]string, len(tables))
	for i, tb := range tables {
		names[i] = tb.Name
	}
	assert.Equal(t, []string{"animals", "dogs", "owners"}, names)
}

func TestInheritanceErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		object string
		want   error
	}{
		{
			name: "cycle",
			src: `
objects:
  - name: A
    attrs: {dbTable: a, dbInheritance: {super: B}}
    fields:
      - name: id
        attrs: {isKey: true, dbColumn: id}
  - name: B
    attrs: {dbTable: b, dbInheritance: {super: A}}
    fields:
      - name: id
        attrs: {isKey: true, dbColumn: id}
`,
			object: "A",
			want:   ErrInheritanceCycle,
		},
		{
			name: "missing super",
			src: `
objects:
  - name: A
    attrs: {dbTable: a, dbInheritance: {discriminator: kind}}
    fields:
      - name: id
        attrs: {dbColumn: id}
`,
			object: "A",
			want:   ErrInvalidMapping,
		},
		{
			name: "joiner not stored",
			src: `
objects:
  - name: Base
    attrs: {dbTable: base}
    fields:
      - name: id
        attrs: {isKey: true, dbColumn: id}
  - name: Sub
    attrs: {super: Base, dbTable: sub, dbInheritance: {}}
    fields:
      - name: extra
        attrs: {dbColumn: extra}
`,
			object: "Sub",
			want:   ErrInvalidMapping,
		},
		{
			name: "bad foreign key",
			src: `
objects:
  - name: A
    attrs: {dbTable: a}
    fields:
      - name: ref
        attrs: {dbColumn: ref, dbForeignKey: nodot}
`,
			object: "A",
			want:   ErrInvalidMapping,
		},
		{
			name: "fields of a missing super object",
			src: `
objects:
  - name: A
    attrs: {super: Gone, dbTable: a}
    fields:
      - name: id
        attrs: {isKey: true, dbColumn: id}
`,
			object: "A",
			want:   ErrInvalidMapping,
		},
		{
			name: "fields of a super cycle",
			src: `
objects:
  - name: A
    attrs: {super: B, dbTable: a}
    fields:
      - name: id
        attrs: {isKey: true, dbColumn: id}
  - name: B
    attrs: {super: A}
    fields:
      - name: name
        attrs: {dbColumn: name}
`,
			object: "A",
			want:   ErrInvalidMapping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := loadTree(t, tt.src)
			_, err := (&Handler{}).CreateMapping(object(t, tree, tt.object))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
