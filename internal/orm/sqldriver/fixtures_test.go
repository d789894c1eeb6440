package sqldriver

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/meta/loader"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
	"github.com/metaobjects/metaobjects/internal/orm/object"
)

const zooYAML = `
objects:
  - name: Animal
    subType: managed
    attrs: {dbTable: animals}
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: id, dbSequence: animal_seq, dbSeqStart: 100}
      - name: kind
        attrs: {dbColumn: kind}
      - name: name
        attrs: {dbColumn: name}
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
        attrs: {dbColumn: breed}
  - name: Person
    subType: managed
    attrs:
      dbTable: people
      dbAllowDirtyWrite: false
      dbDirtyWriteCheckField: version
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: last}
      - name: name
        attrs: {dbColumn: name}
      - name: age
        subType: int
        attrs: {dbColumn: age}
      - name: version
        subType: int
        attrs: {dbColumn: version}
  - name: Subject
    subType: managed
    attrs: {dbTable: subjects}
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id}
      - name: name
        attrs: {dbColumn: name}
      - name: nickname
        attrs: {dbColumn: nickname}
      - name: age
        subType: int
        attrs: {dbColumn: age}
      - name: active
        subType: boolean
        attrs: {dbColumn: active}
`

func loadTree(t *testing.T, src string) *metadata.Tree {
	t.Helper()
	tree, err := metadata.NewTree(registry.New(registry.WithProviders(metadata.CoreProvider())))
	require.NoError(t, err)
	require.NoError(t, loader.LoadBytes(tree, []byte(src)))
	return tree
}

func metaObject(t *testing.T, tree *metadata.Tree, name string) *metadata.Node {
	t.Helper()
	o, err := tree.Object(name)
	require.NoError(t, err)
	return o
}

func newObject(t *testing.T, meta *metadata.Node, values map[string]any) *object.Object {
	t.Helper()
	obj, err := object.New(meta)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, obj.Set(k, v))
	}
	return obj
}

// loaded returns an object in the persisted state, as read from a database.
func loaded(t *testing.T, meta *metadata.Node, values map[string]any) *object.Object {
	t.Helper()
	obj, err := object.New(meta)
	require.NoError(t, err)
	require.NoError(t, obj.Load(values))
	return obj
}

func tableMapping(t *testing.T, meta *metadata.Node) *mapping.ObjectMapping {
	t.Helper()
	m, err := (&mapping.Handler{}).CreateMapping(meta)
	require.NoError(t, err)
	return m
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// openSQLite opens a file backed database so every pooled connection sees
// the same schema.
func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func connect(t *testing.T, s *Store) connection.ObjectConnection {
	t.Helper()
	c, err := s.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}
