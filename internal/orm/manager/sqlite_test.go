package manager_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/meta/loader"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/manager"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

const peopleYAML = `
objects:
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
      - name: updated
        subType: date
        attrs: {dbColumn: updated, auto: update}
`

func setup(t *testing.T) (*manager.Manager, connection.ObjectConnection, *metadata.Node) {
	t.Helper()
	tree, err := metadata.NewTree(registry.New(registry.WithProviders(metadata.CoreProvider())))
	require.NoError(t, err)
	require.NoError(t, loader.LoadBytes(tree, []byte(peopleYAML)))
	person, err := tree.Object("Person")
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "people.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqldriver.NewStore(db, sqldriver.SQLite())
	require.NoError(t, store.CreateTables(context.Background(), false, person))

	m := manager.New(store, manager.WithMetadata(tree))
	t.Cleanup(func() { m.Close() })
	c, err := m.GetConnection(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { m.ReleaseConnection(c) })
	return m, c, person
}

func TestSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	m, c, person := setup(t)

	people := map[string]int{"Ann": 34, "Bob": 28, "Cid": 41, "Dee": 30}
	for _, name := range []string{"Ann", "Bob", "Cid", "Dee"} {
		p, err := m.NewObject(person)
		require.NoError(t, err)
		require.NoError(t, p.Set("name", name))
		require.NoError(t, p.Set("age", people[name]))
		require.NoError(t, p.Set("version", 1))
		require.NoError(t, m.CreateObject(ctx, c, p))

		id, _ := p.Get("id")
		assert.NotNil(t, id, "the generated key is read back")
		updated, _ := p.Get("updated")
		assert.IsType(t, time.Time{}, updated)
	}

	exp := expression.MustParse("age > 30 AND (name = 'Ann' OR name = 'Cid')")
	found, err := m.GetObjects(ctx, c, person, query.NewOptions(exp).OrderBy(query.Desc("age")))
	require.NoError(t, err)
	require.Len(t, found, 2)
	name, _ := found[0].Get("name")
	assert.Equal(t, "Cid", name)

	n, err := m.GetObjectsCount(ctx, c, person, expression.NewComparison("age", expression.EqualGreater, 30))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ann, err := m.Query(person).WhereField("name", expression.Equal, "Ann").First(ctx, c)
	require.NoError(t, err)
	ref, err := m.GetObjectRef(ann)
	require.NoError(t, err)

	require.NoError(t, ann.Set("age", 35))
	require.NoError(t, ann.Set("version", 2))
	require.NoError(t, m.StoreObject(ctx, c, ann))

	again, err := m.GetObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)
	age, _ := again.Get("age")
	assert.EqualValues(t, 35, age)

	removed, err := m.DeleteObjectsWhere(ctx, c, person, expression.NewComparison("age", expression.Lesser, 30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	sa, _ := object.AsStateAware(again)
	sa.MarkDeleted()
	require.NoError(t, m.StoreObject(ctx, c, again))
	_, ok, err := m.FindObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteDirtyWrite(t *testing.T) {
	ctx := context.Background()
	m, c, person := setup(t)

	p, err := m.NewObject(person)
	require.NoError(t, err)
	p.MustSet("name", "Ann").MustSet("age", 30).MustSet("version", 1)
	require.NoError(t, m.CreateObject(ctx, c, p))
	ref, err := m.GetObjectRef(p)
	require.NoError(t, err)

	first, err := m.GetObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)
	second, err := m.GetObjectByRef(ctx, c, ref.String())
	require.NoError(t, err)

	first.MustSet("age", 31).MustSet("version", 2)
	require.NoError(t, m.UpdateObject(ctx, c, first))

	second.MustSet("age", 32).MustSet("version", 2)
	err = m.UpdateObject(ctx, c, second)
	assert.True(t, manager.IsDirtyWrite(err))
	sa, _ := object.AsStateAware(second)
	assert.True(t, sa.IsModified(), "a rejected update leaves the object modified")
}

func TestSQLiteAsync(t *testing.T) {
	ctx := context.Background()
	m, _, person := setup(t)

	var futures []manager.Awaiter
	for i := 0; i < 5; i++ {
		p, err := m.NewObject(person)
		require.NoError(t, err)
		p.MustSet("name", "p").MustSet("age", 20+i).MustSet("version", 1)
		futures = append(futures, m.CreateObjectAsync(ctx, p))
	}
	require.NoError(t, manager.WaitAll(ctx, futures...))

	n, err := m.GetObjectsCountAsync(ctx, person, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
