package sqldriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/manager"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

type zoo struct {
	tree    *metadata.Tree
	animal  *metadata.Node
	dog     *metadata.Node
	person  *metadata.Node
	subject *metadata.Node
}

func (z zoo) all() []*metadata.Node {
	return []*metadata.Node{z.animal, z.dog, z.person, z.subject}
}

func newZoo(t *testing.T) zoo {
	tree := loadTree(t, zooYAML)
	return zoo{
		tree:    tree,
		animal:  metaObject(t, tree, "Animal"),
		dog:     metaObject(t, tree, "Dog"),
		person:  metaObject(t, tree, "Person"),
		subject: metaObject(t, tree, "Subject"),
	}
}

// sqliteStore returns a store over a fresh SQLite database with the zoo
// tables created.
func sqliteStore(t *testing.T, opts ...StoreOption) (*Store, zoo) {
	t.Helper()
	z := newZoo(t)
	s := NewStore(openSQLite(t), SQLite(), opts...)
	require.NoError(t, s.CreateTables(context.Background(), true, z.all()...))
	return s, z
}

func TestStoreInheritanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	rex := newObject(t, z.dog, map[string]any{"name": "Rex", "breed": "pug"})
	require.NoError(t, s.Create(ctx, c, rex))
	fido := newObject(t, z.dog, map[string]any{"name": "Fido", "breed": "beagle"})
	require.NoError(t, s.Create(ctx, c, fido))

	rexID, _ := rex.Get("id")
	fidoID, _ := fido.Get("id")
	assert.Equal(t, int64(100), rexID, "ids start at dbSeqStart")
	assert.Equal(t, int64(101), fidoID)

	got, err := s.LoadObject(ctx, c, z.dog, rexID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(100), "kind": "dog", "name": "Rex", "breed": "pug"}, got.Values())

	require.NoError(t, got.Set("name", "Max"))
	require.NoError(t, got.Set("breed", "boxer"))
	require.NoError(t, s.Update(ctx, c, got, []string{"name", "breed"}))

	reloaded, err := s.LoadObject(ctx, c, z.dog, rexID)
	require.NoError(t, err)
	name, _ := reloaded.Get("name")
	breed, _ := reloaded.Get("breed")
	assert.Equal(t, "Max", name)
	assert.Equal(t, "boxer", breed)

	animals, err := s.Query(ctx, c, z.animal, query.NewOptions(expression.New("kind", "dog")).OrderBy(query.Asc("name")))
	require.NoError(t, err)
	require.Len(t, animals, 2)
	first, _ := animals[0].Get("name")
	assert.Equal(t, "Fido", first)

	require.NoError(t, s.Delete(ctx, c, reloaded))
	_, err = s.LoadObject(ctx, c, z.dog, rexID)
	assert.True(t, manager.IsObjectNotFound(err))

	n, err := s.Count(ctx, c, z.animal, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the super row is deleted with the sub row")

	err = s.Delete(ctx, c, reloaded)
	assert.True(t, manager.IsObjectNotFound(err))

	n, err = s.DeleteMany(ctx, c, z.dog, expression.New("breed", "beagle"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.Count(ctx, c, z.animal, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

const petsYAML = `
objects:
  - name: Pet
    subType: managed
    attrs: {dbTable: pets}
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: id}
      - name: name
        attrs: {dbColumn: name}
  - name: Cat
    subType: managed
    attrs:
      super: Pet
      dbTable: cats
      dbInheritance: {joiner: petRef, superJoiner: id}
    fields:
      - name: catId
        subType: long
        attrs: {isKey: true, dbColumn: cat_id}
      - name: petRef
        subType: long
        attrs: {dbColumn: pet_ref}
      - name: lives
        subType: int
        attrs: {dbColumn: lives}
`

func TestStoreDeleteWithSeparateJoiner(t *testing.T) {
	ctx := context.Background()
	tree := loadTree(t, petsYAML)
	pet, cat := metaObject(t, tree, "Pet"), metaObject(t, tree, "Cat")
	s := NewStore(openSQLite(t), SQLite())
	require.NoError(t, s.CreateTables(ctx, true, pet, cat))
	c := connect(t, s)

	for i, name := range []string{"Tom", "Kit", "Sly"} {
		obj := newObject(t, cat, map[string]any{"catId": int64(10 + i), "name": name, "lives": 9})
		require.NoError(t, s.Create(ctx, c, obj))
		ref, _ := obj.Get("petRef")
		id, _ := obj.Get("id")
		assert.Equal(t, id, ref)
	}

	// Only the sub table columns are known, the super key comes from the ref.
	tom := loaded(t, cat, map[string]any{"catId": int64(10), "petRef": int64(1), "lives": 9})
	require.NoError(t, s.Delete(ctx, c, tom))
	n, err := s.Count(ctx, c, pet, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteMany(ctx, c, cat, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, c, cat, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Count(ctx, c, pet, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "no super rows are left behind")
}

func TestStoreReadsBackIdentity(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	for i, name := range []string{"Ann", "Bob"} {
		p := newObject(t, z.person, map[string]any{"name": name, "age": 30 + i, "version": 1})
		require.NoError(t, s.Create(ctx, c, p))
		id, _ := p.Get("id")
		assert.Equal(t, int64(i+1), id)
	}
}

func TestStoreDirtyWrite(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	p := newObject(t, z.person, map[string]any{"name": "Ann", "age": 41, "version": 1})
	require.NoError(t, s.Create(ctx, c, p))
	id, _ := p.Get("id")

	mine, err := s.LoadObject(ctx, c, z.person, id)
	require.NoError(t, err)
	theirs, err := s.LoadObject(ctx, c, z.person, id)
	require.NoError(t, err)

	require.NoError(t, theirs.Set("age", 42))
	require.NoError(t, theirs.Set("version", 2))
	require.NoError(t, s.Update(ctx, c, theirs, []string{"age", "version"}))

	require.NoError(t, mine.Set("name", "Anne"))
	require.NoError(t, mine.Set("version", 2))
	err = s.Update(ctx, c, mine, []string{"name", "version"})
	require.Error(t, err)
	assert.True(t, manager.IsDirtyWrite(err))
	var dw *manager.DirtyWriteError
	require.ErrorAs(t, err, &dw)
	assert.Equal(t, "version", dw.Field)

	stored, err := s.LoadObject(ctx, c, z.person, id)
	require.NoError(t, err)
	name, _ := stored.Get("name")
	assert.Equal(t, "Ann", name)

	require.NoError(t, s.Delete(ctx, c, stored))
	err = s.Update(ctx, c, theirs, []string{"age"})
	assert.True(t, manager.IsObjectNotFound(err))
	assert.False(t, manager.IsDirtyWrite(err))
}

func TestStorePaging(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	objs := make([]*object.Object, 25)
	for i := range objs {
		objs[i] = newObject(t, z.subject, map[string]any{"id": i + 1, "name": string(rune('a' + i))})
	}
	require.NoError(t, s.CreateMany(ctx, c, objs))

	ids := func(objs []*object.Object) []int64 {
		out := make([]int64, len(objs))
		for i, o := range objs {
			v, _ := o.Get("id")
			out[i] = v.(int64)
		}
		return out
	}
	page := func(s *Store, start, end int) []int64 {
		got, err := s.Query(ctx, c, z.subject, query.NewOptions(nil).OrderBy(query.Asc("id")).WithRange(start, end))
		require.NoError(t, err)
		return ids(got)
	}

	assert.Equal(t, []int64{1, 2, 3}, page(s, 1, 3))
	assert.Equal(t, []int64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, page(s, 11, 20))
	assert.Equal(t, []int64{24, 25}, page(s, 24, 30))
	assert.Empty(t, page(s, 26, 30))

	generic := NewStore(s.DB(), Generic())
	assert.Equal(t, []int64{11, 12, 13}, page(generic, 11, 13))
	assert.Equal(t, []int64{25}, page(generic, 25, 40))

	desc, err := s.Query(ctx, c, z.subject, query.NewOptions(expression.NewComparison("id", expression.EqualLesser, 3)).OrderBy(query.Desc("name")))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(desc))
}

func TestStoreCreateManyFallsBackForGeneratedKeys(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	people := []*object.Object{
		newObject(t, z.person, map[string]any{"name": "Ann", "version": 1}),
		newObject(t, z.person, map[string]any{"name": "Bob", "version": 1}),
	}
	require.NoError(t, s.CreateMany(ctx, c, people))
	id, _ := people[1].Get("id")
	assert.Equal(t, int64(2), id)

	err := s.CreateMany(ctx, c, []*object.Object{people[0], newObject(t, z.subject, map[string]any{"id": 1})})
	assert.Error(t, err)
}

func TestStoreUniqueViolation(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	require.NoError(t, s.Create(ctx, c, newObject(t, z.subject, map[string]any{"id": 1})))
	err := s.Create(ctx, c, newObject(t, z.subject, map[string]any{"id": 1}))
	assert.True(t, IsUniqueViolation(err))
}

func TestStoreNullsAndStringMatching(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	require.NoError(t, s.CreateMany(ctx, c, []*object.Object{
		newObject(t, z.subject, map[string]any{"id": 1, "name": "a_b", "nickname": "x"}),
		newObject(t, z.subject, map[string]any{"id": 2, "name": "axb"}),
		newObject(t, z.subject, map[string]any{"id": 3, "name": "A%B"}),
	}))

	count := func(exp expression.Expression) int64 {
		n, err := s.Count(ctx, c, z.subject, exp)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, int64(1), count(expression.NewComparison("name", expression.Contain, "_")))
	assert.Equal(t, int64(1), count(expression.NewComparison("name", expression.Contain, "%")))
	assert.Equal(t, int64(3), count(expression.NewComparison("name", expression.StartWith, "a")))
	assert.Equal(t, int64(1), count(expression.NewComparison("name", expression.EqualsIgnoreCase, "a%b")))
	assert.Equal(t, int64(2), count(expression.New("nickname", nil)))
	assert.Equal(t, int64(0), count(expression.NewComparison("nickname", expression.NotEqual, "x")))
	assert.Equal(t, int64(3), count(expression.NewComparison("id", expression.NotEqual, []int{})))
	assert.Equal(t, int64(0), count(expression.New("id", []int{})))
	assert.Equal(t, int64(2), count(expression.New("id", []int{1, 3, 9})))
}

func TestStoreConnectionChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("transactions enforced", func(t *testing.T) {
		s, z := sqliteStore(t, WithEnforceTransactions(true))
		c := connect(t, s)

		obj := newObject(t, z.subject, map[string]any{"id": 1})
		assert.ErrorIs(t, s.Create(ctx, c, obj), ErrTransactionRequired)

		require.NoError(t, c.SetAutoCommit(false))
		require.NoError(t, s.Create(ctx, c, obj))
		require.NoError(t, c.Commit())

		n, err := s.Count(ctx, c, z.subject, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("read only", func(t *testing.T) {
		s, z := sqliteStore(t, WithConnectionOptions(connection.WithReadOnly(true)))
		c := connect(t, s)
		assert.ErrorIs(t, s.Create(ctx, c, newObject(t, z.subject, map[string]any{"id": 1})), connection.ErrReadOnly)
	})

	t.Run("closed", func(t *testing.T) {
		s, z := sqliteStore(t)
		c := connect(t, s)
		require.NoError(t, c.Close())
		_, err := s.Query(ctx, c, z.subject, nil)
		assert.ErrorIs(t, err, connection.ErrClosed)
	})

	t.Run("memory connection", func(t *testing.T) {
		s, z := sqliteStore(t)
		_, err := s.Query(ctx, connection.NewMemory(nil), z.subject, nil)
		assert.ErrorIs(t, err, ErrNoQuerier)
	})

	t.Run("rollback", func(t *testing.T) {
		s, z := sqliteStore(t)
		c := connect(t, s)
		require.NoError(t, c.SetAutoCommit(false))
		require.NoError(t, s.Create(ctx, c, newObject(t, z.subject, map[string]any{"id": 1})))
		require.NoError(t, c.Rollback())

		n, err := s.Count(ctx, c, z.subject, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStoreValidateTables(t *testing.T) {
	ctx := context.Background()
	z := newZoo(t)
	s := NewStore(openSQLite(t), SQLite(), WithConcurrency(2))

	err := s.ValidateTables(ctx, z.all()...)
	assert.ErrorIs(t, err, ErrMissingTables)
	assert.Contains(t, err.Error(), "animals")
	assert.Contains(t, err.Error(), "people")

	require.NoError(t, s.CreateTables(ctx, false, z.all()...))
	assert.NoError(t, s.ValidateTables(ctx, z.all()...))

	require.NoError(t, s.CreateTables(ctx, true, z.all()...), "recreating drops the tables first")
}

func TestStoreExecute(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	n, err := s.Execute(ctx, c, "INSERT INTO subjects (id, name, age) VALUES (?, ?, ?), (?, ?, ?)", 1, "a", 10, 2, "b", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	objs, err := s.ExecuteQuery(ctx, c, z.subject, "SELECT id, name AS NAME, age * 2 AS age FROM subjects WHERE age > ?", 15)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, map[string]any{"id": int64(2), "name": "b", "age": int32(40)}, objs[0].Values())
}
