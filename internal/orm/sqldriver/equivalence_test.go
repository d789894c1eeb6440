package sqldriver

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

var (
	namePool     = []any{"Alice", "alice", "Bob", "a_b", "a%b", "axb", "", "Zed", nil}
	nicknamePool = []any{"x", "X!", "bo", nil, nil}
	stringOps    = []expression.Comparison{
		expression.Equal, expression.NotEqual, expression.Greater, expression.Lesser,
		expression.EqualGreater, expression.EqualLesser,
		expression.Contain, expression.NotContain, expression.StartWith, expression.NotStartWith,
		expression.EndWith, expression.NotEndWith, expression.EqualsIgnoreCase,
	}
	numberOps = stringOps[:6]
)

// subjectRow builds the values of the i-th row from a seed.
func subjectRow(i, seed int) map[string]any {
	row := map[string]any{
		"id":       i + 1,
		"name":     namePool[seed%len(namePool)],
		"nickname": nicknamePool[(seed/7)%len(nicknamePool)],
	}
	if age := (seed / 31) % 8; age > 0 {
		row["age"] = age * 10
	}
	switch (seed / 17) % 3 {
	case 1:
		row["active"] = true
	case 2:
		row["active"] = false
	}
	return row
}

// randomExpression builds a well-formed expression over the subject fields.
func randomExpression(r *rand.Rand, depth int) expression.Expression {
	if depth > 0 && r.Intn(3) == 0 {
		left, right := randomExpression(r, depth-1), randomExpression(r, depth-1)
		var e expression.Expression = expression.And(left, right)
		if r.Intn(2) == 0 {
			e = expression.Or(left, right)
		}
		if r.Intn(3) == 0 {
			e = expression.Grouped(e)
		}
		return e
	}

	pick := func(pool []any) any { return pool[r.Intn(len(pool))] }
	switch r.Intn(4) {
	case 0, 1:
		field := "name"
		pool := namePool
		if r.Intn(2) == 0 {
			field, pool = "nickname", nicknamePool
		}
		if r.Intn(5) == 0 {
			return collection(r, field, pool)
		}
		cmp := stringOps[r.Intn(len(stringOps))]
		v := pick(pool)
		if cmp.IsOrdering() && v == nil {
			v = "M"
		}
		return expression.NewComparison(field, cmp, v)
	case 2:
		if r.Intn(5) == 0 {
			return collection(r, "age", []any{10, 20, 30, 40})
		}
		cmp := numberOps[r.Intn(len(numberOps))]
		var v any = r.Intn(9) * 10
		if !cmp.IsOrdering() && r.Intn(4) == 0 {
			v = nil
		}
		return expression.NewComparison("age", cmp, v)
	default:
		var v any = r.Intn(2) == 0
		if r.Intn(4) == 0 {
			v = nil
		}
		cmp := expression.Equal
		if r.Intn(2) == 0 {
			cmp = expression.NotEqual
		}
		return expression.NewComparison("active", cmp, v)
	}
}

func collection(r *rand.Rand, field string, pool []any) expression.Expression {
	var items []any
	for _, v := range pool {
		if v != nil && r.Intn(2) == 0 {
			items = append(items, v)
		}
	}
	if items == nil {
		items = []any{}
	}
	cmp := expression.Equal
	if r.Intn(2) == 0 {
		cmp = expression.NotEqual
	}
	return expression.NewComparison(field, cmp, items)
}

func matchingIDs(t *testing.T, objs []*object.Object, exp expression.Expression) []int64 {
	ids := []int64{}
	for _, o := range objs {
		ok, err := expression.Evaluate(exp, o)
		require.NoError(t, err, exp.String())
		if ok {
			v, _ := o.Get("id")
			ids = append(ids, v.(int64))
		}
	}
	return ids
}

func selectedIDs(objs []*object.Object) []int64 {
	ids := []int64{}
	for _, o := range objs {
		v, _ := o.Get("id")
		ids = append(ids, v.(int64))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestSQLMatchesEvaluate(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("SQL selects exactly the rows Evaluate accepts", prop.ForAll(
		func(seeds []int, exprSeed int64) bool {
			if _, err := s.DeleteMany(ctx, c, z.subject, nil); err != nil {
				t.Log(err)
				return false
			}
			objs := make([]*object.Object, len(seeds))
			for i, seed := range seeds {
				objs[i] = newObject(t, z.subject, subjectRow(i, seed))
			}
			if err := s.CreateMany(ctx, c, objs); err != nil {
				t.Log(err)
				return false
			}

			exp := randomExpression(rand.New(rand.NewSource(exprSeed)), 3)
			got, err := s.Query(ctx, c, z.subject, query.NewOptions(exp))
			if err != nil {
				t.Logf("%s: %v", exp, err)
				return false
			}
			want := matchingIDs(t, objs, exp)
			if !assert.Equal(t, want, selectedIDs(got), exp.String()) {
				return false
			}

			n, err := s.Count(ctx, c, z.subject, exp)
			return err == nil && n == int64(len(want))
		},
		gen.SliceOfN(12, gen.IntRange(0, 1<<20)),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}

func TestSQLMatchesEvaluateParsed(t *testing.T) {
	ctx := context.Background()
	s, z := sqliteStore(t)
	c := connect(t, s)

	objs := []*object.Object{
		newObject(t, z.person, map[string]any{"name": "Alice", "age": 35, "version": 1}),
		newObject(t, z.person, map[string]any{"name": "Bob", "age": 25, "version": 1}),
		newObject(t, z.person, map[string]any{"name": "Bob", "age": 45, "version": 1}),
		newObject(t, z.person, map[string]any{"name": "Carol", "age": 50, "version": 1}),
		newObject(t, z.person, map[string]any{"name": "Alice", "version": 1}),
	}
	require.NoError(t, s.CreateMany(ctx, c, objs))

	exp := expression.MustParse("age > 30 AND (name = 'Alice' OR name = 'Bob')")
	got, err := s.Query(ctx, c, z.person, query.NewOptions(exp))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, selectedIDs(got))
	assert.Equal(t, matchingIDs(t, objs, exp), selectedIDs(got))
}
