package manager

import (
	"context"
	"fmt"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// QueryBuilder provides a fluent API over the manager's query operations.
// The first error raised while building is returned by the executing call.
type QueryBuilder struct {
	manager *Manager
	meta    *metadata.Node
	opts    *query.Options
	err     error
}

// Scope is a reusable query fragment.
type Scope func(*QueryBuilder) *QueryBuilder

// Query starts a query over the objects of meta.
func (m *Manager) Query(meta *metadata.Node) *QueryBuilder {
	return &QueryBuilder{manager: m, meta: meta, opts: query.NewOptions(nil)}
}

// Where adds exp with AND.
func (qb *QueryBuilder) Where(exp expression.Expression) *QueryBuilder {
	return qb.And(exp)
}

// WhereField adds a single comparison with AND.
func (qb *QueryBuilder) WhereField(field string, cmp expression.Comparison, value any) *QueryBuilder {
	return qb.And(expression.NewComparison(field, cmp, value))
}

// WhereString parses s and adds it with AND. Parsed expressions are grouped
// so that their own operators keep their meaning.
func (qb *QueryBuilder) WhereString(s string) *QueryBuilder {
	exp, err := expression.Parse(s)
	if err != nil {
		qb.setErr(fmt.Errorf("where %q: %w", s, err))
		return qb
	}
	if _, ok := exp.(*expression.Operator); ok {
		exp = expression.Grouped(exp)
	}
	return qb.And(exp)
}

// And joins exp to the current filter with AND.
func (qb *QueryBuilder) And(exp expression.Expression) *QueryBuilder {
	if exp == nil {
		return qb
	}
	if qb.opts.Expression == nil {
		qb.opts.Expression = exp
	} else {
		qb.opts.Expression = expression.And(qb.opts.Expression, exp)
	}
	return qb
}

// Or joins exp to the current filter with OR.
func (qb *QueryBuilder) Or(exp expression.Expression) *QueryBuilder {
	if exp == nil {
		return qb
	}
	if qb.opts.Expression == nil {
		qb.opts.Expression = exp
	} else {
		qb.opts.Expression = expression.Or(qb.opts.Expression, exp)
	}
	return qb
}

// OrderBy sorts ascending by field
func (qb *QueryBuilder) OrderBy(field string) *QueryBuilder {
	qb.opts.OrderBy(query.Asc(field))
	return qb
}

// OrderByDesc sorts descending by field
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	qb.opts.OrderBy(query.Desc(field))
	return qb
}

// Range limits the results to rows start..end, 1-based and inclusive.
func (qb *QueryBuilder) Range(start, end int) *QueryBuilder {
	qb.opts.WithRange(start, end)
	return qb
}

// Select restricts the loaded fields
func (qb *QueryBuilder) Select(fields ...string) *QueryBuilder {
	qb.opts.Select(fields...)
	return qb
}

// Distinct drops rows repeating the selected fields
func (qb *QueryBuilder) Distinct() *QueryBuilder {
	qb.opts.Distinct = true
	return qb
}

// ForUpdate locks the selected rows. Dialects without row locks fail the
// query.
func (qb *QueryBuilder) ForUpdate() *QueryBuilder {
	qb.opts.WithLock = true
	return qb
}

// Apply runs scopes against the builder in order.
func (qb *QueryBuilder) Apply(scopes ...Scope) *QueryBuilder {
	for _, s := range scopes {
		qb = s(qb)
	}
	return qb
}

// Options returns a copy of the options built so far.
func (qb *QueryBuilder) Options() (*query.Options, error) {
	if qb.err != nil {
		return nil, qb.err
	}
	return qb.opts.Clone(), nil
}

// Clone creates an independent copy of the builder
func (qb *QueryBuilder) Clone() *QueryBuilder {
	return &QueryBuilder{manager: qb.manager, meta: qb.meta, opts: qb.opts.Clone(), err: qb.err}
}

func (qb *QueryBuilder) setErr(err error) {
	if qb.err == nil {
		qb.err = err
	}
}

// Fetch runs the query.
func (qb *QueryBuilder) Fetch(ctx context.Context, c connection.ObjectConnection) ([]*object.Object, error) {
	opts, err := qb.Options()
	if err != nil {
		return nil, err
	}
	return qb.manager.GetObjects(ctx, c, qb.meta, opts)
}

// First returns the first match or an ObjectNotFoundError.
func (qb *QueryBuilder) First(ctx context.Context, c connection.ObjectConnection) (*object.Object, error) {
	opts, err := qb.Options()
	if err != nil {
		return nil, err
	}
	return qb.manager.FindFirst(ctx, c, qb.meta, opts)
}

// FirstOptional returns the first match, if any.
func (qb *QueryBuilder) FirstOptional(ctx context.Context, c connection.ObjectConnection) (*object.Object, bool, error) {
	opts, err := qb.Options()
	if err != nil {
		return nil, false, err
	}
	return qb.manager.FindFirstOptional(ctx, c, qb.meta, opts)
}

// Count counts the matches. Range and ordering are ignored.
func (qb *QueryBuilder) Count(ctx context.Context, c connection.ObjectConnection) (int64, error) {
	if qb.err != nil {
		return 0, qb.err
	}
	return qb.manager.GetObjectsCount(ctx, c, qb.meta, qb.opts.Expression)
}

// Exists reports whether anything matches.
func (qb *QueryBuilder) Exists(ctx context.Context, c connection.ObjectConnection) (bool, error) {
	n, err := qb.Count(ctx, c)
	return n > 0, err
}

// Delete removes every match and returns how many were removed.
func (qb *QueryBuilder) Delete(ctx context.Context, c connection.ObjectConnection) (int64, error) {
	if qb.err != nil {
		return 0, qb.err
	}
	return qb.manager.DeleteObjectsWhere(ctx, c, qb.meta, qb.opts.Expression)
}
