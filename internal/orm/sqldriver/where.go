package sqldriver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
)

// likeEscape escapes LIKE wildcards in bound patterns. '!' works in every
// dialect; a backslash needs doubling inside MySQL string literals.
const likeEscape = '!'

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// stmt accumulates SQL text and its positional args, numbering placeholders
// across the whole statement.
type stmt struct {
	d    *Dialect
	b    strings.Builder
	args []any
}

func newStmt(d *Dialect) *stmt {
	return &stmt{d: d}
}

func (s *stmt) write(parts ...string) *stmt {
	for _, p := range parts {
		s.b.WriteString(p)
	}
	return s
}

func (s *stmt) bind(v any) string {
	s.args = append(s.args, v)
	return s.d.Placeholders.Mark(len(s.args))
}

func (s *stmt) String() string {
	return s.b.String()
}

// columnResolver renders the column a field is stored in
type columnResolver func(field string) (col string, dt metadata.DataType, err error)

// aliased qualifies columns with the alias of the table in the inheritance
// chain that stores them: A for the leaf table, B for its super table, ...
func aliased(d *Dialect, m *mapping.ObjectMapping) columnResolver {
	return func(field string) (string, metadata.DataType, error) {
		col, depth, ok := m.Lookup(field)
		if !ok {
			return "", metadata.TypeUnknown, unknownField(m, field)
		}
		return alias(depth) + "." + d.Ident(col.Name), fieldType(m, field), nil
	}
}

// unqualified only resolves the columns of the mapping's own table, as
// UPDATE and DELETE statements address a single table.
func unqualified(d *Dialect, m *mapping.ObjectMapping) columnResolver {
	return func(field string) (string, metadata.DataType, error) {
		col, ok := m.ColumnFor(field)
		if !ok {
			return "", metadata.TypeUnknown, unknownField(m, field)
		}
		return d.Ident(col.Name), fieldType(m, field), nil
	}
}

func alias(depth int) string {
	return string(rune('A' + depth))
}

func unknownField(m *mapping.ObjectMapping, field string) error {
	return fmt.Errorf("%w: %s is not mapped by %s", expression.ErrUnknownField, field, m)
}

func fieldType(m *mapping.ObjectMapping, field string) metadata.DataType {
	f, err := m.Meta.Field(field)
	if err != nil {
		return metadata.TypeUnknown
	}
	return f.DataType()
}

// CompileWhere compiles an expression into a WHERE fragment over the SELECT
// aliases of m, with its positional args. It accepts exactly the rows
// expression.Evaluate accepts.
func (d *Driver) CompileWhere(exp expression.Expression, m *mapping.ObjectMapping) (string, []any, error) {
	s := newStmt(d.Dialect)
	if err := compileWhere(s, exp, aliased(d.Dialect, m)); err != nil {
		return "", nil, err
	}
	return s.String(), s.args, nil
}

func compileWhere(s *stmt, exp expression.Expression, resolve columnResolver) error {
	if err := expression.Validate(exp); err != nil {
		return err
	}
	return compileExpr(s, exp, resolve)
}

func compileExpr(s *stmt, exp expression.Expression, resolve columnResolver) error {
	switch x := exp.(type) {
	case *expression.Condition:
		return compileCondition(s, x, resolve)

	case *expression.Group:
		s.write("(")
		if err := compileExpr(s, x.Expr, resolve); err != nil {
			return err
		}
		s.write(")")
		return nil

	case *expression.Operator:
		if err := compileSide(s, x, x.Left, false, resolve); err != nil {
			return err
		}
		s.write(" ", x.Op.String(), " ")
		return compileSide(s, x, x.Right, true, resolve)
	}
	return fmt.Errorf("%w: unsupported node %T", expression.ErrInvalidExpression, exp)
}

// compileSide parenthesizes nested operators the way Operator.String does,
// so the SQL groups exactly like the tree.
func compileSide(s *stmt, parent *expression.Operator, e expression.Expression, right bool, resolve columnResolver) error {
	nested, ok := e.(*expression.Operator)
	if !ok || (nested.Op == parent.Op && !right) {
		return compileExpr(s, e, resolve)
	}
	s.write("(")
	if err := compileExpr(s, e, resolve); err != nil {
		return err
	}
	s.write(")")
	return nil
}

func compileCondition(s *stmt, c *expression.Condition, resolve columnResolver) error {
	col, dt, err := resolve(c.Field)
	if err != nil {
		return err
	}

	if c.Value == nil && !c.Comparison.IsStringMatch() {
		if c.Comparison == expression.NotEqual {
			s.write(col, " IS NOT NULL")
		} else {
			s.write(col, " IS NULL")
		}
		return nil
	}

	if expression.IsCollection(c.Value) {
		items := expression.CollectionValues(c.Value)
		if len(items) == 0 {
			// IN () is invalid SQL. Nothing is in the empty set.
			if c.Comparison == expression.NotEqual {
				s.write("1 = 1")
			} else {
				s.write("1 = 0")
			}
			return nil
		}
		marks := make([]string, len(items))
		for i, item := range items {
			v, err := bindValue(dt, item)
			if err != nil {
				return fmt.Errorf("field %s: %w", c.Field, err)
			}
			marks[i] = s.bind(v)
		}
		op := " IN ("
		if c.Comparison == expression.NotEqual {
			op = " NOT IN ("
		}
		s.write(col, op, strings.Join(marks, ", "), ")")
		return nil
	}

	if c.Comparison.IsStringMatch() {
		return compileStringMatch(s, c, col)
	}

	v, err := bindValue(dt, c.Value)
	if err != nil {
		return fmt.Errorf("field %s: %w", c.Field, err)
	}
	s.write(col, " ", sqlOperator(c.Comparison), " ", s.bind(v))
	return nil
}

func compileStringMatch(s *stmt, c *expression.Condition, col string) error {
	if c.Value == nil {
		// Comparing with null never matches.
		s.write("1 = 0")
		return nil
	}
	text := matchText(c.Value)
	if c.Comparison == expression.EqualsIgnoreCase {
		s.write("UPPER(", col, ") = UPPER(", s.bind(text), ")")
		return nil
	}

	pattern := likeEscaper.Replace(text)
	switch c.Comparison {
	case expression.Contain, expression.NotContain:
		pattern = "%" + pattern + "%"
	case expression.StartWith, expression.NotStartWith:
		pattern += "%"
	case expression.EndWith, expression.NotEndWith:
		pattern = "%" + pattern
	}
	op := " LIKE "
	if c.Comparison.Negated() {
		op = " NOT LIKE "
	}
	s.write("UPPER(", col, ")", op, "UPPER(", s.bind(pattern), ") ESCAPE '", string(likeEscape), "'")
	return nil
}

func sqlOperator(c expression.Comparison) string {
	switch c {
	case expression.NotEqual:
		return "<>"
	case expression.Greater:
		return ">"
	case expression.Lesser:
		return "<"
	case expression.EqualGreater:
		return ">="
	case expression.EqualLesser:
		return "<="
	}
	return "="
}

func matchText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// bindValue converts a value to the field's data type and then to a type
// every database/sql driver accepts.
func bindValue(dt metadata.DataType, v any) (any, error) {
	c, err := dt.Coerce(v)
	if err != nil {
		return nil, err
	}
	switch x := c.(type) {
	case []string:
		return strings.Join(x, ","), nil
	case map[string]string:
		pairs := make([]string, 0, len(x))
		for k, e := range x {
			pairs = append(pairs, k+"="+e)
		}
		sort.Strings(pairs)
		return strings.Join(pairs, ","), nil
	}
	if dt == metadata.Object {
		switch c.(type) {
		case nil, []byte, string:
			return c, nil
		}
		return nil, fmt.Errorf("%w: cannot bind %T to an object column", metadata.ErrInvalidValue, c)
	}
	return c, nil
}
