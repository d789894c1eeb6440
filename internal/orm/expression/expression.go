// Package expression models filter predicates over object fields. The same
// tree is evaluated in memory by Evaluate and compiled to SQL by the sqldriver
// package; both must accept exactly the same rows.
package expression

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Comparison is the operator of a Condition.
type Comparison int

const (
	Equal Comparison = iota
	NotEqual
	Greater
	Lesser
	EqualGreater
	EqualLesser
	Contain
	NotContain
	StartWith
	NotStartWith
	EndWith
	NotEndWith
	EqualsIgnoreCase
)

// String returns the textual symbol accepted by Parse.
func (c Comparison) String() string {
	switch c {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case Greater:
		return ">"
	case Lesser:
		return "<"
	case EqualGreater:
		return ">="
	case EqualLesser:
		return "<="
	case Contain:
		return "CONTAINS"
	case NotContain:
		return "NOT CONTAINS"
	case StartWith:
		return "STARTS WITH"
	case NotStartWith:
		return "NOT STARTS WITH"
	case EndWith:
		return "ENDS WITH"
	case NotEndWith:
		return "NOT ENDS WITH"
	case EqualsIgnoreCase:
		return "EQUALS IGNORE CASE"
	default:
		return "UNKNOWN"
	}
}

// IsOrdering reports whether the comparison orders its operands.
func (c Comparison) IsOrdering() bool {
	return c >= Greater && c <= EqualLesser
}

// IsStringMatch reports whether the comparison is a case-insensitive string
// test.
func (c Comparison) IsStringMatch() bool {
	return c >= Contain && c <= EqualsIgnoreCase
}

// Negated reports whether the comparison is the negative form of a string
// test.
func (c Comparison) Negated() bool {
	return c == NotContain || c == NotStartWith || c == NotEndWith
}

func (c Comparison) valid() bool {
	return c >= Equal && c <= EqualsIgnoreCase
}

// Logic joins two expressions.
type Logic int

const (
	OpAnd Logic = iota
	OpOr
)

func (l Logic) String() string {
	if l == OpOr {
		return "OR"
	}
	return "AND"
}

// Expression is a node of a filter tree: a *Condition, *Group or *Operator.
type Expression interface {
	And(Expression) Expression
	Or(Expression) Expression
	String() string
	expression()
}

// Condition compares one field against a value. A nil value tests for null;
// a slice value (other than []byte) tests membership.
type Condition struct {
	Field      string
	Comparison Comparison
	Value      any
}

// Group keeps its expression together when rendered or compiled.
type Group struct {
	Expr Expression
}

// Operator joins two expressions with AND or OR.
type Operator struct {
	Left  Expression
	Right Expression
	Op    Logic
}

// New creates an equality condition.
func New(field string, value any) *Condition {
	return &Condition{Field: field, Comparison: Equal, Value: value}
}

// NewComparison creates a condition with an explicit comparison.
func NewComparison(field string, cmp Comparison, value any) *Condition {
	return &Condition{Field: field, Comparison: cmp, Value: value}
}

func And(left, right Expression) *Operator {
	return &Operator{Left: left, Right: right, Op: OpAnd}
}

func Or(left, right Expression) *Operator {
	return &Operator{Left: left, Right: right, Op: OpOr}
}

// Grouped wraps e in a Group.
func Grouped(e Expression) *Group {
	return &Group{Expr: e}
}

func (c *Condition) And(e Expression) Expression { return And(c, e) }
func (c *Condition) Or(e Expression) Expression  { return Or(c, e) }
func (g *Group) And(e Expression) Expression     { return And(g, e) }
func (g *Group) Or(e Expression) Expression      { return Or(g, e) }
func (o *Operator) And(e Expression) Expression  { return And(o, e) }
func (o *Operator) Or(e Expression) Expression   { return Or(o, e) }

func (*Condition) expression() {}
func (*Group) expression()     {}
func (*Operator) expression()  {}

func (c *Condition) String() string {
	var b strings.Builder
	b.WriteString(c.Field)

	switch {
	case c.Value == nil && c.Comparison == Equal:
		b.WriteString(" IS NULL")
	case c.Value == nil && c.Comparison == NotEqual:
		b.WriteString(" IS NOT NULL")
	case IsCollection(c.Value):
		if c.Comparison == NotEqual {
			b.WriteString(" NOT IN (")
		} else {
			b.WriteString(" IN (")
		}
		for i, v := range CollectionValues(c.Value) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Literal(v))
		}
		b.WriteString(")")
	default:
		b.WriteString(" ")
		b.WriteString(c.Comparison.String())
		b.WriteString(" ")
		b.WriteString(Literal(c.Value))
	}
	return b.String()
}

func (g *Group) String() string {
	if g.Expr == nil {
		return "()"
	}
	return "(" + g.Expr.String() + ")"
}

// String renders both sides. A nested operator of the other kind is
// parenthesized so the text keeps the tree's evaluation order.
func (o *Operator) String() string {
	return o.side(o.Left) + " " + o.Op.String() + " " + o.side(o.Right)
}

func (o *Operator) side(e Expression) string {
	if e == nil {
		return "<nil>"
	}
	if inner, ok := e.(*Operator); ok && (inner.Op != o.Op || e == o.Right) {
		return "(" + inner.String() + ")"
	}
	return e.String()
}

// Literal renders a value in the form Parse reads back.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case []byte:
		return quote(string(x))
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return quote(x.Format(time.RFC3339Nano))
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	if u, ok := normalize(v).(uint64); ok {
		return strconv.FormatUint(u, 10)
	}
	return quote(fmt.Sprint(v))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// IsCollection reports whether v is a slice or array other than []byte.
func IsCollection(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// CollectionValues returns the elements of a collection value.
func CollectionValues(v any) []any {
	if !IsCollection(v) {
		return nil
	}
	if xs, ok := v.([]any); ok {
		return xs
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Fields returns the field names referenced by e in order of appearance.
func Fields(e Expression) []string {
	var out []string
	seen := make(map[string]bool)
	Walk(e, func(c *Condition) {
		if !seen[c.Field] {
			seen[c.Field] = true
			out = append(out, c.Field)
		}
	})
	return out
}

// Walk calls fn for every condition of e, left to right.
func Walk(e Expression, fn func(*Condition)) {
	switch x := e.(type) {
	case *Condition:
		fn(x)
	case *Group:
		Walk(x.Expr, fn)
	case *Operator:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	}
}
