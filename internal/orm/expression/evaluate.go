package expression

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
)

var (
	// ErrInvalidExpression is returned for trees neither evaluator accepts.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrUnknownField is returned by Values implementations for missing fields.
	ErrUnknownField = errors.New("unknown field")
)

// TypeMismatchError is returned when two values of different kinds are
// compared.
type TypeMismatchError struct {
	Left  any
	Right any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("data values are not of the same type: %T and %T", e.Left, e.Right)
}

// IsTypeMismatch reports whether err is a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var tm *TypeMismatchError
	return errors.As(err, &tm)
}

// Values supplies field values to Evaluate.
type Values interface {
	FieldValue(name string) (any, error)
}

// Row is a map backed Values.
type Row map[string]any

func (r Row) FieldValue(name string) (any, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return v, nil
}

// Validate checks the tree for constructs the SQL compiler cannot express:
// ordering against null, collections outside equality, nulls inside
// collections, empty groups and unknown comparisons.
func Validate(e Expression) error {
	switch x := e.(type) {
	case nil:
		return fmt.Errorf("%w: missing expression", ErrInvalidExpression)
	case *Condition:
		return validateCondition(x)
	case *Group:
		if x.Expr == nil {
			return fmt.Errorf("%w: empty group", ErrInvalidExpression)
		}
		return Validate(x.Expr)
	case *Operator:
		if x.Op != OpAnd && x.Op != OpOr {
			return fmt.Errorf("%w: unknown operator %d", ErrInvalidExpression, int(x.Op))
		}
		if err := Validate(x.Left); err != nil {
			return err
		}
		return Validate(x.Right)
	}
	return fmt.Errorf("%w: unsupported node %T", ErrInvalidExpression, e)
}

func validateCondition(c *Condition) error {
	if c.Field == "" {
		return fmt.Errorf("%w: condition without field", ErrInvalidExpression)
	}
	if !c.Comparison.valid() {
		return fmt.Errorf("%w: unknown comparison %d on %s", ErrInvalidExpression, int(c.Comparison), c.Field)
	}
	if c.Value == nil && c.Comparison.IsOrdering() {
		return fmt.Errorf("%w: %s %s NULL cannot be evaluated", ErrInvalidExpression, c.Field, c.Comparison)
	}
	if IsCollection(c.Value) {
		if c.Comparison != Equal && c.Comparison != NotEqual {
			return fmt.Errorf("%w: collection values are only allowed with = and != (field %s uses %s)",
				ErrInvalidExpression, c.Field, c.Comparison)
		}
		for _, v := range CollectionValues(c.Value) {
			if v == nil {
				return fmt.Errorf("%w: collection for %s contains null", ErrInvalidExpression, c.Field)
			}
			if IsCollection(v) {
				return fmt.Errorf("%w: nested collection for %s", ErrInvalidExpression, c.Field)
			}
		}
	}
	return nil
}

// Evaluate reports whether values satisfy e. The tree is validated first.
//
// Comparisons follow SQL semantics: a null field value only satisfies IS NULL,
// every other comparison against it is false.
func Evaluate(e Expression, values Values) (bool, error) {
	if err := Validate(e); err != nil {
		return false, err
	}
	return eval(e, values)
}

func eval(e Expression, values Values) (bool, error) {
	switch x := e.(type) {
	case *Condition:
		v, err := values.FieldValue(x.Field)
		if err != nil {
			return false, err
		}
		ok, err := Matches(x, v)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", x.Field, err)
		}
		return ok, nil

	case *Group:
		return eval(x.Expr, values)

	case *Operator:
		left, err := eval(x.Left, values)
		if err != nil {
			return false, err
		}
		if x.Op == OpAnd && !left {
			return false, nil
		}
		if x.Op == OpOr && left {
			return true, nil
		}
		return eval(x.Right, values)
	}
	return false, fmt.Errorf("%w: unsupported node %T", ErrInvalidExpression, e)
}

// Matches applies a single condition to a field value.
func Matches(c *Condition, v any) (bool, error) {
	if c.Value == nil {
		switch c.Comparison {
		case Equal:
			return v == nil, nil
		case NotEqual:
			return v != nil, nil
		}
	}

	if IsCollection(c.Value) {
		items := CollectionValues(c.Value)
		if len(items) == 0 {
			return c.Comparison == NotEqual, nil
		}
		if v == nil {
			return false, nil
		}
		for _, item := range items {
			n, err := Compare(v, item)
			if err != nil {
				return false, err
			}
			if n == 0 {
				return c.Comparison == Equal, nil
			}
		}
		return c.Comparison == NotEqual, nil
	}

	if v == nil || c.Value == nil {
		return false, nil
	}

	if c.Comparison.IsStringMatch() {
		return matchString(c.Comparison, text(v), text(c.Value)), nil
	}

	n, err := Compare(v, c.Value)
	if err != nil {
		return false, err
	}
	switch c.Comparison {
	case Equal:
		return n == 0, nil
	case NotEqual:
		return n != 0, nil
	case Greater:
		return n > 0, nil
	case Lesser:
		return n < 0, nil
	case EqualGreater:
		return n >= 0, nil
	case EqualLesser:
		return n <= 0, nil
	}
	return false, fmt.Errorf("%w: unknown comparison %d", ErrInvalidExpression, int(c.Comparison))
}

func matchString(cmp Comparison, s, pattern string) bool {
	s, pattern = strings.ToUpper(s), strings.ToUpper(pattern)
	switch cmp {
	case Contain:
		return strings.Contains(s, pattern)
	case NotContain:
		return !strings.Contains(s, pattern)
	case StartWith:
		return strings.HasPrefix(s, pattern)
	case NotStartWith:
		return !strings.HasPrefix(s, pattern)
	case EndWith:
		return strings.HasSuffix(s, pattern)
	case NotEndWith:
		return !strings.HasSuffix(s, pattern)
	case EqualsIgnoreCase:
		return s == pattern
	}
	return false
}

func text(v any) string {
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

// Compare orders two values. Nulls sort first. A string right hand side is
// parsed into the type of the left hand side; numbers of any width compare
// by value. Any other mismatch is a TypeMismatchError.
func Compare(lhs, rhs any) (int, error) {
	switch {
	case lhs == nil && rhs == nil:
		return 0, nil
	case lhs == nil:
		return -1, nil
	case rhs == nil:
		return 1, nil
	}

	l, r := normalize(lhs), normalize(rhs)
	if s, ok := r.(string); ok {
		if _, isString := l.(string); !isString {
			parsed, err := parseAs(l, s)
			if err != nil {
				return 0, &TypeMismatchError{Left: lhs, Right: rhs}
			}
			r = parsed
		}
	}

	switch a := l.(type) {
	case string:
		if b, ok := r.(string); ok {
			return strings.Compare(a, b), nil
		}
	case int64:
		switch b := r.(type) {
		case int64:
			return cmpOrdered(a, b), nil
		case float64:
			return cmpOrdered(float64(a), b), nil
		case uint64:
			return -1, nil
		}
	case uint64:
		// only values above math.MaxInt64 stay unsigned
		switch b := r.(type) {
		case uint64:
			return cmpOrdered(a, b), nil
		case int64:
			return 1, nil
		case float64:
			return cmpOrdered(float64(a), b), nil
		}
	case float64:
		switch b := r.(type) {
		case float64:
			return cmpOrdered(a, b), nil
		case int64:
			return cmpOrdered(a, float64(b)), nil
		case uint64:
			return cmpOrdered(a, float64(b)), nil
		}
	case bool:
		if b, ok := r.(bool); ok {
			switch {
			case a == b:
				return 0, nil
			case !a:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if b, ok := r.(time.Time); ok {
			return a.Compare(b), nil
		}
	}
	return 0, &TypeMismatchError{Left: lhs, Right: rhs}
}

// CompareFold is Compare with strings ordered case-insensitively, the order
// SQL sorting by UPPER(column) produces.
func CompareFold(lhs, rhs any) (int, error) {
	if a, ok := lhs.(string); ok {
		if b, ok := rhs.(string); ok {
			return strings.Compare(strings.ToUpper(a), strings.ToUpper(b)), nil
		}
	}
	return Compare(lhs, rhs)
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float32:
		return float64(x)
	case float64, string, bool, time.Time:
		return v
	}
	if n, ok := asInt64(v); ok {
		return n
	}
	if u, ok := v.(uint); ok {
		return uint64(u)
	}
	return v
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x), true
		}
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

func parseAs(like any, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch like.(type) {
	case int64:
		return strconv.ParseInt(s, 10, 64)
	case uint64:
		return strconv.ParseUint(s, 10, 64)
	case float64:
		return strconv.ParseFloat(s, 64)
	case bool:
		return strconv.ParseBool(s)
	case time.Time:
		return metadata.Date.Coerce(s)
	}
	return nil, fmt.Errorf("cannot parse %q as %T", s, like)
}
