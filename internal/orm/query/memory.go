package query

import (
	"sort"
	"strings"

	"github.com/metaobjects/metaobjects/internal/orm/expression"
)

// Filter returns the objects that satisfy exp. A nil expression keeps all.
func Filter[V expression.Values](objs []V, exp expression.Expression) ([]V, error) {
	if exp == nil {
		return append([]V(nil), objs...), nil
	}
	if err := expression.Validate(exp); err != nil {
		return nil, err
	}

	out := make([]V, 0, len(objs))
	for _, o := range objs {
		ok, err := expression.Evaluate(exp, o)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// Sort orders objs in place. The sort is stable; strings order
// case-insensitively and nulls first.
func Sort[V expression.Values](objs []V, order ...SortOrder) error {
	if len(order) == 0 {
		return nil
	}

	var firstErr error
	sort.SliceStable(objs, func(i, j int) bool {
		for _, o := range order {
			a, err := objs[i].FieldValue(o.Field)
			if err != nil {
				firstErr = keep(firstErr, err)
				return false
			}
			b, err := objs[j].FieldValue(o.Field)
			if err != nil {
				firstErr = keep(firstErr, err)
				return false
			}
			n, err := expression.CompareFold(a, b)
			if err != nil {
				firstErr = keep(firstErr, err)
				return false
			}
			if n == 0 {
				continue
			}
			if o.Descending {
				return n > 0
			}
			return n < 0
		}
		return false
	})
	return firstErr
}

func keep(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

// Clip returns the part of objs covered by r. A range starting past the end
// yields an empty result.
func Clip[V any](objs []V, r Range) ([]V, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.Offset() >= len(objs) {
		return []V{}, nil
	}
	end := r.End
	if end > len(objs) {
		end = len(objs)
	}
	return append([]V(nil), objs[r.Offset():end]...), nil
}

// Distinct drops objects whose values for fields repeat an earlier object.
// With no fields the input is returned unchanged.
func Distinct[V expression.Values](objs []V, fields []string) ([]V, error) {
	if len(fields) == 0 {
		return objs, nil
	}

	seen := make(map[string]bool, len(objs))
	out := make([]V, 0, len(objs))
	for _, o := range objs {
		parts := make([]string, len(fields))
		for i, f := range fields {
			v, err := o.FieldValue(f)
			if err != nil {
				return nil, err
			}
			parts[i] = expression.Literal(v)
		}
		key := strings.Join(parts, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out, nil
}

// Apply runs filter, sort, distinct and clip in that order.
func Apply[V expression.Values](objs []V, opts *Options) ([]V, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		return append([]V(nil), objs...), nil
	}

	out, err := Filter(objs, opts.Expression)
	if err != nil {
		return nil, err
	}
	if err := Sort(out, opts.Order...); err != nil {
		return nil, err
	}
	if opts.Distinct {
		if out, err = Distinct(out, opts.Fields); err != nil {
			return nil, err
		}
	}
	if opts.Range != nil {
		return Clip(out, *opts.Range)
	}
	return out, nil
}
