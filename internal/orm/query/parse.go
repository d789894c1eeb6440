package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/metaobjects/metaobjects/internal/orm/expression"
)

// ParseOrder parses a comma separated list of fields. A leading '-' sorts
// descending, a leading '+' or nothing ascending.
//
//	name,-age
func ParseOrder(s string) ([]SortOrder, error) {
	var out []SortOrder
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimSpace(strings.TrimLeft(part, "+-"))
		if field == "" {
			return nil, fmt.Errorf("invalid sort order %q", part)
		}
		if desc {
			out = append(out, Desc(field))
		} else {
			out = append(out, Asc(field))
		}
	}
	return out, nil
}

// ParseRange parses "start:end" or "start-end".
func ParseRange(s string) (Range, error) {
	sep := strings.IndexAny(s, ":-")
	if sep < 0 {
		return Range{}, fmt.Errorf("%w: %q, want start:end", ErrInvalidRange, s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(s[:sep]))
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(s[sep+1:]))
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	r := NewRange(start, end)
	if err := r.validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Parse builds options from their textual forms. Empty strings leave the
// matching option unset.
func Parse(where, order, rng string) (*Options, error) {
	opts := &Options{}
	if strings.TrimSpace(where) != "" {
		exp, err := expression.Parse(where)
		if err != nil {
			return nil, err
		}
		opts.Expression = exp
	}
	if order != "" {
		orders, err := ParseOrder(order)
		if err != nil {
			return nil, err
		}
		opts.Order = orders
	}
	if rng != "" {
		r, err := ParseRange(rng)
		if err != nil {
			return nil, err
		}
		opts.Range = &r
	}
	return opts, nil
}
