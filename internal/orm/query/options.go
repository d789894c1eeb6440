// Package query holds the options of an object query and the in-memory
// helpers that apply them to already loaded objects.
package query

import (
	"errors"
	"fmt"

	"github.com/metaobjects/metaobjects/internal/orm/expression"
)

// ErrInvalidRange is returned for ranges that do not satisfy 1 <= start <= end.
var ErrInvalidRange = errors.New("invalid range")

// Range selects rows start..end, 1-based and inclusive.
type Range struct {
	Start int
	End   int
}

// NewRange creates a range.
func NewRange(start, end int) Range {
	return Range{Start: start, End: end}
}

// IsValid reports whether start >= 1 and end >= start.
func (r Range) IsValid() bool {
	return r.Start >= 1 && r.End >= r.Start
}

// Count returns the number of rows the range covers.
func (r Range) Count() int {
	return r.End - r.Start + 1
}

// Offset returns the number of rows skipped before the range.
func (r Range) Offset() int {
	return r.Start - 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

func (r Range) validate() error {
	if !r.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return nil
}

// SortOrder orders results by one field.
type SortOrder struct {
	Field      string
	Descending bool
}

// Asc sorts ascending by field.
func Asc(field string) SortOrder {
	return SortOrder{Field: field}
}

// Desc sorts descending by field.
func Desc(field string) SortOrder {
	return SortOrder{Field: field, Descending: true}
}

func (s SortOrder) String() string {
	if s.Descending {
		return s.Field + " DESC"
	}
	return s.Field + " ASC"
}

// Options describes an object query.
type Options struct {
	Expression expression.Expression
	Order      []SortOrder
	Range      *Range

	// Fields restricts the fields that are loaded. Empty means all.
	Fields []string

	Distinct bool
	WithLock bool
}

// NewOptions creates options filtering by exp, which may be nil.
func NewOptions(exp expression.Expression) *Options {
	return &Options{Expression: exp}
}

// WithRange limits the results to start..end.
func (o *Options) WithRange(start, end int) *Options {
	r := NewRange(start, end)
	o.Range = &r
	return o
}

// OrderBy appends sort orders.
func (o *Options) OrderBy(orders ...SortOrder) *Options {
	o.Order = append(o.Order, orders...)
	return o
}

// Select restricts the loaded fields.
func (o *Options) Select(fields ...string) *Options {
	o.Fields = append(o.Fields, fields...)
	return o
}

// Validate checks the range and the expression.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.Range != nil {
		if err := o.Range.validate(); err != nil {
			return err
		}
	}
	if o.Expression != nil {
		return expression.Validate(o.Expression)
	}
	return nil
}

// Clone returns a copy that shares the expression tree.
func (o *Options) Clone() *Options {
	if o == nil {
		return &Options{}
	}
	c := *o
	c.Order = append([]SortOrder(nil), o.Order...)
	c.Fields = append([]string(nil), o.Fields...)
	if o.Range != nil {
		r := *o.Range
		c.Range = &r
	}
	return &c
}
