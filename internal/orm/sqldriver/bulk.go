package sqldriver

import (
	"context"
	"fmt"
	"strings"

	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
	"github.com/metaobjects/metaobjects/internal/orm/object"
)

// maxBulkParams keeps multi-row inserts under the parameter limits of every
// supported database.
const maxBulkParams = 900

// CreateMany inserts objects of one MetaObject. Tables without generated
// keys or super tables get multi-row INSERTs; everything else is created
// one object at a time.
func (s *Store) CreateMany(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error {
	if len(objs) == 0 {
		return nil
	}
	q, err := s.querier(c, true)
	if err != nil {
		return err
	}
	m, err := s.mapping(objs[0].Meta(), createMapping)
	if err != nil {
		return err
	}
	for _, obj := range objs[1:] {
		if obj.Meta() != m.Meta {
			return fmt.Errorf("bulk create mixes %s and %s", m.Meta.Name(), obj.TypeName())
		}
	}

	if !bulkInsertable(m) {
		for _, obj := range objs {
			if err := s.driver.Create(ctx, q, m, obj); err != nil {
				return err
			}
		}
		return nil
	}
	return s.driver.BulkInsert(ctx, q, m, objs)
}

func bulkInsertable(m *mapping.ObjectMapping) bool {
	if m.IsView() || m.Super != nil {
		return false
	}
	for _, col := range m.Columns() {
		if col.Auto == mapping.AutoID || col.Auto == mapping.AutoLastID {
			return false
		}
	}
	return true
}

// BulkInsert inserts objs with multi-row INSERT statements. Generated
// columns are not read back.
func (d *Driver) BulkInsert(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, objs []*object.Object) error {
	var fields, cols []string
	for _, f := range m.Fields() {
		col, _ := m.ColumnFor(f)
		if col.IsIdentity() {
			continue
		}
		fields = append(fields, f)
		cols = append(cols, d.Dialect.Ident(col.Name))
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to insert into %s", m.Table.Name)
	}

	perStmt := maxBulkParams / len(fields)
	if perStmt < 1 {
		perStmt = 1
	}
	for start := 0; start < len(objs); start += perStmt {
		end := min(start+perStmt, len(objs))

		s := newStmt(d.Dialect)
		rows := make([]string, 0, end-start)
		for _, obj := range objs[start:end] {
			values := obj.Values()
			marks := make([]string, len(fields))
			for i, f := range fields {
				v, err := bindValue(fieldType(m, f), values[f])
				if err != nil {
					return fmt.Errorf("field %s: %w", f, err)
				}
				marks[i] = s.bind(v)
			}
			rows = append(rows, "("+strings.Join(marks, ", ")+")")
		}

		s.write("INSERT INTO ", d.Dialect.Ident(m.Table.Name), " (", strings.Join(cols, ", "), ") VALUES ", strings.Join(rows, ", "))
		res, err := d.exec(ctx, q, "bulk create", s.String(), s.args)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n != int64(end-start) {
			return wrap("bulk create", s.String(), s.args,
				fmt.Errorf("%w: inserted %d of %d rows", ErrNoRowsAffected, n, end-start))
		}
	}
	return nil
}
