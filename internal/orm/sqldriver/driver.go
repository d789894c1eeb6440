package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// ExecQuerier is the target statements run on. *sql.DB, *sql.Conn and
// *sql.Tx satisfy it.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Driver generates and runs the SQL persisting objects through their
// mappings.
type Driver struct {
	Dialect *Dialect
	Logger  *zap.Logger
}

// NewDriver creates a driver. A nil dialect means Generic, a nil logger
// discards.
func NewDriver(dialect *Dialect, logger *zap.Logger) *Driver {
	if dialect == nil {
		dialect = Generic()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{Dialect: dialect, Logger: logger}
}

// SelectStatement is a compiled SELECT. Fields lists the selected fields in
// column order. The first Skip rows are dropped and, when Limit is positive,
// only Limit rows are kept; both make up for ranges the dialect cannot
// express.
type SelectStatement struct {
	SQL    string
	Args   []any
	Fields []string
	Skip   int
	Limit  int
}

// DirtyCheck guards an update with the value a field had when the object
// was read.
type DirtyCheck struct {
	Field string
	Value any
}

// SelectSQL compiles a query over m. The leaf table is aliased A and every
// super table is joined with the next letter.
func (d *Driver) SelectSQL(m *mapping.ObjectMapping, opts *query.Options) (*SelectStatement, error) {
	if opts == nil {
		opts = &query.Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	fields, err := selectFields(m, opts.Fields)
	if err != nil {
		return nil, err
	}

	resolve := aliased(d.Dialect, m)
	s := newStmt(d.Dialect)
	st := &SelectStatement{Fields: fields}

	s.write("SELECT ")
	if opts.Distinct {
		s.write("DISTINCT ")
	}
	var page Page
	if opts.Range != nil {
		page = d.Dialect.Paging.Page(*opts.Range)
		s.write(page.Prefix)
		st.Skip = page.Skip
		if page.Clip {
			st.Skip = opts.Range.Offset()
			st.Limit = opts.Range.Count()
		}
	}

	cols := make([]string, len(fields))
	for i, f := range fields {
		col, _, err := resolve(f)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	s.write(strings.Join(cols, ", "))

	var hint, lock string
	if opts.WithLock {
		if hint, lock, err = d.Dialect.Locking.ForUpdate(); err != nil {
			return nil, err
		}
	}
	d.from(s, m, hint)

	if opts.Expression != nil {
		s.write(" WHERE ")
		if err := compileWhere(s, opts.Expression, resolve); err != nil {
			return nil, err
		}
	}

	if len(opts.Order) > 0 {
		orders := make([]string, len(opts.Order))
		for i, o := range opts.Order {
			col, dt, err := resolve(o.Field)
			if err != nil {
				return nil, err
			}
			if dt == metadata.String {
				col = "UPPER(" + col + ")"
			}
			if o.Descending {
				col += " DESC"
			}
			orders[i] = col
		}
		s.write(" ORDER BY ", strings.Join(orders, ", "))
	}

	s.write(page.Suffix, lock)
	st.SQL = s.String()
	st.Args = s.args
	return st, nil
}

// from writes the FROM clause joining the inheritance chain of m.
func (d *Driver) from(s *stmt, m *mapping.ObjectMapping, hint string) {
	chain := m.Chain()
	s.write(" FROM ", d.Dialect.Ident(chain[0].Name()), " A", hint)
	for i := 1; i < len(chain); i++ {
		inh := chain[i-1].Inheritance()
		s.write(" LEFT JOIN ", d.Dialect.Ident(chain[i].Name()), " ", alias(i),
			" ON ", alias(i-1), ".", d.Dialect.Ident(inh.RefColumn),
			" = ", alias(i), ".", d.Dialect.Ident(inh.SuperColumn.Name))
	}
}

func selectFields(m *mapping.ObjectMapping, include []string) ([]string, error) {
	if len(include) == 0 {
		return m.AllFields(), nil
	}
	var fields []string
	seen := make(map[string]bool, len(include))
	for _, f := range include {
		if seen[f] {
			continue
		}
		if _, _, ok := m.Lookup(f); !ok {
			return nil, unknownField(m, f)
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, nil
}

// CountSQL compiles a count of the rows of m matching exp, which may be nil.
func (d *Driver) CountSQL(m *mapping.ObjectMapping, exp expression.Expression) (string, []any, error) {
	s := newStmt(d.Dialect)
	s.write("SELECT COUNT(*)")
	d.from(s, m, "")
	if exp != nil {
		s.write(" WHERE ")
		if err := compileWhere(s, exp, aliased(d.Dialect, m)); err != nil {
			return "", nil, err
		}
	}
	return s.String(), s.args, nil
}

func (d *Driver) debug(op, query string, args []any) {
	d.Logger.Debug("executing SQL",
		zap.String("op", op),
		zap.String("dialect", d.Dialect.Name),
		zap.String("sql", query),
		zap.Any("args", args),
	)
}

func (d *Driver) exec(ctx context.Context, q ExecQuerier, op, query string, args []any) (sql.Result, error) {
	d.debug(op, query, args)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, query, args, err)
	}
	return res, nil
}

func (d *Driver) query(ctx context.Context, q ExecQuerier, op, query string, args []any) (*sql.Rows, error) {
	d.debug(op, query, args)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, query, args, err)
	}
	return rows, nil
}

func (d *Driver) queryInt(ctx context.Context, q ExecQuerier, op, query string, args []any) (int64, error) {
	d.debug(op, query, args)
	var n sql.NullInt64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrap(op, query, args, err)
	}
	return n.Int64, nil
}

// Create inserts obj. Objects stored across an inheritance chain get the
// discriminator stamped and their super row inserted first; the generated
// super key is copied into the reference column.
func (d *Driver) Create(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, obj *object.Object) error {
	if m.IsView() {
		return fmt.Errorf("%w: cannot create %s through %s", mapping.ErrInvalidMapping, m.Meta.Name(), m)
	}

	if inh := m.Inheritance(); inh != nil {
		if err := stampDiscriminator(m, inh, obj); err != nil {
			return err
		}
		if err := d.Create(ctx, q, m.Super, obj); err != nil {
			return err
		}
		if err := copySuperKey(m, inh, obj); err != nil {
			return err
		}
	}

	values := obj.Values()
	s := newStmt(d.Dialect)
	var cols, marks []string
	var readBack []string
	for _, f := range m.Fields() {
		col, _ := m.ColumnFor(f)
		if col.IsIdentity() {
			if col.Auto == mapping.AutoLastID {
				readBack = append(readBack, f)
			}
			continue
		}
		if col.Auto == mapping.AutoID && values[f] == nil {
			id, err := d.nextID(ctx, q, m.Table, col)
			if err != nil {
				return err
			}
			if err := obj.Set(f, id); err != nil {
				return err
			}
			values[f], _ = obj.Get(f)
		}
		v, err := bindValue(fieldType(m, f), values[f])
		if err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		cols = append(cols, d.Dialect.Ident(col.Name))
		marks = append(marks, s.bind(v))
	}

	s.write("INSERT INTO ", d.Dialect.Ident(m.Table.Name), " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(marks, ", "), ")")
	res, err := d.exec(ctx, q, "create", s.String(), s.args)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("create", s.String(), s.args, ErrNoRowsAffected)
	}

	for _, f := range readBack {
		col, _ := m.ColumnFor(f)
		lastSQL, err := d.Dialect.IDs.LastID(m.Table, col)
		if err != nil {
			return err
		}
		id, err := d.queryInt(ctx, q, "last id", lastSQL, nil)
		if err != nil {
			return err
		}
		if err := obj.Set(f, id); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) nextID(ctx context.Context, q ExecQuerier, t *mapping.TableDef, col *mapping.ColumnDef) (int64, error) {
	execs, nextSQL, err := d.Dialect.IDs.NextID(t, col)
	if err != nil {
		return 0, err
	}
	for _, e := range execs {
		if _, err := d.exec(ctx, q, "next id", e, nil); err != nil {
			return 0, err
		}
	}
	return d.queryInt(ctx, q, "next id", nextSQL, nil)
}

func stampDiscriminator(m *mapping.ObjectMapping, inh *mapping.InheritanceDef, obj *object.Object) error {
	if inh.DiscriminatorColumn == "" || inh.DiscriminatorValue == "" {
		return nil
	}
	f, ok := superField(m, inh.DiscriminatorColumn)
	if !ok {
		return fmt.Errorf("%w: discriminator %s is not stored by %s", mapping.ErrInvalidMapping, inh.DiscriminatorColumn, m.Super)
	}
	return obj.Set(f, inh.DiscriminatorValue)
}

func copySuperKey(m *mapping.ObjectMapping, inh *mapping.InheritanceDef, obj *object.Object) error {
	superKey, ok := m.Super.FieldFor(inh.SuperColumn.Name)
	if !ok {
		return fmt.Errorf("%w: %s does not map %s", mapping.ErrInvalidMapping, m.Super, inh.SuperColumn.Name)
	}
	ref, ok := m.FieldFor(inh.RefColumn)
	if !ok || ref == superKey {
		return nil
	}
	v, err := obj.Get(superKey)
	if err != nil {
		return err
	}
	return obj.Set(ref, v)
}

// fillSuperKey sets the super key of obj from its ref field when only the
// sub row was read.
func fillSuperKey(m *mapping.ObjectMapping, obj *object.Object) error {
	inh := m.Inheritance()
	if inh == nil {
		return nil
	}
	superKey, ok := m.Super.FieldFor(inh.SuperColumn.Name)
	if !ok {
		return fmt.Errorf("%w: %s does not map %s", mapping.ErrInvalidMapping, m.Super, inh.SuperColumn.Name)
	}
	ref, ok := m.FieldFor(inh.RefColumn)
	if !ok || ref == superKey {
		return nil
	}
	if v, err := obj.Get(superKey); err != nil || v != nil {
		return err
	}
	v, err := obj.Get(ref)
	if err != nil {
		return err
	}
	return obj.Set(superKey, v)
}

// chainKeys lists the key and ref fields of every table storing m, leaf
// first, so that a read object can be deleted from each of them.
func chainKeys(m *mapping.ObjectMapping) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, cm := range m.Chain() {
		fields := cm.KeyFields()
		if inh := cm.Inheritance(); inh != nil {
			if ref, ok := cm.FieldFor(inh.RefColumn); ok {
				fields = append(fields, ref)
			}
		}
		for _, f := range fields {
			if !seen[f] {
				seen[f] = true
				keys = append(keys, f)
			}
		}
	}
	return keys
}

func superField(m *mapping.ObjectMapping, column string) (string, bool) {
	for cur := m.Super; cur != nil; cur = cur.Super {
		if f, ok := cur.FieldFor(column); ok {
			return f, true
		}
	}
	return "", false
}

// Read loads the first object matching exp into obj. It reports false when
// nothing matches.
func (d *Driver) Read(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, exp expression.Expression, obj *object.Object) (bool, error) {
	opts := query.NewOptions(exp).WithRange(1, 1)
	records, err := d.selectRecords(ctx, q, "read", m, opts)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}
	return true, obj.Load(records[0])
}

// ReadMany returns the objects matching opts.
func (d *Driver) ReadMany(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, opts *query.Options) ([]*object.Object, error) {
	records, err := d.selectRecords(ctx, q, "read many", m, opts)
	if err != nil {
		return nil, err
	}
	return toObjects(m.Meta, records)
}

func (d *Driver) selectRecords(ctx context.Context, q ExecQuerier, op string, m *mapping.ObjectMapping, opts *query.Options) ([]map[string]any, error) {
	st, err := d.SelectSQL(m, opts)
	if err != nil {
		return nil, err
	}
	rows, err := d.query(ctx, q, op, st.SQL, st.Args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRows(rows, m, st.Fields, st.Skip)
	if err != nil {
		return nil, wrap(op, st.SQL, st.Args, err)
	}
	if st.Limit > 0 && len(records) > st.Limit {
		records = records[:st.Limit]
	}
	return records, nil
}

func toObjects(meta *metadata.Node, records []map[string]any) ([]*object.Object, error) {
	objs := make([]*object.Object, 0, len(records))
	for _, r := range records {
		obj, err := object.New(meta)
		if err != nil {
			return nil, err
		}
		if err := obj.Load(r); err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Update writes fields of obj, super table first. Key and identity fields
// are never written. A dirty check is applied on the table storing its
// field. It reports false when a table row was not matched.
func (d *Driver) Update(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, obj *object.Object, fields []string, check *DirtyCheck) (bool, error) {
	if m.IsView() {
		return false, fmt.Errorf("%w: cannot update %s through %s", mapping.ErrInvalidMapping, m.Meta.Name(), m)
	}
	if m.Super != nil {
		ok, err := d.Update(ctx, q, m.Super, obj, fields, check)
		if err != nil || !ok {
			return ok, err
		}
	}

	var own []string
	for _, f := range fields {
		col, ok := m.ColumnFor(f)
		if ok && !col.PrimaryKey && !col.IsIdentity() {
			own = append(own, f)
		}
	}
	var guard *DirtyCheck
	if check != nil {
		if _, ok := m.ColumnFor(check.Field); ok {
			guard = check
		}
	}
	if len(own) == 0 && guard == nil {
		return true, nil
	}
	if len(own) == 0 {
		// The row still has to be matched for the check to mean anything.
		own = append(own, guard.Field)
	}

	s := newStmt(d.Dialect)
	s.write("UPDATE ", d.Dialect.Ident(m.Table.Name), " SET ")
	for i, f := range own {
		col, _ := m.ColumnFor(f)
		v, _ := obj.Get(f)
		bv, err := bindValue(fieldType(m, f), v)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", f, err)
		}
		if i > 0 {
			s.write(", ")
		}
		s.write(d.Dialect.Ident(col.Name), " = ", s.bind(bv))
	}

	where, err := keyExpression(m, obj)
	if err != nil {
		return false, err
	}
	if guard != nil {
		where = expression.And(where, expression.New(guard.Field, guard.Value))
	}
	s.write(" WHERE ")
	if err := compileWhere(s, where, unqualified(d.Dialect, m)); err != nil {
		return false, err
	}

	res, err := d.exec(ctx, q, "update", s.String(), s.args)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("update", s.String(), s.args, err)
	}
	return n > 0, nil
}

// Delete removes obj, sub table row first. It reports whether the row of
// the leaf table existed.
func (d *Driver) Delete(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, obj *object.Object) (bool, error) {
	if m.IsView() {
		return false, fmt.Errorf("%w: cannot delete %s through %s", mapping.ErrInvalidMapping, m.Meta.Name(), m)
	}
	where, err := keyExpression(m, obj)
	if err != nil {
		return false, err
	}
	s := newStmt(d.Dialect)
	s.write("DELETE FROM ", d.Dialect.Ident(m.Table.Name), " WHERE ")
	if err := compileWhere(s, where, unqualified(d.Dialect, m)); err != nil {
		return false, err
	}
	res, err := d.exec(ctx, q, "delete", s.String(), s.args)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("delete", s.String(), s.args, err)
	}

	if m.Super != nil {
		if err := fillSuperKey(m, obj); err != nil {
			return false, err
		}
		if _, err := d.Delete(ctx, q, m.Super, obj); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// DeleteMany removes the objects matching exp, which may be nil for all.
// Objects stored across several tables are read first and deleted one by
// one.
func (d *Driver) DeleteMany(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, exp expression.Expression) (int64, error) {
	if m.IsView() {
		return 0, fmt.Errorf("%w: cannot delete %s through %s", mapping.ErrInvalidMapping, m.Meta.Name(), m)
	}
	if m.Super != nil {
		objs, err := d.ReadMany(ctx, q, m, query.NewOptions(exp).Select(chainKeys(m)...))
		if err != nil {
			return 0, err
		}
		var n int64
		for _, obj := range objs {
			ok, err := d.Delete(ctx, q, m, obj)
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
		return n, nil
	}

	s := newStmt(d.Dialect)
	s.write("DELETE FROM ", d.Dialect.Ident(m.Table.Name))
	if exp != nil {
		s.write(" WHERE ")
		if err := compileWhere(s, exp, unqualified(d.Dialect, m)); err != nil {
			return 0, err
		}
	}
	res, err := d.exec(ctx, q, "delete many", s.String(), s.args)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete many", s.String(), s.args, err)
	}
	return n, nil
}

// Count counts the objects matching exp, which may be nil for all.
func (d *Driver) Count(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, exp expression.Expression) (int64, error) {
	query, args, err := d.CountSQL(m, exp)
	if err != nil {
		return 0, err
	}
	return d.queryInt(ctx, q, "count", query, args)
}

// Execute runs a raw statement and returns the number of affected rows.
func (d *Driver) Execute(ctx context.Context, q ExecQuerier, query string, args ...any) (int64, error) {
	res, err := d.exec(ctx, q, "execute", query, args)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("execute", query, args, err)
	}
	return n, nil
}

// ExecuteQuery runs a raw query and maps its rows onto objects of m by
// column name.
func (d *Driver) ExecuteQuery(ctx context.Context, q ExecQuerier, m *mapping.ObjectMapping, query string, args ...any) ([]*object.Object, error) {
	rows, err := d.query(ctx, q, "execute query", query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanColumns(rows, m)
	if err != nil {
		return nil, wrap("execute query", query, args, err)
	}
	return toObjects(m.Meta, records)
}

// TableExists reports whether a table or view exists.
func (d *Driver) TableExists(ctx context.Context, q ExecQuerier, name string) (bool, error) {
	query, args := d.Dialect.DDL.TableExists(d.Dialect, name)
	n, err := d.queryInt(ctx, q, "table exists", query, args)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// keyExpression matches the row of obj by the primary key of m.
func keyExpression(m *mapping.ObjectMapping, obj *object.Object) (expression.Expression, error) {
	keys := m.KeyFields()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, m)
	}
	var exp expression.Expression
	for _, k := range keys {
		v, err := obj.Get(k)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("%w: key field %s of %s is not set", ErrNoPrimaryKey, k, obj.TypeName())
		}
		c := expression.New(k, v)
		if exp == nil {
			exp = c
		} else {
			exp = expression.And(exp, c)
		}
	}
	return exp, nil
}
