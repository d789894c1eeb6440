// Package sqldriver persists objects in relational databases. One Driver
// generates and runs all statements; the differences between databases are
// isolated in the strategy values of a Dialect.
package sqldriver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/metaobjects/metaobjects/internal/orm/mapping"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// Dialect names
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectMSSQL    = "mssql"
	DialectDerby    = "derby"
	DialectSQLite   = "sqlite"
	DialectGeneric  = "generic"
)

// PlaceholderStyle is how positional statement parameters are written
type PlaceholderStyle int

const (
	// QuestionMark writes every parameter as ?
	QuestionMark PlaceholderStyle = iota
	// Dollar numbers parameters $1, $2, ...
	Dollar
)

// Mark returns the placeholder of the n-th parameter, 1-based.
func (p PlaceholderStyle) Mark(n int) string {
	if p == Dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// TypeMapper maps a column to its database type
type TypeMapper interface {
	ColumnType(c *mapping.ColumnDef) (string, error)
}

// Page is the SQL a Paginator adds to a SELECT for a range. Prefix follows
// the SELECT keyword, Suffix ends the statement. Skip rows must be dropped by
// the caller. Clip is set when the range could not be expressed and the
// caller has to cut it from the full result.
type Page struct {
	Prefix string
	Suffix string
	Skip   int
	Clip   bool
}

// Paginator limits a SELECT to a range of rows
type Paginator interface {
	Page(r query.Range) Page
}

// Locker expresses SELECT ... FOR UPDATE. TableHint follows the first table
// of the FROM clause, Suffix ends the statement.
type Locker interface {
	ForUpdate() (tableHint, suffix string, err error)
}

// IDStrategy fetches generated key values.
type IDStrategy interface {
	// NextID returns the statements that allocate the next value of an
	// AutoID column. exec statements run first; query returns the value.
	NextID(t *mapping.TableDef, c *mapping.ColumnDef) (exec []string, query string, err error)
	// LastID returns the query reading the value the database assigned to
	// an AutoLastID column by the last insert on the connection.
	LastID(t *mapping.TableDef, c *mapping.ColumnDef) (string, error)
}

// DDLStrategy generates schema statements.
type DDLStrategy interface {
	CreateTable(d *Dialect, t *mapping.TableDef) (string, error)
	DropTable(d *Dialect, name string) string
	DropView(d *Dialect, name string) string
	CreateSequence(d *Dialect, s *mapping.SequenceDef) []string
	DropSequence(d *Dialect, s *mapping.SequenceDef) string
	CreateIndex(d *Dialect, idx *mapping.IndexDef) string
	CreateForeignKey(d *Dialect, fk *mapping.ForeignKeyDef) string
	CreateView(d *Dialect, v *mapping.ViewDef) (string, error)
	TableExists(d *Dialect, name string) (string, []any)
}

// Dialect bundles the strategies of one database.
type Dialect struct {
	Name         string
	Placeholders PlaceholderStyle
	Types        TypeMapper
	Paging       Paginator
	Locking      Locker
	IDs          IDStrategy
	DDL          DDLStrategy

	// Quote quotes an identifier. nil leaves identifiers as they are.
	Quote func(string) string
}

// Ident quotes an identifier.
func (d *Dialect) Ident(name string) string {
	if d.Quote == nil {
		return name
	}
	return d.Quote(name)
}

func (d *Dialect) String() string {
	return d.Name
}

// ByName returns the dialect registered under name.
func ByName(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case DialectPostgres, "postgresql", "pgx":
		return Postgres(), nil
	case DialectMySQL:
		return MySQL(), nil
	case DialectMSSQL, "sqlserver":
		return MSSQL(), nil
	case DialectDerby:
		return Derby(), nil
	case DialectSQLite, "sqlite3":
		return SQLite(), nil
	case DialectGeneric, "":
		return Generic(), nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// Dialects returns the names accepted by ByName.
func Dialects() []string {
	return []string{DialectPostgres, DialectMySQL, DialectMSSQL, DialectDerby, DialectSQLite, DialectGeneric}
}

// Postgres returns the PostgreSQL dialect.
func Postgres() *Dialect {
	return &Dialect{
		Name:         DialectPostgres,
		Placeholders: Dollar,
		Types: &typeMap{dialect: DialectPostgres, types: map[mapping.SQLType]string{
			mapping.Bit:       "BOOLEAN",
			mapping.TinyInt:   "SMALLINT",
			mapping.SmallInt:  "SMALLINT",
			mapping.Integer:   "INTEGER",
			mapping.BigInt:    "BIGINT",
			mapping.Float:     "REAL",
			mapping.Double:    "DOUBLE PRECISION",
			mapping.Timestamp: "TIMESTAMP WITH TIME ZONE",
			mapping.Varchar:   "VARCHAR(%d)",
			mapping.Blob:      "BYTEA",
		}},
		Paging:  limitOffset{},
		Locking: forUpdate{},
		IDs:     postgresIDs{},
		DDL: &ddl{
			identity:    postgresIdentity,
			dropIfExist: true,
			dropSuffix:  " CASCADE",
			sequence: func(d *Dialect, s *mapping.SequenceDef) []string {
				return []string{fmt.Sprintf("CREATE SEQUENCE %s START %d", d.Ident(s.Name), s.Start)}
			},
			orReplaceView: true,
			existsSQL:     "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1",
		},
		Quote: pq.QuoteIdentifier,
	}
}

// MySQL returns the MySQL dialect. Sequences are emulated with one-row
// tables.
func MySQL() *Dialect {
	return &Dialect{
		Name:         DialectMySQL,
		Placeholders: QuestionMark,
		Types: &typeMap{dialect: DialectMySQL, types: map[mapping.SQLType]string{
			mapping.Bit:       "BOOLEAN",
			mapping.TinyInt:   "TINYINT",
			mapping.SmallInt:  "SMALLINT",
			mapping.Integer:   "INT",
			mapping.BigInt:    "BIGINT",
			mapping.Float:     "FLOAT",
			mapping.Double:    "DOUBLE",
			mapping.Timestamp: "TIMESTAMP",
			mapping.Varchar:   "VARCHAR(%d)",
			mapping.Blob:      "LONGBLOB",
		}, longVarchar: []longType{{over: 16383, typ: "TEXT"}, {over: 65535, typ: "LONGTEXT"}}},
		Paging:  mysqlLimit{},
		Locking: forUpdate{},
		IDs:     mysqlIDs{},
		DDL: &ddl{
			identity:     func(*Dialect, *mapping.ColumnDef) string { return " AUTO_INCREMENT" },
			tableOptions: " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
			dropIfExist:  true,
			sequence: func(d *Dialect, s *mapping.SequenceDef) []string {
				return []string{
					fmt.Sprintf("CREATE TABLE %s (current_value BIGINT NOT NULL) ENGINE=InnoDB", d.Ident(s.Name)),
					fmt.Sprintf("INSERT INTO %s (current_value) VALUES (%d)", d.Ident(s.Name), s.Start-1),
				}
			},
			dropSequence: func(d *Dialect, s *mapping.SequenceDef) string {
				return "DROP TABLE IF EXISTS " + d.Ident(s.Name)
			},
			orReplaceView: true,
			existsSQL:     "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		},
	}
}

// MSSQL returns the SQL Server dialect.
func MSSQL() *Dialect {
	return &Dialect{
		Name:         DialectMSSQL,
		Placeholders: QuestionMark,
		Types: &typeMap{dialect: DialectMSSQL, types: map[mapping.SQLType]string{
			mapping.Bit:       "BIT",
			mapping.TinyInt:   "TINYINT",
			mapping.SmallInt:  "SMALLINT",
			mapping.Integer:   "INT",
			mapping.BigInt:    "BIGINT",
			mapping.Float:     "FLOAT",
			mapping.Double:    "DECIMAL(19,4)",
			mapping.Timestamp: "DATETIME",
			mapping.Varchar:   "VARCHAR(%d)",
		}},
		Paging:  top{},
		Locking: tableHint("WITH (UPDLOCK, ROWLOCK)"),
		IDs:     lastIDQuery{dialect: DialectMSSQL, sql: "SELECT SCOPE_IDENTITY()", nextValue: "SELECT NEXT VALUE FOR %s"},
		DDL: &ddl{
			identity: func(_ *Dialect, c *mapping.ColumnDef) string {
				start, inc := 1, 1
				if c.Sequence != nil {
					start, inc = c.Sequence.Start, c.Sequence.Increment
				}
				return fmt.Sprintf(" IDENTITY(%d,%d)", start, inc)
			},
			singleIdentity: true,
			dropIfExist:    true,
			sequence: func(d *Dialect, s *mapping.SequenceDef) []string {
				return []string{fmt.Sprintf("CREATE SEQUENCE %s START WITH %d INCREMENT BY %d", d.Ident(s.Name), s.Start, s.Increment)}
			},
			existsSQL: "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = ?",
		},
		Quote: func(name string) string {
			return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
		},
	}
}

// Derby returns the Apache Derby dialect.
func Derby() *Dialect {
	return &Dialect{
		Name:         DialectDerby,
		Placeholders: QuestionMark,
		Types: &typeMap{dialect: DialectDerby, types: map[mapping.SQLType]string{
			mapping.Bit:       "BOOLEAN",
			mapping.TinyInt:   "SMALLINT",
			mapping.SmallInt:  "SMALLINT",
			mapping.Integer:   "INTEGER",
			mapping.BigInt:    "BIGINT",
			mapping.Float:     "REAL",
			mapping.Double:    "DOUBLE",
			mapping.Timestamp: "TIMESTAMP",
			mapping.Varchar:   "VARCHAR(%d)",
			mapping.Blob:      "BLOB",
		}, longVarchar: []longType{{over: 32672, typ: "CLOB"}}},
		Paging:  fetchFirst{},
		Locking: forUpdate{},
		IDs:     derbyIDs{},
		DDL: &ddl{
			identity: func(_ *Dialect, c *mapping.ColumnDef) string {
				start, inc := 1, 1
				if c.Sequence != nil {
					start, inc = c.Sequence.Start, c.Sequence.Increment
				}
				return fmt.Sprintf(" GENERATED ALWAYS AS IDENTITY (START WITH %d, INCREMENT BY %d)", start, inc)
			},
			sequence: func(d *Dialect, s *mapping.SequenceDef) []string {
				return []string{fmt.Sprintf("CREATE SEQUENCE %s AS BIGINT START WITH %d INCREMENT BY %d", d.Ident(s.Name), s.Start, s.Increment)}
			},
			dropSequence: func(d *Dialect, s *mapping.SequenceDef) string {
				return "DROP SEQUENCE " + d.Ident(s.Name) + " RESTRICT"
			},
			existsSQL: "SELECT COUNT(*) FROM SYS.SYSTABLES WHERE TABLENAME = UPPER(?)",
		},
	}
}

// SQLite returns the SQLite dialect.
func SQLite() *Dialect {
	return &Dialect{
		Name:         DialectSQLite,
		Placeholders: QuestionMark,
		Types: &typeMap{dialect: DialectSQLite, types: map[mapping.SQLType]string{
			mapping.Bit:       "BOOLEAN",
			mapping.TinyInt:   "INTEGER",
			mapping.SmallInt:  "INTEGER",
			mapping.Integer:   "INTEGER",
			mapping.BigInt:    "INTEGER",
			mapping.Float:     "REAL",
			mapping.Double:    "REAL",
			mapping.Timestamp: "TIMESTAMP",
			mapping.Varchar:   "VARCHAR(%d)",
			mapping.Blob:      "BLOB",
		}},
		Paging:  limitOffset{},
		Locking: noLock(DialectSQLite),
		IDs:     lastIDQuery{dialect: DialectSQLite, sql: "SELECT last_insert_rowid()"},
		DDL: &ddl{
			inlineIdentity:    true,
			inlineForeignKeys: true,
			dropIfExist:       true,
			existsSQL:         "SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		},
	}
}

// Generic returns an ANSI dialect for databases without a specific one. It
// cannot page, lock or read back identity values.
func Generic() *Dialect {
	return &Dialect{
		Name:         DialectGeneric,
		Placeholders: QuestionMark,
		Types: &typeMap{dialect: DialectGeneric, types: map[mapping.SQLType]string{
			mapping.Bit:       "BOOLEAN",
			mapping.TinyInt:   "SMALLINT",
			mapping.SmallInt:  "SMALLINT",
			mapping.Integer:   "INTEGER",
			mapping.BigInt:    "BIGINT",
			mapping.Float:     "REAL",
			mapping.Double:    "DOUBLE PRECISION",
			mapping.Timestamp: "TIMESTAMP",
			mapping.Varchar:   "VARCHAR(%d)",
		}},
		Paging:  clientSide{},
		Locking: noLock(DialectGeneric),
		IDs:     lastIDQuery{dialect: DialectGeneric},
		DDL: &ddl{
			existsSQL: "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?",
		},
	}
}

// Types

type longType struct {
	over int
	typ  string
}

type typeMap struct {
	dialect     string
	types       map[mapping.SQLType]string
	longVarchar []longType
}

func (m *typeMap) ColumnType(c *mapping.ColumnDef) (string, error) {
	t, ok := m.types[c.SQLType]
	if !ok {
		return "", unsupported(m.dialect, "column type %s (column %s)", c.SQLType, c.Name)
	}
	if c.SQLType != mapping.Varchar {
		return t, nil
	}
	for i := len(m.longVarchar) - 1; i >= 0; i-- {
		if c.Length > m.longVarchar[i].over {
			return m.longVarchar[i].typ, nil
		}
	}
	length := c.Length
	if length <= 0 {
		length = 255
	}
	return fmt.Sprintf(t, length), nil
}

// Paging

type limitOffset struct{}

func (limitOffset) Page(r query.Range) Page {
	p := Page{Suffix: fmt.Sprintf(" LIMIT %d", r.Count())}
	if r.Start > 1 {
		p.Suffix += fmt.Sprintf(" OFFSET %d", r.Offset())
	}
	return p
}

type mysqlLimit struct{}

func (mysqlLimit) Page(r query.Range) Page {
	if r.Start > 1 {
		return Page{Suffix: fmt.Sprintf(" LIMIT %d, %d", r.Offset(), r.Count())}
	}
	return Page{Suffix: fmt.Sprintf(" LIMIT %d", r.End)}
}

type fetchFirst struct{}

func (fetchFirst) Page(r query.Range) Page {
	if r.Start > 1 {
		return Page{Suffix: fmt.Sprintf(" OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", r.Offset(), r.Count())}
	}
	return Page{Suffix: fmt.Sprintf(" FETCH FIRST %d ROWS ONLY", r.Count())}
}

// top limits to the end of the range; the rows before the start are
// skipped while scanning.
type top struct{}

func (top) Page(r query.Range) Page {
	return Page{Prefix: fmt.Sprintf("TOP %d ", r.End), Skip: r.Offset()}
}

type clientSide struct{}

func (clientSide) Page(query.Range) Page {
	return Page{Clip: true}
}

// Locking

type forUpdate struct{}

func (forUpdate) ForUpdate() (string, string, error) {
	return "", " FOR UPDATE", nil
}

type tableHint string

func (h tableHint) ForUpdate() (string, string, error) {
	return " " + string(h), "", nil
}

type noLock string

func (n noLock) ForUpdate() (string, string, error) {
	return "", "", unsupported(string(n), "SELECT FOR UPDATE")
}

// IDs

// maxPlusOne never allocates below the start of the column's sequence.
func maxPlusOne(t *mapping.TableDef, c *mapping.ColumnDef) string {
	if c.Sequence != nil && c.Sequence.Start > 1 {
		return fmt.Sprintf("SELECT CASE WHEN MAX(%[1]s) >= %[2]d THEN MAX(%[1]s) + 1 ELSE %[2]d END FROM %[3]s",
			c.Name, c.Sequence.Start, t.Name)
	}
	return fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) + 1 FROM %s", c.Name, t.Name)
}

type postgresIDs struct{}

func (postgresIDs) NextID(t *mapping.TableDef, c *mapping.ColumnDef) ([]string, string, error) {
	if c.Sequence == nil {
		return nil, maxPlusOne(t, c), nil
	}
	return nil, fmt.Sprintf("SELECT nextval(%s)", pq.QuoteLiteral(c.Sequence.Name)), nil
}

// LastID reads the sequence backing the identity column.
func (postgresIDs) LastID(t *mapping.TableDef, c *mapping.ColumnDef) (string, error) {
	return fmt.Sprintf("SELECT currval(pg_get_serial_sequence(%s, %s))", pq.QuoteLiteral(t.Name), pq.QuoteLiteral(c.Name)), nil
}

type mysqlIDs struct{}

func (mysqlIDs) NextID(t *mapping.TableDef, c *mapping.ColumnDef) ([]string, string, error) {
	if c.Sequence == nil {
		return nil, maxPlusOne(t, c), nil
	}
	return []string{fmt.Sprintf("UPDATE %s SET current_value = LAST_INSERT_ID(current_value + %d)", c.Sequence.Name, c.Sequence.Increment)},
		"SELECT LAST_INSERT_ID()", nil
}

func (mysqlIDs) LastID(*mapping.TableDef, *mapping.ColumnDef) (string, error) {
	return "SELECT LAST_INSERT_ID()", nil
}

type derbyIDs struct{}

func (derbyIDs) NextID(t *mapping.TableDef, c *mapping.ColumnDef) ([]string, string, error) {
	if c.Sequence == nil {
		return nil, maxPlusOne(t, c), nil
	}
	return nil, fmt.Sprintf("VALUES (NEXT VALUE FOR %s)", c.Sequence.Name), nil
}

func (derbyIDs) LastID(t *mapping.TableDef, _ *mapping.ColumnDef) (string, error) {
	return "SELECT IDENTITY_VAL_LOCAL() FROM " + t.Name, nil
}

// lastIDQuery allocates ids from a sequence with nextValue, or with MAX()+1,
// and reads identities with a fixed query. An empty query means identities
// cannot be read back.
type lastIDQuery struct {
	dialect   string
	sql       string
	nextValue string
}

func (l lastIDQuery) NextID(t *mapping.TableDef, c *mapping.ColumnDef) ([]string, string, error) {
	if c.Sequence != nil && l.nextValue != "" {
		return nil, fmt.Sprintf(l.nextValue, c.Sequence.Name), nil
	}
	return nil, maxPlusOne(t, c), nil
}

func (l lastIDQuery) LastID(t *mapping.TableDef, c *mapping.ColumnDef) (string, error) {
	if l.sql == "" {
		return "", unsupported(l.dialect, "reading the identity of %s.%s", t.Name, c.Name)
	}
	return l.sql, nil
}
