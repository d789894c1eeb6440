// Package mapping describes how MetaObjects map onto relational tables and
// views. It is dialect independent: the sqldriver package turns these
// definitions into SQL.
package mapping

import (
	"fmt"
	"strings"
)

// SQLType is the relational column type a field is stored as
type SQLType int

const (
	Bit SQLType = iota
	TinyInt
	SmallInt
	Integer
	BigInt
	Float
	Double
	Timestamp
	Varchar
	Blob
)

// String returns the string representation of the SQL type
func (t SQLType) String() string {
	switch t {
	case Bit:
		return "BIT"
	case TinyInt:
		return "TINYINT"
	case SmallInt:
		return "SMALLINT"
	case Integer:
		return "INTEGER"
	case BigInt:
		return "BIGINT"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case Timestamp:
		return "TIMESTAMP"
	case Varchar:
		return "VARCHAR"
	case Blob:
		return "BLOB"
	default:
		return fmt.Sprintf("SQLType(%d)", int(t))
	}
}

// AutoType tells the driver how a column value is generated
type AutoType int

const (
	// AutoNone columns are written from the object value
	AutoNone AutoType = iota
	// AutoID columns are filled from a sequence before the insert
	AutoID
	// AutoLastID columns are identity columns read back after the insert
	AutoLastID
	// AutoIncrement columns are assigned by the database and never read back
	AutoIncrement
	// AutoDateCreate columns are stamped when the object is created
	AutoDateCreate
	// AutoDateUpdate columns are stamped on every write
	AutoDateUpdate
)

// String returns the string representation of the auto type
func (a AutoType) String() string {
	switch a {
	case AutoID:
		return "id"
	case AutoLastID:
		return "last"
	case AutoIncrement:
		return "increment"
	case AutoDateCreate:
		return "create"
	case AutoDateUpdate:
		return "update"
	default:
		return "none"
	}
}

// SequenceDef names a database sequence
type SequenceDef struct {
	Name      string
	Start     int
	Increment int
}

// ColumnDef describes a single column
type ColumnDef struct {
	Name       string
	SQLType    SQLType
	Length     int
	PrimaryKey bool
	Unique     bool
	Auto       AutoType
	Sequence   *SequenceDef
}

// IsIdentity reports whether the database assigns the column value, so the
// column is left out of INSERT statements.
func (c *ColumnDef) IsIdentity() bool {
	return c.Auto == AutoLastID || c.Auto == AutoIncrement
}

func (c *ColumnDef) String() string {
	return fmt.Sprintf("%s %s(%d)", c.Name, c.SQLType, c.Length)
}

// IndexDef describes a secondary index
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// ForeignKeyDef describes a foreign key constraint from Table.Column to
// RefTable.RefColumn
type ForeignKeyDef struct {
	Name      string
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// InheritanceDef links a sub table to the table of its super object. Rows
// are joined on RefColumn (in the sub table) = SuperColumn (in the super
// table).
type InheritanceDef struct {
	RefColumn           string
	SuperTable          *TableDef
	SuperColumn         *ColumnDef
	DiscriminatorColumn string
	DiscriminatorValue  string
}

// TableDef describes a table
type TableDef struct {
	Name        string
	Columns     []*ColumnDef
	Indexes     []*IndexDef
	ForeignKeys []*ForeignKeyDef
	Inheritance *InheritanceDef
}

// Column returns the named column
func (t *TableDef) Column(name string) (*ColumnDef, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// PrimaryKeys returns the primary key columns in declaration order
func (t *TableDef) PrimaryKeys() []*ColumnDef {
	var keys []*ColumnDef
	for _, c := range t.Columns {
		if c.PrimaryKey {
			keys = append(keys, c)
		}
	}
	return keys
}

// Sequences returns the sequences used by the table's columns
func (t *TableDef) Sequences() []*SequenceDef {
	var seqs []*SequenceDef
	for _, c := range t.Columns {
		if c.Sequence != nil && c.Auto == AutoID {
			seqs = append(seqs, c.Sequence)
		}
	}
	return seqs
}

// ViewDef describes a read-only view. SQL is the view body used to create it
// and may be empty when the view is managed outside the application.
type ViewDef struct {
	Name    string
	SQL     string
	Columns []*ColumnDef
}
