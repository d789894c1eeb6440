package sqldriver

import (
	"fmt"
	"strings"

	"github.com/metaobjects/metaobjects/internal/orm/mapping"
)

// ddl is the DDLStrategy of every built-in dialect. The fields switch the
// places where databases disagree.
type ddl struct {
	// identity renders the clause making a column database assigned
	identity func(d *Dialect, c *mapping.ColumnDef) string
	// inlineIdentity declares a single identity key as INTEGER PRIMARY KEY
	// AUTOINCREMENT
	inlineIdentity bool
	// singleIdentity rejects tables with more than one identity column
	singleIdentity bool
	tableOptions   string

	inlineForeignKeys bool

	dropIfExist bool
	dropSuffix  string

	sequence     func(d *Dialect, s *mapping.SequenceDef) []string
	dropSequence func(d *Dialect, s *mapping.SequenceDef) string

	orReplaceView bool
	existsSQL     string
}

func postgresIdentity(d *Dialect, c *mapping.ColumnDef) string {
	if c.Sequence != nil {
		return fmt.Sprintf(" GENERATED BY DEFAULT AS IDENTITY (START WITH %d INCREMENT BY %d)", c.Sequence.Start, c.Sequence.Increment)
	}
	return " GENERATED BY DEFAULT AS IDENTITY"
}

// CreateTable generates a CREATE TABLE statement
func (g *ddl) CreateTable(d *Dialect, t *mapping.TableDef) (string, error) {
	if t == nil {
		return "", fmt.Errorf("table cannot be nil")
	}

	keys := t.PrimaryKeys()
	identities := 0
	for _, c := range t.Columns {
		if c.IsIdentity() {
			identities++
		}
	}
	if g.singleIdentity && identities > 1 {
		return "", unsupported(d.Name, "more than one identity column (table %s)", t.Name)
	}

	inlineKey := g.inlineIdentity && len(keys) == 1 && keys[0].IsIdentity()
	defs := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		if inlineKey && c == keys[0] {
			defs = append(defs, d.Ident(c.Name)+" INTEGER PRIMARY KEY AUTOINCREMENT")
			continue
		}
		def, err := g.columnDefinition(d, c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	if len(keys) > 0 && !inlineKey {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = d.Ident(k.Name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}
	if g.inlineForeignKeys {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
				d.Ident(fk.Column), d.Ident(fk.RefTable), d.Ident(fk.RefColumn)))
		}
	}

	return "CREATE TABLE " + d.Ident(t.Name) + " (" + strings.Join(defs, ", ") + ")" + g.tableOptions, nil
}

func (g *ddl) columnDefinition(d *Dialect, c *mapping.ColumnDef) (string, error) {
	typ, err := d.Types.ColumnType(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(d.Ident(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.IsIdentity() {
		if g.identity == nil {
			return "", unsupported(d.Name, "identity column %s", c.Name)
		}
		b.WriteString(g.identity(d, c))
	}
	if c.PrimaryKey {
		b.WriteString(" NOT NULL")
	} else if c.Unique {
		b.WriteString(" UNIQUE")
	}
	return b.String(), nil
}

func (g *ddl) DropTable(d *Dialect, name string) string {
	return "DROP TABLE " + g.ifExists() + d.Ident(name) + g.dropSuffix
}

func (g *ddl) DropView(d *Dialect, name string) string {
	return "DROP VIEW " + g.ifExists() + d.Ident(name)
}

func (g *ddl) ifExists() string {
	if g.dropIfExist {
		return "IF EXISTS "
	}
	return ""
}

// CreateSequence returns no statements for dialects without sequences.
func (g *ddl) CreateSequence(d *Dialect, s *mapping.SequenceDef) []string {
	if g.sequence == nil {
		return nil
	}
	return g.sequence(d, s)
}

func (g *ddl) DropSequence(d *Dialect, s *mapping.SequenceDef) string {
	switch {
	case g.dropSequence != nil:
		return g.dropSequence(d, s)
	case g.sequence == nil:
		return ""
	}
	return "DROP SEQUENCE " + g.ifExists() + d.Ident(s.Name)
}

func (g *ddl) CreateIndex(d *Dialect, idx *mapping.IndexDef) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.Ident(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, d.Ident(idx.Name), d.Ident(idx.Table), strings.Join(cols, ", "))
}

// CreateForeignKey returns "" when foreign keys are declared in CREATE TABLE.
func (g *ddl) CreateForeignKey(d *Dialect, fk *mapping.ForeignKeyDef) string {
	if g.inlineForeignKeys {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Ident(fk.Table), d.Ident(fk.Name), d.Ident(fk.Column), d.Ident(fk.RefTable), d.Ident(fk.RefColumn))
}

func (g *ddl) CreateView(d *Dialect, v *mapping.ViewDef) (string, error) {
	if strings.TrimSpace(v.SQL) == "" {
		return "", fmt.Errorf("%w: view %s has no SQL", mapping.ErrInvalidMapping, v.Name)
	}
	create := "CREATE VIEW "
	if g.orReplaceView {
		create = "CREATE OR REPLACE VIEW "
	}
	return create + d.Ident(v.Name) + " AS " + v.SQL, nil
}

func (g *ddl) TableExists(_ *Dialect, name string) (string, []any) {
	return g.existsSQL, []any{name}
}

// CreateStatements returns the statements creating tables and views in
// dependency order: sequences, tables, indexes, foreign keys, then views.
// Tables must be ordered super first, as mapping.Handler.Tables returns
// them.
func (d *Dialect) CreateStatements(tables []*mapping.TableDef, views []*mapping.ViewDef) ([]string, error) {
	var seqs, creates, after []string
	for _, t := range tables {
		for _, s := range t.Sequences() {
			seqs = append(seqs, d.DDL.CreateSequence(d, s)...)
		}
		stmt, err := d.DDL.CreateTable(d, t)
		if err != nil {
			return nil, err
		}
		creates = append(creates, stmt)
		for _, idx := range t.Indexes {
			after = append(after, d.DDL.CreateIndex(d, idx))
		}
		for _, fk := range t.ForeignKeys {
			if stmt := d.DDL.CreateForeignKey(d, fk); stmt != "" {
				after = append(after, stmt)
			}
		}
	}
	for _, v := range views {
		stmt, err := d.DDL.CreateView(d, v)
		if err != nil {
			return nil, err
		}
		after = append(after, stmt)
	}

	out := append(seqs, creates...)
	return append(out, after...), nil
}

// DropStatements returns the statements dropping views, tables (sub tables
// first) and sequences.
func (d *Dialect) DropStatements(tables []*mapping.TableDef, views []*mapping.ViewDef) []string {
	var out []string
	for _, v := range views {
		out = append(out, d.DDL.DropView(d, v.Name))
	}
	for i := len(tables) - 1; i >= 0; i-- {
		out = append(out, d.DDL.DropTable(d, tables[i].Name))
	}
	for _, t := range tables {
		for _, s := range t.Sequences() {
			if stmt := d.DDL.DropSequence(d, s); stmt != "" {
				out = append(out, stmt)
			}
		}
	}
	return out
}
