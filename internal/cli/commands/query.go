package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

var (
	queryWhere    string
	queryOrder    string
	queryRange    string
	queryFields   []string
	queryDistinct bool
	queryDialect  string
	queryCount    bool
	queryExec     bool
)

// NewQueryCommand creates the query command
func NewQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <object> [files...]",
		Short: "Compile or run a query over a mapped object",
		Long: `Compile a query over a mapped object and print the SQL and its arguments.
With --exec the query runs through the object manager against the
configured database and the matching objects are printed.

Filters use the expression syntax: comparisons joined with AND or OR, with
parentheses to mix them.

  age > 30 AND (name = 'Ann' OR name = 'Cid')`,
		Example: `  metaobjects query Person --where "age > 30" --order -age
  metaobjects query Person --range 1:10 --exec
  metaobjects query Person --where "name STARTS WITH 'A'" --count --exec`,
		Args: cobra.MinimumNArgs(1),
		RunE: runQuery,
	}

	cmd.Flags().StringVarP(&queryWhere, "where", "w", "", "filter expression")
	cmd.Flags().StringVar(&queryOrder, "order", "", "comma separated fields, '-' prefix sorts descending")
	cmd.Flags().StringVar(&queryRange, "range", "", "1-based inclusive row range start:end")
	cmd.Flags().StringSliceVarP(&queryFields, "fields", "f", nil, "only load these fields")
	cmd.Flags().BoolVar(&queryDistinct, "distinct", false, "drop duplicate rows")
	cmd.Flags().StringVarP(&queryDialect, "dialect", "d", "", "SQL dialect (default database.dialect)")
	cmd.Flags().BoolVar(&queryCount, "count", false, "count the matching objects")
	cmd.Flags().BoolVar(&queryExec, "exec", false, "run the query against the configured database")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	files, err := metadataFiles(args[1:])
	if err != nil {
		return err
	}
	tree, err := loadTree(files)
	if err != nil {
		return err
	}
	metas, err := selectObjects(cmd.ErrOrStderr(), tree, args[:1])
	if err != nil {
		return err
	}
	meta := metas[0]

	opts, err := query.Parse(queryWhere, queryOrder, queryRange)
	if err != nil {
		return err
	}
	opts.Fields = queryFields
	opts.Distinct = queryDistinct

	if queryExec {
		return execQuery(cmd, tree, meta, opts)
	}

	dialect, err := resolveDialect(queryDialect)
	if err != nil {
		return err
	}
	store := sqldriver.NewStore(nil, dialect, sqldriver.WithLogger(cliLogger()))
	m, err := store.Mapping(meta)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queryCount {
		stmt, params, err := store.Driver().CountSQL(m, opts.Expression)
		if err != nil {
			return err
		}
		printStatement(out, stmt, params)
		return nil
	}

	stmt, err := store.Driver().SelectSQL(m, opts)
	if err != nil {
		return err
	}
	printStatement(out, stmt.SQL, stmt.Args)
	if stmt.Skip > 0 || stmt.Limit > 0 {
		fmt.Fprintf(out, "-- rows clipped after reading: skip %d, limit %d\n", stmt.Skip, stmt.Limit)
	}
	return nil
}

func printStatement(w io.Writer, stmt string, params []any) {
	fmt.Fprintf(w, "%s;\n", stmt)
	if len(params) == 0 {
		return
	}
	formatted := make([]string, len(params))
	for i, p := range params {
		formatted[i] = fmt.Sprintf("%d=%s", i+1, formatValue(p))
	}
	fmt.Fprintf(w, "-- args: %s\n", strings.Join(formatted, " "))
}

func execQuery(cmd *cobra.Command, tree *metadata.Tree, meta *metadata.Node, opts *query.Options) error {
	cfg, err := loadConfig()
	if err != nil {
		return report(cmd.ErrOrStderr(), ui.ConfigProblem(err, noColor))
	}
	logger := cliLogger()
	store, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	m, cleanup, err := newManager(cmd.Context(), cfg, store, tree, logger)
	if err != nil {
		store.DB().Close()
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	return m.WithConnection(cmd.Context(), func(c connection.ObjectConnection) error {
		if err := c.SetReadOnly(true); err != nil {
			return err
		}
		if queryCount {
			n, err := m.GetObjectsCount(cmd.Context(), c, meta, opts.Expression)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, n)
			return nil
		}

		objs, err := m.GetObjects(cmd.Context(), c, meta, opts)
		if err != nil {
			return err
		}
		printObjects(out, meta, opts.Fields, objs)
		return nil
	})
}

func printObjects(w io.Writer, meta *metadata.Node, fields []string, objs []*object.Object) {
	if len(fields) == 0 {
		fields = meta.FieldNames()
	}
	table := ui.NewTable(w, noColor, fields...)
	for _, o := range objs {
		row := make([]string, len(fields))
		for i, f := range fields {
			v, err := o.Get(f)
			if err != nil {
				row[i] = "?"
				continue
			}
			if str, ok := v.(string); ok {
				row[i] = str
			} else {
				row[i] = formatValue(v)
			}
		}
		table.AddRow(row...)
	}
	table.Render()
	fmt.Fprintf(w, "\n%d %s objects\n", len(objs), meta.Name())
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + v + "'"
	case time.Time:
		return v.Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	}
	return fmt.Sprint(v)
}
