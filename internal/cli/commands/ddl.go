package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

var (
	ddlDialect string
	ddlObjects []string
	ddlDrop    bool
	ddlApply   bool
)

// NewDDLCommand creates the ddl command
func NewDDLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl [files...]",
		Short: "Print or apply the schema of the mapped objects",
		Long: `Print the CREATE statements for the tables, sequences, indexes, foreign keys
and views the mapped objects need, in the syntax of a dialect. With --apply
the statements run against the configured database instead.

Dialects: ` + strings.Join(sqldriver.Dialects(), ", "),
		Example: `  metaobjects ddl --dialect postgres meta/people.yaml
  metaobjects ddl --object Person --drop
  metaobjects ddl --apply`,
		RunE: runDDL,
	}

	cmd.Flags().StringVarP(&ddlDialect, "dialect", "d", "", "SQL dialect (default database.dialect)")
	cmd.Flags().StringSliceVarP(&ddlObjects, "object", "o", nil, "only these objects (repeatable)")
	cmd.Flags().BoolVar(&ddlDrop, "drop", false, "drop the tables and views first")
	cmd.Flags().BoolVar(&ddlApply, "apply", false, "run the statements against the configured database")

	return cmd
}

func runDDL(cmd *cobra.Command, args []string) error {
	files, err := metadataFiles(args)
	if err != nil {
		return err
	}
	tree, err := loadTree(files)
	if err != nil {
		return err
	}
	metas, err := selectObjects(cmd.ErrOrStderr(), tree, ddlObjects)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if ddlApply {
		cfg, err := loadConfig()
		if err != nil {
			return report(cmd.ErrOrStderr(), ui.ConfigProblem(err, noColor))
		}
		store, err := openStore(cmd.Context(), cfg, cliLogger())
		if err != nil {
			return err
		}
		defer store.DB().Close()

		if err := store.CreateTables(cmd.Context(), ddlDrop, metas...); err != nil {
			return err
		}
		ui.Success(out, fmt.Sprintf("created the schema of %d objects", len(metas)), noColor)
		return nil
	}

	dialect, err := resolveDialect(ddlDialect)
	if err != nil {
		return err
	}
	store := sqldriver.NewStore(nil, dialect, sqldriver.WithLogger(cliLogger()))
	tables, views, err := store.Schema(metas...)
	if err != nil {
		return err
	}

	var stmts []string
	if ddlDrop {
		stmts = append(stmts, dialect.DropStatements(tables, views)...)
	}
	creates, err := dialect.CreateStatements(tables, views)
	if err != nil {
		return err
	}
	stmts = append(stmts, creates...)

	fmt.Fprintf(out, "-- %s: %d tables, %d views\n", dialect.Name, len(tables), len(views))
	for _, stmt := range stmts {
		fmt.Fprintf(out, "%s;\n", stmt)
	}
	return nil
}

// resolveDialect returns the named dialect or, for "", the configured one.
func resolveDialect(name string) (*sqldriver.Dialect, error) {
	if name == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		name = cfg.Database.Dialect
	}
	return sqldriver.ByName(name)
}
