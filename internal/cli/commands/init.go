package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/config"
	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

var (
	initYes      bool
	initForce    bool
	initDialect  string
	initDriver   string
	initDSN      string
	initMetadata string
	initCache    string
)

// starterMetadata is written when the metadata file does not exist yet.
const starterMetadata = `objects:
  - name: Person
    subType: managed
    attrs:
      dbTable: people
    fields:
      - name: id
        subType: long
        attrs: {isKey: true, dbColumn: id, auto: last}
      - name: name
        attrs: {dbColumn: name}
      - name: age
        subType: int
        attrs: {dbColumn: age}
      - name: updated
        subType: date
        attrs: {dbColumn: updated, auto: update}
`

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a metaobjects.yaml config",
		Long: `Create metaobjects.yaml in dir (default: the working directory) and a starter
metadata file when the configured one does not exist.

You are prompted for the dialect, driver, DSN and object cache unless --yes
is given, in which case the flags and defaults are used.`,
		Example: `  metaobjects init
  metaobjects init --yes --dialect postgres --dsn postgres://localhost/app
  metaobjects init ./service --yes --dialect sqlite --dsn file:app.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInit,
	}

	cmd.Flags().BoolVarP(&initYes, "yes", "y", false, "do not prompt, use flags and defaults")
	cmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&initDialect, "dialect", "sqlite", "SQL dialect")
	cmd.Flags().StringVar(&initDriver, "driver", "", "database/sql driver (default depends on the dialect)")
	cmd.Flags().StringVar(&initDSN, "dsn", "", "database connection string")
	cmd.Flags().StringVar(&initMetadata, "metadata", "metadata.yaml", "metadata file, relative to dir")
	cmd.Flags().StringVar(&initCache, "cache", config.CacheNone, "object cache: none, memory or redis")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if config.Exists(dir) && !initForce {
		return report(cmd.ErrOrStderr(), ui.Message{
			Level:        ui.LevelError,
			Context:      "config exists",
			Problem:      filepath.Join(dir, config.FileName),
			HelpCommands: []string{"Overwrite it: metaobjects init --force"},
			NoColor:      noColor,
		})
	}

	if !initYes {
		if err := promptInit(); err != nil {
			return err
		}
	}

	cfg := config.Default()
	cfg.Database.Dialect = initDialect
	cfg.Database.Driver = initDriver
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaultDriver(initDialect)
	}
	cfg.Database.DSN = initDSN
	cfg.Metadata.Files = []string{initMetadata}
	cfg.Manager.ObjectCache = initCache

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, config.FileName)
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ui.Success(out, "created "+path, noColor)

	metaPath := cfg.MetadataFiles(dir)[0]
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(metaPath, []byte(starterMetadata), 0644); err != nil {
			return err
		}
		ui.Success(out, "created "+metaPath, noColor)
	}

	if cfg.Database.DSN == "" {
		ui.Warning(fmt.Sprintf("database.dsn is empty: set it in %s or METAOBJECTS_DATABASE_DSN", config.FileName), noColor).Write(cmd.ErrOrStderr())
	}
	return nil
}

func defaultDriver(dialect string) string {
	d, err := sqldriver.ByName(dialect)
	if err != nil {
		return ""
	}
	if drivers := driversByDialect[d.Name]; len(drivers) > 0 {
		return drivers[0]
	}
	return ""
}

func promptInit() error {
	if err := survey.AskOne(&survey.Select{
		Message: "Database dialect:",
		Options: config.Dialects,
		Default: initDialect,
	}, &initDialect); err != nil {
		return err
	}

	d, err := sqldriver.ByName(initDialect)
	if err != nil {
		return err
	}
	if drivers := driversByDialect[d.Name]; len(drivers) > 1 {
		if err := survey.AskOne(&survey.Select{
			Message: "Driver:",
			Options: drivers,
			Default: drivers[0],
		}, &initDriver); err != nil {
			return err
		}
	} else if len(drivers) == 0 {
		if err := survey.AskOne(&survey.Input{
			Message: "database/sql driver name:",
			Help:    "The driver must be linked into the binary",
		}, &initDriver, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	if err := survey.AskOne(&survey.Input{
		Message: "Database DSN:",
		Default: initDSN,
		Help:    "Leave empty to set it via METAOBJECTS_DATABASE_DSN",
	}, &initDSN); err != nil {
		return err
	}

	if err := survey.AskOne(&survey.Input{
		Message: "Metadata file:",
		Default: initMetadata,
	}, &initMetadata, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	return survey.AskOne(&survey.Select{
		Message: "Object cache:",
		Options: []string{config.CacheNone, config.CacheMemory, config.CacheRedis},
		Default: initCache,
	}, &initCache)
}
