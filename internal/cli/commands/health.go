package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
)

// NewHealthCommand creates the health command
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the type registry for consistency",
		Long: `Load the type providers and check that the core base types are registered
and that every parent type a definition extends exists. Exits non-zero when
a problem is found.`,
		Args: cobra.NoArgs,
		RunE: runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	stats := reg.Stats()
	bases := make([]string, 0, len(stats.TypesByBase))
	for base, n := range stats.TypesByBase {
		bases = append(bases, fmt.Sprintf("%s=%d", base, n))
	}
	sort.Strings(bases)

	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Types", strconv.Itoa(stats.TotalTypes))
	kv.AddRow("By type", strings.Join(bases, " "))
	kv.AddRow("Inheriting", strconv.Itoa(stats.TypesWithParents))
	kv.AddRow("Requirements", strconv.Itoa(stats.TotalRequirements))
	kv.AddRow("Global", strconv.Itoa(stats.GlobalRequirements))
	kv.AddRow("Providers", strings.Join(stats.Providers, ", "))
	kv.Render()
	fmt.Fprintln(out)

	health := reg.ValidateConsistency()
	if health.Healthy() {
		ui.Success(out, "registry is consistent", noColor)
		return nil
	}

	problems := health.Problems()
	errOut := cmd.ErrOrStderr()
	for _, p := range problems {
		ui.Warning(p, noColor).Write(errOut)
	}
	return fmt.Errorf("registry has %d problems: %w", len(problems), errReported)
}
