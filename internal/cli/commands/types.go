package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
)

var typesFilter string

// NewTypesCommand creates the types command
func NewTypesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the registered metadata types",
		Long: `List every type.subType registered by the loaded type providers with its
parent type, the number of declared child requirements and a description.`,
		Example: `  metaobjects types
  metaobjects types --type field`,
		Args: cobra.NoArgs,
		RunE: runTypes,
	}

	cmd.Flags().StringVarP(&typesFilter, "type", "t", "", "only list subtypes of this type")

	return cmd
}

func runTypes(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	table := ui.NewTable(out, noColor, "TYPE", "PARENT", "CHILDREN", "DESCRIPTION")
	for _, d := range reg.Types() {
		if typesFilter != "" && !strings.EqualFold(d.Type, typesFilter) {
			continue
		}
		parent := d.ParentQualifiedName()
		if parent == "" {
			parent = "-"
		}
		table.AddRow(d.QualifiedName(), parent, strconv.Itoa(len(d.Children)), d.Description)
	}

	if table.Len() == 0 {
		var known []string
		for _, d := range reg.Types() {
			known = append(known, d.Type)
		}
		return report(cmd.ErrOrStderr(), ui.TypeNotFound(typesFilter, dedupe(known), noColor))
	}

	table.Render()
	fmt.Fprintf(out, "\n%d types from %s\n", table.Len(), strings.Join(reg.Providers(), ", "))
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
