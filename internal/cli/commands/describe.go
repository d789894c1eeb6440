package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
)

// NewDescribeCommand creates the describe command
func NewDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <type> <subType>",
		Short: "Describe a registered type and the children it accepts",
		Long: `Describe a registered type: its parent, implementation and the child
requirements it accepts, including the ones inherited from its parents and
the global requirements registered for it.`,
		Example: `  metaobjects describe object managed
  metaobjects describe field string`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeTypes,
		RunE:              runDescribe,
	}
}

func runDescribe(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	typ, subType := args[0], args[1]
	d, ok := reg.Get(typ, subType)
	if !ok {
		return report(cmd.ErrOrStderr(), ui.TypeNotFound(typ+"."+subType, reg.TypeNames(), noColor))
	}

	out := cmd.OutOrStdout()
	ui.Header(out, d.QualifiedName(), noColor)

	kv := ui.NewKeyValueTable(out, noColor)
	parent := d.ParentQualifiedName()
	if parent == "" {
		parent = "-"
	}
	kv.AddRow("Parent", parent)
	kv.AddRow("Implementation", d.Implementation)
	kv.AddRow("Description", d.Description)
	kv.AddRow("Declared", strconv.Itoa(len(d.Children)))
	kv.Render()

	reqs := reg.EffectiveRequirements(typ, subType)
	fmt.Fprintln(out)
	if len(reqs) == 0 {
		fmt.Fprintln(out, "Accepts no children")
		return nil
	}

	table := ui.NewTable(out, noColor, "NAME", "TYPE", "SUBTYPE", "REQUIRED")
	for _, req := range reqs {
		required := "no"
		if req.Required {
			required = "yes"
		}
		table.AddRow(req.Name, req.ExpectedType, req.ExpectedSubType, required)
	}
	table.Render()

	fmt.Fprintln(out)
	fmt.Fprintln(out, reg.SupportedChildrenDescription(typ, subType))
	return nil
}
