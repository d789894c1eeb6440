package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Load metadata files and check every object",
		Long: `Load metadata files into a tree, enforcing the child requirements of the
type registry, then check that every object resolves its super object and
fields. Without arguments the files in metadata.files are validated.`,
		Example: `  metaobjects validate meta/people.yaml meta/orders.yaml
  metaobjects validate --config ./metaobjects.yaml`,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := metadataFiles(args)
	if err != nil {
		return err
	}
	tree, err := loadTree(files)
	if err != nil {
		return report(cmd.ErrOrStderr(), ui.Message{
			Level:        ui.LevelError,
			Context:      "invalid metadata",
			Problem:      err.Error(),
			HelpCommands: []string{"See the accepted children: metaobjects describe <type> <subType>"},
			NoColor:      noColor,
		})
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	table := ui.NewTable(out, noColor, "OBJECT", "SUBTYPE", "SUPER", "FIELDS", "KEYS")
	invalid := 0
	for _, n := range tree.Objects() {
		if err := n.ValidateObject(); err != nil {
			invalid++
			ui.Message{Level: ui.LevelError, Context: n.Name(), Problem: err.Error(), NoColor: noColor}.Write(errOut)
			continue
		}
		super := "-"
		if s, ok, _ := n.Super(); ok {
			super = s.Name()
		}
		table.AddRow(n.Name(), n.SubType(), super, strconv.Itoa(len(n.Fields())), strings.Join(keyFields(n), ","))
	}

	if table.Len() > 0 {
		table.Render()
		fmt.Fprintln(out)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d objects are invalid: %w", invalid, len(tree.Objects()), errReported)
	}
	ui.Success(out, fmt.Sprintf("%d objects in %d files are valid", table.Len(), len(files)), noColor)
	return nil
}

func keyFields(n *metadata.Node) []string {
	var keys []string
	for _, f := range n.Fields() {
		if f.AttrBool(metadata.AttrIsKey) {
			keys = append(keys, f.Name())
		}
	}
	if len(keys) == 0 {
		return []string{"-"}
	}
	return keys
}
