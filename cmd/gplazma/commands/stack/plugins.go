package stack

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/pkg/gplazma/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the plugins compiled into this binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := plugin.Default().Names()
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No plugins registered.")
			return nil
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	},
}
