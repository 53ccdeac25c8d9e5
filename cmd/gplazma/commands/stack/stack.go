// Package stack implements the login stack subcommands.
package stack

import (
	"github.com/spf13/cobra"
)

// Cmd is the stack subcommand.
var Cmd = &cobra.Command{
	Use:   "stack",
	Short: "Inspect the login stack",
	Long: `Inspect the PAM-style login stack named by login.config_path.

Subcommands:
  show      Display the parsed stack
  plugins   List the plugins compiled into this binary`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(pluginsCmd)
}
