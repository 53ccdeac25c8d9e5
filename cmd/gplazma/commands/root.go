// Package commands implements the gplazma command line.
//
// Plugins are compiled in: a distribution registers its plugins with
// plugin.Register from an init function and then calls Execute.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/cmd/gplazma/commands/config"
	"github.com/dcache/gplazma/cmd/gplazma/commands/stack"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gplazma",
	Short: "gPlazma - pluggable login and identity mapping",
	Long: `gPlazma maps the credentials a client presents to a local identity
(username, uid, gids, home and root directory) by running a PAM-style stack
of plugins through the auth, map, account, session and identity phases.

Use "gplazma [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/gplazma/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(stack.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
