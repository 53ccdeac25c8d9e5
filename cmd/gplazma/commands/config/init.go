package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Create a gplazma configuration file with default settings.

By default, the configuration file is created at $XDG_CONFIG_HOME/gplazma/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  gplazma config init

  # Initialize with custom path
  gplazma config init --config /etc/gplazma/config.yaml

  # Force overwrite existing config
  gplazma config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point login.config_path at your login stack")
	fmt.Fprintf(out, "  2. Check it with: gplazma config validate --config %s\n", configPath)
	fmt.Fprintf(out, "  3. Start the engine with: gplazma serve --config %s\n", configPath)
	return nil
}
