package config

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/internal/cli/output"
	"github.com/dcache/gplazma/pkg/config"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and its login stack",
	Long: `Validate the gplazma configuration file and the login stack it names.

Checks for syntax errors, missing required fields and invalid values, then
parses the login stack and warns about plugins this binary does not know.

Examples:
  # Validate default config
  gplazma config validate

  # Validate specific config file
  gplazma config validate --config /etc/gplazma/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	items, err := configuration.NewFileLoader(cfg.Login.ConfigPath).Load()
	if err != nil {
		return fmt.Errorf("login stack %s: %w", cfg.Login.ConfigPath, err)
	}

	var warnings []string
	registry := plugin.Default()
	seen := make(map[string]bool)
	for _, item := range items {
		if seen[item.PluginName] {
			continue
		}
		seen[item.PluginName] = true
		if _, ok := registry.Lookup(item.PluginName); !ok {
			warnings = append(warnings, fmt.Sprintf("line %d: plugin %q is not registered in this binary", item.Line, item.PluginName))
		}
	}
	stacks := configuration.GroupByPhase(items)
	if stacks.Of(configuration.Authentication).Empty() {
		warnings = append(warnings, "auth phase is empty: every subject passes authentication")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintln(out, "\nConfiguration summary:")
	output.PrintPairs(out, [][2]string{
		{"Login stack", cfg.Login.ConfigPath},
		{"Directives", strconv.Itoa(len(items))},
		{"Optional-only", cfg.Login.OptionalOnly.String()},
		{"Watch", strconv.FormatBool(cfg.Login.Watch)},
		{"Cache", strconv.FormatBool(cfg.Cache.Enabled)},
		{"Log level", cfg.Logging.Level},
	})
	return nil
}
