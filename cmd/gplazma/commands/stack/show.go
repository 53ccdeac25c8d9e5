package stack

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/internal/cli/output"
	"github.com/dcache/gplazma/pkg/config"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

var (
	showFile   string
	showOutput string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the parsed login stack",
	Long: `Parse the login stack and display one row per directive, in phase order.

Examples:
  # Show the stack named by the configuration
  gplazma stack show

  # Show a stack file directly
  gplazma stack show --file /etc/gplazma/gplazma.conf

  # As YAML
  gplazma stack show -o yaml`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showFile, "file", "", "Stack file (default: login.config_path)")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// Line is one directive as displayed.
type Line struct {
	Line       int               `json:"line" yaml:"line"`
	Phase      string            `json:"phase" yaml:"phase"`
	Control    string            `json:"control" yaml:"control"`
	Plugin     string            `json:"plugin" yaml:"plugin"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	Arguments  []string          `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Lines renders as a table.
type Lines []Line

func (Lines) Headers() []string {
	return []string{"Line", "Phase", "Control", "Plugin", "Options"}
}

func (l Lines) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, line := range l {
		opts := make([]string, 0, len(line.Properties)+len(line.Arguments))
		for _, k := range slices.Sorted(maps.Keys(line.Properties)) {
			opts = append(opts, k+"="+line.Properties[k])
		}
		opts = append(opts, line.Arguments...)
		rows = append(rows, []string{
			strconv.Itoa(line.Line), line.Phase, line.Control, line.Plugin, strings.Join(opts, " "),
		})
	}
	return rows
}

// NewLines orders items by phase, keeping file order within a phase.
func NewLines(items []configuration.ConfigurationItem) Lines {
	stacks := configuration.GroupByPhase(items)
	var out Lines
	for _, phase := range configuration.Phases {
		for _, item := range stacks.Of(phase).Items() {
			out = append(out, Line{
				Line:       item.Line,
				Phase:      item.Phase.String(),
				Control:    item.Control.String(),
				Plugin:     item.PluginName,
				Properties: item.Config.Properties,
				Arguments:  item.Config.Arguments,
			})
		}
	}
	return out
}

// StackPath returns file when set, otherwise login.config_path from the
// configuration at configPath.
func StackPath(configPath, file string) (string, error) {
	if file != "" {
		return file, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Login.ConfigPath, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")
	path, err := StackPath(configPath, showFile)
	if err != nil {
		return err
	}

	items, err := configuration.NewFileLoader(path).Load()
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, NewLines(items))
}
