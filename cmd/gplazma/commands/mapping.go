package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/config"
)

var mapReverse bool

var mapCmd = &cobra.Command{
	Use:   "map <kind:value>",
	Short: "Translate a principal through the identity plugins",
	Long: `Translate a principal through the identity plugins of the login stack.

Forward mapping turns a name into its numeric id; --reverse turns an id
back into every name that maps to it.

Examples:
  # Which uid does alice have?
  gplazma map username:alice

  # Which names map to gid 100?
  gplazma map gid:100 --reverse`,
	Args: cobra.ExactArgs(1),
	RunE: runMap,
}

func init() {
	mapCmd.Flags().BoolVar(&mapReverse, "reverse", false, "Map an id back to names")
}

func runMap(cmd *cobra.Command, args []string) error {
	p, err := auth.ParsePrincipal(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e := newEngine(ctx, cfg, nil)
	defer func() { _ = e.Close() }()
	if err := e.Err(); err != nil {
		return fmt.Errorf("login configuration %s: %w", cfg.Login.ConfigPath, err)
	}

	out := cmd.OutOrStdout()
	if !mapReverse {
		mapped, err := e.Map(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, mapped)
		return nil
	}

	names, err := e.ReverseMap(ctx, p)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
