package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/internal/cli/output"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/config"
)

var (
	loginPrincipals []string
	loginExplain    bool
	loginOutput     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run one login through the configured stack",
	Long: `Run one login through the configured stack and print the resulting
identity.

Principals are given as kind:value, for example dn:/CN=alice or
gid:100(primary). With --explain the outcome of every phase and plugin is
printed as well, which is the quickest way to see why a login fails.

Examples:
  # Log in a certificate subject
  gplazma login -p "dn:/DC=org/DC=example/CN=alice" -p origin:192.0.2.10

  # Show how the stack reached its decision
  gplazma login -p username:alice --explain

  # Print the identity as JSON
  gplazma login -p username:alice -o json`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringArrayVarP(&loginPrincipals, "principal", "p", nil, "Principal as kind:value (repeatable)")
	loginCmd.Flags().BoolVar(&loginExplain, "explain", false, "Print the outcome of every phase and plugin")
	loginCmd.Flags().StringVarP(&loginOutput, "output", "o", "table", "Output format (table|json|yaml)")
	_ = loginCmd.MarkFlagRequired("principal")
}

// identityView is the printable form of a login reply.
type identityView struct {
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	UID        *uint32  `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID        *uint32  `json:"gid,omitempty" yaml:"gid,omitempty"`
	GIDs       []uint32 `json:"gids,omitempty" yaml:"gids,omitempty"`
	Home       string   `json:"home,omitempty" yaml:"home,omitempty"`
	Root       string   `json:"root,omitempty" yaml:"root,omitempty"`
	ReadOnly   bool     `json:"read_only" yaml:"read_only"`
	Principals []string `json:"principals" yaml:"principals"`
}

func newIdentityView(r *auth.LoginReply) identityView {
	v := identityView{
		Username: r.Username(),
		GIDs:     r.GIDs(),
		Home:     r.Home(),
		Root:     r.Root(),
		ReadOnly: r.ReadOnly(),
	}
	if uid, ok := r.UID(); ok {
		v.UID = &uid
	}
	if gid, ok := r.PrimaryGID(); ok {
		v.GID = &gid
	}
	for _, p := range r.Subject.Principals() {
		v.Principals = append(v.Principals, p.String())
	}
	return v
}

func (v identityView) pairs() [][2]string {
	optional := func(n *uint32) string {
		if n == nil {
			return "-"
		}
		return strconv.FormatUint(uint64(*n), 10)
	}
	gids := make([]string, len(v.GIDs))
	for i, g := range v.GIDs {
		gids[i] = strconv.FormatUint(uint64(g), 10)
	}
	return [][2]string{
		{"Username", v.Username},
		{"UID", optional(v.UID)},
		{"GID", optional(v.GID)},
		{"GIDs", strings.Join(gids, ",")},
		{"Home", v.Home},
		{"Root", v.Root},
		{"Read-only", strconv.FormatBool(v.ReadOnly)},
		{"Principals", strings.Join(v.Principals, " ")},
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(loginOutput)
	if err != nil {
		return err
	}
	principals, err := parsePrincipals(loginPrincipals)
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
	reply, result, err := e.Explain(ctx, auth.NewSubject(principals...))
	if loginExplain && result != nil {
		fmt.Fprintln(out, result.Explain())
	}
	if err != nil {
		if errors.Is(err, auth.ErrPhaseFailure) && !loginExplain {
			return fmt.Errorf("%w (rerun with --explain for details)", err)
		}
		return err
	}

	view := newIdentityView(reply)
	if format == output.FormatTable {
		output.PrintPairs(out, view.pairs())
		return nil
	}
	return output.Print(out, format, view)
}
