package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/permission"
	"github.com/dcache/gplazma/pkg/permission/acl"
)

var (
	accessPrincipals []string
	accessFile       string
	accessParent     string
	accessFileACL    string
	accessParentACL  string
	accessDir        bool
)

var accessCmd = &cobra.Command{
	Use:   "access <operation>",
	Short: "Evaluate a namespace permission for a subject",
	Long: `Evaluate a namespace permission for a subject against file attributes.

The NFSv4 ACL is consulted first, then the POSIX mode bits. The verdict is
allowed, denied or undefined when neither decides.

Operations: read, write, create-file, create-dir, delete, list, lookup

Attributes are given as owner:group:mode with an octal mode. ACLs use the
form TYPE:[g:]who:MASK, comma separated.

Examples:
  # May uid 1000 read a 0640 file owned by root:100?
  gplazma access read -p uid:1000 -p "gid:100(primary)" --file 0:100:0640

  # May bob delete a file in a sticky directory?
  gplazma access delete -p uid:1001 --parent 0:0:01777 --file 1000:100:0644

  # An ACL granting EVERYONE@ read access
  gplazma access read --file 0:0:0600 --file-acl "ALLOW:EVERYONE@:0x1"`,
	Args: cobra.ExactArgs(1),
	RunE: runAccess,
}

func init() {
	accessCmd.Flags().StringArrayVarP(&accessPrincipals, "principal", "p", nil, "Principal as kind:value (repeatable, none for anonymous)")
	accessCmd.Flags().StringVar(&accessFile, "file", "", "Target attributes as owner:group:mode")
	accessCmd.Flags().StringVar(&accessParent, "parent", "", "Parent directory attributes as owner:group:mode")
	accessCmd.Flags().StringVar(&accessFileACL, "file-acl", "", "Target ACL")
	accessCmd.Flags().StringVar(&accessParentACL, "parent-acl", "", "Parent directory ACL")
	accessCmd.Flags().BoolVar(&accessDir, "dir", false, "Target is a directory")
}

func runAccess(cmd *cobra.Command, args []string) error {
	principals, err := parsePrincipals(accessPrincipals)
	if err != nil {
		return err
	}
	var subject *auth.Subject
	if len(principals) > 0 {
		subject = auth.NewSubject(principals...)
	}

	typ := permission.TypeRegular
	if accessDir {
		typ = permission.TypeDirectory
	}
	file, err := parseAttributes(accessFile, accessFileACL, typ)
	if err != nil {
		return fmt.Errorf("--file: %w", err)
	}
	parent, err := parseAttributes(accessParent, accessParentACL, permission.TypeDirectory)
	if err != nil {
		return fmt.Errorf("--parent: %w", err)
	}

	chain := permission.NewChain([]permission.PermissionHandler{
		permission.ACLHandler{},
		permission.PosixHandler{},
	})

	var verdict permission.AccessType
	switch strings.ToLower(args[0]) {
	case "read":
		verdict = chain.CanReadFile(subject, file)
	case "write":
		verdict = chain.CanWriteFile(subject, file)
	case "create-file":
		verdict = chain.CanCreateFile(subject, parent)
	case "create-dir":
		verdict = chain.CanCreateSubDir(subject, parent)
	case "delete":
		if accessDir {
			verdict = chain.CanDeleteDir(subject, parent, file)
		} else {
			verdict = chain.CanDeleteFile(subject, parent, file)
		}
	case "list":
		verdict = chain.CanListDir(subject, file)
	case "lookup":
		verdict = chain.CanLookup(subject, file)
	default:
		return fmt.Errorf("unknown operation %q (valid: read, write, create-file, create-dir, delete, list, lookup)", args[0])
	}

	fmt.Fprintln(cmd.OutOrStdout(), verdict)
	return nil
}

// parseAttributes parses owner:group:mode plus an optional ACL. An empty
// value yields nil, which every handler treats as undefined.
func parseAttributes(value, aclValue string, typ permission.FileType) (*permission.FileAttributes, error) {
	if value == "" {
		if aclValue != "" {
			return nil, errors.New("an ACL needs owner:group:mode as well")
		}
		return nil, nil
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid attributes %q: expected owner:group:mode", value)
	}
	owner, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid owner %q: %w", parts[0], err)
	}
	group, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid group %q: %w", parts[1], err)
	}
	mode, err := strconv.ParseUint(parts[2], 8, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid mode %q: %w", parts[2], err)
	}

	attrs := permission.PosixAttributes(uint32(owner), uint32(group), uint32(mode), typ)
	if aclValue != "" {
		a, err := acl.Parse(aclValue)
		if err != nil {
			return nil, err
		}
		attrs = attrs.WithACL(a)
	}
	return attrs, nil
}
