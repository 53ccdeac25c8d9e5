// Package acl implements NFSv4 access control lists (RFC 7530 Section 6)
// and their evaluation into per-bit allow and deny decisions.
//
// Evaluation is three-valued: bits that no matching ACE mentions stay
// undecided, so a caller can fall back to another policy for them.
package acl

import (
	"fmt"
	"strconv"
	"strings"
)

// ACE types (acetype4).
const (
	ACE4_ACCESS_ALLOWED_ACE_TYPE = 0x00000000
	ACE4_ACCESS_DENIED_ACE_TYPE  = 0x00000001
	ACE4_SYSTEM_AUDIT_ACE_TYPE   = 0x00000002
	ACE4_SYSTEM_ALARM_ACE_TYPE   = 0x00000003
)

// ACE flags (aceflag4).
const (
	ACE4_FILE_INHERIT_ACE         = 0x00000001
	ACE4_DIRECTORY_INHERIT_ACE    = 0x00000002
	ACE4_NO_PROPAGATE_INHERIT_ACE = 0x00000004
	ACE4_INHERIT_ONLY_ACE         = 0x00000008
	ACE4_IDENTIFIER_GROUP         = 0x00000040
	ACE4_INHERITED_ACE            = 0x00000080
)

// Access mask bits (acemask4).
const (
	ACE4_READ_DATA    = 0x00000001
	ACE4_WRITE_DATA   = 0x00000002
	ACE4_APPEND_DATA  = 0x00000004
	ACE4_EXECUTE      = 0x00000020
	ACE4_DELETE_CHILD = 0x00000040

	ACE4_READ_NAMED_ATTRS  = 0x00000008
	ACE4_WRITE_NAMED_ATTRS = 0x00000010
	ACE4_READ_ATTRIBUTES   = 0x00000080
	ACE4_WRITE_ATTRIBUTES  = 0x00000100
	ACE4_DELETE            = 0x00010000
	ACE4_READ_ACL          = 0x00020000
	ACE4_WRITE_ACL         = 0x00040000
	ACE4_WRITE_OWNER       = 0x00080000
)

// Directory aliases of the data bits.
const (
	ACE4_LIST_DIRECTORY   = ACE4_READ_DATA
	ACE4_ADD_FILE         = ACE4_WRITE_DATA
	ACE4_ADD_SUBDIRECTORY = ACE4_APPEND_DATA
)

// Special identifiers.
const (
	SpecialOwner    = "OWNER@"
	SpecialGroup    = "GROUP@"
	SpecialEveryone = "EVERYONE@"
)

// MaxACECount is the maximum number of ACEs in one ACL.
const MaxACECount = 128

// ACE is a single access control entry.
//
// Who is a special identifier, a user name or numeric uid, or, when Flag
// carries ACE4_IDENTIFIER_GROUP, a group name or numeric gid.
type ACE struct {
	Type       uint32 `json:"type"`
	Flag       uint32 `json:"flag"`
	AccessMask uint32 `json:"access_mask"`
	Who        string `json:"who"`
}

// ACL is an ordered list of ACEs.
type ACL struct {
	ACEs []ACE `json:"aces"`
}

// New creates an ACL from aces.
func New(aces ...ACE) *ACL {
	return &ACL{ACEs: aces}
}

// Allow returns an ALLOW entry for who.
func Allow(who string, mask uint32) ACE {
	return ACE{Type: ACE4_ACCESS_ALLOWED_ACE_TYPE, AccessMask: mask, Who: who}
}

// Deny returns a DENY entry for who.
func Deny(who string, mask uint32) ACE {
	return ACE{Type: ACE4_ACCESS_DENIED_ACE_TYPE, AccessMask: mask, Who: who}
}

// ForGroup marks the entry's Who as a group.
func (a ACE) ForGroup() ACE {
	a.Flag |= ACE4_IDENTIFIER_GROUP
	return a
}

func (a *ACE) IsInheritOnly() bool {
	return a.Flag&ACE4_INHERIT_ONLY_ACE != 0
}

func (a *ACE) IsGroup() bool {
	return a.Flag&ACE4_IDENTIFIER_GROUP != 0
}

// TypeString returns ALLOW, DENY, AUDIT or ALARM.
func (a *ACE) TypeString() string {
	switch a.Type {
	case ACE4_ACCESS_ALLOWED_ACE_TYPE:
		return "ALLOW"
	case ACE4_ACCESS_DENIED_ACE_TYPE:
		return "DENY"
	case ACE4_SYSTEM_AUDIT_ACE_TYPE:
		return "AUDIT"
	case ACE4_SYSTEM_ALARM_ACE_TYPE:
		return "ALARM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", a.Type)
	}
}

// String renders the entry as "TYPE:[g:]who:0xMASK".
func (a *ACE) String() string {
	g := ""
	if a.IsGroup() {
		g = "g:"
	}
	return fmt.Sprintf("%s:%s%s:0x%08x", a.TypeString(), g, a.Who, a.AccessMask)
}

func (a *ACL) String() string {
	if a == nil {
		return "<nil>"
	}
	parts := make([]string, len(a.ACEs))
	for i := range a.ACEs {
		parts[i] = a.ACEs[i].String()
	}
	return strings.Join(parts, ",")
}

// ParseACE parses the form produced by ACE.String.
func ParseACE(s string) (ACE, error) {
	parts := strings.Split(s, ":")
	var ace ACE
	switch len(parts) {
	case 3:
	case 4:
		if parts[1] != "g" {
			return ACE{}, fmt.Errorf("invalid ACE %q: expected TYPE:[g:]who:MASK", s)
		}
		ace.Flag |= ACE4_IDENTIFIER_GROUP
		parts = []string{parts[0], parts[2], parts[3]}
	default:
		return ACE{}, fmt.Errorf("invalid ACE %q: expected TYPE:[g:]who:MASK", s)
	}

	switch strings.ToUpper(parts[0]) {
	case "ALLOW":
		ace.Type = ACE4_ACCESS_ALLOWED_ACE_TYPE
	case "DENY":
		ace.Type = ACE4_ACCESS_DENIED_ACE_TYPE
	case "AUDIT":
		ace.Type = ACE4_SYSTEM_AUDIT_ACE_TYPE
	case "ALARM":
		ace.Type = ACE4_SYSTEM_ALARM_ACE_TYPE
	default:
		return ACE{}, fmt.Errorf("invalid ACE %q: unknown type %q", s, parts[0])
	}

	ace.Who = parts[1]
	mask, err := strconv.ParseUint(parts[2], 0, 32)
	if err != nil {
		return ACE{}, fmt.Errorf("invalid ACE %q: bad mask: %w", s, err)
	}
	ace.AccessMask = uint32(mask)
	return ace, nil
}

// Parse parses the comma-separated form produced by ACL.String.
func Parse(s string) (*ACL, error) {
	a := &ACL{}
	if strings.TrimSpace(s) == "" {
		return a, nil
	}
	for _, part := range strings.Split(s, ",") {
		ace, err := ParseACE(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		a.ACEs = append(a.ACEs, ace)
	}
	return a, nil
}
