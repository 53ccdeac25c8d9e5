package acl

import (
	"slices"
	"strconv"
)

// EvaluateContext carries the requestor's identity and the file's owner
// and group, against which OWNER@ and GROUP@ are resolved.
type EvaluateContext struct {
	Who    string   // user name
	Groups []string // group names
	UID    uint32
	GID    uint32   // primary gid
	GIDs   []uint32 // supplementary gids

	FileOwnerUID uint32
	FileOwnerGID uint32

	// Anonymous requestors match EVERYONE@ only.
	Anonymous bool
}

func (c *EvaluateContext) inGroup(gid uint32) bool {
	return c.GID == gid || slices.Contains(c.GIDs, gid)
}

// Decision is the outcome of evaluating an ACL for a set of requested bits.
// A requested bit is in at most one of Allowed and Denied; bits in neither
// are undecided.
type Decision struct {
	Requested uint32
	Allowed   uint32
	Denied    uint32
}

// Granted reports whether every requested bit is allowed.
func (d Decision) Granted() bool {
	return d.Allowed&d.Requested == d.Requested
}

// Refused reports whether any requested bit is denied.
func (d Decision) Refused() bool {
	return d.Denied&d.Requested != 0
}

// Undecided returns the requested bits no ACE decided.
func (d Decision) Undecided() uint32 {
	return d.Requested &^ (d.Allowed | d.Denied)
}

// Evaluate walks the ACEs in order; the first matching ALLOW or DENY entry
// that mentions a bit decides it. Inherit-only, AUDIT and ALARM entries are
// skipped. Evaluation stops once every requested bit is decided.
func Evaluate(a *ACL, ctx *EvaluateContext, requested uint32) Decision {
	d := Decision{Requested: requested}
	if requested == 0 || a == nil {
		return d
	}

	for i := range a.ACEs {
		ace := &a.ACEs[i]
		if ace.IsInheritOnly() || !matches(ace, ctx) {
			continue
		}

		fresh := ace.AccessMask & requested &^ (d.Allowed | d.Denied)
		switch ace.Type {
		case ACE4_ACCESS_ALLOWED_ACE_TYPE:
			d.Allowed |= fresh
		case ACE4_ACCESS_DENIED_ACE_TYPE:
			d.Denied |= fresh
		default:
			continue
		}

		if d.Undecided() == 0 {
			break
		}
	}
	return d
}

// matches reports whether ace applies to the requestor.
func matches(ace *ACE, ctx *EvaluateContext) bool {
	if ctx.Anonymous {
		return ace.Who == SpecialEveryone
	}
	switch ace.Who {
	case SpecialOwner:
		return ctx.UID == ctx.FileOwnerUID
	case SpecialGroup:
		return ctx.inGroup(ctx.FileOwnerGID)
	case SpecialEveryone:
		return true
	}

	if ace.IsGroup() {
		if slices.Contains(ctx.Groups, ace.Who) {
			return true
		}
		gid, err := strconv.ParseUint(ace.Who, 10, 32)
		return err == nil && ctx.inGroup(uint32(gid))
	}

	if ctx.Who != "" && ace.Who == ctx.Who {
		return true
	}
	uid, err := strconv.ParseUint(ace.Who, 10, 32)
	return err == nil && uint32(uid) == ctx.UID
}
