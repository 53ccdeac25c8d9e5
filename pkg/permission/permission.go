// Package permission decides namespace operations for a logged-in subject.
//
// A PermissionHandler casts a three-valued vote per operation: Allowed,
// Denied or Undefined when it has no opinion. A Chain asks its handlers in
// order and returns the first definite vote. Undefined is never turned into
// Allowed here; callers treat it as a refusal.
package permission

import (
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/permission/acl"
)

// AccessType is a permission verdict.
type AccessType int

const (
	Undefined AccessType = iota
	Allowed
	Denied
)

func (a AccessType) String() string {
	switch a {
	case Undefined:
		return "undefined"
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// AccessOf maps a boolean decision to Allowed or Denied.
func AccessOf(ok bool) AccessType {
	if ok {
		return Allowed
	}
	return Denied
}

// AttributeKind names a namespace attribute of a file or directory.
type AttributeKind uint8

const (
	AttrOwner AttributeKind = iota
	AttrOwnerGroup
	AttrMode
	AttrACL
	AttrType
	AttrSize
	AttrCreationTime
	AttrAccessTime
	AttrModificationTime
	AttrChangeTime
	AttrChecksum
	AttrLocations
	AttrRetentionPolicy
	AttrAccessLatency
	AttrStorageInfo

	attrCount
)

var attributeNames = [...]string{
	"owner", "owner_group", "mode", "acl", "type", "size",
	"creation_time", "access_time", "modification_time", "change_time",
	"checksum", "locations", "retention_policy", "access_latency", "storage_info",
}

func (k AttributeKind) String() string {
	if int(k) < len(attributeNames) {
		return attributeNames[k]
	}
	return fmt.Sprintf("attribute(%d)", int(k))
}

// AttributeKinds is a set of attribute kinds.
type AttributeKinds uint32

// KindsOf returns the set of the given kinds.
func KindsOf(kinds ...AttributeKind) AttributeKinds {
	var s AttributeKinds
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// AllAttributes contains every attribute kind.
const AllAttributes = AttributeKinds(1<<attrCount - 1)

func (s AttributeKinds) Has(k AttributeKind) bool { return s&(1<<k) != 0 }

func (s AttributeKinds) Union(o AttributeKinds) AttributeKinds { return s | o }

func (s AttributeKinds) Len() int { return bits.OnesCount32(uint32(s)) }

// Kinds lists the members in ascending order.
func (s AttributeKinds) Kinds() []AttributeKind {
	out := make([]AttributeKind, 0, s.Len())
	for k := AttributeKind(0); k < attrCount; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s AttributeKinds) String() string {
	names := make([]string, 0, s.Len())
	for _, k := range s.Kinds() {
		names = append(names, k.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// FileType is the type of a namespace entry.
type FileType uint8

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeLink
	TypeSpecial
)

// FileAttributes is the subset of a file's attributes handlers decide on.
// Only the kinds in Defined carry meaningful values; handlers return
// Undefined when an attribute they need is missing.
type FileAttributes struct {
	Defined AttributeKinds
	Owner   uint32
	Group   uint32
	Mode    uint32
	Type    FileType
	ACL     *acl.ACL
}

// PosixAttributes returns attributes with owner, group, mode and type defined.
func PosixAttributes(owner, group, mode uint32, typ FileType) *FileAttributes {
	return &FileAttributes{
		Defined: KindsOf(AttrOwner, AttrOwnerGroup, AttrMode, AttrType),
		Owner:   owner,
		Group:   group,
		Mode:    mode,
		Type:    typ,
	}
}

// WithACL returns a copy of f with the ACL defined.
func (f *FileAttributes) WithACL(a *acl.ACL) *FileAttributes {
	c := *f
	c.ACL = a
	c.Defined |= KindsOf(AttrACL)
	return &c
}

// IsDefined reports whether all kinds are defined.
func (f *FileAttributes) IsDefined(kinds ...AttributeKind) bool {
	if f == nil {
		return false
	}
	want := KindsOf(kinds...)
	return f.Defined&want == want
}

// PermissionHandler votes on namespace operations. parent is the directory
// holding the entry the operation acts on.
//
// Handlers must be safe for concurrent use.
type PermissionHandler interface {
	// RequiredAttributes lists the attributes the caller must fetch for
	// the handler to decide.
	RequiredAttributes() AttributeKinds

	CanReadFile(subject *auth.Subject, file *FileAttributes) AccessType
	CanWriteFile(subject *auth.Subject, file *FileAttributes) AccessType
	CanCreateSubDir(subject *auth.Subject, parent *FileAttributes) AccessType
	CanCreateFile(subject *auth.Subject, parent *FileAttributes) AccessType
	CanDeleteFile(subject *auth.Subject, parent, file *FileAttributes) AccessType
	CanDeleteDir(subject *auth.Subject, parent, dir *FileAttributes) AccessType
	CanRename(subject *auth.Subject, existingParent, newParent *FileAttributes, isDirectory bool) AccessType
	CanListDir(subject *auth.Subject, dir *FileAttributes) AccessType
	CanLookup(subject *auth.Subject, dir *FileAttributes) AccessType
	CanGetAttribute(subject *auth.Subject, parent, file *FileAttributes, attr AttributeKind) AccessType
	CanSetAttribute(subject *auth.Subject, parent, file *FileAttributes, attr AttributeKind) AccessType
}

// identity is the part of a subject handlers look at.
type identity struct {
	uid       uint32
	hasUID    bool
	gid       uint32
	hasGID    bool
	gids      []uint32
	username  string
	groups    []string
	anonymous bool
}

func identityOf(s *auth.Subject) identity {
	var id identity
	if s == nil {
		id.anonymous = true
		return id
	}
	if uids := s.PrincipalsOf(auth.KindUID); len(uids) > 0 {
		id.uid, id.hasUID = uids[0].ID, true
	}
	for _, g := range s.PrincipalsOf(auth.KindGID) {
		if g.Primary && !id.hasGID {
			id.gid, id.hasGID = g.ID, true
			continue
		}
		id.gids = append(id.gids, g.ID)
	}
	if names := s.PrincipalsOf(auth.KindUsername); len(names) > 0 {
		id.username = names[0].Name
	}
	for _, g := range s.PrincipalsOf(auth.KindGroup) {
		id.groups = append(id.groups, g.Name)
	}
	id.anonymous = !id.hasUID
	return id
}

func (id identity) isRoot() bool { return id.hasUID && id.uid == 0 }

func (id identity) inGroup(gid uint32) bool {
	return (id.hasGID && id.gid == gid) || slices.Contains(id.gids, gid)
}
