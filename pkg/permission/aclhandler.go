package permission

import (
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/permission/acl"
)

// ACLHandler decides from NFSv4 ACLs.
//
// A bit denied by the first matching entry yields Denied, all bits allowed
// yields Allowed, anything else is Undefined so a later handler can decide.
// Files without a valid ACL are Undefined.
type ACLHandler struct{}

var _ PermissionHandler = ACLHandler{}

var aclRequired = KindsOf(AttrOwner, AttrOwnerGroup, AttrACL)

func (ACLHandler) RequiredAttributes() AttributeKinds { return aclRequired }

func aclCheck(s *auth.Subject, f *FileAttributes, mask uint32) AccessType {
	if !f.IsDefined(AttrACL, AttrOwner, AttrOwnerGroup) || f.ACL == nil {
		return Undefined
	}
	if acl.Validate(f.ACL) != nil {
		return Undefined
	}
	d := acl.Evaluate(f.ACL, evaluateContext(s, f), mask)
	switch {
	case d.Refused():
		return Denied
	case d.Granted():
		return Allowed
	default:
		return Undefined
	}
}

func evaluateContext(s *auth.Subject, f *FileAttributes) *acl.EvaluateContext {
	id := identityOf(s)
	return &acl.EvaluateContext{
		Who:          id.username,
		Groups:       id.groups,
		UID:          id.uid,
		GID:          id.gid,
		GIDs:         id.gids,
		FileOwnerUID: f.Owner,
		FileOwnerGID: f.Group,
		Anonymous:    id.anonymous,
	}
}

func (ACLHandler) CanReadFile(s *auth.Subject, file *FileAttributes) AccessType {
	return aclCheck(s, file, acl.ACE4_READ_DATA)
}

func (ACLHandler) CanWriteFile(s *auth.Subject, file *FileAttributes) AccessType {
	return aclCheck(s, file, acl.ACE4_WRITE_DATA)
}

func (ACLHandler) CanCreateSubDir(s *auth.Subject, parent *FileAttributes) AccessType {
	return aclCheck(s, parent, acl.ACE4_ADD_SUBDIRECTORY)
}

func (ACLHandler) CanCreateFile(s *auth.Subject, parent *FileAttributes) AccessType {
	return aclCheck(s, parent, acl.ACE4_ADD_FILE)
}

func (h ACLHandler) CanDeleteFile(s *auth.Subject, parent, file *FileAttributes) AccessType {
	return h.canDelete(s, parent, file)
}

func (h ACLHandler) CanDeleteDir(s *auth.Subject, parent, dir *FileAttributes) AccessType {
	return h.canDelete(s, parent, dir)
}

// canDelete needs DELETE on the entry or DELETE_CHILD on its parent. An
// explicit deny on either side wins.
func (ACLHandler) canDelete(s *auth.Subject, parent, entry *FileAttributes) AccessType {
	self := aclCheck(s, entry, acl.ACE4_DELETE)
	child := aclCheck(s, parent, acl.ACE4_DELETE_CHILD)
	switch {
	case self == Denied || child == Denied:
		return Denied
	case self == Allowed || child == Allowed:
		return Allowed
	default:
		return Undefined
	}
}

// CanRename needs DELETE_CHILD on the old parent and the matching ADD
// permission on the new one.
func (ACLHandler) CanRename(s *auth.Subject, existingParent, newParent *FileAttributes, isDirectory bool) AccessType {
	add := uint32(acl.ACE4_ADD_FILE)
	if isDirectory {
		add = acl.ACE4_ADD_SUBDIRECTORY
	}
	from := aclCheck(s, existingParent, acl.ACE4_DELETE_CHILD)
	to := aclCheck(s, newParent, add)
	switch {
	case from == Denied || to == Denied:
		return Denied
	case from == Allowed && to == Allowed:
		return Allowed
	default:
		return Undefined
	}
}

func (ACLHandler) CanListDir(s *auth.Subject, dir *FileAttributes) AccessType {
	return aclCheck(s, dir, acl.ACE4_LIST_DIRECTORY)
}

func (ACLHandler) CanLookup(s *auth.Subject, dir *FileAttributes) AccessType {
	return aclCheck(s, dir, acl.ACE4_EXECUTE)
}

func (ACLHandler) CanGetAttribute(s *auth.Subject, _, file *FileAttributes, attr AttributeKind) AccessType {
	if attr == AttrACL {
		return aclCheck(s, file, acl.ACE4_READ_ACL)
	}
	return aclCheck(s, file, acl.ACE4_READ_ATTRIBUTES)
}

func (ACLHandler) CanSetAttribute(s *auth.Subject, _, file *FileAttributes, attr AttributeKind) AccessType {
	switch attr {
	case AttrACL, AttrMode:
		return aclCheck(s, file, acl.ACE4_WRITE_ACL)
	case AttrOwner, AttrOwnerGroup:
		return aclCheck(s, file, acl.ACE4_WRITE_OWNER)
	case AttrSize:
		return aclCheck(s, file, acl.ACE4_WRITE_DATA)
	default:
		return aclCheck(s, file, acl.ACE4_WRITE_ATTRIBUTES)
	}
}
