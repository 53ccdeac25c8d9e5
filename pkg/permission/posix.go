package permission

import (
	"github.com/dcache/gplazma/pkg/auth"
)

const (
	permRead  uint32 = 0o4
	permWrite uint32 = 0o2
	permExec  uint32 = 0o1

	modeSticky uint32 = 0o1000
)

// PosixHandler decides from owner, group and mode bits.
//
// UID 0 may do anything. A subject without a uid principal only gets the
// "other" bits. When an attribute the handler needs is not defined the
// verdict is Undefined.
type PosixHandler struct{}

var _ PermissionHandler = PosixHandler{}

var posixRequired = KindsOf(AttrOwner, AttrOwnerGroup, AttrMode)

func (PosixHandler) RequiredAttributes() AttributeKinds { return posixRequired }

// bits returns the rwx bits of f that apply to id.
func (id identity) bits(f *FileAttributes) uint32 {
	switch {
	case id.anonymous:
		return f.Mode & 0o7
	case id.uid == f.Owner:
		return (f.Mode >> 6) & 0o7
	case id.inGroup(f.Group):
		return (f.Mode >> 3) & 0o7
	default:
		return f.Mode & 0o7
	}
}

// check returns Allowed when id holds every bit of want on f.
func posixCheck(s *auth.Subject, f *FileAttributes, want uint32) AccessType {
	if !f.IsDefined(AttrOwner, AttrOwnerGroup, AttrMode) {
		return Undefined
	}
	id := identityOf(s)
	if id.isRoot() {
		return Allowed
	}
	return AccessOf(id.bits(f)&want == want)
}

func (PosixHandler) CanReadFile(s *auth.Subject, file *FileAttributes) AccessType {
	return posixCheck(s, file, permRead)
}

func (PosixHandler) CanWriteFile(s *auth.Subject, file *FileAttributes) AccessType {
	return posixCheck(s, file, permWrite)
}

func (PosixHandler) CanCreateSubDir(s *auth.Subject, parent *FileAttributes) AccessType {
	return posixCheck(s, parent, permWrite|permExec)
}

func (PosixHandler) CanCreateFile(s *auth.Subject, parent *FileAttributes) AccessType {
	return posixCheck(s, parent, permWrite|permExec)
}

func (h PosixHandler) CanDeleteFile(s *auth.Subject, parent, file *FileAttributes) AccessType {
	return h.canDelete(s, parent, file)
}

func (h PosixHandler) CanDeleteDir(s *auth.Subject, parent, dir *FileAttributes) AccessType {
	return h.canDelete(s, parent, dir)
}

// canDelete needs write and search on the parent. In a sticky directory
// only the owner of the entry or of the directory may remove it.
func (PosixHandler) canDelete(s *auth.Subject, parent, entry *FileAttributes) AccessType {
	access := posixCheck(s, parent, permWrite|permExec)
	if access != Allowed || parent.Mode&modeSticky == 0 {
		return access
	}
	id := identityOf(s)
	if id.isRoot() {
		return Allowed
	}
	if !entry.IsDefined(AttrOwner) {
		return Undefined
	}
	return AccessOf(!id.anonymous && (id.uid == entry.Owner || id.uid == parent.Owner))
}

func (PosixHandler) CanRename(s *auth.Subject, existingParent, newParent *FileAttributes, _ bool) AccessType {
	from := posixCheck(s, existingParent, permWrite|permExec)
	to := posixCheck(s, newParent, permWrite|permExec)
	switch {
	case from == Denied || to == Denied:
		return Denied
	case from == Allowed && to == Allowed:
		return Allowed
	default:
		return Undefined
	}
}

func (PosixHandler) CanListDir(s *auth.Subject, dir *FileAttributes) AccessType {
	return posixCheck(s, dir, permRead)
}

func (PosixHandler) CanLookup(s *auth.Subject, dir *FileAttributes) AccessType {
	return posixCheck(s, dir, permExec)
}

// CanGetAttribute allows reading any attribute; visibility is decided by
// lookup permission on the parent.
func (PosixHandler) CanGetAttribute(_ *auth.Subject, _, _ *FileAttributes, _ AttributeKind) AccessType {
	return Allowed
}

// CanSetAttribute follows chown/chmod/utimes/truncate rules. Attributes
// mode bits say nothing about are Undefined.
func (PosixHandler) CanSetAttribute(s *auth.Subject, _, file *FileAttributes, attr AttributeKind) AccessType {
	if !file.IsDefined(AttrOwner, AttrOwnerGroup, AttrMode) {
		return Undefined
	}
	id := identityOf(s)
	if id.isRoot() {
		return Allowed
	}
	owner := !id.anonymous && id.uid == file.Owner

	switch attr {
	case AttrOwner:
		return Denied
	case AttrOwnerGroup, AttrMode, AttrACL:
		return AccessOf(owner)
	case AttrAccessTime, AttrModificationTime, AttrChangeTime, AttrCreationTime:
		return AccessOf(owner || id.bits(file)&permWrite != 0)
	case AttrSize:
		return AccessOf(id.bits(file)&permWrite != 0)
	default:
		return Undefined
	}
}
