package permission

import (
	"github.com/dcache/gplazma/pkg/auth"
)

// Operation names reported to an Observer.
const (
	OpReadFile      = "read_file"
	OpWriteFile     = "write_file"
	OpCreateSubDir  = "create_subdir"
	OpCreateFile    = "create_file"
	OpDeleteFile    = "delete_file"
	OpDeleteDir     = "delete_dir"
	OpRename        = "rename"
	OpListDir       = "list_dir"
	OpLookup        = "lookup"
	OpGetAttributes = "get_attributes"
	OpSetAttributes = "set_attributes"
)

// Observer is told about every verdict a Chain returns.
// *metrics.Metrics satisfies it.
type Observer interface {
	ObservePermission(operation, access string)
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithObserver reports every verdict to o.
func WithObserver(o Observer) ChainOption {
	return func(c *Chain) { c.observer = o }
}

// Chain consults an ordered list of handlers.
//
// Single-outcome operations return the first verdict that is not
// Undefined. For attribute sets every attribute is resolved that way on its
// own, then the set is Denied if any attribute is Denied, Allowed only if
// all are Allowed, and Undefined otherwise.
//
// A Chain is immutable and safe for concurrent use. It is itself a
// PermissionHandler, so chains nest.
type Chain struct {
	handlers []PermissionHandler
	observer Observer
}

var _ PermissionHandler = (*Chain)(nil)

// NewChain creates a chain over handlers, consulted in the given order.
func NewChain(handlers []PermissionHandler, opts ...ChainOption) *Chain {
	c := &Chain{handlers: append([]PermissionHandler(nil), handlers...)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequiredAttributes returns the union of the handlers' required attributes.
func (c *Chain) RequiredAttributes() AttributeKinds {
	var s AttributeKinds
	for _, h := range c.handlers {
		s = s.Union(h.RequiredAttributes())
	}
	return s
}

func (c *Chain) first(op string, ask func(PermissionHandler) AccessType) AccessType {
	return c.observe(op, c.resolve(ask))
}

func (c *Chain) resolve(ask func(PermissionHandler) AccessType) AccessType {
	for _, h := range c.handlers {
		if a := ask(h); a != Undefined {
			return a
		}
	}
	return Undefined
}

func (c *Chain) observe(op string, a AccessType) AccessType {
	if c.observer != nil {
		c.observer.ObservePermission(op, a.String())
	}
	return a
}

func (c *Chain) CanReadFile(s *auth.Subject, file *FileAttributes) AccessType {
	return c.first(OpReadFile, func(h PermissionHandler) AccessType { return h.CanReadFile(s, file) })
}

func (c *Chain) CanWriteFile(s *auth.Subject, file *FileAttributes) AccessType {
	return c.first(OpWriteFile, func(h PermissionHandler) AccessType { return h.CanWriteFile(s, file) })
}

func (c *Chain) CanCreateSubDir(s *auth.Subject, parent *FileAttributes) AccessType {
	return c.first(OpCreateSubDir, func(h PermissionHandler) AccessType { return h.CanCreateSubDir(s, parent) })
}

func (c *Chain) CanCreateFile(s *auth.Subject, parent *FileAttributes) AccessType {
	return c.first(OpCreateFile, func(h PermissionHandler) AccessType { return h.CanCreateFile(s, parent) })
}

func (c *Chain) CanDeleteFile(s *auth.Subject, parent, file *FileAttributes) AccessType {
	return c.first(OpDeleteFile, func(h PermissionHandler) AccessType { return h.CanDeleteFile(s, parent, file) })
}

func (c *Chain) CanDeleteDir(s *auth.Subject, parent, dir *FileAttributes) AccessType {
	return c.first(OpDeleteDir, func(h PermissionHandler) AccessType { return h.CanDeleteDir(s, parent, dir) })
}

func (c *Chain) CanRename(s *auth.Subject, existingParent, newParent *FileAttributes, isDirectory bool) AccessType {
	return c.first(OpRename, func(h PermissionHandler) AccessType {
		return h.CanRename(s, existingParent, newParent, isDirectory)
	})
}

func (c *Chain) CanListDir(s *auth.Subject, dir *FileAttributes) AccessType {
	return c.first(OpListDir, func(h PermissionHandler) AccessType { return h.CanListDir(s, dir) })
}

func (c *Chain) CanLookup(s *auth.Subject, dir *FileAttributes) AccessType {
	return c.first(OpLookup, func(h PermissionHandler) AccessType { return h.CanLookup(s, dir) })
}

// CanGetAttribute resolves a single attribute. It is not observed; use
// CanGetAttributes for namespace requests.
func (c *Chain) CanGetAttribute(s *auth.Subject, parent, file *FileAttributes, attr AttributeKind) AccessType {
	return c.resolve(func(h PermissionHandler) AccessType { return h.CanGetAttribute(s, parent, file, attr) })
}

// CanSetAttribute resolves a single attribute. It is not observed; use
// CanSetAttributes for namespace requests.
func (c *Chain) CanSetAttribute(s *auth.Subject, parent, file *FileAttributes, attr AttributeKind) AccessType {
	return c.resolve(func(h PermissionHandler) AccessType { return h.CanSetAttribute(s, parent, file, attr) })
}

// CanGetAttributes decides whether all of attrs may be read.
func (c *Chain) CanGetAttributes(s *auth.Subject, parent, file *FileAttributes, attrs AttributeKinds) AccessType {
	return c.observe(OpGetAttributes, aggregate(attrs, func(k AttributeKind) AccessType {
		return c.CanGetAttribute(s, parent, file, k)
	}))
}

// CanSetAttributes decides whether all of attrs may be modified.
func (c *Chain) CanSetAttributes(s *auth.Subject, parent, file *FileAttributes, attrs AttributeKinds) AccessType {
	return c.observe(OpSetAttributes, aggregate(attrs, func(k AttributeKind) AccessType {
		return c.CanSetAttribute(s, parent, file, k)
	}))
}

// aggregate combines per-attribute verdicts. An empty set is Allowed.
func aggregate(attrs AttributeKinds, decide func(AttributeKind) AccessType) AccessType {
	result := Allowed
	for _, k := range attrs.Kinds() {
		switch decide(k) {
		case Denied:
			return Denied
		case Undefined:
			result = Undefined
		}
	}
	return result
}
