package auth

import (
	"fmt"
	"sort"
	"strconv"
)

// AttributeKind identifies the type of a session attribute.
type AttributeKind uint8

const (
	AttrHomeDirectory AttributeKind = iota + 1
	AttrRootDirectory
	AttrReadOnly
	AttrMaxUpload
	AttrRestriction
)

func (k AttributeKind) String() string {
	switch k {
	case AttrHomeDirectory:
		return "home"
	case AttrRootDirectory:
		return "root"
	case AttrReadOnly:
		return "read-only"
	case AttrMaxUpload:
		return "max-upload"
	case AttrRestriction:
		return "restriction"
	default:
		return fmt.Sprintf("attribute(%d)", uint8(k))
	}
}

// Attribute is a session property produced by the login pipeline.
//
// Like Principal it is a comparable value. Path is used by the directory
// kinds and Restriction, Bytes by AttrMaxUpload; AttrReadOnly carries no value.
type Attribute struct {
	Kind  AttributeKind
	Path  string
	Bytes int64
}

// HomeDirectory returns the attribute naming the user's home directory.
func HomeDirectory(path string) Attribute { return Attribute{Kind: AttrHomeDirectory, Path: path} }

// RootDirectory returns the attribute naming the user's namespace root.
func RootDirectory(path string) Attribute { return Attribute{Kind: AttrRootDirectory, Path: path} }

// ReadOnly returns the attribute marking the session as read-only.
func ReadOnly() Attribute { return Attribute{Kind: AttrReadOnly} }

// MaxUpload returns the attribute limiting the size of a single upload.
func MaxUpload(bytes int64) Attribute { return Attribute{Kind: AttrMaxUpload, Bytes: bytes} }

// Restriction returns a named restriction attribute.
func Restriction(name string) Attribute { return Attribute{Kind: AttrRestriction, Path: name} }

func (a Attribute) String() string {
	switch a.Kind {
	case AttrReadOnly:
		return a.Kind.String()
	case AttrMaxUpload:
		return a.Kind.String() + ":" + strconv.FormatInt(a.Bytes, 10)
	default:
		return a.Kind.String() + ":" + a.Path
	}
}

// AttributeSet is a set of session attributes.
//
// The zero value is an empty set ready to use.
type AttributeSet struct {
	attrs map[Attribute]struct{}
}

// NewAttributeSet creates a set holding the given attributes.
func NewAttributeSet(attrs ...Attribute) *AttributeSet {
	s := &AttributeSet{}
	s.Add(attrs...)
	return s
}

func (s *AttributeSet) Add(attrs ...Attribute) {
	if s.attrs == nil {
		s.attrs = make(map[Attribute]struct{}, len(attrs))
	}
	for _, a := range attrs {
		s.attrs[a] = struct{}{}
	}
}

func (s *AttributeSet) Remove(attrs ...Attribute) {
	for _, a := range attrs {
		delete(s.attrs, a)
	}
}

func (s *AttributeSet) Contains(a Attribute) bool {
	_, ok := s.attrs[a]
	return ok
}

func (s *AttributeSet) Len() int {
	return len(s.attrs)
}

// All returns every attribute in a stable order.
func (s *AttributeSet) All() []Attribute {
	out := make([]Attribute, 0, len(s.attrs))
	for a := range s.attrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Bytes < out[j].Bytes
	})
	return out
}

// OfKind returns the attributes of the given kind in a stable order.
func (s *AttributeSet) OfKind(kind AttributeKind) []Attribute {
	var out []Attribute
	for _, a := range s.All() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (s *AttributeSet) Clone() *AttributeSet {
	if s == nil {
		return NewAttributeSet()
	}
	c := &AttributeSet{attrs: make(map[Attribute]struct{}, len(s.attrs))}
	for a := range s.attrs {
		c.attrs[a] = struct{}{}
	}
	return c
}
