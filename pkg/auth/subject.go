package auth

import "sort"

// Subject is the set of identity claims (principals) and credentials being
// authenticated.
//
// Credentials are opaque to the engine: they are handed to plugins and copied
// into the final reply untouched. A Subject is not safe for concurrent
// mutation; during a login it is owned by exactly one pipeline run.
type Subject struct {
	principals map[Principal]struct{}

	// PublicCredentials holds non-sensitive credential material
	// (certificate chains, bearer tokens, ...).
	PublicCredentials []any

	// PrivateCredentials holds sensitive credential material (passwords,
	// private keys). Never logged.
	PrivateCredentials []any
}

// NewSubject creates a Subject holding the given principals.
func NewSubject(principals ...Principal) *Subject {
	s := &Subject{principals: make(map[Principal]struct{}, len(principals))}
	for _, p := range principals {
		s.principals[p] = struct{}{}
	}
	return s
}

// Add inserts principals into the set. Adding an existing principal is a no-op.
func (s *Subject) Add(principals ...Principal) {
	if s.principals == nil {
		s.principals = make(map[Principal]struct{}, len(principals))
	}
	for _, p := range principals {
		s.principals[p] = struct{}{}
	}
}

// Remove deletes principals from the set.
func (s *Subject) Remove(principals ...Principal) {
	for _, p := range principals {
		delete(s.principals, p)
	}
}

// Contains reports whether p is in the principal set.
func (s *Subject) Contains(p Principal) bool {
	_, ok := s.principals[p]
	return ok
}

// Len returns the number of principals.
func (s *Subject) Len() int {
	return len(s.principals)
}

// Principals returns the principal set in a stable order.
func (s *Subject) Principals() []Principal {
	out := make([]Principal, 0, len(s.principals))
	for p := range s.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// PrincipalsOf returns the principals of the given kind in a stable order.
func (s *Subject) PrincipalsOf(kind PrincipalKind) []Principal {
	var out []Principal
	for _, p := range s.Principals() {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a copy whose principal set can be modified independently.
// Credential slices are copied; the credentials themselves are shared.
// Cloning a nil Subject yields an empty one.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return NewSubject()
	}
	c := &Subject{principals: make(map[Principal]struct{}, len(s.principals))}
	for p := range s.principals {
		c.principals[p] = struct{}{}
	}
	if s.PublicCredentials != nil {
		c.PublicCredentials = append([]any(nil), s.PublicCredentials...)
	}
	if s.PrivateCredentials != nil {
		c.PrivateCredentials = append([]any(nil), s.PrivateCredentials...)
	}
	return c
}
