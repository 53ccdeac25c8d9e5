package auth

import "context"

// LoginStrategy turns a raw Subject into a LoginReply.
//
// The login pipeline, the validating wrapper around it and the caching
// decorator all implement LoginStrategy, so they can be stacked freely.
//
// Thread safety: implementations must be safe for concurrent use. The
// Subject passed in is never modified.
type LoginStrategy interface {
	Login(ctx context.Context, subject *Subject) (*LoginReply, error)
}

// LoginStrategyFunc adapts an ordinary function to LoginStrategy.
type LoginStrategyFunc func(ctx context.Context, subject *Subject) (*LoginReply, error)

// Login calls f(ctx, subject).
func (f LoginStrategyFunc) Login(ctx context.Context, subject *Subject) (*LoginReply, error) {
	return f(ctx, subject)
}

// LoginReply is the terminal artifact of a successful login: the enriched
// Subject plus the session attributes.
//
// Accessors assume a validated reply. On an unvalidated reply they return the
// first matching principal or attribute in stable order, or the zero value.
type LoginReply struct {
	Subject    *Subject
	Attributes *AttributeSet
}

// NewLoginReply creates a reply, substituting empty sets for nil arguments.
func NewLoginReply(subject *Subject, attrs *AttributeSet) *LoginReply {
	if subject == nil {
		subject = NewSubject()
	}
	if attrs == nil {
		attrs = NewAttributeSet()
	}
	return &LoginReply{Subject: subject, Attributes: attrs}
}

// Username returns the canonical username.
func (r *LoginReply) Username() string {
	if p := r.Subject.PrincipalsOf(KindUsername); len(p) > 0 {
		return p[0].Name
	}
	return ""
}

// UID returns the canonical user id.
func (r *LoginReply) UID() (uint32, bool) {
	if p := r.Subject.PrincipalsOf(KindUID); len(p) > 0 {
		return p[0].ID, true
	}
	return 0, false
}

// PrimaryGID returns the primary group id.
func (r *LoginReply) PrimaryGID() (uint32, bool) {
	for _, p := range r.Subject.PrincipalsOf(KindGID) {
		if p.Primary {
			return p.ID, true
		}
	}
	return 0, false
}

// GIDs returns every group id, primary first.
func (r *LoginReply) GIDs() []uint32 {
	gids := r.Subject.PrincipalsOf(KindGID)
	out := make([]uint32, 0, len(gids))
	for _, p := range gids {
		if p.Primary {
			out = append(out, p.ID)
		}
	}
	for _, p := range gids {
		if !p.Primary {
			out = append(out, p.ID)
		}
	}
	return out
}

func (r *LoginReply) Home() string { return r.firstPath(AttrHomeDirectory) }

func (r *LoginReply) Root() string { return r.firstPath(AttrRootDirectory) }

func (r *LoginReply) ReadOnly() bool {
	return r.Attributes.Contains(ReadOnly())
}

func (r *LoginReply) firstPath(kind AttributeKind) string {
	if a := r.Attributes.OfKind(kind); len(a) > 0 {
		return a[0].Path
	}
	return ""
}
