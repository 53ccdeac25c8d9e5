package auth

import (
	"fmt"
	"strconv"
	"strings"

	krbtypes "github.com/jcmturner/gokrb5/v8/types"
)

// PrincipalKind identifies the type of identity claim carried by a Principal.
type PrincipalKind uint8

const (
	KindUsername PrincipalKind = iota + 1
	KindUID
	KindGID
	KindGroup
	KindFQAN
	KindDN
	KindKerberos
	KindEmail
	KindOIDCSubject
	KindLoginName
	KindOrigin
)

var kindNames = map[PrincipalKind]string{
	KindUsername:    "username",
	KindUID:         "uid",
	KindGID:         "gid",
	KindGroup:       "group",
	KindFQAN:        "fqan",
	KindDN:          "dn",
	KindKerberos:    "kerberos",
	KindEmail:       "email",
	KindOIDCSubject: "oidc",
	KindLoginName:   "login",
	KindOrigin:      "origin",
}

// String returns the lower-case name of the kind.
func (k PrincipalKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParsePrincipalKind maps a kind name as returned by String to its kind.
func ParsePrincipalKind(s string) (PrincipalKind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	return 0, false
}

// Principal is one typed identity claim.
//
// Principal is a comparable value: two principals are equal when kind,
// textual value, numeric id and primary flag are all equal. This makes it
// usable directly as a map key and as a member of a Subject's principal set.
//
// Which fields are meaningful depends on Kind:
//   - KindUID, KindGID: ID (and Primary for KindGID)
//   - KindGroup, KindFQAN: Name and Primary
//   - all other kinds: Name only
type Principal struct {
	Kind    PrincipalKind
	Name    string
	ID      uint32
	Primary bool
}

// Username returns a username principal.
func Username(name string) Principal { return Principal{Kind: KindUsername, Name: name} }

// UID returns a numeric user id principal.
func UID(uid uint32) Principal { return Principal{Kind: KindUID, ID: uid} }

// GID returns a numeric group id principal. At most one primary gid may
// survive validation; non-primary gids are unconstrained.
func GID(gid uint32, primary bool) Principal {
	return Principal{Kind: KindGID, ID: gid, Primary: primary}
}

// Group returns a named group principal.
func Group(name string, primary bool) Principal {
	return Principal{Kind: KindGroup, Name: name, Primary: primary}
}

// FQAN returns a VOMS Fully Qualified Attribute Name principal.
func FQAN(fqan string, primary bool) Principal {
	return Principal{Kind: KindFQAN, Name: fqan, Primary: primary}
}

// DN returns an X.509 distinguished name principal.
func DN(dn string) Principal { return Principal{Kind: KindDN, Name: dn} }

// Kerberos returns a Kerberos principal ("name[/instance]@REALM").
func Kerberos(name string) Principal { return Principal{Kind: KindKerberos, Name: name} }

// Email returns an email address principal.
func Email(addr string) Principal { return Principal{Kind: KindEmail, Name: addr} }

// OIDCSubject returns an OpenID Connect "sub" claim principal.
func OIDCSubject(sub string) Principal { return Principal{Kind: KindOIDCSubject, Name: sub} }

// LoginName returns the name the client asked to log in as.
func LoginName(name string) Principal { return Principal{Kind: KindLoginName, Name: name} }

// Origin returns a principal describing where the request came from.
func Origin(addr string) Principal { return Principal{Kind: KindOrigin, Name: addr} }

// ParsePrincipal parses the "kind:value" form produced by String, including
// the "(primary)" suffix.
func ParsePrincipal(s string) (Principal, error) {
	kindName, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Principal{}, fmt.Errorf("invalid principal %q: expected kind:value", s)
	}
	kind, ok := ParsePrincipalKind(kindName)
	if !ok {
		return Principal{}, fmt.Errorf("invalid principal %q: unknown kind %q", s, kindName)
	}

	p := Principal{Kind: kind}
	if v, found := strings.CutSuffix(value, "(primary)"); found {
		if kind != KindGID && kind != KindGroup && kind != KindFQAN {
			return Principal{}, fmt.Errorf("invalid principal %q: %s cannot be primary", s, kind)
		}
		value, p.Primary = v, true
	}

	if p.IsNumeric() {
		id, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Principal{}, fmt.Errorf("invalid principal %q: %w", s, err)
		}
		p.ID = uint32(id)
		return p, nil
	}
	p.Name = value
	return p, nil
}

// IsNumeric reports whether the principal carries its value in ID.
func (p Principal) IsNumeric() bool {
	return p.Kind == KindUID || p.Kind == KindGID
}

// Value returns the principal's value rendered as text.
func (p Principal) Value() string {
	if p.IsNumeric() {
		return strconv.FormatUint(uint64(p.ID), 10)
	}
	return p.Name
}

// String renders the principal as "kind:value", marking primary principals.
func (p Principal) String() string {
	s := p.Kind.String() + ":" + p.Value()
	if p.Primary {
		s += "(primary)"
	}
	return s
}

// Realm returns the realm of a Kerberos principal, or "" for any other kind
// or a principal without a realm.
func (p Principal) Realm() string {
	if p.Kind != KindKerberos {
		return ""
	}
	_, realm := krbtypes.ParseSPNString(p.Name)
	return realm
}

// KerberosName returns the realm-less name components of a Kerberos
// principal, e.g. "nfs/host.example.org" for "nfs/host.example.org@EXAMPLE.ORG".
func (p Principal) KerberosName() string {
	if p.Kind != KindKerberos {
		return ""
	}
	pn, _ := krbtypes.ParseSPNString(p.Name)
	return pn.PrincipalNameString()
}

// PrimaryName returns the first name component of a Kerberos principal
// ("alice" for "alice/admin@EXAMPLE.ORG").
func (p Principal) PrimaryName() string {
	if p.Kind != KindKerberos {
		return ""
	}
	pn, _ := krbtypes.ParseSPNString(p.Name)
	if len(pn.NameString) == 0 {
		return ""
	}
	return pn.NameString[0]
}

// less orders principals by kind, then value, then primary flag (primary first).
func (p Principal) less(o Principal) bool {
	if p.Kind != o.Kind {
		return p.Kind < o.Kind
	}
	if p.IsNumeric() {
		if p.ID != o.ID {
			return p.ID < o.ID
		}
	} else if c := strings.Compare(p.Name, o.Name); c != 0 {
		return c < 0
	}
	return p.Primary && !o.Primary
}
