// Package plugin defines the contracts login plugins implement and the
// registry through which the engine finds them by name.
//
// A plugin implements exactly the capability interface of the phase it is
// configured for. Every capability method receives the working copy of the
// login accumulator: it may add or remove principals and attributes, and
// returns nil on success. On error the engine discards the working copy, so
// a failing plugin never leaves partial changes behind.
//
// Implementations are called concurrently for different logins and must
// therefore either be stateless or guard their own state.
package plugin

import (
	"context"
	"fmt"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

// Plugin is any login plugin. Which capability it offers is discovered
// through the phase interfaces below.
type Plugin any

// AuthenticationPlugin verifies credentials and adds the principals they prove.
type AuthenticationPlugin interface {
	Authenticate(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error
}

// MappingPlugin maps principals onto other principals (DN to username, ...).
type MappingPlugin interface {
	Map(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error
}

// AccountPlugin decides whether the mapped identity may log in at all
// (ban lists, account expiry).
type AccountPlugin interface {
	Account(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error
}

// SessionPlugin adds session attributes such as home and root directory.
type SessionPlugin interface {
	Session(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error
}

// IdentityPlugin completes the identity, e.g. resolving uids to usernames.
type IdentityPlugin interface {
	Identify(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error
}

// PrincipalMapper is implemented by identity plugins that can translate a
// single principal outside of a login, e.g. a username into its uid.
type PrincipalMapper interface {
	MapPrincipal(ctx context.Context, p auth.Principal) (auth.Principal, error)
	ReverseMapPrincipal(ctx context.Context, p auth.Principal) ([]auth.Principal, error)
}

// Starter is implemented by plugins that need to acquire resources before
// their first call. Start is called once, before the plugin is published.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by plugins holding resources. Stop is called once,
// after the plugin has been replaced by a reload or the engine shuts down.
type Stopper interface {
	Stop() error
}

// Func is the uniform invocation shape of every phase capability.
type Func func(ctx context.Context, subject *auth.Subject, attrs *auth.AttributeSet) error

// CapabilityError reports a plugin configured for a phase whose capability
// interface it does not implement.
type CapabilityError struct {
	Plugin string
	Phase  configuration.Phase
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("plugin %q cannot be used in the %s phase", e.Plugin, e.Phase)
}

// Bind returns the capability method that phase invokes on p.
func Bind(phase configuration.Phase, name string, p Plugin) (Func, error) {
	switch phase {
	case configuration.Authentication:
		if c, ok := p.(AuthenticationPlugin); ok {
			return c.Authenticate, nil
		}
	case configuration.Mapping:
		if c, ok := p.(MappingPlugin); ok {
			return c.Map, nil
		}
	case configuration.Account:
		if c, ok := p.(AccountPlugin); ok {
			return c.Account, nil
		}
	case configuration.Session:
		if c, ok := p.(SessionPlugin); ok {
			return c.Session, nil
		}
	case configuration.Identity:
		if c, ok := p.(IdentityPlugin); ok {
			return c.Identify, nil
		}
	}
	return nil, &CapabilityError{Plugin: name, Phase: phase}
}
