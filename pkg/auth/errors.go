package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an AuthenticationError.
type ErrorKind int

const (
	// PhaseFailure indicates a pipeline phase failed and aborted the login.
	PhaseFailure ErrorKind = iota + 1

	// ValidationFailure indicates the pipeline completed but its reply
	// violates one or more identity invariants.
	ValidationFailure

	// Internal indicates the engine could not run the login at all
	// (no usable configuration, cancelled context, ...).
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case PhaseFailure:
		return "PhaseFailure"
	case ValidationFailure:
		return "ValidationFailure"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Sentinel errors matched by errors.Is against an *AuthenticationError of
// the corresponding kind.
var (
	ErrPhaseFailure      = errors.New("auth: login phase failed")
	ErrValidationFailure = errors.New("auth: login reply failed validation")
	ErrInternal          = errors.New("auth: internal login error")
)

// AuthenticationError is the terminal error of a failed login.
type AuthenticationError struct {
	Kind ErrorKind

	// Phase names the failing phase. Empty for validation failures.
	Phase string

	// Plugin names the plugin whose error precipitated a phase failure.
	Plugin string

	// Causes holds the underlying errors: the last plugin error for a phase
	// failure, one entry per violated invariant for a validation failure.
	Causes []error

	Message string
}

// NewPhaseFailure creates the error reported when a phase fails.
func NewPhaseFailure(phase, plugin string, cause error) *AuthenticationError {
	msg := fmt.Sprintf("login failed in %s phase", phase)
	var causes []error
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
		causes = []error{cause}
	}
	return &AuthenticationError{
		Kind:    PhaseFailure,
		Phase:   phase,
		Plugin:  plugin,
		Causes:  causes,
		Message: msg,
	}
}

// NewValidationFailure aggregates every violated invariant into one error
// whose message is the comma-joined list of causes.
func NewValidationFailure(causes []error) *AuthenticationError {
	parts := make([]string, len(causes))
	for i, c := range causes {
		parts[i] = c.Error()
	}
	return &AuthenticationError{
		Kind:    ValidationFailure,
		Causes:  causes,
		Message: "validation failed: " + strings.Join(parts, ", "),
	}
}

// NewInternalError creates an error for failures outside any plugin.
func NewInternalError(msg string, cause error) *AuthenticationError {
	e := &AuthenticationError{Kind: Internal, Message: msg}
	if cause != nil {
		e.Message = fmt.Sprintf("%s: %v", msg, cause)
		e.Causes = []error{cause}
	}
	return e
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return e.Message
}

// Unwrap exposes the causes to errors.Is and errors.As.
func (e *AuthenticationError) Unwrap() []error {
	return e.Causes
}

// Is matches the sentinel error of the same kind.
func (e *AuthenticationError) Is(target error) bool {
	switch target {
	case ErrPhaseFailure:
		return e.Kind == PhaseFailure
	case ErrValidationFailure:
		return e.Kind == ValidationFailure
	case ErrInternal:
		return e.Kind == Internal
	}
	return false
}

// PluginError is one plugin's local failure. It never escapes a login on its
// own; the pipeline wraps it into a phase failure when the control flags
// require it.
type PluginError struct {
	Plugin string
	Phase  string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s: %v", e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}
