// Package validation checks the final reply of the login pipeline before a
// session may proceed.
//
// A valid reply carries exactly one username, one uid and one primary gid
// among its principals, and exactly one home and one root directory among
// its attributes. Every violation is collected in a single pass so that one
// error names all of them.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/metrics"
)

// ValidationStrategy checks a LoginReply. It returns nil or an
// *auth.AuthenticationError of kind ValidationFailure.
type ValidationStrategy interface {
	Validate(reply *auth.LoginReply) error
}

// ValidationFunc adapts a function to ValidationStrategy.
type ValidationFunc func(reply *auth.LoginReply) error

func (f ValidationFunc) Validate(reply *auth.LoginReply) error { return f(reply) }

// Default enforces the exactly-one identity invariants.
type Default struct{}

// Validate implements ValidationStrategy.
func (Default) Validate(reply *auth.LoginReply) error {
	return Validate(reply)
}

// Violation is one broken invariant.
type Violation struct {
	What  string
	Count int
}

func (v *Violation) Error() string {
	if v.Count == 0 {
		return "no " + v.What
	}
	return fmt.Sprintf("%d %s values (expected exactly one)", v.Count, v.What)
}

// Validate checks reply against the identity invariants and aggregates every
// violation into one error.
func Validate(reply *auth.LoginReply) error {
	if reply == nil {
		return auth.NewValidationFailure([]error{&Violation{What: "login reply"}})
	}

	var causes []error
	check := func(what string, n int) {
		if n != 1 {
			causes = append(causes, &Violation{What: what, Count: n})
		}
	}

	check("username", len(reply.Subject.PrincipalsOf(auth.KindUsername)))
	check("uid", len(reply.Subject.PrincipalsOf(auth.KindUID)))
	check("primary gid", countPrimaryGIDs(reply.Subject))
	check("home directory", len(reply.Attributes.OfKind(auth.AttrHomeDirectory)))
	check("root directory", len(reply.Attributes.OfKind(auth.AttrRootDirectory)))

	if len(causes) == 0 {
		return nil
	}
	return auth.NewValidationFailure(causes)
}

func countPrimaryGIDs(s *auth.Subject) int {
	n := 0
	for _, p := range s.PrincipalsOf(auth.KindGID) {
		if p.Primary {
			n++
		}
	}
	return n
}

// Strategy is a LoginStrategy that validates the reply of another one.
type Strategy struct {
	inner     auth.LoginStrategy
	validator ValidationStrategy
	metrics   *metrics.Metrics
}

// Wrap validates every successful reply of inner with v. A nil v uses Default.
func Wrap(inner auth.LoginStrategy, v ValidationStrategy, m *metrics.Metrics) *Strategy {
	if v == nil {
		v = Default{}
	}
	return &Strategy{inner: inner, validator: v, metrics: m}
}

// Login implements auth.LoginStrategy.
func (s *Strategy) Login(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, error) {
	reply, err := s.inner.Login(ctx, subject)
	if err != nil {
		return nil, err
	}
	if err := Check(ctx, s.validator, reply, s.metrics); err != nil {
		return nil, err
	}
	return reply, nil
}

// Check runs v against reply inside a validation span and records the
// outcome.
func Check(ctx context.Context, v ValidationStrategy, reply *auth.LoginReply, m *metrics.Metrics) error {
	ctx, span := telemetry.StartValidateSpan(ctx)
	defer span.End()

	start := time.Now()
	err := v.Validate(reply)
	m.ObserveValidation(err == nil)
	span.SetAttributes(telemetry.Result(err == nil))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	logger.DebugCtx(ctx, "reply validated", logger.Result(err == nil), logger.Err(err), logger.Elapsed(start))
	return err
}
