// Package pipeline executes the PAM-style login stacks.
//
// A login runs the five phases in fixed order (auth, map, account, session,
// identity) over one accumulator of principals and attributes. Within a
// phase every module runs against a private working copy of the
// accumulator; the copy is committed as soon as the module succeeds, so
// later modules see its changes, and discarded when it fails.
//
// Control flags decide how a module's outcome affects its phase:
//
//	required    failure fails the phase, remaining modules still run
//	requisite   failure fails the phase and stops it immediately
//	sufficient  success ends the phase successfully, unless a required or
//	            requisite module already failed
//	optional    outcome never decides the phase
//
// A phase without modules succeeds. Otherwise it succeeds when a sufficient
// module ended it, or when nothing failed it and at least one non-optional
// module succeeded. Stacks made only of optional modules follow the
// configured OptionalOnlyPolicy. The first failing phase aborts the login.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
	"github.com/dcache/gplazma/pkg/metrics"
)

// OptionalOnlyPolicy decides the outcome of a phase whose stack contains
// only optional modules.
type OptionalOnlyPolicy int

const (
	// RequireSuccess fails the phase unless at least one optional module succeeds.
	RequireSuccess OptionalOnlyPolicy = iota

	// AlwaysSucceed treats the phase like an empty stack.
	AlwaysSucceed
)

func (p OptionalOnlyPolicy) String() string {
	switch p {
	case RequireSuccess:
		return "require-success"
	case AlwaysSucceed:
		return "always-succeed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseOptionalOnlyPolicy maps "require-success" / "always-succeed" to a policy.
func ParseOptionalOnlyPolicy(s string) (OptionalOnlyPolicy, error) {
	switch s {
	case "require-success", "":
		return RequireSuccess, nil
	case "always-succeed":
		return AlwaysSucceed, nil
	}
	return RequireSuccess, fmt.Errorf("unknown optional-only policy %q", s)
}

func (p OptionalOnlyPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *OptionalOnlyPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOptionalOnlyPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Module is one configured plugin bound to its phase capability.
type Module struct {
	Item   configuration.ConfigurationItem
	Invoke plugin.Func
}

func (m Module) Name() string { return m.Item.PluginName }

// Option configures a LoginPipeline.
type Option func(*LoginPipeline)

// WithOptionalOnlyPolicy sets how optional-only stacks are decided.
func WithOptionalOnlyPolicy(p OptionalOnlyPolicy) Option {
	return func(lp *LoginPipeline) { lp.policy = p }
}

// WithMetrics records phase and plugin outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lp *LoginPipeline) { lp.metrics = m }
}

// LoginPipeline is an immutable set of per-phase stacks.
//
// Thread safety: safe for concurrent use. Each Login owns its accumulator.
type LoginPipeline struct {
	stacks  [len(configuration.Phases)][]Module
	policy  OptionalOnlyPolicy
	metrics *metrics.Metrics
}

// New groups modules by phase, keeping their order within each phase.
func New(modules []Module, opts ...Option) *LoginPipeline {
	lp := &LoginPipeline{}
	for _, m := range modules {
		lp.stacks[m.Item.Phase] = append(lp.stacks[m.Item.Phase], m)
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Stack returns the modules of phase in execution order.
func (lp *LoginPipeline) Stack(phase configuration.Phase) []Module {
	return append([]Module(nil), lp.stacks[phase]...)
}

// Login runs the pipeline without a monitor. The reply is not validated.
func (lp *LoginPipeline) Login(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, error) {
	return lp.Run(ctx, subject, nil)
}

// Run executes all phases against a copy of subject, reporting progress to
// mon (which may be nil). The subject passed in is never modified.
func (lp *LoginPipeline) Run(ctx context.Context, subject *auth.Subject, mon LoginMonitor) (*auth.LoginReply, error) {
	if mon == nil {
		mon = NopMonitor{}
	}
	acc := auth.NewLoginReply(subject.Clone(), auth.NewAttributeSet())

	for _, phase := range configuration.Phases {
		if err := lp.runPhase(ctx, phase, acc, mon); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (lp *LoginPipeline) runPhase(ctx context.Context, phase configuration.Phase, acc *auth.LoginReply, mon LoginMonitor) error {
	ctx, span := telemetry.StartPhaseSpan(ctx, phase.String())
	defer span.End()
	ctx = withPhase(ctx, phase)

	mon.PhaseBegins(phase, acc.Subject, acc.Attributes)
	start := time.Now()

	ok, lastErr, err := lp.evaluate(ctx, phase, acc, mon)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	mon.PhaseEnds(phase, ok, acc.Subject, acc.Attributes)
	lp.metrics.ObservePhase(phase.String(), ok)
	span.SetAttributes(telemetry.Result(ok))
	logger.DebugCtx(ctx, "phase finished", logger.Result(ok), logger.Elapsed(start))

	if ok {
		return nil
	}

	var failure *auth.AuthenticationError
	if lastErr != nil {
		failure = auth.NewPhaseFailure(phase.String(), lastErr.Plugin, lastErr)
	} else {
		failure = auth.NewPhaseFailure(phase.String(), "", nil)
	}
	telemetry.RecordError(ctx, failure)
	return failure
}

// evaluate walks one stack. It returns whether the phase succeeded and the
// last plugin error seen; err is only set when ctx was cancelled.
func (lp *LoginPipeline) evaluate(ctx context.Context, phase configuration.Phase, acc *auth.LoginReply, mon LoginMonitor) (ok bool, lastErr *auth.PluginError, err error) {
	stack := lp.stacks[phase]
	if len(stack) == 0 {
		return true, nil, nil
	}

	var (
		phaseFailed     bool
		explicitSuccess bool
		optionalSuccess bool
		onlyOptional    = true
	)

	for _, m := range stack {
		if cerr := ctx.Err(); cerr != nil {
			e := auth.NewInternalError("login cancelled", cerr)
			e.Phase = phase.String()
			return false, lastErr, e
		}

		control := m.Item.Control
		if control != configuration.Optional {
			onlyOptional = false
		}

		subject, attrs := acc.Subject.Clone(), acc.Attributes.Clone()
		perr := m.Invoke(ctx, subject, attrs)

		logger.DebugCtx(ctx, "plugin finished",
			logger.KeyPlugin, m.Name(),
			logger.KeyControl, control.String(),
			logger.Result(perr == nil),
			logger.Err(perr))
		lp.metrics.ObservePlugin(phase.String(), m.Name(), perr == nil)

		if perr == nil {
			mon.PluginResult(m.Item, acc.Subject, subject, nil)
			acc.Subject, acc.Attributes = subject, attrs
		} else {
			mon.PluginResult(m.Item, acc.Subject, nil, perr)
			lastErr = &auth.PluginError{Plugin: m.Name(), Phase: phase.String(), Err: perr}
		}

		switch control {
		case configuration.Required:
			if perr != nil {
				phaseFailed = true
			} else {
				explicitSuccess = true
			}
		case configuration.Requisite:
			if perr != nil {
				return false, lastErr, nil
			}
			explicitSuccess = true
		case configuration.Sufficient:
			if perr == nil && !phaseFailed {
				return true, lastErr, nil
			}
		case configuration.Optional:
			if perr == nil {
				optionalSuccess = true
			}
		}
	}

	if onlyOptional {
		return optionalSuccess || lp.policy == AlwaysSucceed, lastErr, nil
	}
	return !phaseFailed && explicitSuccess, lastErr, nil
}

func withPhase(ctx context.Context, phase configuration.Phase) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = &logger.LogContext{}
	}
	lc = lc.WithPhase(phase.String())
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		lc = lc.WithTrace(traceID, telemetry.SpanID(ctx))
	}
	return logger.WithContext(ctx, lc)
}
