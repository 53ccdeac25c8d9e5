package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/metrics"
)

// ============================================================================
// Test Helpers
// ============================================================================

// calls records plugin invocations in order.
type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

var errPlugin = errors.New("plugin failed")

func mod(c *calls, phase configuration.Phase, control configuration.Control, name string, fail bool, add ...auth.Principal) Module {
	return Module{
		Item: configuration.ConfigurationItem{Phase: phase, Control: control, PluginName: name},
		Invoke: func(_ context.Context, s *auth.Subject, _ *auth.AttributeSet) error {
			c.add(name)
			s.Add(add...)
			if fail {
				return fmt.Errorf("%s: %w", name, errPlugin)
			}
			return nil
		},
	}
}

func ok(c *calls, phase configuration.Phase, control configuration.Control, name string, add ...auth.Principal) Module {
	return mod(c, phase, control, name, false, add...)
}

func fail(c *calls, phase configuration.Phase, control configuration.Control, name string) Module {
	return mod(c, phase, control, name, true)
}

const (
	authn    = configuration.Authentication
	mapping  = configuration.Mapping
	account  = configuration.Account
	session  = configuration.Session
	identity = configuration.Identity

	required   = configuration.Required
	requisite  = configuration.Requisite
	sufficient = configuration.Sufficient
	optional   = configuration.Optional
)

func login(t *testing.T, p *LoginPipeline, principals ...auth.Principal) (*auth.LoginReply, error) {
	t.Helper()
	return p.Login(context.Background(), auth.NewSubject(principals...))
}

// ============================================================================
// Control Semantics
// ============================================================================

func TestRequiredFailureAbortsBeforeLaterPhases(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, required, "a1"),
		ok(c, mapping, required, "m1"),
	})

	_, err := login(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPhaseFailure))
	assert.Equal(t, []string{"a1"}, c.list())

	var ae *auth.AuthenticationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "auth", ae.Phase)
	assert.Equal(t, "a1", ae.Plugin)
}

func TestRequiredFailureStillRunsLaterModules(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, required, "a1"),
		ok(c, authn, required, "a2"),
		ok(c, authn, optional, "a3"),
	})

	_, err := login(t, p)
	require.Error(t, err)
	assert.Equal(t, []string{"a1", "a2", "a3"}, c.list())
}

func TestSufficientNeverOverridesPriorRequiredFailure(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, required, "a1"),
		ok(c, authn, sufficient, "a2"),
	})

	_, err := login(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPhaseFailure))
	assert.Equal(t, []string{"a1", "a2"}, c.list())
}

func TestSufficientSuccessShortCircuits(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		ok(c, authn, sufficient, "a1", auth.Username("alice")),
		fail(c, authn, required, "a2"),
		ok(c, mapping, required, "m1"),
	})

	reply, err := login(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "m1"}, c.list())
	assert.Equal(t, "alice", reply.Username())
}

func TestRequisiteFailureStopsStack(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, requisite, "a1"),
		ok(c, authn, required, "a2"),
	})

	_, err := login(t, p)
	require.Error(t, err)
	assert.Equal(t, []string{"a1"}, c.list())
}

func TestLoneFailingSufficientFailsPhase(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		ok(c, authn, optional, "a1"),
		fail(c, authn, sufficient, "a2"),
	})

	_, err := login(t, p)
	require.Error(t, err)

	var pe *auth.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "a2", pe.Plugin)
	assert.True(t, errors.Is(err, errPlugin))
}

func TestOptionalFailureIgnoredWithRequiredSuccess(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, optional, "a1"),
		ok(c, authn, required, "a2"),
	})

	_, err := login(t, p)
	require.NoError(t, err)
}

func TestEmptyStacksSucceed(t *testing.T) {
	t.Parallel()

	reply, err := login(t, New(nil), auth.Username("alice"))
	require.NoError(t, err)
	assert.True(t, reply.Subject.Contains(auth.Username("alice")))
	assert.Equal(t, 0, reply.Attributes.Len())
}

func TestAllPhasesRunInOrder(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		ok(c, identity, required, "i1"),
		ok(c, session, required, "s1"),
		ok(c, account, required, "ac1"),
		ok(c, mapping, required, "m1"),
		ok(c, authn, required, "a1"),
		ok(c, authn, required, "a2"),
	})

	_, err := login(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "m1", "ac1", "s1", "i1"}, c.list())
	assert.Len(t, p.Stack(authn), 2)
}

// ============================================================================
// Optional-only Policy
// ============================================================================

func TestOptionalOnlyPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  OptionalOnlyPolicy
		outcome []bool
		wantErr bool
	}{
		{"RequireSuccessAllFail", RequireSuccess, []bool{false, false}, true},
		{"RequireSuccessOneSucceeds", RequireSuccess, []bool{false, true}, false},
		{"AlwaysSucceedAllFail", AlwaysSucceed, []bool{false, false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &calls{}
			var mods []Module
			for i, succeed := range tt.outcome {
				mods = append(mods, mod(c, mapping, optional, fmt.Sprintf("m%d", i), !succeed))
			}
			_, err := login(t, New(mods, WithOptionalOnlyPolicy(tt.policy)))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, auth.ErrPhaseFailure))
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, c.list(), len(tt.outcome))
		})
	}
}

func TestParseOptionalOnlyPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseOptionalOnlyPolicy("always-succeed")
	require.NoError(t, err)
	assert.Equal(t, AlwaysSucceed, p)

	p, err = ParseOptionalOnlyPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RequireSuccess, p)

	_, err = ParseOptionalOnlyPolicy("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "require-success", RequireSuccess.String())
}

// ============================================================================
// Accumulator
// ============================================================================

func TestSuccessfulChangesVisibleToLaterModules(t *testing.T) {
	t.Parallel()

	var seen bool
	p := New([]Module{
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a1"},
			Invoke: func(_ context.Context, s *auth.Subject, a *auth.AttributeSet) error {
				s.Add(auth.UID(1000))
				a.Add(auth.HomeDirectory("/home/alice"))
				return nil
			},
		},
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a2"},
			Invoke: func(_ context.Context, s *auth.Subject, a *auth.AttributeSet) error {
				seen = s.Contains(auth.UID(1000)) && a.Contains(auth.HomeDirectory("/home/alice"))
				return nil
			},
		},
	})

	reply, err := login(t, p)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, "/home/alice", reply.Home())
}

func TestFailedPluginChangesDiscarded(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		mod(c, authn, optional, "a1", true, auth.Username("mallory")),
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a2"},
			Invoke: func(_ context.Context, s *auth.Subject, a *auth.AttributeSet) error {
				a.Add(auth.ReadOnly())
				s.Remove(auth.LoginName("alice"))
				return errPlugin
			},
		},
		ok(c, authn, optional, "a3", auth.Username("alice")),
	})

	r := NewRecorder(auth.NewSubject(auth.LoginName("alice")))
	_, err := p.Run(context.Background(), auth.NewSubject(auth.LoginName("alice")), r)
	require.Error(t, err)

	final := r.Result().Final
	assert.Contains(t, final, auth.LoginName("alice"))
	assert.Contains(t, final, auth.Username("alice"))
	assert.NotContains(t, final, auth.Username("mallory"))
}

func TestInputSubjectNotModified(t *testing.T) {
	t.Parallel()
	c := &calls{}

	in := auth.NewSubject(auth.DN("/CN=alice"))
	p := New([]Module{ok(c, mapping, required, "m1", auth.Username("alice"))})

	reply, err := p.Login(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, in.Len())
	assert.Equal(t, 2, reply.Subject.Len())
}

// ============================================================================
// Cancellation
// ============================================================================

func TestCancellationBetweenPlugins(t *testing.T) {
	t.Parallel()
	c := &calls{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New([]Module{
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a1"},
			Invoke: func(context.Context, *auth.Subject, *auth.AttributeSet) error {
				c.add("a1")
				cancel()
				return nil
			},
		},
		ok(c, authn, required, "a2"),
	})

	_, err := p.Login(ctx, auth.NewSubject())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInternal))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"a1"}, c.list())
}

func TestCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	c := &calls{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New([]Module{ok(c, authn, required, "a1")}).Login(ctx, auth.NewSubject())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, c.list())
}

// ============================================================================
// Metrics & Concurrency
// ============================================================================

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()
	c := &calls{}
	registry := prometheus.NewRegistry()

	p := New([]Module{
		ok(c, authn, required, "a1"),
		fail(c, mapping, required, "m1"),
	}, WithMetrics(metrics.NewMetrics(registry)))

	_, err := login(t, p)
	require.Error(t, err)

	mfs, err := registry.Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	assert.True(t, found["gplazma_login_phase_total"])
	assert.True(t, found["gplazma_login_plugin_total"])
}

func TestConcurrentLogins(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		ok(c, authn, required, "a1", auth.Username("alice")),
		ok(c, mapping, sufficient, "m1", auth.UID(1000)),
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := p.Login(context.Background(), auth.NewSubject(auth.Origin(fmt.Sprintf("10.0.0.%d", i))))
			if assert.NoError(t, err) {
				assert.True(t, reply.Subject.Contains(auth.Origin(fmt.Sprintf("10.0.0.%d", i))))
				assert.Equal(t, 3, reply.Subject.Len())
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, c.list(), 100)
}
