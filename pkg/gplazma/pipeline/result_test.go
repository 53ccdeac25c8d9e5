package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
)

func TestRecorderCapturesPhasesAndPlugins(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		ok(c, authn, required, "a1", auth.Username("alice")),
		fail(c, mapping, optional, "m1"),
		ok(c, mapping, sufficient, "m2", auth.UID(1000)),
	})

	in := auth.NewSubject(auth.LoginName("alice"))
	r := NewRecorder(in)
	_, err := p.Run(context.Background(), in, r)
	require.NoError(t, err)

	res := r.Result()
	require.Len(t, res.Phases, len(configuration.Phases))

	mp := res.Phase(mapping)
	require.NotNil(t, mp)
	assert.True(t, mp.Finished)
	assert.True(t, mp.OK)
	assert.Equal(t, []auth.Principal{auth.UID(1000)}, mp.Added)
	require.Len(t, mp.Plugins, 2)
	assert.False(t, mp.Plugins[0].OK())
	assert.Empty(t, mp.Plugins[0].Added)
	assert.Equal(t, []auth.Principal{auth.UID(1000)}, mp.Plugins[1].Added)

	// Validation has not been reported yet.
	assert.False(t, res.Succeeded())
	r.ValidationResult(nil)
	assert.True(t, res.Succeeded())
}

func TestExplainSuccessfulLogin(t *testing.T) {
	t.Parallel()

	p := New([]Module{
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a1"},
			Invoke: func(_ context.Context, s *auth.Subject, _ *auth.AttributeSet) error {
				s.Add(auth.Username("alice"))
				return nil
			},
		},
		{
			Item: configuration.ConfigurationItem{Phase: mapping, Control: optional, PluginName: "m1"},
			Invoke: func(context.Context, *auth.Subject, *auth.AttributeSet) error {
				return errors.New("boom")
			},
		},
		{
			Item: configuration.ConfigurationItem{Phase: mapping, Control: sufficient, PluginName: "m2"},
			Invoke: func(_ context.Context, s *auth.Subject, _ *auth.AttributeSet) error {
				s.Add(auth.UID(1000))
				return nil
			},
		},
	})

	in := auth.NewSubject(auth.LoginName("alice"))
	r := NewRecorder(in)
	_, err := p.Run(context.Background(), in, r)
	require.NoError(t, err)
	r.ValidationResult(nil)

	want := "" +
		"LOGIN OK\n" +
		" |    in: login:alice\n" +
		" |   out: username:alice\n" +
		" |        uid:1000\n" +
		" |        login:alice\n" +
		" |\n" +
		" +--AUTH OK\n" +
		" |   |    added: username:alice\n" +
		" |   |\n" +
		" |   +--a1 REQUIRED:OK => OK\n" +
		" |          added: username:alice\n" +
		" |\n" +
		" +--MAP OK\n" +
		" |   |    added: uid:1000\n" +
		" |   |\n" +
		" |   +--m1 OPTIONAL:FAIL (boom) => OK\n" +
		" |   |\n" +
		" |   +--m2 SUFFICIENT:OK => OK (ends the phase)\n" +
		" |          added: uid:1000\n" +
		" |\n" +
		" +--ACCOUNT OK\n" +
		" |\n" +
		" +--SESSION OK\n" +
		" |\n" +
		" +--IDENTITY OK\n" +
		" |\n" +
		" +--VALIDATION OK\n"

	assert.Equal(t, want, r.Result().Explain())
}

func TestExplainFailedLogin(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, requisite, "a1"),
		ok(c, authn, required, "a2"),
	})

	in := auth.NewSubject(auth.LoginName("alice"))
	r := NewRecorder(in)
	_, err := p.Run(context.Background(), in, r)
	require.Error(t, err)

	out := r.Result().Explain()
	assert.Contains(t, out, "LOGIN FAIL\n")
	assert.Contains(t, out, " +--AUTH FAIL\n")
	assert.Contains(t, out, "a1 REQUISITE:FAIL (a1: plugin failed) => FAIL (ends the phase)")
	assert.NotContains(t, out, "a2")
	assert.Contains(t, out, " +--(MAP) skipped\n")
	assert.Contains(t, out, " +--(IDENTITY) skipped\n")
	assert.Contains(t, out, " +--(VALIDATION) skipped\n")
}

func TestExplainInterruptedPhase(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New([]Module{
		{
			Item: configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a1"},
			Invoke: func(context.Context, *auth.Subject, *auth.AttributeSet) error {
				cancel()
				return nil
			},
		},
		{
			Item:   configuration.ConfigurationItem{Phase: authn, Control: required, PluginName: "a2"},
			Invoke: func(context.Context, *auth.Subject, *auth.AttributeSet) error { return nil },
		},
	})

	r := NewRecorder(auth.NewSubject())
	_, err := p.Run(ctx, auth.NewSubject(), r)
	require.Error(t, err)

	ph := r.Result().Phase(authn)
	require.NotNil(t, ph)
	assert.False(t, ph.Finished)
	assert.Contains(t, r.Result().Explain(), " +--AUTH FAIL (interrupted)\n")
}

func TestExplainSufficientAfterFailureDoesNotEndPhase(t *testing.T) {
	t.Parallel()
	c := &calls{}

	p := New([]Module{
		fail(c, authn, required, "a1"),
		ok(c, authn, sufficient, "a2"),
	})

	r := NewRecorder(auth.NewSubject())
	_, err := p.Run(context.Background(), auth.NewSubject(), r)
	require.Error(t, err)

	out := r.Result().Explain()
	assert.Contains(t, out, "a2 SUFFICIENT:OK => OK\n")
	assert.NotContains(t, out, "(ends the phase)")
}

func TestMonitorsFanOut(t *testing.T) {
	t.Parallel()
	c := &calls{}

	in := auth.NewSubject()
	r1, r2 := NewRecorder(in), NewRecorder(in)
	p := New([]Module{ok(c, session, required, "s1", auth.Username("bob"))})

	_, err := p.Run(context.Background(), in, Monitors{r1, NopMonitor{}, r2})
	require.NoError(t, err)
	assert.Equal(t, r1.Result().Final, r2.Result().Final)
	assert.Equal(t, []auth.Principal{auth.Username("bob")}, r1.Result().Final)
}
