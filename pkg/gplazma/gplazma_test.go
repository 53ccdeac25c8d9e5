package gplazma

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/cache"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
	"github.com/dcache/gplazma/pkg/metrics"
)

// ============================================================================
// Test Plugins
// ============================================================================

// lifecycle counts Start and Stop calls across plugin instances.
type lifecycle struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (l *lifecycle) counts() (started, stopped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started), len(l.stopped)
}

// staticPlugin adds the principals and attributes named by its properties
// in whatever phase it is configured for. fail=true makes every call fail.
type staticPlugin struct {
	name  string
	cfg   configuration.PluginConfig
	life  *lifecycle
	start error
}

func (p *staticPlugin) apply(_ context.Context, s *auth.Subject, a *auth.AttributeSet) error {
	if v, _ := p.cfg.Property("fail"); v == "true" {
		return errors.New("configured to fail")
	}
	if v, ok := p.cfg.Property("username"); ok {
		s.Add(auth.Username(v))
	}
	if v, ok := p.cfg.Property("uid"); ok {
		n, _ := strconv.ParseUint(v, 10, 32)
		s.Add(auth.UID(uint32(n)))
	}
	if v, ok := p.cfg.Property("gid"); ok {
		n, _ := strconv.ParseUint(v, 10, 32)
		s.Add(auth.GID(uint32(n), true))
	}
	if v, ok := p.cfg.Property("home"); ok {
		a.Add(auth.HomeDirectory(v))
	}
	if v, ok := p.cfg.Property("root"); ok {
		a.Add(auth.RootDirectory(v))
	}
	return nil
}

func (p *staticPlugin) Authenticate(ctx context.Context, s *auth.Subject, a *auth.AttributeSet) error {
	return p.apply(ctx, s, a)
}

func (p *staticPlugin) Map(ctx context.Context, s *auth.Subject, a *auth.AttributeSet) error {
	return p.apply(ctx, s, a)
}

func (p *staticPlugin) Account(ctx context.Context, s *auth.Subject, a *auth.AttributeSet) error {
	return p.apply(ctx, s, a)
}

func (p *staticPlugin) Session(ctx context.Context, s *auth.Subject, a *auth.AttributeSet) error {
	return p.apply(ctx, s, a)
}

func (p *staticPlugin) Start(context.Context) error {
	if p.start != nil {
		return p.start
	}
	p.life.mu.Lock()
	defer p.life.mu.Unlock()
	p.life.started = append(p.life.started, p.name)
	return nil
}

func (p *staticPlugin) Stop() error {
	p.life.mu.Lock()
	defer p.life.mu.Unlock()
	p.life.stopped = append(p.life.stopped, p.name)
	return nil
}

// mapperPlugin is an identity plugin translating usernames to uids from its
// properties, e.g. alice=1000.
type mapperPlugin struct {
	cfg configuration.PluginConfig
}

func (p *mapperPlugin) Identify(context.Context, *auth.Subject, *auth.AttributeSet) error {
	return nil
}

func (p *mapperPlugin) MapPrincipal(_ context.Context, in auth.Principal) (auth.Principal, error) {
	if in.Kind != auth.KindUsername {
		return auth.Principal{}, fmt.Errorf("cannot map %s", in.Kind)
	}
	v, ok := p.cfg.Property(in.Name)
	if !ok {
		return auth.Principal{}, fmt.Errorf("unknown user %q", in.Name)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.UID(uint32(n)), nil
}

func (p *mapperPlugin) ReverseMapPrincipal(_ context.Context, in auth.Principal) ([]auth.Principal, error) {
	var out []auth.Principal
	for name, v := range p.cfg.Properties {
		if v == in.Value() {
			out = append(out, auth.Username(name))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no user with %s", in)
	}
	return out, nil
}

func newRegistry(life *lifecycle) *plugin.Registry {
	r := plugin.NewRegistry()
	r.MustRegister("static", func(cfg configuration.PluginConfig) (plugin.Plugin, error) {
		return &staticPlugin{name: "static", cfg: cfg, life: life}, nil
	})
	r.MustRegister("broken-start", func(cfg configuration.PluginConfig) (plugin.Plugin, error) {
		return &staticPlugin{name: "broken-start", cfg: cfg, life: life, start: errors.New("no backend")}, nil
	})
	r.MustRegister("idmap", func(cfg configuration.PluginConfig) (plugin.Plugin, error) {
		return &mapperPlugin{cfg: cfg}, nil
	})
	return r
}

// textLoader is a Loader whose text can be replaced between reloads.
type textLoader struct {
	mu   sync.Mutex
	text string
}

func (l *textLoader) Set(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = text
}

func (l *textLoader) Load() ([]configuration.ConfigurationItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return configuration.ParseString(l.text)
}

const goodConfig = `
# complete identity
auth     sufficient static username=alice
map      required   static uid=1000 gid=100
session  required   static home=/home/alice root=/
identity optional   idmap  alice=1000 bob=1001
`

func subject(origin string) *auth.Subject {
	return auth.NewSubject(auth.DN("/CN=alice"), auth.Origin(origin))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_Success(t *testing.T) {
	life := &lifecycle{}
	g := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(life))
	defer func() { _ = g.Close() }()
	require.NoError(t, g.Err())

	in := subject("10.0.0.1")
	reply, err := g.Login(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "alice", reply.Username())
	uid, ok := reply.UID()
	assert.True(t, ok)
	assert.Equal(t, uint32(1000), uid)
	gid, ok := reply.PrimaryGID()
	assert.True(t, ok)
	assert.Equal(t, uint32(100), gid)
	assert.Equal(t, "/home/alice", reply.Home())
	assert.Equal(t, "/", reply.Root())
	assert.True(t, reply.Subject.Contains(auth.DN("/CN=alice")))
	assert.Equal(t, 2, in.Len())
}

func TestLogin_PhaseFailure(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(`
auth required static username=alice
map  required static fail=true
`), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPhaseFailure))

	var ae *auth.AuthenticationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "map", ae.Phase)
	assert.Equal(t, "static", ae.Plugin)
}

func TestLogin_ValidationFailure(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(`
auth    required static username=alice uid=1000 gid=100
session required static home=/home/alice
`), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrValidationFailure))
	assert.Contains(t, err.Error(), "no root directory")
}

func TestLogin_GlobalPropertiesOverlaid(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(`
auth    required static username=alice uid=1000 gid=100 home=/home/alice
session required static home=/home/alice
`), newRegistry(&lifecycle{}), WithProperties(map[string]string{
		"root": "/data",
		"home": "/default",
	}))
	defer func() { _ = g.Close() }()

	reply, err := g.Login(context.Background(), subject("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "/data", reply.Root())
	assert.Equal(t, "/home/alice", reply.Home())
}

func TestExplain_ReturnsRecord(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(`
auth required static username=alice
map  required static fail=true
`), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	reply, result, err := g.Explain(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.Nil(t, reply)
	require.NotNil(t, result)
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Explain(), "LOGIN FAIL")
	assert.Contains(t, result.Explain(), "+--MAP FAIL")

	g2 := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(&lifecycle{}))
	defer func() { _ = g2.Close() }()
	reply, result, err = g2.Explain(context.Background(), subject("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "alice", reply.Username())
	assert.True(t, result.Succeeded())
	assert.Contains(t, result.Explain(), "VALIDATION OK")
}

func TestExplain_NoConfigurationInService(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader("auth mandatory static"), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	_, result, err := g.Explain(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestLogin_CachedThroughEngine(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	c := cache.New(g)
	r1, err := c.Login(context.Background(), subject("10.0.0.1"))
	require.NoError(t, err)
	r2, err := c.Login(context.Background(), subject("10.0.0.1"))
	require.NoError(t, err)

	assert.Equal(t, r1.Subject.Principals(), r2.Subject.Principals())
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestReloadListenerDropsCachedLogins(t *testing.T) {
	loader := &textLoader{text: goodConfig}
	var c *cache.CachingLoginStrategy
	g := New(context.Background(), loader, newRegistry(&lifecycle{}),
		WithReloadListener(func() {
			if c != nil {
				c.InvalidateAll()
			}
		}))
	defer func() { _ = g.Close() }()
	c = cache.New(g)

	_, err := c.Login(context.Background(), subject("10.0.0.1"))
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	loader.Set("bogus line")
	require.Error(t, g.Reload(context.Background()))
	assert.Equal(t, 1, c.Len(), "a rejected reload keeps cached logins")

	loader.Set(goodConfig)
	require.NoError(t, g.Reload(context.Background()))
	assert.Equal(t, 0, c.Len())
}

// ============================================================================
// Setup lifecycle
// ============================================================================

func TestNew_LoadFailureRefusesLogins(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader("auth mandatory static"), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	var pe *configuration.ParseError
	require.True(t, errors.As(g.Err(), &pe))

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInternal))
	assert.True(t, errors.As(err, &pe))
}

func TestReload_FixesInitialFailure(t *testing.T) {
	loader := &textLoader{text: "bogus line"}
	g := New(context.Background(), loader, newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()
	require.Error(t, g.Err())

	loader.Set(goodConfig)
	require.NoError(t, g.Reload(context.Background()))
	require.NoError(t, g.Err())

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	assert.NoError(t, err)
}

func TestReload_RetainsPreviousSetupOnParseError(t *testing.T) {
	loader := &textLoader{text: goodConfig}
	g := New(context.Background(), loader, newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()
	before := g.Items()

	loader.Set("auth required")
	err := g.Reload(context.Background())
	var pe *configuration.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.Offset)

	assert.NoError(t, g.Err())
	assert.Equal(t, before, g.Items())
	_, err = g.Login(context.Background(), subject("10.0.0.1"))
	assert.NoError(t, err)
}

func TestReload_RetainsPreviousSetupOnUnknownPlugin(t *testing.T) {
	loader := &textLoader{text: goodConfig}
	g := New(context.Background(), loader, newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	loader.Set("auth required nosuchplugin\n")
	err := g.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, plugin.ErrUnknownPlugin))

	var be *BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 1, be.Item.Line)

	_, err = g.Login(context.Background(), subject("10.0.0.1"))
	assert.NoError(t, err)
}

func TestReload_CapabilityMismatchRejected(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader("auth required idmap\n"), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	var ce *plugin.CapabilityError
	require.True(t, errors.As(g.Err(), &ce))
	assert.Equal(t, configuration.Authentication, ce.Phase)
}

func TestReload_StopsReplacedPlugins(t *testing.T) {
	life := &lifecycle{}
	loader := &textLoader{text: goodConfig}
	g := New(context.Background(), loader, newRegistry(life))

	started, stopped := life.counts()
	assert.Equal(t, 3, started)
	assert.Equal(t, 0, stopped)

	require.NoError(t, g.Reload(context.Background()))
	started, stopped = life.counts()
	assert.Equal(t, 6, started)
	assert.Equal(t, 3, stopped)

	require.NoError(t, g.Close())
	_, stopped = life.counts()
	assert.Equal(t, 6, stopped)

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	assert.True(t, errors.Is(err, auth.ErrInternal))
	assert.Error(t, g.Reload(context.Background()))
}

func TestReload_StartFailureStopsStartedPlugins(t *testing.T) {
	life := &lifecycle{}
	loader := &textLoader{text: goodConfig}
	g := New(context.Background(), loader, newRegistry(life))
	defer func() { _ = g.Close() }()

	loader.Set(`
auth required static username=alice
map  required static uid=1
map  required broken-start
`)
	err := g.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend")

	// 3 from the initial setup, 2 from the rejected one, which were
	// stopped again.
	started, stopped := life.counts()
	assert.Equal(t, 5, started)
	assert.Equal(t, 2, stopped)
}

// ============================================================================
// Mapping
// ============================================================================

func TestMapAndReverseMap(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	uid, err := g.Map(context.Background(), auth.Username("bob"))
	require.NoError(t, err)
	assert.Equal(t, auth.UID(1001), uid)

	names, err := g.ReverseMap(context.Background(), auth.UID(1000))
	require.NoError(t, err)
	assert.Equal(t, []auth.Principal{auth.Username("alice")}, names)

	_, err = g.Map(context.Background(), auth.Username("carol"))
	assert.True(t, errors.Is(err, ErrNoMapping))
	var pe *auth.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "idmap", pe.Plugin)

	_, err = g.ReverseMap(context.Background(), auth.UID(7))
	assert.True(t, errors.Is(err, ErrNoMapping))
}

func TestMap_WithoutMappers(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader("auth required static\n"), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	_, err := g.Map(context.Background(), auth.Username("alice"))
	assert.True(t, errors.Is(err, ErrNoMapping))
}

// ============================================================================
// Failed-login suppression
// ============================================================================

func TestRepeatedFailuresSuppressed(t *testing.T) {
	registry := prometheus.NewRegistry()
	loader := &textLoader{text: "auth required static fail=true\n"}
	g := New(context.Background(), loader, newRegistry(&lifecycle{}),
		WithMetrics(metrics.NewMetrics(registry)))
	defer func() { _ = g.Close() }()

	const suppressed = "gplazma_login_repeated_failures_total"

	_, err := g.Login(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.Equal(t, 0.0, counterValue(t, registry, suppressed))

	// Same identity from another origin counts as a repeat.
	_, err = g.Login(context.Background(), subject("10.0.0.2"))
	require.Error(t, err)
	assert.Equal(t, 1.0, counterValue(t, registry, suppressed))

	// A reload forgets known failures.
	require.NoError(t, g.Reload(context.Background()))
	_, err = g.Login(context.Background(), subject("10.0.0.1"))
	require.Error(t, err)
	assert.Equal(t, 1.0, counterValue(t, registry, suppressed))
}

func TestFailuresOfCredentialOnlySubjectsKeptApart(t *testing.T) {
	registry := prometheus.NewRegistry()
	g := New(context.Background(), configuration.NewStaticLoader("auth required static fail=true"),
		newRegistry(&lifecycle{}), WithMetrics(metrics.NewMetrics(registry)))
	defer func() { _ = g.Close() }()

	const suppressed = "gplazma_login_repeated_failures_total"
	withChain := func(chain string) *auth.Subject {
		s := auth.NewSubject()
		s.PublicCredentials = []any{chain}
		return s
	}

	_, err := g.Login(context.Background(), withChain("x509-chain-alice"))
	require.Error(t, err)
	_, err = g.Login(context.Background(), withChain("x509-chain-bob"))
	require.Error(t, err)
	assert.Equal(t, 0.0, counterValue(t, registry, suppressed))
	assert.Equal(t, 2, g.failed.Len())

	_, err = g.Login(context.Background(), withChain("x509-chain-alice"))
	require.Error(t, err)
	assert.Equal(t, 1.0, counterValue(t, registry, suppressed))
}

func TestSuccessForgetsKnownFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	g := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(&lifecycle{}),
		WithMetrics(metrics.NewMetrics(registry)))
	defer func() { _ = g.Close() }()

	key := failureKey(subject("10.0.0.1"))
	g.failed.Add(key, struct{}{})

	_, err := g.Login(context.Background(), subject("10.0.0.9"))
	require.NoError(t, err)
	assert.False(t, g.failed.Contains(key))
}

// ============================================================================
// Watch
// ============================================================================

func TestWatch_RequiresFileLoader(t *testing.T) {
	g := New(context.Background(), configuration.NewStaticLoader(goodConfig), newRegistry(&lifecycle{}))
	defer func() { _ = g.Close() }()

	assert.ErrorIs(t, g.Watch(context.Background()), ErrNotWatchable)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gplazma.conf")
	require.NoError(t, os.WriteFile(path, []byte("auth required static username=alice\n"), 0o644))

	g := New(context.Background(), configuration.NewFileLoader(path), newRegistry(&lifecycle{}),
		WithWatchDebounce(20*time.Millisecond))
	defer func() { _ = g.Close() }()
	require.Len(t, g.Items(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Watch(ctx) }()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(goodConfig), 0o644))

	require.Eventually(t, func() bool { return len(g.Items()) == 4 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
