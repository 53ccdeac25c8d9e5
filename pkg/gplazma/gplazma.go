// Package gplazma is the login engine facade.
//
// A GPlazma loads the PAM-style login configuration, builds one plugin
// instance per configuration item and publishes the result as an immutable
// setup. Logins run against whatever setup is current when they start;
// Reload builds a replacement and swaps it in atomically, keeping the
// previous setup when the new configuration is unusable.
//
// Typical use:
//
//	g := gplazma.New(ctx, configuration.NewFileLoader(path), plugin.Default(),
//		gplazma.WithMetrics(m))
//	defer g.Close()
//	go g.Watch(ctx)
//
//	reply, err := g.Login(ctx, subject)
package gplazma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/cache"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/pipeline"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
	"github.com/dcache/gplazma/pkg/gplazma/validation"
	"github.com/dcache/gplazma/pkg/metrics"
)

// DefaultFailedLoginCacheSize bounds the set of subjects whose failures
// have already been explained in the log.
const DefaultFailedLoginCacheSize = 1000

var (
	// ErrNoMapping is returned by Map and ReverseMap when no identity
	// plugin could translate the principal.
	ErrNoMapping = errors.New("gplazma: no mapping for principal")

	// ErrNotWatchable is returned by Watch when the loader does not read
	// from a file.
	ErrNotWatchable = errors.New("gplazma: configuration source cannot be watched")

	errClosed = errors.New("login engine closed")
)

// Option configures a GPlazma.
type Option func(*GPlazma)

// WithProperties sets global plugin properties. Each item's own
// properties take precedence.
func WithProperties(props map[string]string) Option {
	return func(g *GPlazma) { g.properties = props }
}

// WithMetrics records logins, phases, plugins and reloads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *GPlazma) { g.metrics = m }
}

// WithOptionalOnlyPolicy sets how stacks of only optional modules are decided.
func WithOptionalOnlyPolicy(p pipeline.OptionalOnlyPolicy) Option {
	return func(g *GPlazma) { g.policy = p }
}

// WithValidation replaces the default identity validation.
func WithValidation(v validation.ValidationStrategy) Option {
	return func(g *GPlazma) { g.validator = v }
}

// WithFailedLoginCacheSize bounds the known-failed-logins set.
func WithFailedLoginCacheSize(n int) Option {
	return func(g *GPlazma) { g.failedSize = n }
}

// WithWatchDebounce sets the delay between a configuration file change and
// the reload it triggers.
func WithWatchDebounce(d time.Duration) Option {
	return func(g *GPlazma) { g.debounce = d }
}

// WithReloadListener registers fn to run after every successful reload,
// once the new setup is in service. Hosts use it to drop cached logins.
func WithReloadListener(fn func()) Option {
	return func(g *GPlazma) { g.listeners = append(g.listeners, fn) }
}

// GPlazma is the login engine.
//
// Thread safety: Login, Map and ReverseMap are safe for concurrent use and
// never block on a reload. Reloads are serialized.
type GPlazma struct {
	loader     configuration.Loader
	registry   *plugin.Registry
	properties map[string]string
	policy     pipeline.OptionalOnlyPolicy
	validator  validation.ValidationStrategy
	metrics    *metrics.Metrics
	failedSize int
	debounce   time.Duration
	listeners  []func()

	current atomic.Pointer[setup]

	mu     sync.Mutex // serializes Reload and Close
	closed bool

	failed *lru.Cache[cache.Key, struct{}]
}

// New creates an engine and loads its initial configuration. A load failure
// does not prevent construction: it is logged, reported by Err, and every
// login fails with an internal error until a Reload succeeds.
func New(ctx context.Context, loader configuration.Loader, registry *plugin.Registry, opts ...Option) *GPlazma {
	g := &GPlazma{
		loader:     loader,
		registry:   registry,
		validator:  validation.Default{},
		failedSize: DefaultFailedLoginCacheSize,
		debounce:   configuration.DefaultDebounce,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.registry == nil {
		g.registry = plugin.Default()
	}

	failed, err := lru.New[cache.Key, struct{}](max(g.failedSize, 1))
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	g.failed = failed

	_ = g.Reload(ctx)
	return g
}

// Err returns the reason logins are currently refused, or nil when a
// configuration is in service.
func (g *GPlazma) Err() error {
	if s := g.current.Load(); s != nil {
		return s.err
	}
	return errClosed
}

// Items returns the configuration items currently in service.
func (g *GPlazma) Items() []configuration.ConfigurationItem {
	s := g.current.Load()
	if s == nil {
		return nil
	}
	return append([]configuration.ConfigurationItem(nil), s.items...)
}

// Reload reads the configuration again and, if every plugin of it can be
// built, replaces the setup in service. Plugins of the replaced setup are
// stopped after the swap. On failure the current setup stays in service.
func (g *GPlazma) Reload(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanReload)
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errClosed
	}

	start := time.Now()
	items, err := g.loader.Load()
	var next *setup
	if err == nil {
		next, err = g.build(ctx, items)
	}
	if err != nil {
		g.metrics.ObserveReload(false, 0)
		telemetry.RecordError(ctx, err)
		if prev := g.current.Load(); prev != nil && prev.err == nil {
			logger.ErrorCtx(ctx, "login configuration rejected, keeping previous configuration",
				logger.Err(err), logger.Items(len(prev.items)))
			return err
		}
		logger.ErrorCtx(ctx, "login configuration unusable, logins will fail", logger.Err(err))
		g.current.Store(&setup{err: err})
		return err
	}

	prev := g.current.Swap(next)
	g.failed.Purge()
	g.metrics.ObserveReload(true, len(items))
	span.SetAttributes(telemetry.Items(len(items)))
	logger.InfoCtx(ctx, "login configuration loaded", logger.Items(len(items)), logger.Elapsed(start))

	if err := prev.stop(); err != nil {
		logger.WarnCtx(ctx, "failed to stop replaced plugins", logger.Err(err))
	}
	for _, fn := range g.listeners {
		fn()
	}
	return nil
}

// Close stops the plugins in service. Later logins fail with an internal
// error.
func (g *GPlazma) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	prev := g.current.Swap(&setup{err: errClosed})
	return prev.stop()
}

// Watch reloads the configuration whenever its file changes, until ctx is
// done. Reload failures are logged and the previous setup kept.
func (g *GPlazma) Watch(ctx context.Context) error {
	fl, ok := g.loader.(*configuration.FileLoader)
	if !ok {
		return ErrNotWatchable
	}
	w, err := configuration.NewWatcher(fl.Path, g.debounce, func() {
		_ = g.Reload(ctx)
	})
	if err != nil {
		return err
	}
	logger.Info("watching login configuration", logger.ConfigPath(fl.Path))
	w.Run(ctx)
	return nil
}

// Login maps subject to a validated identity.
//
// The returned error is an *auth.AuthenticationError: PhaseFailure when a
// phase failed, ValidationFailure when the identity is incomplete, Internal
// when no configuration is in service or ctx was cancelled.
func (g *GPlazma) Login(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, error) {
	reply, _, err := g.login(ctx, subject)
	return reply, err
}

// Explain runs a login like Login and also returns the record of every
// phase and plugin outcome. The record is nil only when no configuration
// was in service.
func (g *GPlazma) Explain(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, *pipeline.LoginResult, error) {
	return g.login(ctx, subject)
}

func (g *GPlazma) login(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, *pipeline.LoginResult, error) {
	start := time.Now()
	origin := originOf(subject)

	lc := logger.NewLogContext(origin)
	ctx = logger.WithContext(ctx, lc)
	ctx, span := telemetry.StartLoginSpan(ctx, lc.SessionID, telemetry.Origin(origin))
	defer span.End()
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		ctx = logger.WithContext(ctx, lc.WithTrace(traceID, telemetry.SpanID(ctx)))
	}

	s := g.current.Load()
	if s == nil || s.err != nil {
		cause := errClosed
		if s != nil {
			cause = s.err
		}
		err := auth.NewInternalError("no usable login configuration", cause)
		g.metrics.ObserveLogin(false, time.Since(start))
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "login refused", logger.Err(err))
		return nil, nil, err
	}

	rec := pipeline.NewRecorder(subject)
	reply, err := s.pipeline.Run(ctx, subject, rec)
	if err == nil {
		err = validation.Check(ctx, g.validator, reply, g.metrics)
		rec.ValidationResult(err)
	}
	g.metrics.ObserveLogin(err == nil, time.Since(start))
	span.SetAttributes(telemetry.Result(err == nil))

	key := failureKey(subject)
	if err != nil {
		telemetry.RecordError(ctx, err)
		g.logFailure(ctx, key, rec.Result(), err)
		return nil, rec.Result(), err
	}

	g.failed.Remove(key)
	uid, _ := reply.UID()
	span.SetAttributes(telemetry.Username(reply.Username()), telemetry.UID(uid))
	logger.DebugCtx(ctx, "login succeeded",
		logger.Username(reply.Username()), logger.UID(uid), logger.Elapsed(start))
	return reply, rec.Result(), nil
}

// logFailure explains a failure in detail the first time a subject fails;
// repeated failures of the same subject are logged at debug level only.
func (g *GPlazma) logFailure(ctx context.Context, key cache.Key, result *pipeline.LoginResult, err error) {
	if g.failed.Contains(key) {
		g.metrics.FailureSuppressed()
		logger.DebugCtx(ctx, "login failed", logger.Err(err))
		return
	}
	g.failed.Add(key, struct{}{})
	logger.WarnCtx(ctx, "login failed", logger.Err(err), "explanation", result.Explain())
}

// failureKey identifies a subject independently of where it connects from.
// Credentials contribute so that subjects carrying no principals stay
// distinct.
func failureKey(subject *auth.Subject) cache.Key {
	s := subject.Clone()
	s.Remove(s.PrincipalsOf(auth.KindOrigin)...)
	return cache.CredentialAwareKey(s)
}

func originOf(subject *auth.Subject) string {
	if subject == nil {
		return ""
	}
	if origins := subject.PrincipalsOf(auth.KindOrigin); len(origins) > 0 {
		return origins[0].Name
	}
	return ""
}

// Map translates p through the identity plugins, returning the first
// successful mapping.
func (g *GPlazma) Map(ctx context.Context, p auth.Principal) (auth.Principal, error) {
	s, err := g.inService()
	if err != nil {
		return auth.Principal{}, err
	}
	var errs []error
	for _, inst := range s.mappers {
		mapped, err := inst.mapper().MapPrincipal(ctx, p)
		if err == nil {
			return mapped, nil
		}
		errs = append(errs, inst.pluginError(err))
	}
	return auth.Principal{}, noMapping(p, errs)
}

// ReverseMap returns every principal that maps to p, as reported by the
// first identity plugin that succeeds.
func (g *GPlazma) ReverseMap(ctx context.Context, p auth.Principal) ([]auth.Principal, error) {
	s, err := g.inService()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, inst := range s.mappers {
		mapped, err := inst.mapper().ReverseMapPrincipal(ctx, p)
		if err == nil {
			return mapped, nil
		}
		errs = append(errs, inst.pluginError(err))
	}
	return nil, noMapping(p, errs)
}

func (g *GPlazma) inService() (*setup, error) {
	s := g.current.Load()
	if s == nil {
		return nil, auth.NewInternalError("no usable login configuration", errClosed)
	}
	if s.err != nil {
		return nil, auth.NewInternalError("no usable login configuration", s.err)
	}
	return s, nil
}

func noMapping(p auth.Principal, errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("%w %s", ErrNoMapping, p)
	}
	return fmt.Errorf("%w %s: %w", ErrNoMapping, p, errors.Join(errs...))
}
