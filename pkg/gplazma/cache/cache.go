// Package cache memoizes login results per identity.
//
// CachingLoginStrategy decorates any auth.LoginStrategy. The first login of
// a key runs the backend; concurrent logins of the same key wait for that
// single call and share its outcome. Successful replies are kept as
// immutable entries until they expire or are invalidated; errors are
// returned to every waiter and never cached.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/internal/telemetry"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/metrics"
)

// entry is never modified after it is stored.
type entry struct {
	reply   *auth.LoginReply
	expires time.Time // zero means never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Coalesced uint64
	Size      int
}

// Option configures a CachingLoginStrategy.
type Option func(*CachingLoginStrategy)

// WithTTL expires entries ttl after they were stored. Zero keeps entries
// until invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(c *CachingLoginStrategy) { c.ttl = ttl }
}

// WithKeyFunc replaces PrincipalKey as the key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *CachingLoginStrategy) {
		if fn != nil {
			c.keyFn = fn
		}
	}
}

// WithMetrics records hits, misses and invalidations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CachingLoginStrategy) { c.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(c *CachingLoginStrategy) { c.now = now }
}

func withBeforeSwap(fn func()) Option {
	return func(c *CachingLoginStrategy) { c.beforeSwap = fn }
}

// CachingLoginStrategy is a LoginStrategy that caches the replies of its
// backend.
//
// Thread safety: safe for concurrent use. Reads of resolved entries never
// block.
type CachingLoginStrategy struct {
	backend auth.LoginStrategy
	ttl     time.Duration
	keyFn   KeyFunc
	metrics *metrics.Metrics
	now     func() time.Time

	beforeSwap func()

	entries sync.Map // Key -> *entry
	flights singleflight.Group

	// epoch advances on every invalidation. A backend call started in an
	// older epoch does not store its reply.
	epoch atomic.Uint64

	size      atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
	coalesced atomic.Uint64
}

// New wraps backend.
func New(backend auth.LoginStrategy, opts ...Option) *CachingLoginStrategy {
	c := &CachingLoginStrategy{
		backend: backend,
		keyFn:   PrincipalKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login returns the cached reply for subject's key, or runs the backend
// once for all concurrent callers of that key.
//
// The backend runs with the values of the caller that started it but is not
// cancelled with it, so the remaining waiters still get its outcome. Every
// caller stops waiting when its own ctx is done. The returned reply is the
// caller's own copy.
func (c *CachingLoginStrategy) Login(ctx context.Context, subject *auth.Subject) (*auth.LoginReply, error) {
	key := c.keyFn(subject)

	if reply, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		telemetry.SetAttributes(ctx, telemetry.CacheHit(true))
		return copyReply(reply), nil
	}

	c.misses.Add(1)
	c.metrics.CacheMiss()
	telemetry.SetAttributes(ctx, telemetry.CacheHit(false))

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(string(key[:]), func() (any, error) {
		if reply, ok := c.lookup(key); ok {
			return reply, nil
		}
		epoch := c.epoch.Load()
		reply, err := c.backend.Login(flightCtx, subject)
		if err != nil {
			return nil, err
		}
		c.store(key, reply, epoch)
		return reply, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
			c.metrics.CacheCoalesced()
		}
		if res.Err != nil {
			logger.DebugCtx(ctx, "cached login failed", logger.CacheHit(false), logger.Err(res.Err))
			return nil, res.Err
		}
		return copyReply(res.Val.(*auth.LoginReply)), nil
	case <-ctx.Done():
		logger.DebugCtx(ctx, "cached login abandoned", logger.CacheHit(false), logger.Err(ctx.Err()))
		return nil, ctx.Err()
	}
}

// Invalidate drops the entry of subject's key. It reports whether an entry
// was present.
func (c *CachingLoginStrategy) Invalidate(subject *auth.Subject) bool {
	key := c.keyFn(subject)
	c.epoch.Add(1)
	c.flights.Forget(string(key[:]))
	if _, loaded := c.entries.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		c.metrics.CacheInvalidated(1)
		c.metrics.SetCacheEntries(c.Len())
		return true
	}
	return false
}

// InvalidateAll drops every entry and returns how many were dropped.
func (c *CachingLoginStrategy) InvalidateAll() int {
	c.epoch.Add(1)
	n := 0
	c.entries.Range(func(k, _ any) bool {
		if _, loaded := c.entries.LoadAndDelete(k); loaded {
			c.size.Add(-1)
			n++
		}
		return true
	})
	c.metrics.CacheInvalidated(n)
	c.metrics.SetCacheEntries(c.Len())
	logger.Debug("login cache cleared", logger.CacheSize(n))
	return n
}

// Len returns the number of stored entries, expired ones included until
// they are next looked up.
func (c *CachingLoginStrategy) Len() int {
	return int(c.size.Load())
}

// Stats returns a snapshot of the counters.
func (c *CachingLoginStrategy) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Size:      c.Len(),
	}
}

func (c *CachingLoginStrategy) lookup(key Key) (*auth.LoginReply, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.expired(c.now()) {
		if c.entries.CompareAndDelete(key, e) {
			c.size.Add(-1)
			c.metrics.SetCacheEntries(c.Len())
		}
		return nil, false
	}
	return e.reply, true
}

func (c *CachingLoginStrategy) store(key Key, reply *auth.LoginReply, epoch uint64) {
	if c.epoch.Load() != epoch {
		return
	}
	e := &entry{reply: copyReply(reply)}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	if c.beforeSwap != nil {
		c.beforeSwap()
	}
	if _, loaded := c.entries.Swap(key, e); !loaded {
		c.size.Add(1)
	}
	// An invalidation that ran since the first check may have missed e.
	if c.epoch.Load() != epoch && c.entries.CompareAndDelete(key, e) {
		c.size.Add(-1)
	}
	c.metrics.SetCacheEntries(c.Len())
}

func copyReply(r *auth.LoginReply) *auth.LoginReply {
	return auth.NewLoginReply(r.Subject.Clone(), r.Attributes.Clone())
}
