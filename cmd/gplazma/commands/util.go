package commands

import (
	"context"
	"fmt"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/config"
	"github.com/dcache/gplazma/pkg/gplazma"
	"github.com/dcache/gplazma/pkg/gplazma/cache"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
	"github.com/dcache/gplazma/pkg/metrics"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// parsePrincipals parses repeated --principal values.
func parsePrincipals(values []string) ([]auth.Principal, error) {
	out := make([]auth.Principal, 0, len(values))
	for _, v := range values {
		p, err := auth.ParsePrincipal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// engine is the login engine plus the strategy logins go through, which
// is the result cache when one is configured.
type engine struct {
	*gplazma.GPlazma
	strategy auth.LoginStrategy
	cache    *cache.CachingLoginStrategy
}

// newEngine builds the login engine described by cfg over the plugins
// registered in plugin.Default. m may be nil.
func newEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics) *engine {
	e := &engine{}
	opts := []gplazma.Option{
		gplazma.WithProperties(cfg.Login.Properties),
		gplazma.WithOptionalOnlyPolicy(cfg.Login.OptionalOnly),
		gplazma.WithFailedLoginCacheSize(cfg.Login.FailedLoginCacheSize),
		gplazma.WithWatchDebounce(cfg.Login.WatchDebounce),
		gplazma.WithMetrics(m),
	}
	if cfg.Cache.Enabled {
		// The first reload runs inside gplazma.New, before the cache exists.
		opts = append(opts, gplazma.WithReloadListener(func() {
			if e.cache != nil {
				n := e.cache.InvalidateAll()
				logger.Debug("login cache cleared after reload", logger.CacheSize(n))
			}
		}))
	}

	loader := configuration.NewFileLoader(cfg.Login.ConfigPath)
	e.GPlazma = gplazma.New(ctx, loader, plugin.Default(), opts...)
	e.strategy = e.GPlazma

	if cfg.Cache.Enabled {
		copts := []cache.Option{cache.WithTTL(cfg.Cache.TTL), cache.WithMetrics(m)}
		if cfg.Cache.CredentialAware {
			copts = append(copts, cache.WithKeyFunc(cache.CredentialAwareKey))
		}
		e.cache = cache.New(e.GPlazma, copts...)
		e.strategy = e.cache
	}
	return e
}
