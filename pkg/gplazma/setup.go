package gplazma

import (
	"context"
	"errors"
	"fmt"

	"github.com/dcache/gplazma/internal/logger"
	"github.com/dcache/gplazma/pkg/auth"
	"github.com/dcache/gplazma/pkg/gplazma/configuration"
	"github.com/dcache/gplazma/pkg/gplazma/pipeline"
	"github.com/dcache/gplazma/pkg/gplazma/plugin"
)

// setup is one built configuration. It is immutable once published.
type setup struct {
	items    []configuration.ConfigurationItem
	pipeline *pipeline.LoginPipeline
	plugins  []instance
	mappers  []instance

	// err is set when no configuration could be built at all. Logins
	// against such a setup fail with an internal error.
	err error
}

type instance struct {
	item   configuration.ConfigurationItem
	plugin plugin.Plugin
}

func (i instance) mapper() plugin.PrincipalMapper {
	m, _ := i.plugin.(plugin.PrincipalMapper)
	return m
}

func (i instance) pluginError(err error) *auth.PluginError {
	return &auth.PluginError{Plugin: i.item.PluginName, Phase: i.item.Phase.String(), Err: err}
}

// BuildError reports the configuration item whose plugin could not be
// constructed, bound to its phase or started.
type BuildError struct {
	Item configuration.ConfigurationItem
	Err  error
}

func (e *BuildError) Error() string {
	if e.Item.Line > 0 {
		return fmt.Sprintf("configuration line %d (%s): %v", e.Item.Line, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// build constructs, binds and starts one plugin instance per item. On any
// failure the instances started so far are stopped again.
func (g *GPlazma) build(ctx context.Context, items []configuration.ConfigurationItem) (*setup, error) {
	s := &setup{items: items}
	modules := make([]pipeline.Module, 0, len(items))

	for _, item := range items {
		inst, fn, err := g.instantiate(ctx, item)
		if err != nil {
			if stopErr := s.stop(); stopErr != nil {
				logger.Warn("failed to stop plugins of rejected configuration", logger.Err(stopErr))
			}
			return nil, &BuildError{Item: item, Err: err}
		}
		s.plugins = append(s.plugins, inst)
		if item.Phase == configuration.Identity && inst.mapper() != nil {
			s.mappers = append(s.mappers, inst)
		}
		modules = append(modules, pipeline.Module{Item: item, Invoke: fn})
	}

	s.pipeline = pipeline.New(modules,
		pipeline.WithOptionalOnlyPolicy(g.policy),
		pipeline.WithMetrics(g.metrics))
	return s, nil
}

func (g *GPlazma) instantiate(ctx context.Context, item configuration.ConfigurationItem) (instance, plugin.Func, error) {
	p, err := g.registry.New(item.PluginName, item.Config.Overlay(g.properties))
	if err != nil {
		return instance{}, nil, err
	}
	fn, err := plugin.Bind(item.Phase, item.PluginName, p)
	if err != nil {
		return instance{}, nil, err
	}
	if starter, ok := p.(plugin.Starter); ok {
		if err := starter.Start(ctx); err != nil {
			return instance{}, nil, fmt.Errorf("failed to start plugin: %w", err)
		}
	}
	return instance{item: item, plugin: p}, fn, nil
}

// stop stops every plugin implementing plugin.Stopper, in reverse order of
// construction.
func (s *setup) stop() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.plugins) - 1; i >= 0; i-- {
		inst := s.plugins[i]
		stopper, ok := inst.plugin.(plugin.Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.item.PluginName, err))
		}
	}
	return errors.Join(errs...)
}
