package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matt-riley/semflagz/internal/config"
	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/sources"
)

// configuredSources holds the process-level override sources in precedence
// order: overrides file, environment, Redis, remote HTTP.
type configuredSources struct {
	sources []core.StateSource
	file    *sources.FileSource
	async   []*sources.AsyncSource
	closers []func() error
	log     *slog.Logger
}

func buildSources(ctx context.Context, cfg config.Config, log *slog.Logger, onRefresh func(string, error)) (*configuredSources, error) {
	c := &configuredSources{log: log}
	common := []sources.Option{
		sources.WithLogger(log),
		sources.WithRefreshHook(onRefresh),
	}

	if cfg.OverridesFile != "" {
		c.file = sources.NewFileSource(cfg.OverridesFile, common...)
		c.sources = append(c.sources, c.file)
	}

	if cfg.EnvOverridesEnabled() {
		c.sources = append(c.sources, sources.NewEnvSource(cfg.EnvOverridePrefix))
	}

	if cfg.RedisURL != "" {
		client, err := sources.Connect(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, client.Close)

		fetcher, err := sources.NewRedisFetcher(client, cfg.RedisOverridesKey)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.addAsync(fetcher, "redis", common); err != nil {
			c.Close()
			return nil, err
		}
	}

	if cfg.RemoteOverridesURL != "" {
		fetcher := &sources.HTTPFetcher{
			URL:  cfg.RemoteOverridesURL,
			Path: cfg.RemoteOverridesPath,
		}
		if err := c.addAsync(fetcher, "remote", common); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

func (c *configuredSources) addAsync(fetcher sources.Fetcher, name string, common []sources.Option) error {
	opts := append([]sources.Option{sources.WithName(name)}, common...)
	source, err := sources.NewAsyncSource(fetcher, opts...)
	if err != nil {
		return fmt.Errorf("create %s source: %w", name, err)
	}
	c.async = append(c.async, source)
	c.sources = append(c.sources, source)
	return nil
}

// Start begins periodic refresh of the fetched sources and watches the
// overrides file. Both stop when ctx is done.
func (c *configuredSources) Start(ctx context.Context, refreshInterval time.Duration) {
	for _, source := range c.async {
		source.Start(ctx, refreshInterval)
	}
	if c.file != nil {
		if _, err := c.file.Watch(ctx); err != nil {
			c.log.Warn("overrides file will not be reloaded", "error", err)
		}
	}
}

func (c *configuredSources) Close() {
	for _, closer := range c.closers {
		if err := closer(); err != nil {
			c.log.Warn("close source", "error", err)
		}
	}
	c.closers = nil
}

func (c *configuredSources) names() []string {
	names := make([]string, 0, len(c.sources))
	for _, source := range c.sources {
		if named, ok := source.(core.Named); ok {
			names = append(names, named.SourceName())
		}
	}
	return names
}
