package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/theme-registry/internal/adapters"
	"github.com/compresr/theme-registry/internal/callables"
	"github.com/compresr/theme-registry/internal/config"
	"github.com/compresr/theme-registry/internal/extensions"
	"github.com/compresr/theme-registry/internal/store"
	"github.com/compresr/theme-registry/internal/theme"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg        *config.Config
	cache      store.Store
	extensions *extensions.Store
	callables  *callables.Registry
	loader     *callables.Loader
	dispatcher *theme.Dispatcher
	watcher    *extensions.Watcher
}

// newApp opens the cache, scans extensions and loads module includes.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	cache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	exts := extensions.NewStore(cfg.Extensions.Paths, cfg.Extensions.Enabled)
	calls := callables.NewRegistry()
	loader := callables.NewLoader(calls)

	d := theme.New(exts, calls, loader, adapters.NewRegistry(), cache, theme.Options{
		DefaultSkin: cfg.Theme.Default,
		Debug:       cfg.Theme.Debug,
		Attributes:  theme.HTMLAttributes{},
	})
	exts.LoadAll(loader)

	log.Debug().
		Strs("paths", cfg.Extensions.Paths).
		Strs("modules", exts.ModuleNames()).
		Msg("extensions loaded")

	return &app{
		cfg:        cfg,
		cache:      cache,
		extensions: exts,
		callables:  calls,
		loader:     loader,
		dispatcher: d,
	}, nil
}

// openCache returns the configured cache backend.
func openCache(ctx context.Context, cfg config.CacheConfig) (store.Store, error) {
	switch cfg.Type {
	case config.CacheSQLite:
		s, err := store.OpenSQLStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(cfg.CleanupInterval), nil
	}
}

// watch rebuilds registries whenever a file under the extension paths changes.
func (a *app) watch(ctx context.Context) error {
	w, err := extensions.NewWatcher(a.cfg.Extensions.Paths, extensions.DefaultDebounce, func(path string) {
		log.Info().Str("path", path).Msg("extension change detected")
		a.extensions.InvalidateSkinList()
		if err := a.dispatcher.Rebuild(ctx); err != nil {
			log.Error().Err(err).Msg("rebuild after change failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	a.watcher = w
	return nil
}

// Close stops the watcher and releases the scripting state and cache.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.loader.Close()
	if err := a.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("cache close failed")
	}
}
