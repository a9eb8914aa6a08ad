package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/data/cache"
	"packt/internal/data/history"
	"packt/internal/engine/bundlers"
	"packt/internal/engine/graph"
	"packt/internal/engine/handlers"
	"packt/internal/engine/planner"
	"packt/internal/engine/resolver"
	"packt/internal/engine/scopeid"
)

// ScopeIDFile is the generator state file inside the state directory.
const ScopeIDFile = "scope-ids.json"

var _ ports.BuildService = (*App)(nil)

// App owns every component of a build and the graph carried between builds.
// Builds are serialized.
type App struct {
	Config *config.Config
	Graph  *graph.Graph

	resolver *resolver.Resolver
	handlers *handlers.Registry
	bundlers *bundlers.Registry
	planner  *planner.Planner
	ids      *scopeid.Generator
	cache    *cache.ContentCache
	history  ports.HistoryStore

	configHash string

	buildMu sync.Mutex
	// built is set once a build has produced a graph that later builds can
	// update incrementally.
	built bool
	// forceAll makes the next build reprocess every module. It is set when a
	// build aborts with modules half-applied to the graph.
	forceAll bool
	// failed holds modules whose last processing failed, per variant.
	failed map[string]map[string]bool
	// stale holds variants whose outputs were not written by the last build.
	stale map[string]bool
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.Config("config is required")
	}

	handlerRegistry, err := handlers.NewRegistry(ctx, cfg.Paths.ProjectRoot, cfg.Handlers)
	if err != nil {
		return nil, err
	}
	bundlerRegistry, err := bundlers.NewRegistry(ctx, cfg.Bundlers)
	if err != nil {
		return nil, err
	}

	plugins := append(handlerRegistry.Identities(), bundlerRegistry.Identities()...)
	hash, err := config.Hash(cfg, plugins...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "hash config")
	}

	ids, err := scopeid.Load(filepath.Join(cfg.Paths.StateDir, ScopeIDFile))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Graph:      graph.NewGraph(),
		resolver:   resolver.New(cfg.Build.Extensions),
		handlers:   handlerRegistry,
		bundlers:   bundlerRegistry,
		planner:    planner.New(cfg.Bundles),
		ids:        ids,
		configHash: hash,
		failed:     make(map[string]map[string]bool),
		stale:      make(map[string]bool),
	}

	if cfg.Cache.IsEnabled() {
		c, err := cache.New(filepath.Join(cfg.Paths.CacheDir, hash), cfg.Cache.MemoryEntries)
		if err != nil {
			return nil, err
		}
		a.cache = c
		if removed, err := cache.PruneNamespaces(cfg.Paths.CacheDir, hash); err != nil {
			slog.Warn("failed to prune stale cache namespaces", "dir", cfg.Paths.CacheDir, "error", err)
		} else if removed > 0 {
			slog.Info("pruned stale cache namespaces", "count", removed)
		}
	}

	if cfg.History.IsEnabled() {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.history = store
	}

	slog.Debug("app initialized",
		"config_hash", hash,
		"variants", cfg.Build.Variants,
		"bundles", len(cfg.Bundles),
		"workers", cfg.Build.Workers,
		"cache", a.cache != nil,
		"history", a.history != nil,
	)
	return a, nil
}

// SetHistoryStore replaces the history store. Passing nil disables history.
func (a *App) SetHistoryStore(store ports.HistoryStore) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()
	a.history = store
}

func (a *App) ConfigHash() string {
	return a.configHash
}

func (a *App) History(ctx context.Context, limit int) ([]history.BuildRecord, error) {
	if a.history == nil {
		return nil, errors.New(errors.CodeNotFound, "build history is disabled")
	}
	return a.history.RecentBuilds(ctx, limit)
}

// Explain returns, for each root of variant that reaches path, the import
// chain from the root module to path.
func (a *App) Explain(variant, path string) (map[string][]string, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	v, ok := a.Graph.Lookup(variant)
	if !ok {
		return nil, (&errors.DomainError{Code: errors.CodeNotFound, Message: fmt.Sprintf("unknown variant %q", variant)}).
			WithContext(errors.CtxVariant, variant)
	}
	abs := absPath(a.Config.Paths.ProjectRoot, path)
	if _, ok := v.Lookup(abs); !ok {
		return nil, (&errors.DomainError{Code: errors.CodeNotFound, Message: "module is not part of the build"}).
			WithContext(errors.CtxPath, abs).
			WithContext(errors.CtxVariant, variant)
	}
	return v.ExplainInclusion(abs), nil
}

// Impact lists the modules of variant that import path, directly or
// transitively: the modules a change to path can affect.
func (a *App) Impact(variant, path string) (graph.ImpactReport, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	v, ok := a.Graph.Lookup(variant)
	if !ok {
		return graph.ImpactReport{}, (&errors.DomainError{Code: errors.CodeNotFound, Message: fmt.Sprintf("unknown variant %q", variant)}).
			WithContext(errors.CtxVariant, variant)
	}
	abs := absPath(a.Config.Paths.ProjectRoot, path)
	if _, ok := v.Lookup(abs); !ok {
		return graph.ImpactReport{}, (&errors.DomainError{Code: errors.CodeNotFound, Message: "module is not part of the build"}).
			WithContext(errors.CtxPath, abs).
			WithContext(errors.CtxVariant, variant)
	}
	return v.AnalyzeImpact(abs), nil
}

func (a *App) Close() error {
	var errs []error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, err)
		}
		a.history = nil
	}
	return stderrors.Join(errs...)
}

func absPath(root, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return filepath.Clean(path)
}
