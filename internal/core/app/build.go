package app

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/data/history"
	"packt/internal/engine/handlers"
	"packt/internal/engine/planner"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// buildState accumulates everything one build pass learns. Fields written by
// bundle workers are guarded by mu.
type buildState struct {
	id          string
	log         *slog.Logger
	incremental bool
	changed     map[string]bool

	// changedModules holds, per variant, modules that are new or whose
	// content or imports changed in this build.
	changedModules map[string]map[string]bool
	removed        map[string][]string
	plans          map[string]map[string][]string

	processed int
	reused    int

	mu           sync.Mutex
	variantErrs  map[string][]error
	warnings     []string
	handlerStats map[string]ports.PerfStats
	bundlerStats map[string]ports.PerfStats
	outputs      map[string][]string
	bundles      int
}

func newBuildState(incremental bool, changed []string, root string) *buildState {
	id := uuid.NewString()
	st := &buildState{
		id:             id,
		log:            slog.With("build_id", id),
		incremental:    incremental,
		changed:        make(map[string]bool, len(changed)),
		changedModules: make(map[string]map[string]bool),
		removed:        make(map[string][]string),
		plans:          make(map[string]map[string][]string),
		variantErrs:    make(map[string][]error),
		handlerStats:   make(map[string]ports.PerfStats),
		bundlerStats:   make(map[string]ports.PerfStats),
		outputs:        make(map[string][]string),
	}
	for _, path := range changed {
		st.changed[absPath(root, path)] = true
	}
	return st
}

func (st *buildState) markChanged(variant, path string) {
	if st.changedModules[variant] == nil {
		st.changedModules[variant] = make(map[string]bool)
	}
	st.changedModules[variant][path] = true
}

func (st *buildState) failModule(variant, path string, err error) {
	st.log.Warn("module failed", "variant", variant, "path", path, "error", err)
	st.failVariant(variant, err)
}

func (st *buildState) failVariant(variant string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.variantErrs[variant] = append(st.variantErrs[variant], err)
}

func (st *buildState) variantFailed(variant string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.variantErrs[variant]) > 0
}

func (st *buildState) hasFailures() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.variantErrs) > 0
}

func (st *buildState) warn(msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.warnings = append(st.warnings, msg)
}

// addHandlerStats folds in the perf stats of outputs the handler produced in
// this build. An output shared by several variants counts once.
func (st *buildState) addHandlerStats(handler string, entries map[string]handlers.Entry, ran []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	seen := make(map[string]bool, len(ran))
	for _, v := range ran {
		entry, ok := entries[v]
		if !ok {
			continue
		}
		key := strings.Join(entry.Output.Variants, ",")
		if seen[key] {
			continue
		}
		seen[key] = true
		st.handlerStats[handler] = st.handlerStats[handler].Add(entry.Output.PerfStats)
	}
}

func (st *buildState) recordBundle(variant, bundler string, out ports.BundleOutput, cached bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.outputs[variant] = append(st.outputs[variant], out.Outputs...)
	st.bundles++
	if !cached {
		st.bundlerStats[bundler] = st.bundlerStats[bundler].Add(out.PerfStats)
	}
}

// variantError joins every variant failure of the build, or returns nil.
func (st *buildState) variantError() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	var errs []error
	for _, v := range util.SortedStringKeys(st.variantErrs) {
		errs = append(errs, st.variantErrs[v]...)
	}
	return stderrors.Join(errs...)
}

// Build runs one build pass. With ChangedPaths set and a graph from an
// earlier build in memory, only the affected modules are reprocessed and only
// the affected bundles are planned and emitted.
func (a *App) Build(ctx context.Context, req ports.BuildRequest) (ports.BuildResult, error) {
	a.buildMu.Lock()
	defer a.buildMu.Unlock()

	start := time.Now()
	st := newBuildState(a.built && len(req.ChangedPaths) > 0, req.ChangedPaths, a.Config.Paths.ProjectRoot)

	ctx, span := observability.Tracer.Start(ctx, "app.Build", trace.WithAttributes(
		attribute.String("build.id", st.id),
		attribute.Bool("build.incremental", st.incremental),
		attribute.Int("build.changed_paths", len(req.ChangedPaths)),
	))
	defer span.End()

	if a.cache != nil {
		a.cache.ResetStats()
	}
	a.resolver.Invalidate()
	a.expandDeleted(st)

	st.log.Info("build started", "incremental", st.incremental, "changed", len(st.changed))
	err := a.run(ctx, st)

	result := a.result(st, time.Since(start))
	observability.BuildDuration.Observe(result.Duration.Seconds())
	if err != nil {
		observability.BuildFailuresTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	a.recordHistory(ctx, st, result, err)

	if err != nil {
		st.log.Error("build failed", "duration", result.Duration, "error", err)
	} else {
		st.log.Info("build complete",
			"duration", result.Duration,
			"processed", result.Processed,
			"reused", result.Reused,
			"bundles", st.bundles,
			"cache_hits", result.CacheHits,
			"cache_misses", result.CacheMisses,
		)
	}
	return result, err
}

func (a *App) run(ctx context.Context, st *buildState) error {
	if err := a.buildGraph(ctx, st); err != nil {
		a.forceAll = true
		a.markAllStale()
		return err
	}
	a.forceAll = false
	a.built = true
	a.Graph.UpdateMetrics()

	plans := make(map[string]planner.Plan)
	for _, name := range a.Config.Build.Variants {
		if st.variantFailed(name) {
			continue
		}
		v := a.Graph.Variant(name)
		plan, err := a.planner.PlanVariantContext(ctx, v, a.workingSet(name, st))
		if err != nil {
			if a.Config.Build.IsFailFast() {
				a.markAllStale()
				return err
			}
			st.failVariant(name, err)
			continue
		}
		plans[name] = plan
		st.plans[name] = plan.Paths()
	}

	if err := a.emitBundles(ctx, st, plans); err != nil {
		a.markAllStale()
		return err
	}
	for _, name := range a.Config.Build.Variants {
		if st.variantFailed(name) {
			a.stale[name] = true
		} else {
			delete(a.stale, name)
		}
	}

	if err := a.saveScopeIDs(st); err != nil {
		return err
	}
	return st.variantError()
}

func (a *App) markAllStale() {
	for _, name := range a.Config.Build.Variants {
		a.stale[name] = true
	}
}

// expandDeleted forces every importer of a changed path that no longer exists
// to be reprocessed, so a dangling import surfaces as a resolution failure.
func (a *App) expandDeleted(st *buildState) {
	for path := range st.changed {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		for _, v := range a.Graph.Variants() {
			for _, importer := range v.Importers(path) {
				st.changed[importer] = true
			}
		}
	}
}

// workingSet selects the bundles to plan for a variant. A full build, or a
// variant whose outputs are stale, plans everything. Otherwise the bundles of
// roots that reach a changed module are planned, together with every common
// bundle they depend on and all of those commons' dependents, so extraction
// always sees complete usage counts.
func (a *App) workingSet(variant string, st *buildState) planner.WorkingSet {
	if !st.incremental || a.stale[variant] {
		return planner.FullWorkingSet(a.Config.Bundles)
	}
	v := a.Graph.Variant(variant)

	changed := make([]string, 0, len(st.changedModules[variant]))
	for path := range st.changedModules[variant] {
		changed = append(changed, path)
	}
	bundles := make(map[string]bool)
	for _, root := range v.RootsReaching(changed) {
		for _, b := range root.Bundles {
			bundles[b] = true
		}
	}
	if len(st.removed[variant]) > 0 {
		// A pruned module may have sat in any bundle; its importers are
		// already in changed, but commons that held it must be re-extracted.
		for name, b := range a.Config.Bundles {
			if b.IsCommon() {
				bundles[name] = true
			}
		}
	}

	commons := make(map[string]bool)
	for grew := true; grew; {
		grew = false
		for _, name := range util.SortedStringKeys(bundles) {
			b := a.Config.Bundles[name]
			if b.IsCommon() && !commons[name] {
				commons[name] = true
				grew = true
				for _, dependent := range b.DependedBy {
					bundles[dependent] = true
				}
			}
			for _, dep := range b.Depends {
				if a.Config.Bundles[dep].IsCommon() && !bundles[dep] {
					bundles[dep] = true
					grew = true
				}
			}
		}
	}

	ws := planner.WorkingSet{
		Bundles:       util.SortedStringKeys(bundles),
		CommonBundles: util.SortedStringKeys(commons),
	}
	st.log.Debug("working set", "variant", variant, "bundles", ws.Bundles, "commons", ws.CommonBundles)
	return ws
}

// saveScopeIDs persists the generator. Ids of modules that left every
// variant are released, unless the build had failures: a failed module may
// be missing from the graph only temporarily.
func (a *App) saveScopeIDs(st *buildState) error {
	var keep func(string) bool
	if !st.hasFailures() {
		live := make(map[string]bool)
		for _, v := range a.Graph.Variants() {
			for _, m := range v.Lookups {
				live[m.ScopeID] = true
			}
		}
		keep = func(id string) bool { return live[id] }
	}
	return a.ids.Save(filepath.Join(a.Config.Paths.StateDir, ScopeIDFile), keep)
}

func (a *App) result(st *buildState, elapsed time.Duration) ports.BuildResult {
	res := ports.BuildResult{
		BuildID:      st.id,
		ConfigHash:   a.configHash,
		Incremental:  st.incremental,
		Processed:    st.processed,
		Reused:       st.reused,
		Duration:     elapsed,
		HandlerStats: st.handlerStats,
		BundlerStats: st.bundlerStats,
		Warnings:     st.warnings,
	}
	if st.incremental {
		res.ChangedPaths = util.SortedStringKeys(st.changed)
	}
	if a.cache != nil {
		res.CacheHits, res.CacheMisses = a.cache.Stats()
	}
	for _, name := range a.Config.Build.Variants {
		vr := ports.VariantResult{Name: name, Bundles: st.plans[name]}
		if v, ok := a.Graph.Lookup(name); ok {
			vr.Modules = len(v.Lookups)
		}
		vr.Outputs = append([]string(nil), st.outputs[name]...)
		sort.Strings(vr.Outputs)
		vr.Err = stderrors.Join(st.variantErrs[name]...)
		res.Variants = append(res.Variants, vr)
	}
	return res
}

func (a *App) recordHistory(ctx context.Context, st *buildState, res ports.BuildResult, buildErr error) {
	if a.history == nil {
		return
	}
	rec := history.BuildRecord{
		ID:          st.id,
		Timestamp:   time.Now().UTC(),
		ConfigHash:  a.configHash,
		Status:      history.StatusSuccess,
		Incremental: st.incremental,
		Variants:    append([]string(nil), a.Config.Build.Variants...),
		Modules:     moduleCount(res),
		Bundles:     st.bundles,
		CacheHits:   res.CacheHits,
		CacheMisses: res.CacheMisses,
		Duration:    res.Duration,
	}
	if buildErr != nil {
		rec.Error = buildErr.Error()
		rec.Status = history.StatusFailed
		for _, vr := range res.Variants {
			if vr.Err == nil && len(vr.Outputs) > 0 {
				rec.Status = history.StatusPartial
				break
			}
		}
	}
	if err := a.history.SaveBuild(ctx, rec); err != nil {
		st.log.Warn("failed to record build history", "error", err)
	}
}

func moduleCount(res ports.BuildResult) int {
	n := 0
	for _, vr := range res.Variants {
		n = max(n, vr.Modules)
	}
	return n
}

// bundleOptions returns the configured options of the named bundler.
func bundleOptions(bundlers []config.Bundler, name string) map[string]any {
	for _, b := range bundlers {
		if b.Name == name {
			return b.Options
		}
	}
	return nil
}
