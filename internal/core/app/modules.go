package app

import (
	"context"
	"fmt"
	"os"
	"sort"

	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/data/cache"
	"packt/internal/engine/graph"
	"packt/internal/engine/handlers"
	"packt/internal/shared/util"

	"golang.org/x/sync/errgroup"
)

type link struct {
	specifier string
	target    string
}

// moduleJob is one resolved path to process for the variants that reach it
// in the current wave.
type moduleJob struct {
	index    int
	path     string
	scopeID  string
	variants []string
	// known is the source digest each variant's existing module was built
	// from; absent when the variant has no module for path yet.
	known  map[string]string
	forced map[string]bool
}

type moduleOutcome struct {
	job     moduleJob
	digest  string
	route   string
	entries map[string]handlers.Entry
	links   map[string][]link
	// ran lists the variants the handler actually ran for; the rest of
	// entries came from the content cache.
	ran      []string
	failures map[string]error
	fatal    error
}

func (o *moduleOutcome) fail(variants []string, err error) {
	for _, v := range variants {
		o.failures[v] = err
		delete(o.entries, v)
		delete(o.links, v)
	}
}

// rootSet maps each root module path to the specifier that named it and the
// entrypoint bundles it seeds.
type rootSet struct {
	names   map[string]string
	bundles map[string][]string
}

func (a *App) resolveRoots(ctx context.Context) (rootSet, error) {
	roots := rootSet{names: make(map[string]string), bundles: make(map[string][]string)}
	for _, name := range a.Config.BundleNames() {
		b := a.Config.Bundles[name]
		if b.IsCommon() {
			continue
		}
		for _, spec := range b.Requires {
			path, err := a.resolver.Resolve(ctx, spec, a.Config.Paths.ProjectRoot)
			if err != nil {
				return roots, errors.AddContext(err, errors.CtxBundle, name)
			}
			if _, ok := roots.names[path]; !ok {
				roots.names[path] = spec
			}
			roots.bundles[path] = append(roots.bundles[path], name)
		}
	}
	return roots, nil
}

// buildGraph brings every variant's graph up to date with the sources on
// disk. Modules are processed breadth-first from the roots; each wave runs on
// the worker pool while scope-id allocation and graph mutation stay on this
// goroutine.
func (a *App) buildGraph(ctx context.Context, st *buildState) error {
	roots, err := a.resolveRoots(ctx)
	if err != nil {
		return err
	}
	variants := a.Config.Build.Variants

	frontier := make(map[string]map[string]bool, len(roots.names))
	for path := range roots.names {
		frontier[path] = setOf(variants)
	}
	visited := make(map[string]map[string]bool, len(variants))
	pending := make(map[string]map[string][]link, len(variants))
	for _, v := range variants {
		visited[v] = make(map[string]bool)
		pending[v] = make(map[string][]link)
	}

	for wave := 0; len(frontier) > 0; wave++ {
		paths := util.SortedStringKeys(frontier)
		jobs := make([]moduleJob, 0, len(paths))
		for _, path := range paths {
			job := moduleJob{
				index:  len(jobs),
				path:   path,
				known:  make(map[string]string),
				forced: make(map[string]bool),
			}
			for _, v := range util.SortedStringKeys(frontier[path]) {
				if visited[v][path] {
					continue
				}
				visited[v][path] = true
				job.variants = append(job.variants, v)
				if m, ok := a.Graph.Variant(v).Lookup(path); ok {
					job.known[v] = m.SourceHash
				}
				job.forced[v] = a.forceAll || st.changed[path] || a.failed[v][path]
			}
			if len(job.variants) == 0 {
				continue
			}
			job.scopeID = a.ids.GetID(path)
			jobs = append(jobs, job)
		}
		if len(jobs) == 0 {
			break
		}

		outcomes, err := a.runModuleWave(ctx, jobs)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		st.log.Debug("module wave processed", "wave", wave, "modules", len(jobs))

		next := make(map[string]map[string]bool)
		for i := range outcomes {
			targets, err := a.applyOutcome(st, &outcomes[i], pending)
			if err != nil {
				return err
			}
			for v, paths := range targets {
				for _, target := range paths {
					if visited[v][target] {
						continue
					}
					if next[target] == nil {
						next[target] = make(map[string]bool)
					}
					next[target][v] = true
				}
			}
		}
		frontier = next
	}

	for _, v := range variants {
		variant := a.Graph.Variant(v)
		a.linkModules(st, variant, pending[v])
		variant.Roots = make(map[string]*graph.Root)
		for _, path := range util.SortedStringKeys(roots.bundles) {
			if m, ok := variant.Lookup(path); ok {
				variant.SetRoot(roots.names[path], m, roots.bundles[path]...)
			}
		}
		removed := variant.Prune()
		for _, path := range removed {
			delete(a.failed[v], path)
		}
		st.removed[v] = removed
		if err := variant.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// applyOutcome records a processed module in each variant and returns the
// import targets to visit next, per variant.
func (a *App) applyOutcome(st *buildState, o *moduleOutcome, pending map[string]map[string][]link) (map[string][]string, error) {
	targets := make(map[string][]string, len(o.job.variants))
	path := o.job.path

	for _, v := range o.job.variants {
		if err, bad := o.failures[v]; bad {
			st.failModule(v, path, err)
			if a.failed[v] == nil {
				a.failed[v] = make(map[string]bool)
			}
			a.failed[v][path] = true
			if a.Config.Build.IsFailFast() {
				return nil, err
			}
			continue
		}
		delete(a.failed[v], path)

		variant := a.Graph.Variant(v)
		entry, processed := o.entries[v]
		if !processed {
			m, ok := variant.Lookup(path)
			if !ok {
				return nil, errors.New(errors.CodeInternal, fmt.Sprintf("module %s vanished from variant %s", path, v))
			}
			st.reused++
			for _, imp := range m.Imports {
				targets[v] = append(targets[v], imp.Node.ResolvedPath)
			}
			continue
		}

		m, existed := variant.Lookup(path)
		if !existed {
			m = variant.AddModule(&graph.Module{ResolvedPath: path})
			st.markChanged(v, path)
		} else if m.ContentHash != entry.Output.ContentHash {
			st.markChanged(v, path)
		}
		m.ScopeID = o.job.scopeID
		m.Handler = entry.Handler
		m.Content = entry.Output.Content
		m.ContentType = entry.Output.ContentType
		m.ContentHash = entry.Output.ContentHash
		m.SourceHash = o.digest
		m.Exports = append([]string(nil), entry.Exports...)

		pending[v][path] = o.links[v]
		for _, l := range o.links[v] {
			targets[v] = append(targets[v], l.target)
		}
		for _, w := range entry.Warnings {
			st.warn(w)
		}
	}

	if len(o.ran) > 0 {
		st.processed += len(o.ran)
		st.addHandlerStats(o.route, o.entries, o.ran)
	}
	return targets, nil
}

// linkModules replaces the imports of every module processed in this build
// with edges to the resolved targets. Modules whose import list changed are
// marked changed.
func (a *App) linkModules(st *buildState, v *graph.Variant, pending map[string][]link) {
	for _, path := range util.SortedStringKeys(pending) {
		m, ok := v.Lookup(path)
		if !ok {
			continue
		}
		before := importSignature(m.Imports)
		m.Imports = nil
		for _, l := range pending[path] {
			target, ok := v.Lookup(l.target)
			if !ok {
				// The target failed in this variant; the variant is already
				// marked failed and will not be bundled.
				continue
			}
			if err := v.AddImport(m, l.specifier, target); err != nil {
				st.failModule(v.Name, path, errors.Wrap(err, errors.CodeInternal, "link import "+l.specifier))
			}
		}
		if importSignature(m.Imports) != before {
			st.markChanged(v.Name, path)
		}
	}
}

func importSignature(imports []graph.Import) string {
	parts := make([]string, 0, len(imports))
	for _, imp := range imports {
		parts = append(parts, imp.Specifier+"\x00"+imp.Node.ResolvedPath)
	}
	sort.Strings(parts)
	return fmt.Sprint(parts)
}

func (a *App) runModuleWave(ctx context.Context, jobs []moduleJob) ([]moduleOutcome, error) {
	outcomes := make([]moduleOutcome, len(jobs))
	failFast := a.Config.Build.IsFailFast()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config.Build.Workers)
	for i := range jobs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Worker(jobs[i].index, fmt.Sprintf("panic processing %s: %v", jobs[i].path, r))
				}
			}()
			outcomes[i] = a.processModule(gctx, jobs[i])
			if outcomes[i].fatal != nil {
				return outcomes[i].fatal
			}
			if failFast {
				for _, v := range jobs[i].variants {
					if ferr, ok := outcomes[i].failures[v]; ok {
						return ferr
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// processModule runs on a worker. It reads the graph only through the job
// snapshot and never mutates shared state other than the content cache.
func (a *App) processModule(ctx context.Context, job moduleJob) moduleOutcome {
	o := moduleOutcome{
		job:      job,
		entries:  make(map[string]handlers.Entry),
		links:    make(map[string][]link),
		failures: make(map[string]error),
	}

	source, err := os.ReadFile(job.path)
	if err != nil {
		o.fail(job.variants, errors.Content("", job.variants, job.path, err))
		return o
	}
	o.digest = util.Digest(source)

	var need []string
	for _, v := range job.variants {
		if known, ok := job.known[v]; !ok || known != o.digest || job.forced[v] {
			need = append(need, v)
		}
	}
	if len(need) == 0 {
		return o
	}

	route, err := a.handlers.Match(job.path)
	if err != nil {
		o.fail(need, errors.Content("", need, job.path, err))
		return o
	}
	o.route = route.Name

	var miss []string
	for _, v := range need {
		if a.cache != nil {
			var entry handlers.Entry
			if a.cache.Get(cache.KindHandler, v, route.CacheKey(job.path, o.digest, v), &entry) {
				o.entries[v] = entry
				continue
			}
		}
		miss = append(miss, v)
	}

	if len(miss) > 0 {
		fresh, failures := runRoute(ctx, route, job, source, miss)
		for v, err := range failures {
			o.fail([]string{v}, err)
		}
		for _, v := range miss {
			entry, ok := fresh[v]
			if !ok {
				continue
			}
			o.entries[v] = entry
			o.ran = append(o.ran, v)
			if a.cache != nil {
				if err := a.cache.Put(cache.KindHandler, v, route.CacheKey(job.path, o.digest, v), entry); err != nil {
					o.fatal = err
					return o
				}
			}
		}
	}

	for _, v := range util.SortedStringKeys(o.entries) {
		entry := o.entries[v]
		links := make([]link, 0, len(entry.Imports))
		for _, spec := range entry.Imports {
			target, err := a.resolver.Resolve(ctx, spec, job.path)
			if err != nil {
				o.fail([]string{v}, err)
				break
			}
			links = append(links, link{specifier: spec, target: target})
		}
		if _, failed := o.failures[v]; !failed {
			o.links[v] = links
		}
	}
	return o
}

// runRoute runs the handler once for every variant in miss. When that run
// fails for several variants, each is retried alone so a failure caused by one
// variant's options does not take down the others.
func runRoute(ctx context.Context, route *handlers.Route, job moduleJob, source []byte, miss []string) (map[string]handlers.Entry, map[string]error) {
	run := func(variants []string) (map[string]handlers.Entry, error) {
		opts := make(map[string]map[string]any, len(variants))
		for _, v := range variants {
			opts[v] = route.OptionsFor(v)
		}
		return route.Run(ctx, ports.HandlerInput{
			ResolvedPath:   job.path,
			ScopeID:        job.scopeID,
			Source:         source,
			VariantOptions: opts,
		})
	}

	entries, err := run(miss)
	if err == nil {
		return entries, nil
	}
	failures := make(map[string]error, len(miss))
	if len(miss) == 1 || ctx.Err() != nil {
		for _, v := range miss {
			failures[v] = err
		}
		return nil, failures
	}
	entries = make(map[string]handlers.Entry, len(miss))
	for _, v := range miss {
		single, err := run([]string{v})
		if err != nil {
			failures[v] = err
			continue
		}
		entries[v] = single[v]
	}
	return entries, failures
}

func setOf(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
