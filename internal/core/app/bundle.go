package app

import (
	"context"
	"fmt"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/core/ports"
	"packt/internal/data/cache"
	"packt/internal/engine/bundlers"
	"packt/internal/engine/graph"
	"packt/internal/engine/planner"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type bundleJob struct {
	variant string
	name    string
	bundle  *config.Bundle
	modules []*graph.Module
}

// emitBundles hands every planned bundle to its bundler on the worker pool.
// Bundles whose inputs are unchanged and whose outputs are still on disk are
// served from the content cache.
func (a *App) emitBundles(ctx context.Context, st *buildState, plans map[string]planner.Plan) error {
	var jobs []bundleJob
	for _, variant := range util.SortedStringKeys(plans) {
		plan := plans[variant]
		for _, name := range plan.BundleNames() {
			jobs = append(jobs, bundleJob{
				variant: variant,
				name:    name,
				bundle:  a.Config.Bundles[name],
				modules: plan[name],
			})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	ctx, span := observability.Tracer.Start(ctx, "app.emitBundles")
	defer span.End()
	span.SetAttributes(attribute.Int("bundles", len(jobs)))

	failFast := a.Config.Build.IsFailFast()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config.Build.Workers)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Worker(i, fmt.Sprintf("panic emitting bundle %s: %v", job.name, r))
				}
			}()
			out, cached, err := a.emitBundle(gctx, job)
			if err != nil {
				if failFast || errors.IsCode(err, errors.CodeIO) {
					return err
				}
				st.log.Warn("bundle failed", "variant", job.variant, "bundle", job.name, "error", err)
				st.failVariant(job.variant, err)
				return nil
			}
			st.recordBundle(job.variant, job.bundle.Bundler, out, cached)
			st.log.Debug("bundle emitted", "variant", job.variant, "bundle", job.name, "cached", cached, "outputs", out.Outputs)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) emitBundle(ctx context.Context, job bundleJob) (ports.BundleOutput, bool, error) {
	bundler, ok := a.bundlers.Get(job.bundle.Bundler)
	if !ok {
		return ports.BundleOutput{}, false, errors.Bundle(job.bundle.Bundler, job.name, job.variant,
			fmt.Errorf("bundler %q is not configured", job.bundle.Bundler))
	}

	modules := make([]ports.BundleModule, 0, len(job.modules))
	for _, m := range job.modules {
		modules = append(modules, ports.BundleModule{
			ResolvedPath: m.ResolvedPath,
			ScopeID:      m.ScopeID,
			Content:      m.Content,
			ContentType:  m.ContentType,
			ContentHash:  m.ContentHash,
			Imports:      m.ImportMap(),
		})
	}

	hash := bundlers.ContentHash(bundler, job.name, modules)
	outputPath, err := bundlers.OutputPath(a.Config.Paths.OutputDir, job.bundle.Output, job.variant, job.name, hash)
	if err != nil {
		return ports.BundleOutput{}, false, err
	}
	in := ports.BundleInput{
		Name:    job.name,
		Variant: job.variant,
		Hash:    hash,
		Options: bundleOptions(a.Config.Bundlers, job.bundle.Bundler),
		Paths: ports.BundlePaths{
			OutputPath:  outputPath,
			OutputDir:   a.Config.Paths.OutputDir,
			ProjectRoot: a.Config.Paths.ProjectRoot,
		},
		Modules: modules,
	}

	key := bundlers.CacheKey(in)
	if a.cache != nil {
		var entry bundlers.Entry
		if a.cache.Get(cache.KindBundler, job.variant, key, &entry) && entry.Fresh() {
			return entry.Output, true, nil
		}
	}

	out, err := bundlers.Run(ctx, job.bundle.Bundler, bundler, in)
	if err != nil {
		return ports.BundleOutput{}, false, err
	}
	if a.cache != nil {
		entry, err := bundlers.NewEntry(job.bundle.Bundler, out)
		if err != nil {
			return out, false, err
		}
		if err := a.cache.Put(cache.KindBundler, job.variant, key, entry); err != nil {
			return out, false, err
		}
	}
	return out, false, nil
}
