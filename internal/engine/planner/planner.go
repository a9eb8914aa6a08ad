// Package planner decides which modules land in which output bundle, and in
// what order, for every variant of a build.
package planner

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"time"

	"packt/internal/core/config"
	"packt/internal/core/errors"
	"packt/internal/engine/graph"
	"packt/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
)

// WorkingSet names the bundles to recolor on this pass. Bundles holds bundles
// whose roots changed; CommonBundles the common bundles to re-extract.
type WorkingSet struct {
	Bundles       []string
	CommonBundles []string
}

func (ws WorkingSet) Empty() bool {
	return len(ws.Bundles) == 0 && len(ws.CommonBundles) == 0
}

// FullWorkingSet selects every declared bundle.
func FullWorkingSet(bundles map[string]*config.Bundle) WorkingSet {
	var ws WorkingSet
	for name, b := range bundles {
		ws.Bundles = append(ws.Bundles, name)
		if b.IsCommon() {
			ws.CommonBundles = append(ws.CommonBundles, name)
		}
	}
	sort.Strings(ws.Bundles)
	sort.Strings(ws.CommonBundles)
	return ws
}

// Plan maps bundle name to its modules in dependency order.
type Plan map[string][]*graph.Module

// Paths flattens the plan to resolved paths.
func (p Plan) Paths() map[string][]string {
	out := make(map[string][]string, len(p))
	for name, modules := range p {
		paths := make([]string, 0, len(modules))
		for _, m := range modules {
			paths = append(paths, m.ResolvedPath)
		}
		out[name] = paths
	}
	return out
}

// BundleNames returns the plan's bundles in sorted order.
func (p Plan) BundleNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type bundleInfo struct {
	name       string
	cfg        *config.Bundle
	bit        int
	depends    graph.BundleSet
	dependedBy graph.BundleSet
}

// Planner colors and orders module graphs against a fixed bundle topology.
// It reads the graph's modules and writes only their Meta fields.
type Planner struct {
	index   *graph.BundleIndex
	bundles map[string]*bundleInfo
}

// New indexes bundles. The map must come from a finalized config so that
// DependedBy and DependedByLength are populated.
func New(bundles map[string]*config.Bundle) *Planner {
	names := make([]string, 0, len(bundles))
	for name := range bundles {
		names = append(names, name)
	}
	idx := graph.NewBundleIndex(names)

	p := &Planner{index: idx, bundles: make(map[string]*bundleInfo, len(bundles))}
	for name, b := range bundles {
		p.bundles[name] = &bundleInfo{
			name:       name,
			cfg:        b,
			bit:        idx.Bit(name),
			depends:    idx.Set(b.Depends...),
			dependedBy: idx.Set(b.DependedBy...),
		}
	}
	return p
}

func (p *Planner) Index() *graph.BundleIndex {
	return p.index
}

// Plan runs PlanVariant for every variant in g. Variants that fail are left
// out of the result and their errors joined; the others still plan.
func (p *Planner) Plan(ctx context.Context, g *graph.Graph, ws WorkingSet) (map[string]Plan, error) {
	out := make(map[string]Plan)
	var errs []error
	for _, v := range g.Variants() {
		plan, err := p.PlanVariantContext(ctx, v, ws)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[v.Name] = plan
	}
	return out, stderrors.Join(errs...)
}

// PlanVariantContext is PlanVariant wrapped in a tracing span and timing.
func (p *Planner) PlanVariantContext(ctx context.Context, v *graph.Variant, ws WorkingSet) (Plan, error) {
	_, span := observability.Tracer.Start(ctx, "planner.PlanVariant")
	defer span.End()
	span.SetAttributes(
		attribute.String("variant", v.Name),
		attribute.Int("modules", len(v.Lookups)),
	)

	start := time.Now()
	plan, err := p.PlanVariant(v, ws)
	observability.PlanningDuration.WithLabelValues(v.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slog.Debug("planned variant", "variant", v.Name, "bundles", len(plan), "duration", time.Since(start))
	return plan, nil
}

// PlanVariant computes the bundle module lists for one variant:
// reset, seed colors from roots, extract common bundles, order, assign.
func (p *Planner) PlanVariant(v *graph.Variant, ws WorkingSet) (Plan, error) {
	changed, commons, err := p.resolveWorkingSet(ws)
	if err != nil {
		return nil, errors.AddContext(err, errors.CtxVariant, v.Name)
	}

	v.ResetMetadata()
	p.seedColors(v, changed)
	p.extractCommon(v, commons)

	sorted, err := topoSort(v)
	if err != nil {
		return nil, err
	}
	return p.assign(sorted, ws), nil
}

func (p *Planner) resolveWorkingSet(ws WorkingSet) (graph.BundleSet, []*bundleInfo, error) {
	var changed graph.BundleSet
	for _, name := range ws.Bundles {
		info, ok := p.bundles[name]
		if !ok {
			return changed, nil, errors.Configf("working set names unknown bundle %q", name)
		}
		changed.Add(info.bit)
	}

	commons := make([]*bundleInfo, 0, len(ws.CommonBundles))
	seen := make(map[string]bool, len(ws.CommonBundles))
	for _, name := range ws.CommonBundles {
		info, ok := p.bundles[name]
		if !ok {
			return changed, nil, errors.Configf("working set names unknown bundle %q", name)
		}
		if !info.cfg.IsCommon() {
			return changed, nil, errors.Configf("working set lists %q as common but it is %s", name, info.cfg.Type)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		commons = append(commons, info)
	}
	return changed, orderCommons(commons), nil
}

// assign walks the global order once and appends each module to every bundle
// it is colored with, skipping entrypoint bundles whose declared dependencies
// already carry the module.
func (p *Planner) assign(sorted []*graph.Module, ws WorkingSet) Plan {
	plan := make(Plan)
	for _, name := range ws.Bundles {
		plan[name] = []*graph.Module{}
	}
	for _, name := range ws.CommonBundles {
		plan[name] = []*graph.Module{}
	}

	for _, m := range sorted {
		m.Meta.Bundles.Each(func(bit int) {
			name := p.index.Name(bit)
			info := p.bundles[name]
			if info.cfg.Type == config.BundleEntrypoint && m.Meta.Bundles.Intersects(info.depends) {
				return
			}
			plan[name] = append(plan[name], m)
		})
	}
	return plan
}
