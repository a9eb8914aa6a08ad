package planner

import (
	"sort"

	"packt/internal/engine/graph"
)

// seedColors propagates each root's changed bundles to everything it reaches.
// A module whose color set does not grow is not expanded again, so the walk
// is bounded by modules times bundles.
func (p *Planner) seedColors(v *graph.Variant, changed graph.BundleSet) {
	if changed.Empty() {
		return
	}
	for _, root := range v.RootList() {
		set := p.index.Set(root.Bundles...).Intersect(changed)
		if set.Empty() {
			continue
		}

		stack := []*graph.Module{root.Module}
		for len(stack) > 0 {
			m := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !m.Meta.Bundles.Union(set) {
				continue
			}
			for _, imp := range m.Imports {
				if !imp.Node.Meta.Bundles.ContainsAll(set) {
					stack = append(stack, imp.Node)
				}
			}
		}
	}
}

// extractCommon promotes colored modules into each common bundle whose
// dependents use them often enough: the share of the bundle's dependents a
// module is colored with must reach the bundle's threshold. A root module is
// only promoted when another entrypoint reaches it too; colored by its own
// entrypoints alone it stays there.
func (p *Planner) extractCommon(v *graph.Variant, commons []*bundleInfo) {
	if len(commons) == 0 {
		return
	}
	own := make(map[*graph.Module]graph.BundleSet, len(v.Roots))
	for _, root := range v.RootList() {
		set := own[root.Module]
		set.Union(p.index.Set(root.Bundles...))
		own[root.Module] = set
	}
	modules := v.Modules()
	for _, common := range commons {
		total := common.cfg.DependedByLength
		if total == 0 {
			continue
		}
		for _, m := range modules {
			if m.Meta.Bundles.Empty() || !acceptsContentType(common, m.ContentType) {
				continue
			}
			if bundles, isRoot := own[m]; isRoot && bundles.ContainsAll(m.Meta.Bundles.Intersect(common.dependedBy)) {
				continue
			}
			frequency := m.Meta.Bundles.CountIn(common.dependedBy)
			if float64(frequency)/float64(total) >= common.cfg.Threshold {
				m.Meta.Bundles.Add(common.bit)
			}
		}
	}
}

// acceptsContentType applies the bundle's optional content type filter.
func acceptsContentType(b *bundleInfo, contentType string) bool {
	if len(b.cfg.ContentTypes) == 0 {
		return true
	}
	for _, ct := range b.cfg.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// orderCommons sorts common bundles so that a common bundle is handled after
// every common bundle that depends on it; the dependent's promotions then
// count toward the dependency's frequency. Ties break by name.
func orderCommons(commons []*bundleInfo) []*bundleInfo {
	byName := make(map[string]*bundleInfo, len(commons))
	for _, c := range commons {
		byName[c.name] = c
	}

	// pending counts dependents still to be processed.
	pending := make(map[string]int, len(commons))
	for _, c := range commons {
		for _, dependent := range c.cfg.DependedBy {
			if _, ok := byName[dependent]; ok {
				pending[c.name]++
			}
		}
	}

	var ready []string
	for _, c := range commons {
		if pending[c.name] == 0 {
			ready = append(ready, c.name)
		}
	}
	sort.Strings(ready)

	out := make([]*bundleInfo, 0, len(commons))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		c := byName[name]
		out = append(out, c)

		var next []string
		for _, dep := range c.cfg.Depends {
			if _, ok := byName[dep]; !ok {
				continue
			}
			pending[dep]--
			if pending[dep] == 0 {
				next = append(next, dep)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	return out
}
