package graph

import (
	"fmt"
	"sort"
	"sync"

	"packt/internal/core/errors"
	"packt/internal/shared/observability"
)

// VisitState is the tri-state DFS mark used while ordering a variant.
type VisitState uint8

const (
	Unvisited VisitState = iota
	InProgress
	Done
)

// Metadata is per-pass planning state. It is never persisted and is cleared by
// ResetMetadata before every planning pass.
type Metadata struct {
	Bundles BundleSet
	Visit   VisitState
}

// Import is an edge to a module owned by the same variant.
type Import struct {
	Specifier string
	Node      *Module
}

type Module struct {
	ResolvedPath string
	ScopeID      string
	// Index is dense within the owning variant and stable until the module is removed.
	Index int

	Imports []Import
	Exports []string

	Handler     string
	Content     string
	ContentType string
	ContentHash string
	// SourceHash is the digest of the raw source the content was produced from.
	SourceHash string

	Meta Metadata
}

// ImportMap maps each specifier to the target's scope id.
func (m *Module) ImportMap() map[string]string {
	out := make(map[string]string, len(m.Imports))
	for _, imp := range m.Imports {
		if imp.Node != nil {
			out[imp.Specifier] = imp.Node.ScopeID
		}
	}
	return out
}

// Root is a declared entry point and the bundles it seeds.
type Root struct {
	Name    string
	Module  *Module
	Bundles []string
}

type Variant struct {
	Name    string
	Roots   map[string]*Root
	Lookups map[string]*Module

	nextIndex int
}

func NewVariant(name string) *Variant {
	return &Variant{
		Name:    name,
		Roots:   make(map[string]*Root),
		Lookups: make(map[string]*Module),
	}
}

// AddModule registers m under its resolved path. If the path is already known
// the existing module is returned and m is discarded.
func (v *Variant) AddModule(m *Module) *Module {
	if existing, ok := v.Lookups[m.ResolvedPath]; ok {
		return existing
	}
	m.Index = v.nextIndex
	v.nextIndex++
	v.Lookups[m.ResolvedPath] = m
	return m
}

func (v *Variant) Lookup(path string) (*Module, bool) {
	m, ok := v.Lookups[path]
	return m, ok
}

// RemoveModule drops the module and every edge pointing at it.
func (v *Variant) RemoveModule(path string) {
	m, ok := v.Lookups[path]
	if !ok {
		return
	}
	delete(v.Lookups, path)
	for _, other := range v.Lookups {
		kept := other.Imports[:0]
		for _, imp := range other.Imports {
			if imp.Node != m {
				kept = append(kept, imp)
			}
		}
		other.Imports = kept
	}
	for key, root := range v.Roots {
		if root.Module == m {
			delete(v.Roots, key)
		}
	}
}

// AddImport appends an edge from -> to. Both ends must belong to v.
func (v *Variant) AddImport(from *Module, specifier string, to *Module) error {
	if v.Lookups[from.ResolvedPath] != from {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("importer %s is not part of variant %s", from.ResolvedPath, v.Name))
	}
	if v.Lookups[to.ResolvedPath] != to {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("import target %s is not part of variant %s", to.ResolvedPath, v.Name))
	}
	from.Imports = append(from.Imports, Import{Specifier: specifier, Node: to})
	return nil
}

// SetRoot marks m as an entry point for bundles. Repeated calls for the same
// module merge the bundle lists.
func (v *Variant) SetRoot(name string, m *Module, bundles ...string) {
	root, ok := v.Roots[m.ResolvedPath]
	if !ok {
		root = &Root{Name: name, Module: m}
		v.Roots[m.ResolvedPath] = root
	}
	for _, b := range bundles {
		if !containsString(root.Bundles, b) {
			root.Bundles = append(root.Bundles, b)
		}
	}
	sort.Strings(root.Bundles)
}

// RootList returns roots ordered by module path.
func (v *Variant) RootList() []*Root {
	keys := make([]string, 0, len(v.Roots))
	for k := range v.Roots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Root, 0, len(keys))
	for _, k := range keys {
		out = append(out, v.Roots[k])
	}
	return out
}

// Modules returns every module ordered by resolved path.
func (v *Variant) Modules() []*Module {
	out := make([]*Module, 0, len(v.Lookups))
	for _, m := range v.Lookups {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedPath < out[j].ResolvedPath })
	return out
}

func (v *Variant) EdgeCount() int {
	count := 0
	for _, m := range v.Lookups {
		count += len(m.Imports)
	}
	return count
}

// ResetMetadata clears bundle colors and visit marks on every module.
func (v *Variant) ResetMetadata() {
	for _, m := range v.Lookups {
		m.Meta.Bundles.Clear()
		m.Meta.Visit = Unvisited
	}
}

// Validate checks that every edge and root references a module owned by v.
func (v *Variant) Validate() error {
	for _, m := range v.Modules() {
		for _, imp := range m.Imports {
			if imp.Node == nil {
				return errors.New(errors.CodeValidationError, fmt.Sprintf("variant %s: %s imports %q with no target", v.Name, m.ResolvedPath, imp.Specifier))
			}
			if v.Lookups[imp.Node.ResolvedPath] != imp.Node {
				return errors.New(errors.CodeValidationError, fmt.Sprintf("variant %s: %s imports %s which is not in the variant", v.Name, m.ResolvedPath, imp.Node.ResolvedPath))
			}
		}
	}
	for key, root := range v.Roots {
		if root.Module == nil || v.Lookups[root.Module.ResolvedPath] != root.Module {
			return errors.New(errors.CodeValidationError, fmt.Sprintf("variant %s: root %s is not in the variant", v.Name, key))
		}
	}
	return nil
}

// Reachable returns the resolved paths reachable from any root.
func (v *Variant) Reachable() map[string]bool {
	seen := make(map[string]bool, len(v.Lookups))
	stack := make([]*Module, 0, len(v.Roots))
	for _, root := range v.RootList() {
		stack = append(stack, root.Module)
	}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[m.ResolvedPath] {
			continue
		}
		seen[m.ResolvedPath] = true
		for _, imp := range m.Imports {
			if !seen[imp.Node.ResolvedPath] {
				stack = append(stack, imp.Node)
			}
		}
	}
	return seen
}

// Prune removes modules no longer reachable from any root and returns their
// paths in sorted order.
func (v *Variant) Prune() []string {
	live := v.Reachable()
	var removed []string
	for path := range v.Lookups {
		if !live[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		delete(v.Lookups, path)
	}
	if len(removed) > 0 {
		for _, m := range v.Lookups {
			kept := m.Imports[:0]
			for _, imp := range m.Imports {
				if live[imp.Node.ResolvedPath] {
					kept = append(kept, imp)
				}
			}
			m.Imports = kept
		}
	}
	return removed
}

// RootsReaching returns the roots from which any of paths is reachable.
func (v *Variant) RootsReaching(paths []string) []*Root {
	importedBy := make(map[*Module][]*Module, len(v.Lookups))
	for _, m := range v.Lookups {
		for _, imp := range m.Imports {
			importedBy[imp.Node] = append(importedBy[imp.Node], m)
		}
	}

	seen := make(map[*Module]bool)
	var queue []*Module
	for _, p := range paths {
		if m, ok := v.Lookups[p]; ok && !seen[m] {
			seen[m] = true
			queue = append(queue, m)
		}
	}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, importer := range importedBy[m] {
			if !seen[importer] {
				seen[importer] = true
				queue = append(queue, importer)
			}
		}
	}

	var out []*Root
	for _, root := range v.RootList() {
		if seen[root.Module] {
			out = append(out, root)
		}
	}
	return out
}

// Graph holds one module graph per build variant.
type Graph struct {
	mu       sync.RWMutex
	variants map[string]*Variant
}

func NewGraph() *Graph {
	return &Graph{variants: make(map[string]*Variant)}
}

// Variant returns the named variant, creating it if needed.
func (g *Graph) Variant(name string) *Variant {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.variants[name]
	if !ok {
		v = NewVariant(name)
		g.variants[name] = v
	}
	return v
}

func (g *Graph) Lookup(name string) (*Variant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.variants[name]
	return v, ok
}

func (g *Graph) RemoveVariant(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.variants, name)
	observability.GraphModules.DeleteLabelValues(name)
	observability.GraphEdges.DeleteLabelValues(name)
}

// Variants returns every variant ordered by name.
func (g *Graph) Variants() []*Variant {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Variant, 0, len(g.variants))
	for _, v := range g.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Graph) ResetMetadata() {
	for _, v := range g.Variants() {
		v.ResetMetadata()
	}
}

// UpdateMetrics publishes module and edge counts per variant.
func (g *Graph) UpdateMetrics() {
	for _, v := range g.Variants() {
		observability.GraphModules.WithLabelValues(v.Name).Set(float64(len(v.Lookups)))
		observability.GraphEdges.WithLabelValues(v.Name).Set(float64(v.EdgeCount()))
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
