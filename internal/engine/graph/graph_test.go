package graph

import (
	"reflect"
	"testing"

	"packt/internal/core/errors"
)

// buildVariant wires modules named by path with the given edges.
func buildVariant(t *testing.T, name string, edges map[string][]string) *Variant {
	t.Helper()
	v := NewVariant(name)
	ensure := func(path string) *Module {
		if m, ok := v.Lookup(path); ok {
			return m
		}
		return v.AddModule(&Module{ResolvedPath: path})
	}
	for from, targets := range edges {
		ensure(from)
		for _, to := range targets {
			ensure(to)
		}
	}
	for _, from := range sortedKeys(edges) {
		for _, to := range edges[from] {
			if err := v.AddImport(v.Lookups[from], "./"+to, v.Lookups[to]); err != nil {
				t.Fatalf("AddImport(%s, %s): %v", from, to, err)
			}
		}
	}
	return v
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func TestVariant_AddModuleIsIdempotent(t *testing.T) {
	v := NewVariant("default")
	a := v.AddModule(&Module{ResolvedPath: "/a.js"})
	again := v.AddModule(&Module{ResolvedPath: "/a.js", ScopeID: "other"})
	b := v.AddModule(&Module{ResolvedPath: "/b.js"})

	if a != again {
		t.Fatal("expected AddModule to return the existing module")
	}
	if a.Index != 0 || b.Index != 1 {
		t.Fatalf("expected dense indexes 0,1 got %d,%d", a.Index, b.Index)
	}
}

func TestVariant_AddImportRejectsForeignModules(t *testing.T) {
	v := NewVariant("default")
	a := v.AddModule(&Module{ResolvedPath: "/a.js"})
	foreign := &Module{ResolvedPath: "/b.js"}

	err := v.AddImport(a, "./b", foreign)
	if !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVariant_ValidateDetectsDanglingEdge(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{"a": {"b"}})
	if err := v.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}

	// Simulate an edge to a module that was dropped without cleanup.
	delete(v.Lookups, "b")
	if err := v.Validate(); !errors.IsCode(err, errors.CodeValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVariant_RemoveModuleDropsEdgesAndRoots(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{"a": {"b", "c"}, "b": {"c"}})
	v.SetRoot("./b", v.Lookups["b"], "home")

	v.RemoveModule("b")
	if _, ok := v.Lookup("b"); ok {
		t.Fatal("expected b removed")
	}
	if len(v.Lookups["a"].Imports) != 1 || v.Lookups["a"].Imports[0].Node.ResolvedPath != "c" {
		t.Fatalf("expected a -> c only, got %+v", v.Lookups["a"].Imports)
	}
	if len(v.Roots) != 0 {
		t.Fatalf("expected root removed, got %v", v.Roots)
	}
	if err := v.Validate(); err != nil {
		t.Fatalf("expected valid graph after removal, got %v", err)
	}
}

func TestVariant_SetRootMergesBundles(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{"a": nil})
	v.SetRoot("./a", v.Lookups["a"], "home")
	v.SetRoot("./a.js", v.Lookups["a"], "about", "home")

	if len(v.Roots) != 1 {
		t.Fatalf("expected one root, got %d", len(v.Roots))
	}
	if got := v.Roots["a"].Bundles; !reflect.DeepEqual(got, []string{"about", "home"}) {
		t.Fatalf("unexpected root bundles %v", got)
	}
}

func TestVariant_PruneUnreachable(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"entry":  {"lib"},
		"orphan": {"lib", "gone"},
	})
	v.SetRoot("./entry", v.Lookups["entry"], "home")

	removed := v.Prune()
	if !reflect.DeepEqual(removed, []string{"gone", "orphan"}) {
		t.Fatalf("unexpected pruned set %v", removed)
	}
	if len(v.Lookups) != 2 {
		t.Fatalf("expected entry and lib to remain, got %d modules", len(v.Lookups))
	}
	if err := v.Validate(); err != nil {
		t.Fatalf("expected valid graph after prune, got %v", err)
	}
}

func TestVariant_RootsReaching(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"home":  {"util", "home-only"},
		"about": {"util"},
		"util":  {"deep"},
	})
	v.SetRoot("./home", v.Lookups["home"], "home")
	v.SetRoot("./about", v.Lookups["about"], "about")

	names := func(roots []*Root) []string {
		var out []string
		for _, r := range roots {
			out = append(out, r.Module.ResolvedPath)
		}
		return out
	}

	if got := names(v.RootsReaching([]string{"deep"})); !reflect.DeepEqual(got, []string{"about", "home"}) {
		t.Fatalf("expected both roots, got %v", got)
	}
	if got := names(v.RootsReaching([]string{"home-only"})); !reflect.DeepEqual(got, []string{"home"}) {
		t.Fatalf("expected only home, got %v", got)
	}
	if got := v.RootsReaching([]string{"unknown"}); len(got) != 0 {
		t.Fatalf("expected no roots, got %v", got)
	}
}

func TestVariant_ResetMetadata(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{"a": {"b"}})
	for _, m := range v.Lookups {
		m.Meta.Bundles.Add(3)
		m.Meta.Visit = Done
	}
	v.ResetMetadata()
	for _, m := range v.Lookups {
		if !m.Meta.Bundles.Empty() || m.Meta.Visit != Unvisited {
			t.Fatalf("expected cleared metadata on %s", m.ResolvedPath)
		}
	}
}

func TestGraph_Variants(t *testing.T) {
	g := NewGraph()
	prod := g.Variant("prod")
	g.Variant("dev")
	if g.Variant("prod") != prod {
		t.Fatal("expected Variant to return the existing variant")
	}

	vs := g.Variants()
	if len(vs) != 2 || vs[0].Name != "dev" || vs[1].Name != "prod" {
		t.Fatalf("unexpected variant order %v", vs)
	}

	g.RemoveVariant("dev")
	if _, ok := g.Lookup("dev"); ok {
		t.Fatal("expected dev removed")
	}
}

func TestModule_ImportMap(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{"a": {"b"}})
	v.Lookups["b"].ScopeID = "1"
	got := v.Lookups["a"].ImportMap()
	if !reflect.DeepEqual(got, map[string]string{"./b": "1"}) {
		t.Fatalf("unexpected import map %v", got)
	}
}

func TestVariant_ImportChain(t *testing.T) {
	v := buildVariant(t, "default", map[string][]string{
		"a": {"c", "b"},
		"b": {"d"},
		"c": {"d"},
		"d": {"e"},
	})

	chain, ok := v.ImportChain("a", "e")
	if !ok {
		t.Fatal("expected chain a -> e")
	}
	if !reflect.DeepEqual(chain, []string{"a", "b", "d", "e"}) {
		t.Fatalf("expected deterministic shortest chain, got %v", chain)
	}
	if _, ok := v.ImportChain("e", "a"); ok {
		t.Fatal("expected no reverse chain")
	}

	v.SetRoot("./a", v.Lookups["a"], "home")
	why := v.ExplainInclusion("d")
	if !reflect.DeepEqual(why["a"], []string{"a", "b", "d"}) {
		t.Fatalf("unexpected explanation %v", why)
	}
}
