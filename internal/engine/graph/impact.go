package graph

import "sort"

// ImpactReport lists the modules affected by a change to one module.
type ImpactReport struct {
	TargetPath          string
	DirectImporters     []string
	TransitiveImporters []string
}

// importedBy inverts the import edges of v.
func (v *Variant) importedBy() map[string][]string {
	out := make(map[string][]string, len(v.Lookups))
	for _, m := range v.Lookups {
		for _, imp := range m.Imports {
			if imp.Node != nil {
				out[imp.Node.ResolvedPath] = append(out[imp.Node.ResolvedPath], m.ResolvedPath)
			}
		}
	}
	return out
}

// Importers returns the modules of v importing path directly, sorted. path
// need not be in v; edges into a deleted module still name it.
func (v *Variant) Importers(path string) []string {
	direct := v.importedBy()[path]
	sort.Strings(direct)
	return direct
}

// AnalyzeImpact walks importer edges from path and splits the affected modules
// into direct and transitive importers.
func (v *Variant) AnalyzeImpact(path string) ImpactReport {
	importedBy := v.importedBy()
	report := ImpactReport{TargetPath: path}

	direct := append([]string(nil), importedBy[path]...)
	sort.Strings(direct)
	report.DirectImporters = direct

	seen := map[string]bool{path: true}
	for _, p := range direct {
		seen[p] = true
	}
	queue := append([]string(nil), direct...)
	transitive := make([]string, 0)
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, next := range importedBy[curr] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
			transitive = append(transitive, next)
		}
	}
	sort.Strings(transitive)
	report.TransitiveImporters = transitive
	return report
}
