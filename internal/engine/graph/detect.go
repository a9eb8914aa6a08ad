package graph

import "sort"

// ImportChain returns the shortest import path from one module to another
// within the variant, following imports breadth-first with neighbours visited
// in path order so the answer is deterministic.
func (v *Variant) ImportChain(from, to string) ([]string, bool) {
	if _, ok := v.Lookups[from]; !ok {
		return nil, false
	}
	if _, ok := v.Lookups[to]; !ok {
		return nil, false
	}
	if from == to {
		return []string{from}, true
	}

	queue := []string{from}
	visited := map[string]bool{from: true}
	prev := make(map[string]string)

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		neighbors := make([]string, 0, len(v.Lookups[curr].Imports))
		for _, imp := range v.Lookups[curr].Imports {
			neighbors = append(neighbors, imp.Node.ResolvedPath)
		}
		sort.Strings(neighbors)

		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = curr

			if next == to {
				path := []string{to}
				for node := to; node != from; {
					node = prev[node]
					path = append(path, node)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

// ExplainInclusion returns, for each root that reaches path, the import chain
// from the root's module to path. Keys are root module paths.
func (v *Variant) ExplainInclusion(path string) map[string][]string {
	out := make(map[string][]string)
	for _, root := range v.RootsReaching([]string{path}) {
		if chain, ok := v.ImportChain(root.Module.ResolvedPath, path); ok {
			out[root.Module.ResolvedPath] = chain
		}
	}
	return out
}
