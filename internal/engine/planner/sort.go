package planner

import (
	"packt/internal/core/errors"
	"packt/internal/engine/graph"
)

type frame struct {
	module *graph.Module
	next   int
}

// topoSort orders every module of v dependencies first, using an explicit
// stack and the InProgress/Done marks on each module. Reaching an InProgress
// module is a cycle.
func topoSort(v *graph.Variant) ([]*graph.Module, error) {
	modules := v.Modules()
	sorted := make([]*graph.Module, 0, len(modules))

	for _, start := range modules {
		if start.Meta.Visit != graph.Unvisited {
			continue
		}
		start.Meta.Visit = graph.InProgress
		stack := []frame{{module: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.module.Imports) {
				child := top.module.Imports[top.next].Node
				top.next++
				switch child.Meta.Visit {
				case graph.InProgress:
					return nil, cycleError(v.Name, stack, child)
				case graph.Unvisited:
					child.Meta.Visit = graph.InProgress
					stack = append(stack, frame{module: child})
				}
				continue
			}

			top.module.Meta.Visit = graph.Done
			sorted = append(sorted, top.module)
			stack = stack[:len(stack)-1]
		}
	}
	return sorted, nil
}

func cycleError(variant string, stack []frame, reentered *graph.Module) error {
	start := 0
	for i, f := range stack {
		if f.module == reentered {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		cycle = append(cycle, f.module.ResolvedPath)
	}
	cycle = append(cycle, reentered.ResolvedPath)
	return &errors.CycleError{Variant: variant, Cycle: cycle}
}
