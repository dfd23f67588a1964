package registry

import (
	"sort"
	"strings"
)

// partitionWaves runs Kahn's algorithm over the dependency graph, grouping
// services whose predecessors are all satisfied by earlier waves. A non-empty
// remainder after the sort means the graph has a cycle.
func partitionWaves(specs []Spec) ([][]Spec, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	byID := make(map[string]Spec, len(specs))

	for _, spec := range specs {
		byID[spec.ID] = spec
		indegree[spec.ID] += 0
		for _, dep := range spec.DependsOn {
			indegree[spec.ID]++
			dependents[dep] = append(dependents[dep], spec.ID)
		}
	}

	ready := make([]string, 0, len(specs))
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	waves := make([][]Spec, 0)
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		wave := make([]Spec, 0, len(ready))
		next := make([]string, 0)
		for _, id := range ready {
			wave = append(wave, byID[id])
			placed++
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		waves = append(waves, wave)
		ready = next
	}

	if placed != len(specs) {
		stuck := make([]string, 0)
		for id, degree := range indegree {
			if degree > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, configErrorf("dependency cycle involving: %s", strings.Join(stuck, ", "))
	}

	return waves, nil
}
