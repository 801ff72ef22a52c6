package job

import (
	"fmt"
	"slices"
	"strings"
)

// CycleError reports the jobs left unordered because they depend on each other.
type CycleError struct {
	Jobs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among jobs: %s", strings.Join(e.Jobs, ", "))
}

// Order sorts defs so every job comes after the dependencies it declares within defs.
// Dependencies outside defs are ignored. Ties are broken by name so the order is stable.
// A cycle returns *CycleError naming every job that could not be placed.
func Order(defs []Definition) ([]Definition, error) {
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name := range byName {
		indegree[name] = 0
	}
	for name, d := range byName {
		seen := make(map[string]bool, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			if _, ok := byName[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	ordered := make([]Definition, 0, len(byName))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		next := dependents[name]
		slices.Sort(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	if len(ordered) != len(byName) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		slices.Sort(stuck)
		return nil, &CycleError{Jobs: stuck}
	}
	return ordered, nil
}

func insertSorted(list []string, v string) []string {
	i, _ := slices.BinarySearch(list, v)
	return slices.Insert(list, i, v)
}
