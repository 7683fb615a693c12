// Package scheduler implements the pure graph algorithms behind the
// Dependency Scheduler: transitive-closure target expansion, dangling-
// dependency validation, and Kahn's-algorithm topological ordering with
// cycle detection. It knows nothing about processes, the log store, or
// the event bus; internal/supervisor drives a runnable.Instance through
// the order this package computes.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/corral-dev/corral/internal/model"
)

// Expand computes the transitive closure of ids over dependsOn via BFS,
// per §4.4's "Expansion" step. Unknown ids are passed through unchanged;
// ValidateDeps rejects a dependency that names no definition.
func Expand(cfg model.Config, ids []string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for _, id := range ids {
		seen[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		def, ok := cfg.Runnables[id]
		if !ok {
			continue
		}
		for _, dep := range def.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ValidateDeps checks that every dependency of every id in the set S
// names a valid definition in the full config, not merely a member of S.
func ValidateDeps(cfg model.Config, s []string) error {
	for _, id := range s {
		def, ok := cfg.Runnables[id]
		if !ok {
			continue
		}
		for _, dep := range def.DependsOn {
			if _, ok := cfg.Runnables[dep]; !ok {
				return fmt.Errorf("%w: %s depends on unknown service %s (known: %v)",
					model.ErrDanglingDependency, id, dep, cfg.KnownIDs())
			}
		}
	}
	return nil
}

// TopoSort orders s by Kahn's algorithm, restricted to edges whose both
// endpoints are in s. Returns model.ErrDependencyCycle naming the
// undrained ids if the queue empties before the set is exhausted.
func TopoSort(cfg model.Config, s []string) ([]string, error) {
	inSet := make(map[string]bool, len(s))
	for _, id := range s {
		inSet[id] = true
	}

	indegree := make(map[string]int, len(s))
	dependents := make(map[string][]string) // dep -> ids that depend on it
	for _, id := range s {
		indegree[id] = 0
	}
	for _, id := range s {
		def := cfg.Runnables[id]
		for _, dep := range def.DependsOn {
			if !inSet[dep] {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range s {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(s) {
		remaining := make([]string, 0, len(s)-len(order))
		done := make(map[string]bool, len(order))
		for _, id := range order {
			done[id] = true
		}
		for _, id := range s {
			if !done[id] {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("%w: %v", model.ErrDependencyCycle, remaining)
	}
	return order, nil
}
