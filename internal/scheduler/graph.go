package scheduler

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// Graph tracks unresolved dependencies for admitted tasks and the reverse
// adjacency needed to resolve dependents when a task terminates. Like the
// Table, it is owned exclusively by the scheduler loop.
type Graph struct {
	unresolved map[string]map[string]struct{} // task id -> unmet dependency ids
	dependents map[string][]string            // dependency id -> dependent task ids
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		unresolved: make(map[string]map[string]struct{}),
		dependents: make(map[string][]string),
	}
}

// CheckAdmission validates that admitting the staged tasks keeps the graph
// acyclic and every referenced dependency known. lookup resolves ids
// already in the task table; staged tasks may reference each other, which
// is how a batch declares intra-batch edges.
//
// Cycle detection runs a topological sort over the union of currently
// unresolved edges and every staged edge. Resolved dependencies cannot
// participate in a cycle (a terminal task never gains new dependencies),
// so the unresolved edge set is sufficient.
func (g *Graph) CheckAdmission(staged []*Task, known func(id string) bool) error {
	stagedIDs := make(map[string]struct{}, len(staged))
	for _, t := range staged {
		stagedIDs[t.ID] = struct{}{}
	}

	for _, t := range staged {
		for _, depID := range t.DependsOn {
			if depID == t.ID {
				return fmt.Errorf("task %q depends on itself: %w", t.ID, ErrCyclicDependency)
			}
			if _, inBatch := stagedIDs[depID]; inBatch {
				continue
			}
			if !known(depID) {
				return fmt.Errorf("task %q depends on unknown task %q: %w", t.ID, depID, ErrNotFound)
			}
		}
	}

	var edges []toposort.Edge
	for taskID, deps := range g.unresolved {
		for depID := range deps {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}
	for _, t := range staged {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}
	return nil
}

// Register admits a task whose edges have already passed CheckAdmission.
// resolved reports whether a dependency id is already satisfied
// (succeeded); only unmet dependencies enter the unresolved set.
func (g *Graph) Register(t *Task, resolved func(id string) bool) {
	unmet := make(map[string]struct{})
	for _, depID := range t.DependsOn {
		if resolved(depID) {
			continue
		}
		unmet[depID] = struct{}{}
		g.dependents[depID] = append(g.dependents[depID], t.ID)
	}
	g.unresolved[t.ID] = unmet
}

// Blocked reports whether a task still has unmet dependencies.
func (g *Graph) Blocked(id string) bool {
	return len(g.unresolved[id]) > 0
}

// OnTaskTerminal resolves a terminal outcome against all dependents.
//
// On success it removes id from each dependent's unresolved set and
// returns the ids that just became eligible. On failure or cancellation
// it walks the transitive dependent closure and returns it as the
// cancelled list instead: dependency failure is contagious and
// immediate, never retried on behalf of the dependent.
// Both lists are sorted for deterministic downstream processing.
func (g *Graph) OnTaskTerminal(id string, succeeded bool) (eligible, cancelled []string) {
	if succeeded {
		for _, depID := range g.dependents[id] {
			unmet, tracked := g.unresolved[depID]
			if !tracked {
				continue
			}
			delete(unmet, id)
			if len(unmet) == 0 {
				eligible = append(eligible, depID)
			}
		}
		delete(g.dependents, id)
		delete(g.unresolved, id)
		sort.Strings(eligible)
		return eligible, nil
	}

	// Failure cascade: collect the transitive dependent closure.
	seen := make(map[string]struct{})
	stack := append([]string(nil), g.dependents[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[next]; dup {
			continue
		}
		if _, tracked := g.unresolved[next]; !tracked {
			continue
		}
		seen[next] = struct{}{}
		stack = append(stack, g.dependents[next]...)
	}

	for depID := range seen {
		cancelled = append(cancelled, depID)
		delete(g.unresolved, depID)
	}
	delete(g.dependents, id)
	delete(g.unresolved, id)
	sort.Strings(cancelled)
	return nil, cancelled
}

// Drop removes a task from tracking without touching its dependents.
// Used when a task is cancelled directly; the cascade is handled by
// OnTaskTerminal on the same id.
func (g *Graph) Drop(id string) {
	delete(g.unresolved, id)
}
