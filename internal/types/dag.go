package types

import (
	"fmt"
	"sort"

	"goa.design/workflowcore/internal/workflowerrors"
)

// referencedIDs returns every step id referenced from s's dependency and
// variant-payload edges (dependencies, thenSteps/elseSteps, stepIds,
// bodySteps), used to check Invariant S2 (every referenced id resolves to a
// step in the same workflow).
func (s Step) referencedIDs() []string {
	var ids []string
	ids = append(ids, s.Dependencies...)
	if s.Conditional != nil {
		ids = append(ids, s.Conditional.ThenSteps...)
		ids = append(ids, s.Conditional.ElseSteps...)
	}
	if s.Parallel != nil {
		ids = append(ids, s.Parallel.StepIDs...)
	}
	if s.Loop != nil {
		ids = append(ids, s.Loop.BodySteps...)
	}
	return ids
}

// ValidateDAG checks Invariant S2 (every referenced id resolves, no direct
// self-dependency) and reports dependency cycles found via Kahn's
// algorithm over the dependencies edges only (thenSteps/elseSteps/stepIds/
// bodySteps are structural groupings, not scheduling edges, and are allowed
// to reference steps without introducing a cycle through this check).
func ValidateDAG(steps []Step) error {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		index[s.ID] = i
	}

	for _, s := range steps {
		for _, ref := range s.referencedIDs() {
			if _, ok := index[ref]; !ok {
				return &workflowerrors.PlanValidationError{
					Message: fmt.Sprintf("step %q references unknown step id %q", s.ID, ref),
				}
			}
		}
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				return &workflowerrors.PlanValidationError{
					Message: fmt.Sprintf("step %q depends on itself", s.ID),
				}
			}
		}
	}

	if cycle := findCycle(steps); len(cycle) > 0 {
		return &workflowerrors.PlanValidationError{
			Message: "dependency cycle detected",
			Cycle:   cycle,
		}
	}
	return nil
}

// findCycle returns the step ids left unresolved by dependency cycles
// (sorted alphabetically), or nil if the dependencies graph is acyclic. Uses Kahn's
// algorithm: topologically peel steps with in-degree zero; every id left
// unprocessed is returned, which includes both the steps on a cycle and the
// steps that depend on one.
func findCycle(steps []Step) []string {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
		for _, dep := range s.Dependencies {
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		next := append([]string(nil), dependents[cur]...)
		sort.Strings(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if processed == len(steps) {
		return nil
	}

	var stuck []string
	for id, deg := range inDegree {
		if deg > 0 {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return stuck
}
