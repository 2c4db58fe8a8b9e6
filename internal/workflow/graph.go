package workflow

import (
	"fmt"

	"github.com/wealth-ops/filing-engine/internal/database"
)

// validateGraph checks that every dependency references an existing step and
// that the dependency relation is acyclic. Cycle detection is a Kahn
// topological sort: if the sort cannot consume every step, the remainder
// forms at least one cycle.
func validateGraph(steps database.StepList) error {
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.StepID == "" {
			return fmt.Errorf("step %d has an empty step_id", i)
		}
		if _, dup := index[step.StepID]; dup {
			return fmt.Errorf("duplicate step_id %q", step.StepID)
		}
		index[step.StepID] = i
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if _, exists := index[dep]; !exists {
				return fmt.Errorf("step %q depends on unknown step %q", step.StepID, dep)
			}
			if dep == step.StepID {
				return fmt.Errorf("step %q depends on itself", step.StepID)
			}
		}
	}

	if order := topologicalOrder(steps); len(order) != len(steps) {
		return fmt.Errorf("step dependencies contain a cycle")
	}
	return nil
}

// topologicalOrder returns the step ids in Kahn order, preserving template
// declaration order among steps whose dependencies are simultaneously
// satisfied. Steps on a cycle are omitted.
func topologicalOrder(steps database.StepList) []string {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		indegree[step.StepID] = len(step.Dependencies)
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], step.StepID)
		}
	}

	order := make([]string, 0, len(steps))
	done := make(map[string]bool, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for _, step := range steps {
			if done[step.StepID] || indegree[step.StepID] != 0 {
				continue
			}
			done[step.StepID] = true
			order = append(order, step.StepID)
			for _, succ := range dependents[step.StepID] {
				indegree[succ]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}

// unmetDependencies returns the dependencies of the step that are not yet
// completed or skipped.
func unmetDependencies(step *database.WorkflowStep, status database.StepStatusMap) []string {
	var unmet []string
	for _, dep := range step.Dependencies {
		state, exists := status[dep]
		if !exists || (state.Status != database.StepStatusCompleted && state.Status != database.StepStatusSkipped) {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// nextEligibleStep returns the first pending step, in topological order,
// whose dependencies are all satisfied. Returns nil when no step is
// currently eligible.
func nextEligibleStep(tpl *database.WorkflowTemplate, status database.StepStatusMap) *database.WorkflowStep {
	for _, stepID := range topologicalOrder(tpl.Steps) {
		state, exists := status[stepID]
		if !exists || state.Status != database.StepStatusPending {
			continue
		}
		step := tpl.Step(stepID)
		if step != nil && len(unmetDependencies(step, status)) == 0 {
			return step
		}
	}
	return nil
}
