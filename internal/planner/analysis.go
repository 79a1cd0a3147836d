package planner

import "strings"

// categorizeSubTask buckets a subtask by inferred category, grounded
// on supervisor/planner.go's categorizeTask keyword heuristic,
// generalized from workflow-task titles/descriptions to SubTask
// descriptions/expected outcomes.
func categorizeSubTask(st *SubTask) string {
	combined := strings.ToLower(st.Description + " " + st.ExpectedOutcome)

	switch {
	case strings.Contains(combined, "fix") || strings.Contains(combined, "bug"):
		return "bugfix"
	case strings.Contains(combined, "test") || strings.Contains(combined, "qa"):
		return "testing"
	case strings.Contains(combined, "doc") || strings.Contains(combined, "readme"):
		return "documentation"
	case strings.Contains(combined, "refactor") || strings.Contains(combined, "cleanup"):
		return "refactoring"
	default:
		return "implementation"
	}
}

// complexityPoints mirrors supervisor/planner.go's priority-to-score
// weighting, applied to SubTask.Complexity instead of Task.Priority.
var complexityPoints = map[Complexity]int{
	ComplexitySimple:   1,
	ComplexityModerate: 2,
	ComplexityComplex:  4,
}

// AnalyzePlan buckets plan's subtasks by category and computes an
// aggregate complexity score, per SPEC_FULL.md's supplemented
// "deployment-style task analysis" feature. The result populates
// ExecutionPlan.Strategy for reporting; the ReAct retry budget
// (retryBudget, spec.md §4.5 step 6) depends on subtask priority alone
// and does not read it.
func AnalyzePlan(plan *ExecutionPlan) Strategy {
	strategy := Strategy{
		CategoryBreakdown: make(map[string]int),
	}

	groups := parallelGroups(plan.SubTasks)
	strategy.ParallelGroups = groups
	parallel := false
	for _, g := range groups {
		if len(g) > 1 {
			parallel = true
		}
	}
	if parallel {
		strategy.Ordering = "partially parallel: independent subtasks grouped by dependency depth"
	} else {
		strategy.Ordering = "sequential: each subtask depends (directly or transitively) on the last"
	}

	for _, st := range plan.SubTasks {
		strategy.CategoryBreakdown[categorizeSubTask(st)]++
		strategy.ComplexityScore += complexityPoints[st.Complexity]
		if st.Priority == PriorityCritical && len(st.Dependencies) == 0 {
			strategy.RiskNotes = append(strategy.RiskNotes,
				"CRITICAL subtask \""+st.Description+"\" has no declared dependencies; verify ordering is intentional")
		}
	}
	return strategy
}

// parallelGroups buckets subtask ids into dependency-depth layers:
// layer 0 has no dependencies, layer N depends only on ids in layers
// < N. Subtasks within the same layer have no ordering constraint
// between them and may run concurrently.
func parallelGroups(subtasks []*SubTask) [][]string {
	depth := make(map[string]int, len(subtasks))
	byID := make(map[string]*SubTask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	var resolve func(id string, visiting map[string]bool) int
	resolve = func(id string, visiting map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		st, ok := byID[id]
		if !ok || visiting[id] {
			return 0
		}
		visiting[id] = true
		max := -1
		for _, dep := range st.Dependencies {
			if d := resolve(dep, visiting); d > max {
				max = d
			}
		}
		depth[id] = max + 1
		return depth[id]
	}

	var maxDepth int
	for _, st := range subtasks {
		d := resolve(st.ID, map[string]bool{})
		if d > maxDepth {
			maxDepth = d
		}
	}

	groups := make([][]string, maxDepth+1)
	for _, st := range subtasks {
		d := depth[st.ID]
		groups[d] = append(groups[d], st.ID)
	}
	return groups
}
