// Package planner builds an ExecutionPlan from a flat list of WorkItems
// (C5). The teacher computes phase/task eligibility by querying a
// Datalog kernel (internal/campaign/orchestrator_phases.go's
// kernel.Query("eligible_task")); this core has no logic-program engine
// in scope, so eligibility is computed directly with the deterministic
// algorithm spec.md §4.5 prescribes: stable sort by execution order,
// iterative ready-set computation (unknown/out-of-plan dependencies are
// treated as already satisfied), partition into parallel-group buckets,
// and a best-effort cycle flush that is reported as a warning rather than
// a hard failure (see DESIGN.md Open Question 1).
package planner

import (
	"sort"

	"spectree/internal/worktype"
)

// Build produces an ExecutionPlan for epicID from items, which may be any
// mix of epics/features/tasks already belonging to that epic.
func Build(epicID string, items []worktype.WorkItem) worktype.ExecutionPlan {
	plan := worktype.ExecutionPlan{EpicID: epicID}

	ordered := make([]worktype.WorkItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutionOrder < ordered[j].ExecutionOrder
	})

	known := make(map[string]bool, len(ordered))
	for _, it := range ordered {
		known[it.ID] = true
	}

	done := make(map[string]bool, len(ordered))
	remaining := ordered

	for len(remaining) > 0 {
		ready, notReady := splitReady(remaining, known, done)

		if len(ready) == 0 {
			// Every remaining item depends (directly or transitively) on
			// another remaining item: a cycle. Flush everything left as
			// one best-effort phase so the run can still make progress,
			// and record a warning — this may place items out of their
			// declared dependency order.
			plan.Warnings = append(plan.Warnings, cycleWarning(remaining))
			plan.Phases = append(plan.Phases, phaseFor(len(plan.Phases), remaining))
			for _, it := range remaining {
				done[it.ID] = true
			}
			break
		}

		for _, group := range bucketByParallelGroup(ready) {
			plan.Phases = append(plan.Phases, phaseFor(len(plan.Phases), group))
		}
		for _, it := range ready {
			done[it.ID] = true
		}
		remaining = notReady
	}

	return plan
}

// splitReady partitions items into those whose dependencies are all
// already done (or unknown to this plan, which counts as satisfied) and
// those that must wait.
func splitReady(items []worktype.WorkItem, known, done map[string]bool) (ready, notReady []worktype.WorkItem) {
	for _, it := range items {
		if allSatisfied(it.DependsOn, known, done) {
			ready = append(ready, it)
		} else {
			notReady = append(notReady, it)
		}
	}
	return ready, notReady
}

func allSatisfied(deps []string, known, done map[string]bool) bool {
	for _, dep := range deps {
		if !known[dep] {
			// Dependency isn't part of this plan at all; spec.md §4.5
			// treats out-of-plan dependencies as already satisfied.
			continue
		}
		if !done[dep] {
			return false
		}
	}
	return true
}

// syntheticParallelGroup is the bucketing key used for items with
// CanParallelize=true but no declared ParallelGroup, per spec.md §4.5c.
const syntheticParallelGroup = "__parallel__"

// bucketByParallelGroup splits one ready set into phases per spec.md
// §4.5c: items with CanParallelize=true share a bucket keyed by their
// ParallelGroup (or the synthetic group when none is declared); items
// with CanParallelize=false each get their own singleton bucket,
// regardless of any ParallelGroup they happen to carry.
func bucketByParallelGroup(ready []worktype.WorkItem) [][]worktype.WorkItem {
	var buckets [][]worktype.WorkItem
	groupIndex := map[string]int{}

	for _, it := range ready {
		if !it.CanParallelize {
			buckets = append(buckets, []worktype.WorkItem{it})
			continue
		}
		key := it.ParallelGroup
		if key == "" {
			key = syntheticParallelGroup
		}
		if idx, ok := groupIndex[key]; ok {
			buckets[idx] = append(buckets[idx], it)
			continue
		}
		groupIndex[key] = len(buckets)
		buckets = append(buckets, []worktype.WorkItem{it})
	}
	return buckets
}

func phaseFor(index int, items []worktype.WorkItem) worktype.Phase {
	var complexity worktype.Complexity
	for _, it := range items {
		complexity = complexity.Max(it.Complexity)
	}
	return worktype.Phase{
		Index:               index,
		Items:               items,
		Parallel:            len(items) > 1,
		EstimatedComplexity: complexity,
	}
}

func cycleWarning(stuck []worktype.WorkItem) string {
	ids := make([]string, 0, len(stuck))
	for _, it := range stuck {
		ids = append(ids, it.ID)
	}
	return "dependency cycle detected among work items " + joinIDs(ids) + "; flushed as a single best-effort phase, which may violate declared ordering"
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
