package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectree/internal/worktype"
)

func item(id string, order int, deps ...string) worktype.WorkItem {
	return worktype.WorkItem{ID: id, ExecutionOrder: order, DependsOn: deps}
}

func TestBuild_LinearDependencyChain(t *testing.T) {
	items := []worktype.WorkItem{
		item("c", 3, "b"),
		item("a", 1),
		item("b", 2, "a"),
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, "a", plan.Phases[0].Items[0].ID)
	assert.Equal(t, "b", plan.Phases[1].Items[0].ID)
	assert.Equal(t, "c", plan.Phases[2].Items[0].ID)
	assert.Empty(t, plan.Warnings)
}

func TestBuild_ParallelGroupSharesPhase(t *testing.T) {
	items := []worktype.WorkItem{
		item("a", 1),
		{ID: "b", ExecutionOrder: 2, CanParallelize: true, ParallelGroup: "g1"},
		{ID: "c", ExecutionOrder: 2, CanParallelize: true, ParallelGroup: "g1"},
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 2)
	assert.Len(t, plan.Phases[1].Items, 2)
	assert.True(t, plan.Phases[1].Parallel)
}

func TestBuild_ParallelizableWithoutGroupSharesSyntheticBucket(t *testing.T) {
	items := []worktype.WorkItem{
		{ID: "a", ExecutionOrder: 1, CanParallelize: true},
		{ID: "b", ExecutionOrder: 1, CanParallelize: true},
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 1)
	assert.Len(t, plan.Phases[0].Items, 2)
	assert.True(t, plan.Phases[0].Parallel)
}

func TestBuild_SharedParallelGroupIgnoredWithoutCanParallelize(t *testing.T) {
	items := []worktype.WorkItem{
		{ID: "a", ExecutionOrder: 1, ParallelGroup: "g1"},
		{ID: "b", ExecutionOrder: 1, ParallelGroup: "g1"},
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 2)
	assert.Len(t, plan.Phases[0].Items, 1)
	assert.Len(t, plan.Phases[1].Items, 1)
}

func TestBuild_PhaseComplexityIsMaxOfMembers(t *testing.T) {
	items := []worktype.WorkItem{
		{ID: "a", ExecutionOrder: 1, CanParallelize: true, ParallelGroup: "g1", Complexity: worktype.ComplexityTrivial},
		{ID: "b", ExecutionOrder: 1, CanParallelize: true, ParallelGroup: "g1", Complexity: worktype.ComplexityModerate},
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, worktype.ComplexityModerate, plan.Phases[0].EstimatedComplexity)
}

func TestBuild_UnknownDependencyTreatedAsSatisfied(t *testing.T) {
	items := []worktype.WorkItem{
		item("a", 1, "outside-the-plan"),
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "a", plan.Phases[0].Items[0].ID)
}

func TestBuild_CycleFlushesWithWarning(t *testing.T) {
	items := []worktype.WorkItem{
		item("a", 1, "b"),
		item("b", 2, "a"),
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 1)
	assert.Len(t, plan.Phases[0].Items, 2)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "cycle")
}

func TestBuild_EmptyPlan(t *testing.T) {
	plan := Build("epic-1", nil)
	assert.Empty(t, plan.Phases)
	assert.Equal(t, 0, plan.TotalItems())
}

func TestBuild_StableOrderWithinSameExecutionOrder(t *testing.T) {
	items := []worktype.WorkItem{
		item("z", 1),
		item("y", 1),
		item("x", 1),
	}
	plan := Build("epic-1", items)
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, "z", plan.Phases[0].Items[0].ID)
	assert.Equal(t, "y", plan.Phases[1].Items[0].ID)
	assert.Equal(t, "x", plan.Phases[2].Items[0].ID)
}
