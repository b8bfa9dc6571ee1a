// Package worktype holds the data model shared by every orchestration
// component: the hierarchical work plan, agent pool entries, and the
// checkpointed execution state.
package worktype

import (
	"encoding/json"
	"time"
)

// Kind identifies where a WorkItem sits in the epic/feature/task hierarchy.
type Kind string

const (
	KindEpic    Kind = "epic"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
)

// Status is the closed set of lifecycle states a WorkItem can occupy.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether a status will never transition again without
// outside intervention (retry, resume).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// FailurePolicy controls how the orchestrator reacts when a WorkItem ends
// in StatusFailed.
type FailurePolicy string

const (
	FailFast      FailurePolicy = "fail_fast"
	ContinueOnErr FailurePolicy = "continue"
	RetryUpTo     FailurePolicy = "retry_up_to"
)

// Complexity is the closed sum type spec.md §9's Design Notes require for
// every JSON-anchored enum: unmarshaling normalizes any string outside
// the known set to ComplexityUnknown rather than passing it through,
// and an absent/empty value stays ComplexityNone ("no estimate") rather
// than colliding with Unknown.
type Complexity string

const (
	ComplexityNone     Complexity = ""
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityUnknown  Complexity = "unknown"
)

var complexityRank = map[Complexity]int{
	ComplexityNone:     0,
	ComplexityTrivial:  1,
	ComplexitySimple:   2,
	ComplexityModerate: 3,
	ComplexityComplex:  4,
	ComplexityUnknown:  5,
}

func (c Complexity) rank() int {
	if r, ok := complexityRank[c]; ok {
		return r
	}
	return complexityRank[ComplexityUnknown]
}

// Max returns the greater of c and other under trivial<simple<moderate<complex,
// with ComplexityNone sorting below every named value and ComplexityUnknown
// above all of them so it is never silently hidden by a lesser estimate.
func (c Complexity) Max(other Complexity) Complexity {
	if other.rank() > c.rank() {
		return other
	}
	return c
}

// UnmarshalJSON normalizes any string outside the closed set to
// ComplexityUnknown instead of letting it pass through unvalidated.
func (c *Complexity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Complexity(s) {
	case ComplexityNone, ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex:
		*c = Complexity(s)
	default:
		*c = ComplexityUnknown
	}
	return nil
}

// WorkItem is a single node of the plan — an epic, feature, or task
// retrieved from the planning service.
type WorkItem struct {
	ID              string        `json:"id"`
	Kind            Kind          `json:"kind"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	ParentID        string        `json:"parentId,omitempty"`
	DependsOn       []string      `json:"dependsOn,omitempty"`
	CanParallelize  bool          `json:"canParallelize,omitempty"`
	ParallelGroup   string        `json:"parallelGroup,omitempty"`
	ExecutionOrder  int           `json:"executionOrder"`
	Complexity      Complexity    `json:"estimatedComplexity,omitempty"`
	Status          Status        `json:"status"`
	Assignee        string        `json:"assignee,omitempty"`
	StatusRef       string        `json:"statusRef,omitempty"`
	FailurePolicy   FailurePolicy `json:"failurePolicy,omitempty"`
	MaxRetries      int           `json:"maxRetries,omitempty"`
	Attempts        int           `json:"attempts"`
	LastError       string        `json:"lastError,omitempty"`
	Cwd             string        `json:"cwd,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Phase is one wave of the execution plan: a set of WorkItems that are all
// ready to run concurrently once their dependencies are satisfied.
type Phase struct {
	Index               int        `json:"index"`
	Items               []WorkItem `json:"items"`
	Parallel            bool       `json:"parallel"`
	EstimatedComplexity Complexity `json:"estimatedComplexity,omitempty"`
}

// ExecutionPlan is the ordered output of the planner (C5): a sequence of
// phases to run strictly in order, each phase's items runnable
// concurrently.
type ExecutionPlan struct {
	EpicID   string   `json:"epicId"`
	Phases   []Phase  `json:"phases"`
	Warnings []string `json:"warnings,omitempty"`
}

// TotalItems counts every WorkItem across every phase.
func (p *ExecutionPlan) TotalItems() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Items)
	}
	return n
}

// AgentActivity is a live descriptor of what an agent is currently doing,
// updated as subprocess stream events arrive.
type AgentActivity struct {
	CurrentFile          string `json:"currentFile,omitempty"`
	CurrentTool          string `json:"currentTool,omitempty"`
	LastReasoningExcerpt string `json:"lastReasoningExcerpt,omitempty"`
}

// AgentState is the pool-visible lifecycle of one worker.
type AgentState string

const (
	AgentIdle      AgentState = "idle"
	AgentSpawning  AgentState = "spawning"
	AgentWorking   AgentState = "working"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// Agent is a pool entry: one subprocess assigned to one WorkItem, owned
// exclusively by the orchestrator's in-memory pool map (§4.6).
type Agent struct {
	ID        string        `json:"id"`
	WorkItem  string        `json:"workItemId"`
	State     AgentState    `json:"state"`
	Progress  int           `json:"progress"`
	Activity  AgentActivity `json:"activity"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
}

// RetryAttempt records a single retry decision for auditing.
type RetryAttempt struct {
	WorkItemID  string        `json:"workItemId"`
	Attempt     int           `json:"attempt"`
	At          time.Time     `json:"at"`
	Error       string        `json:"error,omitempty"`
	NextDelay   time.Duration `json:"nextDelay,omitempty"`
	TotalTimeMs int64         `json:"totalTimeMs,omitempty"`
}
