// Package errkind defines the closed error taxonomy used across every
// orchestration component, grounded on the teacher's RateLimitError
// pattern in internal/perception/claude_cli_client.go: a typed struct
// implementing error, designed to be matched with errors.As rather than
// string comparison.
package errkind

import "fmt"

// Kind is the closed set of error categories named in the orchestration
// core's error-handling design.
type Kind string

const (
	AuthMissing Kind = "auth_missing"
	AuthInvalid Kind = "auth_invalid"
	AuthExpired Kind = "auth_expired"

	NetworkConnection Kind = "network_connection"
	NetworkTimeout    Kind = "network_timeout"
	NetworkServer     Kind = "network_server"
	RateLimited       Kind = "rate_limited"

	PlanningValidation Kind = "planning_validation"
	PlanningNotFound   Kind = "planning_not_found"
	PlanningConflict   Kind = "planning_conflict"

	AgentSpawn     Kind = "agent_spawn"
	AgentTimeout   Kind = "agent_timeout"
	AgentInactive  Kind = "agent_inactive"
	AgentExecution Kind = "agent_execution"

	CheckpointCorrupted      Kind = "checkpoint_corrupted"
	CheckpointVersionMismatch Kind = "checkpoint_version_mismatch"
	CheckpointExpired        Kind = "checkpoint_expired"
	CheckpointIO             Kind = "checkpoint_io"

	Cycle     Kind = "cycle"
	Cancelled Kind = "cancelled"
	Config    Kind = "config"
)

// Severity governs what happens to an Error once C1 is done with it —
// either it was never retryable, or retries were exhausted. This is a
// separate axis from whether C1 should retry the error in the first
// place (see Retryable): a kind can be retryable yet still run_fatal once
// the retry budget is spent (a planning 5xx that never recovers), or
// non-retryable yet only item_recoverable (an agent spawn failure is
// fatal to its one WorkItem, not to the whole run).
type Severity string

const (
	// SeverityRunFatal means the whole run must stop.
	SeverityRunFatal Severity = "run_fatal"
	// SeverityItemRecoverable means only the owning WorkItem fails; the
	// rest of the run continues per its failure policy.
	SeverityItemRecoverable Severity = "item_recoverable"
)

var defaultSeverity = map[Kind]Severity{
	AuthMissing:               SeverityRunFatal,
	AuthInvalid:                SeverityRunFatal,
	AuthExpired:                SeverityRunFatal,
	NetworkConnection:          SeverityRunFatal,
	NetworkTimeout:             SeverityRunFatal,
	NetworkServer:              SeverityRunFatal,
	RateLimited:                SeverityRunFatal,
	PlanningValidation:         SeverityRunFatal,
	PlanningNotFound:           SeverityRunFatal,
	PlanningConflict:           SeverityItemRecoverable,
	AgentSpawn:                 SeverityItemRecoverable,
	AgentTimeout:               SeverityItemRecoverable,
	AgentInactive:              SeverityItemRecoverable,
	AgentExecution:             SeverityItemRecoverable,
	CheckpointCorrupted:        SeverityRunFatal,
	CheckpointVersionMismatch:  SeverityRunFatal,
	CheckpointExpired:          SeverityRunFatal,
	CheckpointIO:               SeverityRunFatal,
	Cycle:                      SeverityRunFatal,
	Cancelled:                  SeverityRunFatal,
	Config:                     SeverityRunFatal,
}

// defaultRetryable is the C1 axis, per spec.md §4.1's error classification:
// authentication and validation/not-found/conflict errors never retry;
// network failures, 5xx, and agent timeouts do.
var defaultRetryable = map[Kind]bool{
	AuthMissing:               false,
	AuthInvalid:               false,
	AuthExpired:               false,
	NetworkConnection:         true,
	NetworkTimeout:            true,
	NetworkServer:             true,
	RateLimited:               true,
	PlanningValidation:        false,
	PlanningNotFound:          false,
	PlanningConflict:          false,
	AgentSpawn:                false,
	AgentTimeout:              true,
	AgentInactive:             true,
	AgentExecution:            false,
	CheckpointCorrupted:       false,
	CheckpointVersionMismatch: false,
	CheckpointExpired:         false,
	CheckpointIO:              false,
	Cycle:                     false,
	Cancelled:                 false,
	Config:                    false,
}

// Error is the single error type every component returns for
// classifiable failures.
type Error struct {
	Kind         Kind
	Message      string
	RecoveryHint string
	Context      map[string]string
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Severity returns the propagation policy for this error's kind, for use
// once C1 has stopped retrying it (or never started).
func (e *Error) Severity() Severity {
	if s, ok := defaultSeverity[e.Kind]; ok {
		return s
	}
	return SeverityRunFatal
}

// Retryable reports whether C1 should retry operations that fail with
// this error's kind, per spec.md §4.1's error classification. This is
// independent of Severity: a kind's retryability decides whether C1
// spends another attempt on it; Severity decides what happens once it
// isn't (or no longer is) being retried.
func (e *Error) Retryable() bool {
	return defaultRetryable[e.Kind]
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithHint attaches operator-facing recovery guidance.
func (e *Error) WithHint(hint string) *Error {
	e.RecoveryHint = hint
	return e
}

// WithContext attaches a key/value pair of diagnostic context.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	e.Context[key] = value
	return e
}

// Is allows errors.Is(err, errkind.New(kind, "")) to match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
