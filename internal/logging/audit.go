// audit.go implements a structured JSON audit trail, adapted from
// codenerd's internal/logging/audit.go. The teacher's AuditLogger
// emitted one Mangle fact string per event for its kernel to ingest;
// this core has no Datalog kernel, so events are appended as plain
// JSON lines instead, one per orchestration lifecycle event.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of orchestration event being
// recorded.
type AuditEventType string

const (
	AuditRunStarted       AuditEventType = "run_started"
	AuditRunCompleted     AuditEventType = "run_completed"
	AuditPhaseStarted     AuditEventType = "phase_started"
	AuditPhaseCompleted   AuditEventType = "phase_completed"
	AuditAgentSpawned     AuditEventType = "agent_spawned"
	AuditAgentCompleted   AuditEventType = "agent_completed"
	AuditAgentFailed      AuditEventType = "agent_failed"
	AuditItemRetried      AuditEventType = "item_retried"
	AuditCheckpointSaved  AuditEventType = "checkpoint_saved"
	AuditCheckpointLoaded AuditEventType = "checkpoint_loaded"
	AuditRunPaused        AuditEventType = "run_paused"
	AuditRunResumed       AuditEventType = "run_resumed"
)

// AuditEvent is a single audit-trail entry.
type AuditEvent struct {
	EventType AuditEventType         `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	EpicID    string                 `json:"epic_id,omitempty"`
	PhaseID   string                 `json:"phase_id,omitempty"`
	ItemID    string                 `json:"item_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger scopes audit entries to an epic.
type AuditLogger struct {
	epicID string
}

// InitAudit opens the audit log for writing under
// <workspace>/.spectree/audit.jsonl. It is a no-op if already
// initialized.
func InitAudit(ws string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	dir := filepath.Join(ws, ".spectree")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(dir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditFile = f
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the package-level audit logger, creating it on first
// use.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// ForEpic returns an AuditLogger scoped to epicID.
func ForEpic(epicID string) *AuditLogger {
	return &AuditLogger{epicID: epicID}
}

// Log appends event to the audit trail as a single JSON line. Silently
// does nothing if the audit log was never initialized, so audit calls
// are safe in tests and one-off CLI invocations that skip InitAudit.
func (a *AuditLogger) Log(event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.EpicID == "" {
		event.EpicID = a.epicID
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// RunStarted records the beginning of an orchestration run.
func (a *AuditLogger) RunStarted(epicID string, itemCount int) {
	a.Log(AuditEvent{EventType: AuditRunStarted, EpicID: epicID, Details: map[string]interface{}{"item_count": itemCount}})
}

// RunCompleted records the end of an orchestration run.
func (a *AuditLogger) RunCompleted(epicID string, completed, failed, skipped int) {
	a.Log(AuditEvent{EventType: AuditRunCompleted, EpicID: epicID, Details: map[string]interface{}{
		"completed": completed, "failed": failed, "skipped": skipped,
	}})
}

// PhaseStarted records a phase beginning execution.
func (a *AuditLogger) PhaseStarted(phaseID string, itemCount int) {
	a.Log(AuditEvent{EventType: AuditPhaseStarted, PhaseID: phaseID, Details: map[string]interface{}{"item_count": itemCount}})
}

// PhaseCompleted records a phase finishing.
func (a *AuditLogger) PhaseCompleted(phaseID string) {
	a.Log(AuditEvent{EventType: AuditPhaseCompleted, PhaseID: phaseID})
}

// AgentSpawned records an agent subprocess being started for an item.
func (a *AuditLogger) AgentSpawned(itemID, binary string) {
	a.Log(AuditEvent{EventType: AuditAgentSpawned, ItemID: itemID, Details: map[string]interface{}{"binary": binary}})
}

// AgentCompleted records an agent successfully completing its item.
func (a *AuditLogger) AgentCompleted(itemID string, duration time.Duration) {
	a.Log(AuditEvent{EventType: AuditAgentCompleted, ItemID: itemID, Details: map[string]interface{}{"duration_ms": duration.Milliseconds()}})
}

// AgentFailed records an agent failing its item.
func (a *AuditLogger) AgentFailed(itemID, reason string) {
	a.Log(AuditEvent{EventType: AuditAgentFailed, ItemID: itemID, Message: reason})
}

// ItemRetried records a retry attempt for an item.
func (a *AuditLogger) ItemRetried(itemID string, attempt int, nextDelay time.Duration) {
	a.Log(AuditEvent{EventType: AuditItemRetried, ItemID: itemID, Details: map[string]interface{}{
		"attempt": attempt, "next_delay_ms": nextDelay.Milliseconds(),
	}})
}

// CheckpointSaved records a checkpoint write.
func (a *AuditLogger) CheckpointSaved(epicID string, phaseIndex int) {
	a.Log(AuditEvent{EventType: AuditCheckpointSaved, EpicID: epicID, Details: map[string]interface{}{"phase_index": phaseIndex}})
}

// CheckpointLoaded records a checkpoint read on resume.
func (a *AuditLogger) CheckpointLoaded(epicID string, phaseIndex int) {
	a.Log(AuditEvent{EventType: AuditCheckpointLoaded, EpicID: epicID, Details: map[string]interface{}{"phase_index": phaseIndex}})
}

// RunPaused records a pause request.
func (a *AuditLogger) RunPaused(epicID string) {
	a.Log(AuditEvent{EventType: AuditRunPaused, EpicID: epicID})
}

// RunResumed records a resume request.
func (a *AuditLogger) RunResumed(epicID string) {
	a.Log(AuditEvent{EventType: AuditRunResumed, EpicID: epicID})
}
