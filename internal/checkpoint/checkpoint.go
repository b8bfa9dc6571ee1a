// Package checkpoint implements durable, resumable run state (C7).
// codenerd's own internal/campaign/checkpoint.go is a *verification*
// checkpoint runner (did tests/build pass) rather than a persistence
// layer, so the atomic write sequence here is instead grounded on the
// write-temp-then-rename idiom the teacher already reaches for when
// staging files, combined with internal/config.Load/Save's
// read-whole-file-then-unmarshal shape.
package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"spectree/internal/errkind"
	"spectree/internal/worktype"
)

// CheckpointVersion is bumped whenever the on-disk schema changes in a
// way that breaks backward compatibility. Compatibility is major-version
// only: a checkpoint with the same major version loads even if its minor
// component differs.
const CheckpointVersion = "1.0"

// DefaultExpiry is how long a checkpoint remains eligible to resume from
// before it is considered stale.
const DefaultExpiry = 7 * 24 * time.Hour

// State is the full durable snapshot of an in-flight run.
type State struct {
	Version        string                       `json:"version"`
	EpicID         string                       `json:"epicId"`
	EpicIdentifier string                       `json:"epicIdentifier,omitempty"`
	SessionID      string                       `json:"sessionId,omitempty"`
	GitBranch      string                       `json:"gitBranch,omitempty"`
	BaseBranch     string                       `json:"baseBranch,omitempty"`
	Cwd            string                       `json:"cwd,omitempty"`
	Metadata       map[string]string            `json:"metadata,omitempty"`
	Plan           worktype.ExecutionPlan       `json:"plan"`
	PhaseIndex     int                          `json:"phaseIndex"`
	Items          map[string]worktype.WorkItem `json:"items"`
	Attempts       []worktype.RetryAttempt      `json:"attempts,omitempty"`
	StartedAt      time.Time                    `json:"startedAt,omitempty"`
	SavedAt        time.Time                    `json:"savedAt"`
	Error          string                       `json:"error,omitempty"`
	Paused         bool                         `json:"paused,omitempty"`
}

// LoadReason classifies why a Load call did not return a usable State.
type LoadReason string

const (
	ReasonNotFound       LoadReason = "not_found"
	ReasonCorrupted      LoadReason = "corrupted"
	ReasonInvalidFormat  LoadReason = "invalid_format"
	ReasonVersionMismatch LoadReason = "version_mismatch"
	ReasonExpired        LoadReason = "expired"
)

// LoadError wraps a LoadReason; callers use errors.As to distinguish
// "nothing to resume from" (ReasonNotFound, start fresh) from everything
// else (operator-visible failure).
type LoadError struct {
	Reason LoadReason
	Path   string
	Cause  error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return string(e.Reason) + ": " + e.Path + ": " + e.Cause.Error()
	}
	return string(e.Reason) + ": " + e.Path
}
func (e *LoadError) Unwrap() error { return e.Cause }

// Manager reads and writes checkpoint files under a fixed directory.
type Manager struct {
	Dir    string
	Expiry time.Duration
}

// New builds a Manager rooted at dir, creating it with DefaultExpiry.
func New(dir string) *Manager {
	return &Manager{Dir: dir, Expiry: DefaultExpiry}
}

func (m *Manager) path(epicID string) string {
	return filepath.Join(m.Dir, epicID+".checkpoint.json")
}

// Save atomically writes state: serialize, write to a sibling .tmp file,
// fsync, then rename over the final path. A crash mid-write can never
// leave a half-written checkpoint at the canonical path.
func (m *Manager) Save(state State) error {
	state.Version = CheckpointVersion
	state.SavedAt = time.Now()

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return errkind.Wrap(errkind.CheckpointIO, "create checkpoint directory", err)
	}

	final := m.path(state.EpicID)
	tmp := final + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.CheckpointIO, "encode checkpoint", err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.CheckpointIO, "open checkpoint tmp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errkind.Wrap(errkind.CheckpointIO, "write checkpoint tmp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errkind.Wrap(errkind.CheckpointIO, "fsync checkpoint tmp file", err)
	}
	if err := f.Close(); err != nil {
		return errkind.Wrap(errkind.CheckpointIO, "close checkpoint tmp file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errkind.Wrap(errkind.CheckpointIO, "rename checkpoint into place", err)
	}
	return nil
}

// SaveErrorState persists the current state annotated with the run-fatal
// error that stopped execution (and whether it stopped because of an
// explicit pause rather than a failure), so a later `spectree resume` can
// report why the previous run ended before continuing.
func (m *Manager) SaveErrorState(state State, cause error, paused bool) error {
	if cause != nil {
		state.Error = cause.Error()
	}
	state.Paused = paused
	return m.Save(state)
}

// Load reads the checkpoint for epicID, classifying any failure into the
// LoadReason taxonomy spec.md §4.7 requires.
func (m *Manager) Load(epicID string) (*State, error) {
	path := m.path(epicID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Reason: ReasonNotFound, Path: path, Cause: err}
		}
		return nil, &LoadError{Reason: ReasonCorrupted, Path: path, Cause: err}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &LoadError{Reason: ReasonCorrupted, Path: path, Cause: err}
	}

	if !compatibleVersion(state.Version) {
		return nil, &LoadError{Reason: ReasonVersionMismatch, Path: path}
	}

	if m.expiry() > 0 && time.Since(state.SavedAt) > m.expiry() {
		return nil, &LoadError{Reason: ReasonExpired, Path: path}
	}

	return &state, nil
}

func (m *Manager) expiry() time.Duration {
	if m.Expiry == 0 {
		return DefaultExpiry
	}
	return m.Expiry
}

func compatibleVersion(v string) bool {
	return majorOf(v) == majorOf(CheckpointVersion)
}

func majorOf(v string) string {
	for i, c := range v {
		if c == '.' {
			return v[:i]
		}
	}
	return v
}

// ResumePoint is what the orchestrator needs to continue a run: which
// phase to resume at, which items to skip entirely (already completed),
// and which to retry (were in progress when the checkpoint was taken).
type ResumePoint struct {
	Phase       int
	SkipItems   []string
	RetryItems  []string
}

// DeriveResumePoint inspects a loaded State and computes where execution
// should continue. Only StatusInProgress items are retried: a checkpoint
// is only ever saved mid-run, so "in progress" means the process died
// before the item finished. StatusFailed items already ran out their
// failure policy before the checkpoint was taken and are left alone —
// retrying them here would silently override the onItemFailure decision
// that already applied to them.
func DeriveResumePoint(state *State) ResumePoint {
	rp := ResumePoint{Phase: state.PhaseIndex}
	for id, item := range state.Items {
		switch item.Status {
		case worktype.StatusCompleted, worktype.StatusSkipped:
			rp.SkipItems = append(rp.SkipItems, id)
		case worktype.StatusInProgress:
			rp.RetryItems = append(rp.RetryItems, id)
		}
	}
	return rp
}
