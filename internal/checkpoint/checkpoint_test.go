package checkpoint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectree/internal/worktype"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	state := State{
		EpicID:     "epic-1",
		PhaseIndex: 2,
		Items: map[string]worktype.WorkItem{
			"a": {ID: "a", Status: worktype.StatusCompleted},
		},
	}
	require.NoError(t, m.Save(state))

	loaded, err := m.Load("epic-1")
	require.NoError(t, err)
	assert.Equal(t, CheckpointVersion, loaded.Version)
	assert.Equal(t, 2, loaded.PhaseIndex)
	if diff := cmp.Diff(state.Items, loaded.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_NoTmpFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	require.NoError(t, m.Save(State{EpicID: "epic-1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "epic-1.checkpoint.json", entries[0].Name())
}

func TestLoad_NotFound(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.Load("missing")
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonNotFound, le.Reason)
}

func TestLoad_Corrupted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "epic-1.checkpoint.json"), []byte("{not json"), 0o644))

	m := New(dir)
	_, err := m.Load("epic-1")
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonCorrupted, le.Reason)
}

func TestLoad_VersionMismatch(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	require.NoError(t, m.Save(State{EpicID: "epic-1"}))

	data, err := os.ReadFile(filepath.Join(dir, "epic-1.checkpoint.json"))
	require.NoError(t, err)
	bumped := bytes.Replace(data, []byte(`"version": "`+CheckpointVersion+`"`), []byte(`"version": "99.0"`), 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "epic-1.checkpoint.json"), bumped, 0o644))

	_, err = m.Load("epic-1")
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonVersionMismatch, le.Reason)
}

func TestLoad_Expired(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	m.Expiry = time.Millisecond
	require.NoError(t, m.Save(State{EpicID: "epic-1"}))
	time.Sleep(5 * time.Millisecond)

	_, err := m.Load("epic-1")
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonExpired, le.Reason)
}

func TestDeriveResumePoint_SplitsSkipAndRetry(t *testing.T) {
	state := &State{
		PhaseIndex: 3,
		Items: map[string]worktype.WorkItem{
			"a": {ID: "a", Status: worktype.StatusCompleted},
			"b": {ID: "b", Status: worktype.StatusFailed},
			"c": {ID: "c", Status: worktype.StatusInProgress},
			"d": {ID: "d", Status: worktype.StatusPending},
		},
	}
	rp := DeriveResumePoint(state)
	assert.Equal(t, 3, rp.Phase)
	assert.ElementsMatch(t, []string{"a"}, rp.SkipItems)
	assert.ElementsMatch(t, []string{"c"}, rp.RetryItems)
}

func TestSaveErrorState_RecordsCauseAndPaused(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	require.NoError(t, m.SaveErrorState(State{EpicID: "epic-1"}, assert.AnError, false))
	loaded, err := m.Load("epic-1")
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error(), loaded.Error)
	assert.False(t, loaded.Paused)

	require.NoError(t, m.SaveErrorState(State{EpicID: "epic-1"}, nil, true))
	loaded, err = m.Load("epic-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Error)
	assert.True(t, loaded.Paused)
}
