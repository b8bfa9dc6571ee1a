package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spectree/internal/statusbus"
)

func TestApply_TracksItemLifecycle(t *testing.T) {
	m := New(nil, nil, "epic-1")

	m.apply(statusbus.Event{Kind: statusbus.PhaseStarted, PhaseID: "phase-0"})
	m.apply(statusbus.Event{Kind: statusbus.AgentStarted, ItemID: "item-a"})
	assert.Equal(t, "running", m.rows["item-a"].status)
	assert.Equal(t, "phase-0", m.rows["item-a"].phase)

	m.apply(statusbus.Event{Kind: statusbus.ItemCompleted, ItemID: "item-a", Message: "done"})
	assert.Equal(t, "completed", m.rows["item-a"].status)
	assert.Equal(t, "done", m.rows["item-a"].message)
}

func TestApply_PauseResumeTogglesState(t *testing.T) {
	m := New(nil, nil, "epic-1")
	m.apply(statusbus.Event{Kind: statusbus.Paused})
	assert.True(t, m.paused)
	m.apply(statusbus.Event{Kind: statusbus.Resumed})
	assert.False(t, m.paused)
}

func TestView_RendersHeaderAndRows(t *testing.T) {
	m := New(nil, nil, "epic-42")
	m.apply(statusbus.Event{Kind: statusbus.AgentStarted, ItemID: "item-a"})

	view := m.View()
	assert.Contains(t, view, "epic-42")
	assert.Contains(t, view, "item-a")
}

func TestTruncate_ShortensLongStrings(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "this is a…", truncate("this is a very long message", 10))
}
