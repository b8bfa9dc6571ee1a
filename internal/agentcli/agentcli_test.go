package agentcli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRun_StreamsEventsAndCompletes(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"thinking..."}]}}'
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"read_file"}]}}'
echo '{"type":"result","result":"done","session_id":"sess-1","cost_usd":0.01,"duration_ms":42}'
exit 0
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "do the thing")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 3)
	assert.Equal(t, EventText, got[0].Type)
	assert.Equal(t, "thinking...", got[0].Text)
	assert.Equal(t, EventToolCall, got[1].Type)
	assert.Equal(t, "read_file", got[1].ToolName)
	assert.Equal(t, EventComplete, got[2].Type)
	assert.Equal(t, "sess-1", got[2].SessionID)
	assert.Equal(t, 0.01, got[2].CostUSD)
	assert.Equal(t, int64(42), got[2].DurationMs)
}

func TestRun_ResultWithIsErrorBecomesErrorEvent(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"result","result":"agent gave up","is_error":true}'
exit 0
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.True(t, got[0].IsError)
}

func TestRun_SystemMessageCarriesSubtype(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"system","subtype":"init"}'
echo '{"type":"result","result":"ok"}'
exit 0
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventSystem, got[0].Type)
	assert.Equal(t, "init", got[0].Message)
}

func TestRun_MalformedLineEmitsWarningNotFatal(t *testing.T) {
	script := writeScript(t, `
echo 'not json at all'
echo '{"type":"result"}'
exit 0
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventWarning, got[0].Type)
	assert.Equal(t, EventComplete, got[1].Type)
}

func TestRun_NonZeroExitBeforeResultIsExecutionFailure(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"starting"}]}}' >&2
>&2 echo "boom: something broke"
exit 1
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventError, last.Type)
}

func TestRun_NonZeroExitAfterResultIsStillSuccess(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"result","result":"ok"}'
exit 1
`)
	c := New(Options{Binary: script, OverallTimeout: 2 * time.Second, InactivityTimeout: 2 * time.Second})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 1)
	assert.Equal(t, EventComplete, got[0].Type)
}

func TestRun_InactivityTimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'
sleep 5
echo '{"type":"result"}'
`)
	c := New(Options{Binary: script, OverallTimeout: 5 * time.Second, InactivityTimeout: 200 * time.Millisecond, KillGrace: 100 * time.Millisecond})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "inactive")
}

func TestRun_SetsWorkingDirectoryAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `
echo '{"type":"result","result":"'"$PWD"':'"$SPECTREE_TEST_VAR"'"}'
`)
	c := New(Options{
		Binary:            script,
		Cwd:               dir,
		Env:               map[string]string{"SPECTREE_TEST_VAR": "overlay-value"},
		OverallTimeout:    2 * time.Second,
		InactivityTimeout: 2 * time.Second,
	})
	events, err := c.Run(context.Background(), "go")
	require.NoError(t, err)

	var got []Event
	for evt := range events {
		got = append(got, evt)
	}
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Result, dir)
	assert.Contains(t, got[0].Result, "overlay-value")
}

func TestBuildArgs_IncludesCoreFlags(t *testing.T) {
	opts := Options{Model: "opus", AllowedTools: []string{"Read", "Write"}, MaxTurns: 5}
	args := opts.buildArgs("hello")
	assert.Contains(t, args, "--model")
	assert.Contains(t, args, "opus")
	assert.Contains(t, args, "--allowedTools")
	assert.Contains(t, args, "Read,Write")
	assert.Contains(t, args, "--max-turns")
}
