package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetState(t *testing.T) {
	t.Helper()
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	cfg = loggingConfig{}
	configMu.Unlock()
	logsDir = ""
	workspace = ""
}

func writeLoggingConfig(t *testing.T, ws string, lc loggingConfig) {
	t.Helper()
	dir := filepath.Join(ws, ".spectree")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(configFile{Logging: lc})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logging.json"), data, 0o644))
}

func TestInitialize_NoopWhenDebugDisabled(t *testing.T) {
	resetState(t)
	ws := t.TempDir()
	require.NoError(t, Initialize(ws))

	_, err := os.Stat(filepath.Join(ws, ".spectree", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitialize_CreatesLogsDirWhenDebugEnabled(t *testing.T) {
	resetState(t)
	ws := t.TempDir()
	writeLoggingConfig(t, ws, loggingConfig{DebugMode: true, Level: "info"})
	require.NoError(t, Initialize(ws))

	info, err := os.Stat(filepath.Join(ws, ".spectree", "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGet_WritesToCategoryFile(t *testing.T) {
	resetState(t)
	ws := t.TempDir()
	writeLoggingConfig(t, ws, loggingConfig{DebugMode: true, Level: "debug"})
	require.NoError(t, Initialize(ws))

	Get(CategoryOrchestrator).Info("phase %d started", 1)

	entries, err := os.ReadDir(filepath.Join(ws, ".spectree", "logs"))
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIsCategoryEnabled_RespectsExplicitDisable(t *testing.T) {
	resetState(t)
	cfg = loggingConfig{DebugMode: true, Categories: map[string]bool{"agent": false}}
	assert.False(t, IsCategoryEnabled(CategoryAgent))
	assert.True(t, IsCategoryEnabled(CategoryOrchestrator))
}

func TestTimer_StopReturnsNonNegativeDuration(t *testing.T) {
	resetState(t)
	timer := StartTimer(CategoryPlanner, "build plan")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}

func TestCloseAll_ClearsLoggerCache(t *testing.T) {
	resetState(t)
	ws := t.TempDir()
	writeLoggingConfig(t, ws, loggingConfig{DebugMode: true, Level: "info"})
	require.NoError(t, Initialize(ws))

	Get(CategoryCheckpoint)
	loggersMu.RLock()
	before := len(loggers)
	loggersMu.RUnlock()
	assert.Greater(t, before, 0)

	CloseAll()
	loggersMu.RLock()
	after := len(loggers)
	loggersMu.RUnlock()
	assert.Equal(t, 0, after)
}
