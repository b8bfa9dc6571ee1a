package errkind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthExpired_NonRetryableAndRunFatal(t *testing.T) {
	e := New(AuthExpired, "token expired")
	assert.False(t, e.Retryable())
	assert.Equal(t, SeverityRunFatal, e.Severity())
}

func TestAgentTimeout_RetryableButItemRecoverable(t *testing.T) {
	e := New(AgentTimeout, "agent stalled")
	assert.True(t, e.Retryable())
	assert.Equal(t, SeverityItemRecoverable, e.Severity())
}

func TestRateLimited_RetryableUntilExhausted(t *testing.T) {
	e := New(RateLimited, "too many requests")
	assert.True(t, e.Retryable())
	assert.Equal(t, SeverityRunFatal, e.Severity())
}

func TestIs_MatchesByKindAlone(t *testing.T) {
	e := Wrap(NetworkTimeout, "slow", nil)
	assert.ErrorIs(t, e, New(NetworkTimeout, ""))
	assert.NotErrorIs(t, e, New(NetworkServer, ""))
}
