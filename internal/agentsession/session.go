// Package agentsession wraps a single agentcli.Client invocation in a
// conversational state machine (C4), grounded on
// internal/session/subagent.go's idle/running/completed/failed states.
// Unlike the teacher's sendAndWait (which reaches into a private field via
// an any-cast, noted as a workaround in SPEC_FULL.md's Design Notes),
// this package exposes a typed pendingReply channel so callers never need
// reflection.
package agentsession

import (
	"context"
	"sync"
	"time"

	"spectree/internal/agentcli"
	"spectree/internal/errkind"
)

// State is the session's lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateWorking   State = "working"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Reply is the outcome of a completed turn.
type Reply struct {
	Text       string
	Events     []agentcli.Event
	CostUSD    float64
	DurationMs int64
	SessionID  string
	Err        error
}

// Session is one conversational handle over a subprocess client.
type Session struct {
	ID     string
	client *agentcli.Client

	// OnEvent, when set, is called for every text and tool_call event as
	// it arrives, so a caller (the orchestrator's status broadcaster) can
	// render progress without waiting for the turn to finish.
	OnEvent func(agentcli.Event)

	mu    sync.RWMutex
	state State

	pendingReply chan Reply
}

// New builds an idle Session around a configured subprocess client.
func New(id string, client *agentcli.Client) *Session {
	return &Session{ID: id, client: client, state: StateIdle}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SendAndWait starts a turn and blocks until it completes, the overall
// timeout elapses, or ctx is cancelled — racing on the first of a
// complete event, an error event, or context expiry, matching spec.md
// §4.4's sendAndWait contract.
func (s *Session) SendAndWait(ctx context.Context, prompt string, overallTimeout time.Duration) (Reply, error) {
	if s.State() == StateWorking {
		return Reply{}, errkind.New(errkind.AgentExecution, "session already has a turn in flight")
	}

	s.setState(StateWorking)
	s.pendingReply = make(chan Reply, 1)

	runCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	events, err := s.client.Run(runCtx, prompt)
	if err != nil {
		s.setState(StateFailed)
		return Reply{}, err
	}

	go s.collect(events)

	select {
	case reply := <-s.pendingReply:
		if reply.Err != nil {
			s.setState(StateFailed)
		} else {
			s.setState(StateCompleted)
		}
		return reply, reply.Err
	case <-runCtx.Done():
		s.setState(StateFailed)
		return Reply{}, errkind.Wrap(errkind.AgentTimeout, "session turn timed out", runCtx.Err())
	}
}

func (s *Session) collect(events <-chan agentcli.Event) {
	var seen []agentcli.Event
	var text string
	for evt := range events {
		seen = append(seen, evt)
		if s.OnEvent != nil && (evt.Type == agentcli.EventText || evt.Type == agentcli.EventToolCall) {
			s.OnEvent(evt)
		}
		switch evt.Type {
		case agentcli.EventText:
			text += evt.Text
		case agentcli.EventComplete:
			s.pendingReply <- Reply{
				Text:       text,
				Events:     seen,
				CostUSD:    evt.CostUSD,
				DurationMs: evt.DurationMs,
				SessionID:  evt.SessionID,
			}
			return
		case agentcli.EventError:
			s.pendingReply <- Reply{Events: seen, Err: errkind.New(errkind.AgentExecution, evt.Message)}
			return
		}
	}
	// Channel closed with neither a complete nor an error event observed:
	// treat it as an execution failure so the caller is never left
	// waiting on a pendingReply nobody will ever send.
	select {
	case s.pendingReply <- Reply{Events: seen, Err: errkind.New(errkind.AgentExecution, "agent stream ended without a result")}:
	default:
	}
}
