package graph

import (
	"github.com/jarvisproj/jarvis/internal/llm"
)

// OutcomeKind tags the result of one run through the graph.
type OutcomeKind string

const (
	// OutcomeFinished: the chatbot produced a terminal assistant turn.
	OutcomeFinished OutcomeKind = "finished"
	// OutcomeSuspended: the engine stopped before a break-before node;
	// the pending tool calls await an approval decision.
	OutcomeSuspended OutcomeKind = "suspended"
	// OutcomeFailed: the turn failed; Err carries the cause.
	OutcomeFailed OutcomeKind = "failed"
)

// TurnOutcome is what the driver gets back from a turn.
type TurnOutcome struct {
	Kind          OutcomeKind
	AssistantText string
	Pending       []llm.ToolCall
	Usage         llm.TokenUsage
	Err           error
}

// TurnHandle gives the driver access to an in-flight turn: the live
// token stream and the final outcome.
type TurnHandle struct {
	tokens  chan string
	done    chan struct{}
	outcome TurnOutcome
}

func newTurnHandle() *TurnHandle {
	return &TurnHandle{
		tokens: make(chan string, tokenBuffer),
		done:   make(chan struct{}),
	}
}

// tokenBuffer bounds the stream channel. When the driver falls behind,
// tokens are dropped rather than stalling the model consumer; the full
// text still arrives through the final state update.
const tokenBuffer = 256

// Stream returns the live token channel for the current chatbot
// invocations. It is closed when the turn completes.
func (h *TurnHandle) Stream() <-chan string {
	return h.tokens
}

// Wait blocks until the turn completes and returns its outcome.
func (h *TurnHandle) Wait() TurnOutcome {
	<-h.done
	return h.outcome
}

// emit publishes one token without blocking.
func (h *TurnHandle) emit(token string) {
	select {
	case h.tokens <- token:
	default:
	}
}

// finish records the outcome and releases waiters.
func (h *TurnHandle) finish(outcome TurnOutcome) {
	h.outcome = outcome
	close(h.tokens)
	close(h.done)
}

func failedOutcome(err error) TurnOutcome {
	return TurnOutcome{Kind: OutcomeFailed, Err: err}
}
