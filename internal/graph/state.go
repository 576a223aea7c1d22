package graph

import (
	"errors"
	"fmt"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// ErrDuplicateIncomingID is returned by MergeMessages when the incoming
// batch itself contains two messages with the same ID.
var ErrDuplicateIncomingID = errors.New("duplicate message id in incoming batch")

// InteractionMode records how the user is talking to the assistant.
type InteractionMode string

const (
	ModeVoice InteractionMode = "voice"
	ModeText  InteractionMode = "text"
)

// State is the conversation state the graph carries between nodes. One
// State exists per thread; nodes never mutate it directly, they return
// deltas that the engine merges and checkpoints.
type State struct {
	Messages        []llm.Message     `json:"messages"`
	CurrentRole     llm.Role          `json:"current_role"`
	InteractionMode InteractionMode   `json:"interaction_mode"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// Usage accumulates token consumption across the thread's LLM calls.
	Usage llm.TokenUsage `json:"usage"`
}

// NewState creates the initial state for a fresh thread.
func NewState(mode InteractionMode) State {
	return State{
		CurrentRole:     llm.RoleDefault,
		InteractionMode: mode,
		Metadata:        make(map[string]string),
	}
}

// Clone returns a deep copy. Message values are immutable, so the
// slice copy is enough for the log; the metadata map is copied.
func (s State) Clone() State {
	out := s
	out.Messages = make([]llm.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// LastMessage returns the tail of the log, or false on an empty log.
func (s State) LastMessage() (llm.Message, bool) {
	if len(s.Messages) == 0 {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// PendingToolCalls returns the tool calls of the last message when it
// is an assistant message that requested tools, otherwise nil.
func (s State) PendingToolCalls() []llm.ToolCall {
	last, ok := s.LastMessage()
	if !ok || !last.HasToolCalls() {
		return nil
	}
	return last.ToolCalls
}

// MergeMessages is the message-log reducer. It walks incoming in order:
// a message whose ID matches an existing entry replaces it in place,
// everything else appends to the tail. The input slices are not
// mutated; a new log is returned.
func MergeMessages(existing, incoming []llm.Message) ([]llm.Message, error) {
	seen := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIncomingID, m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	merged := make([]llm.Message, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, m := range merged {
		index[m.ID] = i
	}

	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	return merged, nil
}

// TruncateHistory keeps the last max messages. If the cut lands inside
// an assistant/tool pair, leading orphaned tool messages are dropped as
// well so the window never opens on a response without its request.
func TruncateHistory(log []llm.Message, max int) []llm.Message {
	if max <= 0 || len(log) <= max {
		out := make([]llm.Message, len(log))
		copy(out, log)
		return out
	}

	window := log[len(log)-max:]
	start := 0
	for start < len(window) && window[start].Kind == llm.KindTool {
		start++
	}

	out := make([]llm.Message, len(window)-start)
	copy(out, window[start:])
	return out
}

// StripSystem returns the log without system messages. The engine
// synthesises a fresh system prompt on every LLM call, so any stored
// system entries are stale.
func StripSystem(log []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(log))
	for _, m := range log {
		if m.Kind == llm.KindSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
