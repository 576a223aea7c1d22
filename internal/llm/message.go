package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the message variants in a conversation log.
type Kind string

const (
	KindSystem    Kind = "system"
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
)

// Role selects one bound chat model. It is part of the conversation
// state: tools can change it mid-thread through the role-switch marker.
type Role string

const (
	RoleDefault Role = "default"
	RoleSmart   Role = "smart"
	RoleCoder   Role = "coder"
	RoleFast    Role = "fast"
	RoleVision  Role = "vision"
)

// Roles returns all valid roles in a stable order.
func Roles() []Role {
	return []Role{RoleDefault, RoleSmart, RoleCoder, RoleFast, RoleVision}
}

// ParseRole reports whether s names a valid role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDefault:
		return RoleDefault, true
	case RoleSmart:
		return RoleSmart, true
	case RoleCoder:
		return RoleCoder, true
	case RoleFast:
		return RoleFast, true
	case RoleVision:
		return RoleVision, true
	}
	return "", false
}

// RoleSwitchMarker is the sentinel prefix a tool result uses to change
// the active role. The switch_role tool emits it as the first line of
// its result: "__JARVIS_SWITCH_ROLE__:<role>".
const RoleSwitchMarker = "__JARVIS_SWITCH_ROLE__"

// ParseRoleSwitch scans content for a line carrying the role-switch
// marker and returns the requested role. Invalid role names are
// ignored, per the contract that bad switches leave state unchanged.
func ParseRoleSwitch(content string) (Role, bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, RoleSwitchMarker+":") {
			continue
		}
		name := strings.TrimPrefix(line, RoleSwitchMarker+":")
		if role, ok := ParseRole(name); ok {
			return role, true
		}
	}
	return "", false
}

// Message is one entry in the conversation log. The Kind field is the
// variant tag; pattern-match with a switch at every consumer. Messages
// are immutable after creation: replacing one means swapping in a new
// value under the same ID.
type Message struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Content string `json:"content,omitempty"`

	// Assistant variant: the tool calls requested this turn.
	// An assistant message with no tool calls is terminal.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Tool variant: which assistant tool call this result answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// NewSystemMessage builds a system message with a fresh stable ID.
func NewSystemMessage(content string) Message {
	return Message{ID: uuid.NewString(), Kind: KindSystem, Content: content}
}

// NewUserMessage builds a user message with a fresh stable ID.
func NewUserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Kind: KindUser, Content: content}
}

// NewAssistantMessage builds an assistant message. calls may be nil for
// a terminal text-only turn.
func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{ID: uuid.NewString(), Kind: KindAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage builds a tool-result message answering callID.
func NewToolMessage(callID, toolName, content string, isError bool) Message {
	return Message{
		ID:         uuid.NewString(),
		Kind:       KindTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// DecodeArgsJSON parses a JSON object string into tool-call args.
// Providers deliver arguments as raw JSON; empty input yields an empty
// map so a tool call with no arguments stays valid.
func DecodeArgsJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parsing tool arguments: %w", err)
	}
	return args, nil
}

// EncodeArgsJSON serialises tool-call args back into the raw JSON form
// providers expect on the wire. Nil args encode as an empty object.
func EncodeArgsJSON(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding tool arguments: %w", err)
	}
	return string(data), nil
}

// HasToolCalls reports whether m is an assistant message that requested
// at least one tool call.
func (m Message) HasToolCalls() bool {
	return m.Kind == KindAssistant && len(m.ToolCalls) > 0
}

// WithoutToolCalls returns a text-only copy of m under the same ID.
// Used when pairing repair must demote an assistant message whose tool
// results went missing.
func (m Message) WithoutToolCalls() Message {
	m.ToolCalls = nil
	return m
}
