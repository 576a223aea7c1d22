package llm

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   Role
		wantOK bool
	}{
		{"default", "default", RoleDefault, true},
		{"coder", "coder", RoleCoder, true},
		{"uppercase", "SMART", RoleSmart, true},
		{"padded", "  fast  ", RoleFast, true},
		{"vision", "vision", RoleVision, true},
		{"unknown", "wizard", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseRole(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRoleSwitch(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Role
		wantOK  bool
	}{
		{
			name:    "bare marker",
			content: "__JARVIS_SWITCH_ROLE__:coder",
			want:    RoleCoder,
			wantOK:  true,
		},
		{
			name:    "marker with trailing text",
			content: "__JARVIS_SWITCH_ROLE__:smart\nswitched to deep reasoning mode",
			want:    RoleSmart,
			wantOK:  true,
		},
		{
			name:    "marker on later line",
			content: "ok\n__JARVIS_SWITCH_ROLE__:fast",
			want:    RoleFast,
			wantOK:  true,
		},
		{
			name:    "invalid role ignored",
			content: "__JARVIS_SWITCH_ROLE__:wizard",
			wantOK:  false,
		},
		{
			name:    "no marker",
			content: "plain tool output",
			wantOK:  false,
		},
		{
			name:    "marker without colon",
			content: "__JARVIS_SWITCH_ROLE__",
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRoleSwitch(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("ParseRoleSwitch(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseRoleSwitch(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestMessageConstructorsAssignIDs(t *testing.T) {
	msgs := []Message{
		NewSystemMessage("sys"),
		NewUserMessage("hi"),
		NewAssistantMessage("hello", nil),
		NewToolMessage("call-1", "echo", "result", false),
	}

	seen := make(map[string]bool)
	for _, m := range msgs {
		if m.ID == "" {
			t.Errorf("message kind %q has empty ID", m.Kind)
		}
		if seen[m.ID] {
			t.Errorf("duplicate ID %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMessageHasToolCalls(t *testing.T) {
	withCalls := NewAssistantMessage("", []ToolCall{{ID: "c1", Name: "echo"}})
	if !withCalls.HasToolCalls() {
		t.Error("assistant message with calls should report HasToolCalls")
	}

	plain := NewAssistantMessage("hello", nil)
	if plain.HasToolCalls() {
		t.Error("text-only assistant message should not report HasToolCalls")
	}

	// A tool message never has tool calls even if the field were set.
	tool := NewToolMessage("c1", "echo", "result", false)
	if tool.HasToolCalls() {
		t.Error("tool message should not report HasToolCalls")
	}
}

func TestMessageWithoutToolCalls(t *testing.T) {
	original := NewAssistantMessage("thinking", []ToolCall{{ID: "c1", Name: "echo"}})
	stripped := original.WithoutToolCalls()

	if stripped.ID != original.ID {
		t.Errorf("stripped copy changed ID: got %q, want %q", stripped.ID, original.ID)
	}
	if len(stripped.ToolCalls) != 0 {
		t.Errorf("stripped copy kept %d tool calls", len(stripped.ToolCalls))
	}
	if stripped.Content != original.Content {
		t.Errorf("stripped copy changed content: got %q, want %q", stripped.Content, original.Content)
	}
	if len(original.ToolCalls) != 1 {
		t.Error("original message was mutated")
	}
}
