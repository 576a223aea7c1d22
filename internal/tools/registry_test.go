package tools

import (
	"context"
	"testing"
	"time"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// mockTool is a test tool implementation
type mockTool struct {
	name        string
	description string
	risk        Risk
	schema      map[string]any
	timeout     time.Duration
	executeFunc func(ctx context.Context, args map[string]any) (any, error)
}

func (m *mockTool) Name() string {
	return m.name
}

func (m *mockTool) Description() string {
	return m.description
}

func (m *mockTool) Risk() Risk {
	if m.risk == "" {
		return RiskSafe
	}
	return m.risk
}

func (m *mockTool) InputSchema() map[string]any {
	if m.schema == nil {
		return map[string]any{"type": "object"}
	}
	return m.schema
}

func (m *mockTool) Timeout() time.Duration {
	return m.timeout
}

func (m *mockTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, args)
	}
	return map[string]string{"result": "ok"}, nil
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if registry.tools == nil {
		t.Fatal("NewRegistry() did not initialize tools map")
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name  string
		tools []Tool
		want  int
	}{
		{
			name: "register single tool",
			tools: []Tool{
				&mockTool{name: "test1"},
			},
			want: 1,
		},
		{
			name: "register multiple tools",
			tools: []Tool{
				&mockTool{name: "test1"},
				&mockTool{name: "test2"},
				&mockTool{name: "test3"},
			},
			want: 3,
		},
		{
			name: "register duplicate tool overwrites",
			tools: []Tool{
				&mockTool{name: "test1", description: "first"},
				&mockTool{name: "test1", description: "second"},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for _, tool := range tt.tools {
				registry.Register(tool)
			}
			if len(registry.tools) != tt.want {
				t.Errorf("Registry has %d tools, want %d", len(registry.tools), tt.want)
			}
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	tests := []struct {
		name     string
		register []Tool
		get      string
		wantErr  bool
	}{
		{
			name: "get existing tool",
			register: []Tool{
				&mockTool{name: "test1"},
			},
			get:     "test1",
			wantErr: false,
		},
		{
			name: "get non-existing tool",
			register: []Tool{
				&mockTool{name: "test1"},
			},
			get:     "test2",
			wantErr: true,
		},
		{
			name:     "get from empty registry",
			register: []Tool{},
			get:      "test1",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for _, tool := range tt.register {
				registry.Register(tool)
			}

			got, err := registry.Get(tt.get)
			if (err != nil) != tt.wantErr {
				t.Errorf("Get() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == nil {
				t.Error("Get() returned nil tool without error")
			}
			if !tt.wantErr && got.Name() != tt.get {
				t.Errorf("Get() returned tool with name %s, want %s", got.Name(), tt.get)
			}
		})
	}
}

func TestRegistry_GetAll_Sorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{name: "zeta"})
	registry.Register(&mockTool{name: "alpha"})
	registry.Register(&mockTool{name: "mike"})

	got := registry.GetAll()
	if len(got) != 3 {
		t.Fatalf("GetAll() returned %d tools, want 3", len(got))
	}
	if got[0].Name() != "alpha" || got[1].Name() != "mike" || got[2].Name() != "zeta" {
		t.Errorf("GetAll() order = [%s %s %s], want [alpha mike zeta]",
			got[0].Name(), got[1].Name(), got[2].Name())
	}
}

func TestRegistry_RiskOf(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&mockTool{name: "reader", risk: RiskSafe})
	registry.Register(&mockTool{name: "shredder", risk: RiskDangerous})

	tests := []struct {
		name string
		tool string
		want Risk
	}{
		{"safe tool", "reader", RiskSafe},
		{"dangerous tool", "shredder", RiskDangerous},
		{"unknown tool is dangerous", "hallucinated", RiskDangerous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := registry.RiskOf(tt.tool); got != tt.want {
				t.Errorf("RiskOf(%q) = %s, want %s", tt.tool, got, tt.want)
			}
		})
	}
}

func TestRegistry_ToDefinitions(t *testing.T) {
	tests := []struct {
		name     string
		register []Tool
		wantLen  int
		validate func(t *testing.T, defs []llm.ToolDefinition)
	}{
		{
			name:     "empty registry",
			register: []Tool{},
			wantLen:  0,
		},
		{
			name: "single tool with complete definition",
			register: []Tool{
				&mockTool{
					name:        "echo",
					description: "Echoes back the input",
					schema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"message": map[string]any{
								"type":        "string",
								"description": "Message to echo",
							},
						},
						"required": []any{"message"},
					},
				},
			},
			wantLen: 1,
			validate: func(t *testing.T, defs []llm.ToolDefinition) {
				if defs[0].Name != "echo" {
					t.Errorf("Definition name = %s, want echo", defs[0].Name)
				}
				if defs[0].Description != "Echoes back the input" {
					t.Errorf("Definition description = %s, want 'Echoes back the input'", defs[0].Description)
				}
				if defs[0].Parameters["type"] != "object" {
					t.Errorf("Definition parameters type = %v, want object", defs[0].Parameters["type"])
				}
				props, ok := defs[0].Parameters["properties"].(map[string]any)
				if !ok || len(props) != 1 {
					t.Errorf("Definition has %d properties, want 1", len(props))
				}
			},
		},
		{
			name: "multiple tools sorted by name",
			register: []Tool{
				&mockTool{name: "test2", description: "Test 2"},
				&mockTool{name: "test1", description: "Test 1"},
			},
			wantLen: 2,
			validate: func(t *testing.T, defs []llm.ToolDefinition) {
				if defs[0].Name != "test1" || defs[1].Name != "test2" {
					t.Errorf("Definitions order = [%s %s], want [test1 test2]", defs[0].Name, defs[1].Name)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for _, tool := range tt.register {
				registry.Register(tool)
			}

			got := registry.ToDefinitions()
			if len(got) != tt.wantLen {
				t.Errorf("ToDefinitions() returned %d definitions, want %d", len(got), tt.wantLen)
			}

			if tt.validate != nil {
				tt.validate(t, got)
			}
		})
	}
}
