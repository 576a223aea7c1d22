package tools

import (
	"fmt"
	"sort"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// Registry manages available tools
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Registering a name twice
// replaces the earlier tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// GetAll returns all registered tools, sorted by name.
func (r *Registry) GetAll() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// RiskOf returns the risk class of the named tool. Unknown names are
// dangerous: a hallucinated tool must never slip past the approval
// gate.
func (r *Registry) RiskOf(name string) Risk {
	tool, ok := r.tools[name]
	if !ok {
		return RiskDangerous
	}
	return tool.Risk()
}

// ToDefinitions converts all registered tools to LLM tool definitions,
// sorted by name for a stable provider payload.
func (r *Registry) ToDefinitions() []llm.ToolDefinition {
	all := r.GetAll()
	definitions := make([]llm.ToolDefinition, 0, len(all))
	for _, tool := range all {
		definitions = append(definitions, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.InputSchema(),
		})
	}
	return definitions
}
