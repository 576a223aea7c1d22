package tools

import (
	"context"
	"time"
)

// Risk classifies how much damage a tool can do. Dangerous tools
// require explicit approval before they run; safe tools may be
// auto-approved.
type Risk string

const (
	RiskSafe      Risk = "safe"
	RiskDangerous Risk = "dangerous"
)

// Execution timeout bounds. A tool reporting no timeout gets the
// default; nothing may exceed the cap.
const (
	DefaultTimeout = 60 * time.Second
	MaxTimeout     = 600 * time.Second
)

// Tool represents an executable tool that the LLM can call
type Tool interface {
	// Name returns the tool's name
	Name() string

	// Description returns a description for the LLM
	Description() string

	// Risk returns the tool's risk class
	Risk() Risk

	// InputSchema returns the inlined JSON Schema for the arguments
	InputSchema() map[string]any

	// Timeout returns the per-call deadline, or 0 for the default
	Timeout() time.Duration

	// Execute runs the tool with the given arguments
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// EffectiveTimeout resolves a tool's deadline against the bounds.
func EffectiveTimeout(t Tool) time.Duration {
	d := t.Timeout()
	if d <= 0 {
		d = DefaultTimeout
	}
	if d > MaxTimeout {
		d = MaxTimeout
	}
	return d
}
