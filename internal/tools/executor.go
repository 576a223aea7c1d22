package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// ErrAllToolsFailed is returned when all tools in a batch fail
var ErrAllToolsFailed = errors.New("all tools in batch failed")

// Executor executes tool calls from the LLM
type Executor struct {
	registry *Registry
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
	}
}

// Execute runs a single tool call under its own deadline. Argument
// validation failures, lookup failures, timeouts and panics all come
// back as errors; none of them are fatal to the caller, which turns
// them into tool-result messages for the model to read.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if err := ValidateArgs(name, tool.InputSchema(), args); err != nil {
		return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
	}

	// A started tool always runs to completion under its own deadline.
	// Cancelling the batch stops before the next call, never the call
	// already in flight.
	timeout := EffectiveTimeout(tool)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	result, err := e.run(callCtx, tool, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool %s timed out after %s", name, timeout)
		}
		return nil, fmt.Errorf("failed to execute tool %s: %w", name, err)
	}

	return result, nil
}

// run invokes the tool, converting a panic into an error so one broken
// tool cannot take down the conversation loop.
func (e *Executor) run(ctx context.Context, tool Tool, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, args)
}

// ExecuteBatch executes multiple tool calls sequentially, in the order
// the model requested them.
// Returns results for all tools (successful or not) and an error only if ALL tools failed.
// Individual tool errors are stored in each ToolCallResult.Error field.
// This allows partial success - the caller can inspect individual results.
//
// Context cancellation is honored between calls: the running tool
// finishes, then the batch stops and the context error is returned
// alongside the results gathered so far. Results always cover a prefix
// of calls, so the caller can tell exactly which calls never ran.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []ToolCallRequest) ([]ToolCallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]ToolCallResult, 0, len(calls))
	errorCount := 0

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := e.Execute(ctx, call.Name, call.Args)
		results = append(results, ToolCallResult{
			ID:     call.ID,
			Name:   call.Name,
			Result: result,
			Error:  err,
		})
		if err != nil {
			errorCount++
		}
	}

	if errorCount == len(calls) {
		return results, fmt.Errorf("%w: %d tool(s) failed", ErrAllToolsFailed, errorCount)
	}

	return results, nil
}

// ResultsToMessages converts tool call results to tool messages that
// can be appended to the conversation history.
func (e *Executor) ResultsToMessages(results []ToolCallResult) []llm.Message {
	messages := make([]llm.Message, len(results))

	for i, result := range results {
		messages[i] = ResultToMessage(result)
	}

	return messages
}

// ResultToMessage converts a single tool call result to a tool message.
// String results pass through verbatim so control markers in tool
// output survive; everything else is rendered as JSON.
func ResultToMessage(result ToolCallResult) llm.Message {
	var content string
	isError := result.Error != nil

	switch {
	case isError:
		content = fmt.Sprintf("Error executing tool: %v", result.Error)
	default:
		if s, ok := result.Result.(string); ok {
			content = s
			break
		}
		jsonBytes, err := json.Marshal(result.Result)
		if err != nil {
			content = fmt.Sprintf("Error marshaling result: %v", err)
			isError = true
		} else {
			content = string(jsonBytes)
		}
	}

	return llm.NewToolMessage(result.ID, result.Name, content, isError)
}

// FromToolCalls converts assistant tool calls into executor requests,
// preserving order.
func FromToolCalls(calls []llm.ToolCall) []ToolCallRequest {
	requests := make([]ToolCallRequest, len(calls))
	for i, call := range calls {
		requests[i] = ToolCallRequest{ID: call.ID, Name: call.Name, Args: call.Args}
	}
	return requests
}

// ToolCallRequest represents a request to execute a tool
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallResult represents the result of executing a tool
type ToolCallResult struct {
	ID     string
	Name   string
	Result any
	Error  error
}
