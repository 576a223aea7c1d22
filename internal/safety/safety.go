// Package safety implements the human-in-the-loop gate that reviews
// tool calls while the graph is suspended before the tools node.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jarvisproj/jarvis/internal/graph"
	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/tools"
)

// Decision is the outcome of reviewing one batch of tool calls.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// approveKeywords and rejectKeywords classify the host's consent
// response. A response matching neither set is a rejection; when both
// match, rejection wins.
var (
	approveKeywords = []string{"确认", "是", "执行", "好", "可以", "同意", "yes", "ok", "okay", "sure", "confirm"}
	rejectKeywords  = []string{"取消", "不", "否", "不要", "算了", "no", "cancel", "stop", "abort"}

	// Bare single-letter answers only count as exact matches; "n" must
	// not hide inside an unrelated word.
	approveExact = []string{"y"}
	rejectExact  = []string{"n"}
)

// Asker puts the consent question to the host (text prompt or spoken)
// and returns the raw response. There is deliberately no timeout: the
// graph stays suspended until the host answers.
type Asker func(ctx context.Context, calls []llm.ToolCall) (string, error)

// Interceptor reviews the pending tool calls of a suspended thread and
// either resumes the engine or injects rejection results. Decisions
// are never cached: every batch is re-evaluated.
type Interceptor struct {
	registry        *tools.Registry
	ask             Asker
	autoApproveSafe bool
	logger          *slog.Logger
}

// Config for New.
type Config struct {
	Registry        *tools.Registry
	Ask             Asker
	AutoApproveSafe bool
	Logger          *slog.Logger
}

// New builds an interceptor.
func New(cfg Config) *Interceptor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		registry:        cfg.Registry,
		ask:             cfg.Ask,
		autoApproveSafe: cfg.AutoApproveSafe,
		logger:          logger,
	}
}

// Review classifies a batch. One dangerous or unknown tool marks the
// whole batch as needing confirmation.
func (i *Interceptor) Review(calls []llm.ToolCall) (allSafe bool, dangerous []string) {
	for _, call := range calls {
		if i.registry.RiskOf(call.Name) == tools.RiskDangerous {
			dangerous = append(dangerous, call.Name)
		}
	}
	return len(dangerous) == 0, dangerous
}

// Decide reviews the batch and, when needed, asks the host for
// consent. An error from the asker is treated as rejection.
func (i *Interceptor) Decide(ctx context.Context, calls []llm.ToolCall) (Decision, error) {
	allSafe, dangerous := i.Review(calls)
	if allSafe && i.autoApproveSafe {
		i.logger.Debug("auto-approving safe tool batch", "tools", names(calls))
		return DecisionApprove, nil
	}

	if i.ask == nil {
		i.logger.Warn("no consent channel configured, rejecting batch", "dangerous", dangerous)
		return DecisionReject, nil
	}

	response, err := i.ask(ctx, calls)
	if err != nil {
		i.logger.Warn("consent prompt failed, rejecting batch", "error", err)
		return DecisionReject, err
	}

	decision := Classify(response)
	i.logger.Info("consent decision", "dangerous", dangerous, "response", response, "decision", decision)
	return decision, nil
}

// Process drives one suspended thread to a decision: resume on
// approval, inject rejection tool-results on rejection. The returned
// handle continues the turn either way.
func (i *Interceptor) Process(ctx context.Context, engine *graph.Engine, threadID string, calls []llm.ToolCall) *graph.TurnHandle {
	decision, _ := i.Decide(ctx, calls)
	if decision == DecisionApprove {
		return engine.Resume(ctx, threadID)
	}
	return engine.RejectAndResume(ctx, threadID, RejectionMessages(calls))
}

// Classify maps a raw host response to a decision. Ambiguity rejects.
func Classify(response string) Decision {
	r := strings.ToLower(strings.TrimSpace(response))
	if r == "" {
		return DecisionReject
	}
	for _, kw := range rejectExact {
		if r == kw {
			return DecisionReject
		}
	}
	for _, kw := range approveExact {
		if r == kw {
			return DecisionApprove
		}
	}
	for _, kw := range rejectKeywords {
		if strings.Contains(r, kw) {
			return DecisionReject
		}
	}
	for _, kw := range approveKeywords {
		if strings.Contains(r, kw) {
			return DecisionApprove
		}
	}
	return DecisionReject
}

// RejectionMessages builds one tool-result per rejected call so the
// pairing invariant holds and the model can phrase a recovery.
func RejectionMessages(calls []llm.ToolCall) []llm.Message {
	msgs := make([]llm.Message, len(calls))
	for i, call := range calls {
		content := fmt.Sprintf("tool call rejected by user, tool `%s` was not executed", call.Name)
		msgs[i] = llm.NewToolMessage(call.ID, call.Name, content, false)
	}
	return msgs
}

func names(calls []llm.ToolCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}
