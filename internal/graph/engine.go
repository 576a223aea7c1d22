package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/tools"
)

// Node names of the fixed topology.
const (
	NodeChatbot      = "chatbot"
	NodeTools        = "tools"
	NodeStateUpdater = "state_updater"
)

const tracerName = "github.com/jarvisproj/jarvis/internal/graph"

// roleSwitchLookback bounds how many trailing tool messages the
// state_updater inspects for the role-switch marker.
const roleSwitchLookback = 3

// maxIterations caps chatbot executions per run so a model that keeps
// requesting tools cannot loop forever.
const maxIterations = 10

var (
	// ErrThreadBusy is returned when a turn is started on a thread that
	// already has one in flight.
	ErrThreadBusy = errors.New("thread already has a turn in flight")

	// ErrCancelled is the outcome error of a cooperatively cancelled
	// turn. The pre-cancellation checkpoint is durable; resuming later
	// continues from it.
	ErrCancelled = errors.New("turn cancelled")
)

// ModelBinder resolves a role to a bound chat model. Implemented by
// the LLM factory.
type ModelBinder interface {
	Bind(ctx context.Context, role llm.Role) (*llm.Bound, error)
}

// Engine drives one conversation thread through the chatbot / tools /
// state_updater loop, checkpointing every transition. It is the only
// writer of thread state while a turn is in flight.
type Engine struct {
	binder      ModelBinder
	registry    *tools.Registry
	executor    *tools.Executor
	store       Checkpointer
	prompt      PromptConfig
	maxHistory  int
	temperature float64
	breakBefore map[string]struct{}
	logger      *slog.Logger
	tracer      trace.Tracer

	mu      sync.Mutex
	threads map[string]*threadSlot
}

type threadSlot struct {
	busy sync.Mutex
}

// Option configures optional Engine settings.
type Option func(*Engine)

// WithMaxHistory bounds the message window sent to the model.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// WithTemperature sets the per-call sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithPrompt sets the system prompt inputs.
func WithPrompt(cfg PromptConfig) Option {
	return func(e *Engine) { e.prompt = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithoutInterrupts clears the break-before set. Every tool call then
// runs unattended; only use when safety is explicitly disabled.
func WithoutInterrupts() Option {
	return func(e *Engine) { e.breakBefore = map[string]struct{}{} }
}

// NewEngine builds an engine over the given collaborators. The default
// break-before set is {tools}.
func NewEngine(binder ModelBinder, registry *tools.Registry, store Checkpointer, opts ...Option) *Engine {
	e := &Engine{
		binder:      binder,
		registry:    registry,
		executor:    tools.NewExecutor(registry),
		store:       store,
		maxHistory:  30,
		temperature: 0.7,
		breakBefore: map[string]struct{}{NodeTools: {}},
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		threads:     make(map[string]*threadSlot),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prompt.Tools == nil {
		e.prompt.Tools = catalogue(registry)
	}
	return e
}

func catalogue(registry *tools.Registry) []ToolSummary {
	all := registry.GetAll()
	out := make([]ToolSummary, 0, len(all))
	for _, t := range all {
		out = append(out, ToolSummary{
			Name:        t.Name(),
			Description: t.Description(),
			Dangerous:   t.Risk() == tools.RiskDangerous,
		})
	}
	return out
}

// StartTurn appends a user message to the thread and runs the graph
// until it finishes or suspends. The returned handle streams tokens
// and delivers the outcome.
func (e *Engine) StartTurn(ctx context.Context, threadID, userText string, mode InteractionMode) *TurnHandle {
	h := newTurnHandle()
	go func() {
		slot, ok := e.acquire(threadID)
		if !ok {
			h.finish(failedOutcome(ErrThreadBusy))
			return
		}
		defer slot.busy.Unlock()

		state, err := e.loadState(ctx, threadID, mode)
		if err != nil {
			h.finish(failedOutcome(err))
			return
		}
		state.InteractionMode = mode

		user := llm.NewUserMessage(userText)
		state.Messages = append(state.Messages, user)

		cp, err := e.put(ctx, NewCheckpoint(threadID, state, []string{NodeChatbot}))
		if err != nil {
			h.finish(failedOutcome(err))
			return
		}
		e.runUntilQuiescent(ctx, cp, h, false)
	}()
	return h
}

// Resume continues a suspended thread, executing the node it was
// interrupted before. On a terminal thread it is a no-op that reports
// the existing final assistant text.
func (e *Engine) Resume(ctx context.Context, threadID string) *TurnHandle {
	h := newTurnHandle()
	go func() {
		slot, ok := e.acquire(threadID)
		if !ok {
			h.finish(failedOutcome(ErrThreadBusy))
			return
		}
		defer slot.busy.Unlock()

		cp, err := e.store.GetLatest(ctx, threadID)
		if err != nil {
			h.finish(failedOutcome(err))
			return
		}
		e.runUntilQuiescent(ctx, cp, h, true)
	}()
	return h
}

// InjectAndResume writes the supplied messages as if asNode had
// produced them, then advances past it and resumes. This is how
// rejection tool-results reach the log without the tools ever running.
func (e *Engine) InjectAndResume(ctx context.Context, threadID string, msgs []llm.Message, asNode string) *TurnHandle {
	h := newTurnHandle()
	go func() {
		slot, ok := e.acquire(threadID)
		if !ok {
			h.finish(failedOutcome(ErrThreadBusy))
			return
		}
		defer slot.busy.Unlock()

		next, err := successors(asNode)
		if err != nil {
			h.finish(failedOutcome(err))
			return
		}
		cp, err := UpdatePartial(ctx, e.store, threadID, Delta{Messages: msgs}, next)
		if err != nil {
			h.finish(failedOutcome(e.wrapWrite(err)))
			return
		}
		e.runUntilQuiescent(ctx, cp, h, true)
	}()
	return h
}

// RejectAndResume is InjectAndResume with the rejection messages
// attributed to the tools node.
func (e *Engine) RejectAndResume(ctx context.Context, threadID string, msgs []llm.Message) *TurnHandle {
	return e.InjectAndResume(ctx, threadID, msgs, NodeTools)
}

// Latest returns the thread's newest checkpoint.
func (e *Engine) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	return e.store.GetLatest(ctx, threadID)
}

// Reset replaces the thread state with a fresh terminal checkpoint,
// discarding the conversation.
func (e *Engine) Reset(ctx context.Context, threadID string, mode InteractionMode) error {
	_, err := e.put(ctx, NewCheckpoint(threadID, NewState(mode), nil))
	return err
}

// SetRole forces the thread's active role from outside the graph, for
// driver-initiated switches. The pending nodes carry over unchanged.
func (e *Engine) SetRole(ctx context.Context, threadID string, role llm.Role) error {
	slot, ok := e.acquire(threadID)
	if !ok {
		return ErrThreadBusy
	}
	defer slot.busy.Unlock()

	latest, err := e.store.GetLatest(ctx, threadID)
	if errors.Is(err, ErrNoCheckpoint) {
		state := NewState(ModeText)
		state.CurrentRole = role
		_, err = e.put(ctx, NewCheckpoint(threadID, state, nil))
		return err
	}
	if err != nil {
		return err
	}
	_, err = UpdatePartial(ctx, e.store, threadID, Delta{Role: &role}, latest.Next)
	return err
}

// successors maps a node to the nodes that run after it.
func successors(node string) ([]string, error) {
	switch node {
	case NodeTools:
		return []string{NodeStateUpdater}, nil
	case NodeStateUpdater:
		return []string{NodeChatbot}, nil
	case NodeChatbot:
		// The edge out of chatbot is conditional; it cannot be skipped
		// over with injected output.
		return nil, fmt.Errorf("cannot inject past node %q", node)
	default:
		return nil, fmt.Errorf("unknown node %q", node)
	}
}

func (e *Engine) acquire(threadID string) (*threadSlot, bool) {
	e.mu.Lock()
	slot, ok := e.threads[threadID]
	if !ok {
		slot = &threadSlot{}
		e.threads[threadID] = slot
	}
	e.mu.Unlock()
	if !slot.busy.TryLock() {
		return nil, false
	}
	return slot, true
}

func (e *Engine) loadState(ctx context.Context, threadID string, mode InteractionMode) (State, error) {
	cp, err := e.store.GetLatest(ctx, threadID)
	if errors.Is(err, ErrNoCheckpoint) {
		return NewState(mode), nil
	}
	if err != nil {
		return State{}, err
	}
	return cp.State, nil
}

// runUntilQuiescent executes pending nodes until the graph terminates,
// suspends at a break-before node, fails, or is cancelled. Every state
// transition is written before the next node runs, so a crash at any
// point leaves a resumable checkpoint.
func (e *Engine) runUntilQuiescent(ctx context.Context, cp Checkpoint, h *TurnHandle, resumed bool) {
	ctx, span := e.tracer.Start(ctx, "graph.run",
		trace.WithAttributes(attribute.String("thread.id", cp.ThreadID)))
	defer span.End()

	skipBreak := resumed
	iterations := 0
	var usage llm.TokenUsage

	for {
		if err := ctx.Err(); err != nil {
			h.finish(failedOutcome(ErrCancelled))
			return
		}

		if cp.Terminal() {
			h.finish(TurnOutcome{
				Kind:          OutcomeFinished,
				AssistantText: lastAssistantText(cp.State),
				Usage:         usage,
			})
			return
		}

		node := cp.Next[0]
		if _, brk := e.breakBefore[node]; brk && !skipBreak {
			// The checkpoint naming this node was already written, so
			// the suspension survives a crash here.
			h.finish(TurnOutcome{
				Kind:    OutcomeSuspended,
				Pending: cp.State.PendingToolCalls(),
				Usage:   usage,
			})
			return
		}
		skipBreak = false

		if node == NodeChatbot {
			iterations++
			if iterations > maxIterations {
				e.logger.Warn("iteration limit reached", "thread", cp.ThreadID, "limit", maxIterations)
				delta := Delta{Messages: []llm.Message{
					llm.NewAssistantMessage("抱歉，本轮对话的工具调用次数过多，我先停在这里。请换一种方式描述你的需求。", nil),
				}}
				var err error
				cp, err = e.advance(ctx, cp, delta, nil)
				if err != nil {
					h.finish(failedOutcome(err))
					return
				}
				continue
			}
		}

		delta, next, cancelled := e.executeNode(ctx, node, cp.State, h)
		if delta.Usage != nil {
			usage.Add(*delta.Usage)
		}

		if cancelled && node == NodeChatbot {
			// Nothing to persist: the pre-call checkpoint already
			// names chatbot as pending, so a later resume retries it.
			h.finish(failedOutcome(ErrCancelled))
			return
		}

		writeCtx := ctx
		if cancelled {
			// The turn context is already cancelled; the checkpoint
			// write must still go through.
			writeCtx = context.WithoutCancel(ctx)
		}
		var err error
		cp, err = e.advance(writeCtx, cp, delta, next)
		if err != nil {
			h.finish(failedOutcome(err))
			return
		}
		if cancelled {
			// Every call in the batch has a durable result (executed or
			// synthetic), so a later resume continues from state_updater
			// without re-running anything.
			h.finish(failedOutcome(ErrCancelled))
			return
		}
	}
}

// advance applies a node's delta and durably writes the new version.
func (e *Engine) advance(ctx context.Context, cp Checkpoint, delta Delta, next []string) (Checkpoint, error) {
	state, err := delta.Apply(cp.State)
	if err != nil {
		return Checkpoint{}, err
	}
	return e.put(ctx, NewCheckpoint(cp.ThreadID, state, next))
}

func (e *Engine) put(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	written, err := e.store.Put(ctx, cp)
	if err != nil {
		return Checkpoint{}, e.wrapWrite(err)
	}
	return written, nil
}

func (e *Engine) wrapWrite(err error) error {
	if errors.Is(err, ErrNoCheckpoint) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
}

// executeNode runs one node and returns its delta plus the nodes that
// follow. cancelled is set when a tools batch stopped early on context
// cancellation.
func (e *Engine) executeNode(ctx context.Context, node string, state State, h *TurnHandle) (delta Delta, next []string, cancelled bool) {
	ctx, span := e.tracer.Start(ctx, "graph."+node)
	defer span.End()

	switch node {
	case NodeChatbot:
		delta, cancelled = e.chatbotNode(ctx, state, h)
		if cancelled {
			return Delta{}, nil, true
		}
		if len(delta.Messages) == 1 && delta.Messages[0].HasToolCalls() {
			next = []string{NodeTools}
		}
		return delta, next, false
	case NodeTools:
		delta, cancelled = e.toolsNode(ctx, state)
		return delta, []string{NodeStateUpdater}, cancelled
	case NodeStateUpdater:
		return e.stateUpdaterNode(state), []string{NodeChatbot}, false
	default:
		e.logger.Error("unknown node in checkpoint", "node", node)
		return Delta{}, nil, false
	}
}

// chatbotNode invokes the bound model for the current role, streaming
// tokens into the handle. It never returns an error: any failure
// becomes an apologetic assistant message so the turn ends cleanly.
// The cancelled result is set only when the caller's context was
// cancelled, in which case no delta is emitted.
func (e *Engine) chatbotNode(ctx context.Context, state State, h *TurnHandle) (Delta, bool) {
	bound, err := e.binder.Bind(ctx, state.CurrentRole)
	if err != nil {
		e.logger.Error("model binding failed", "role", state.CurrentRole, "error", err)
		return Delta{Messages: []llm.Message{apology(err)}}, false
	}

	log := StripSystem(state.Messages)
	log = TruncateHistory(log, e.maxHistory)
	log = SanitizeForProvider(log, bound.Flavor)

	req := llm.ChatRequest{
		System:      BuildSystemPrompt(e.prompt, state.CurrentRole, state.InteractionMode),
		Messages:    log,
		Tools:       bound.Tools,
		Temperature: e.temperature,
	}

	callCtx := ctx
	if bound.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, bound.Timeout)
		defer cancel()
	}

	resp, err := e.streamChat(callCtx, bound, req, h)
	if err != nil {
		if ctx.Err() != nil {
			return Delta{}, true
		}
		e.logger.Error("llm call failed", "role", state.CurrentRole, "model", bound.Model, "error", err)
		return Delta{Messages: []llm.Message{apology(err)}}, false
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		e.logger.Warn("llm returned empty response", "role", state.CurrentRole, "model", bound.Model)
		return Delta{Messages: []llm.Message{apology(errors.New("empty response"))}}, false
	}

	assistant := llm.NewAssistantMessage(resp.Content, resp.ToolCalls)
	return Delta{Messages: []llm.Message{assistant}, Usage: &resp.Usage}, false
}

// streamChat consumes the provider stream, forwarding text tokens and
// accumulating the full response.
func (e *Engine) streamChat(ctx context.Context, bound *llm.Bound, req llm.ChatRequest, h *TurnHandle) (*llm.ChatResponse, error) {
	stream, err := bound.Client.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp llm.ChatResponse
	for chunk := range stream {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			resp.Content += chunk.Content
			h.emit(chunk.Content)
		}
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.Done {
			resp.Usage = chunk.Usage
		}
	}
	return &resp, nil
}

// toolsNode executes the pending tool calls sequentially, one message
// per call. Lookup, validation, timeout and invocation failures all
// land in the result messages; nothing here is fatal. When the batch
// is cut short by cancellation, the calls that never ran still get
// synthetic result messages so every call in the durable log stays
// answered exactly once.
func (e *Engine) toolsNode(ctx context.Context, state State) (Delta, bool) {
	calls := state.PendingToolCalls()
	if len(calls) == 0 {
		return Delta{}, false
	}

	results, err := e.executor.ExecuteBatch(ctx, tools.FromToolCalls(calls))
	cancelled := err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	if err != nil && !cancelled && !errors.Is(err, tools.ErrAllToolsFailed) {
		e.logger.Error("tool batch failed", "error", err)
	}

	msgs := e.executor.ResultsToMessages(results)
	for _, m := range msgs {
		if m.IsError {
			e.logger.Warn("tool call failed", "tool", m.ToolName, "result", m.Content)
		}
	}
	if cancelled {
		// Results cover a prefix of calls; answer the rest.
		msgs = append(msgs, cancellationMessages(calls[len(results):])...)
	}
	return Delta{Messages: msgs}, cancelled
}

// cancellationMessages builds a tool result for each call the
// cancellation skipped, in the shape of safety rejection messages.
func cancellationMessages(calls []llm.ToolCall) []llm.Message {
	msgs := make([]llm.Message, len(calls))
	for i, call := range calls {
		msgs[i] = llm.NewToolMessage(call.ID, call.Name,
			fmt.Sprintf("tool call cancelled, tool `%s` was not executed", call.Name), false)
	}
	return msgs
}

// stateUpdaterNode scans the trailing tool messages for the
// role-switch marker and emits a role delta when it names a different
// valid role.
func (e *Engine) stateUpdaterNode(state State) Delta {
	inspected := 0
	for i := len(state.Messages) - 1; i >= 0 && inspected < roleSwitchLookback; i-- {
		m := state.Messages[i]
		if m.Kind != llm.KindTool {
			break
		}
		inspected++
		role, ok := llm.ParseRoleSwitch(m.Content)
		if !ok {
			continue
		}
		if role == state.CurrentRole {
			return Delta{}
		}
		e.logger.Info("role switch", "from", state.CurrentRole, "to", role)
		return Delta{Role: &role}
	}
	return Delta{}
}

func lastAssistantText(state State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Kind == llm.KindAssistant {
			return state.Messages[i].Content
		}
	}
	return ""
}

func apology(err error) llm.Message {
	return llm.NewAssistantMessage(
		fmt.Sprintf("抱歉，我这边出了点问题（%v）。请稍后再试一次。", err), nil)
}
