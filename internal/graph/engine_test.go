package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/tools"
)

// memStore is a minimal in-process Checkpointer for engine tests.
type memStore struct {
	mu      sync.Mutex
	threads map[string][]Checkpoint
}

func newMemStore() *memStore {
	return &memStore{threads: make(map[string][]Checkpoint)}
}

func (s *memStore) GetLatest(_ context.Context, threadID string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.threads[threadID]
	if len(versions) == 0 {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
	}
	return versions[len(versions)-1], nil
}

func (s *memStore) Put(_ context.Context, cp Checkpoint) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Version = int64(len(s.threads[cp.ThreadID])) + 1
	s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], cp)
	return cp, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) versions(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads[threadID])
}

// scriptedClient replays one ChatResponse per chatbot invocation.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.ChatResponse
	calls     int
}

func (c *scriptedClient) next() llm.ChatResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		c.calls++
		return llm.ChatResponse{Content: "（脚本用尽）"}
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp
}

func (c *scriptedClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	resp := c.next()
	return &resp, nil
}

func (c *scriptedClient) ChatStream(_ context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp := c.next()
	ch := make(chan llm.StreamChunk, 3)
	if resp.Content != "" {
		ch <- llm.StreamChunk{Content: resp.Content}
	}
	if len(resp.ToolCalls) > 0 {
		ch <- llm.StreamChunk{ToolCalls: resp.ToolCalls}
	}
	ch <- llm.StreamChunk{Done: true, Usage: resp.Usage}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not supported")
}

type scriptedBinder struct {
	client llm.Client
	err    error
}

func (b *scriptedBinder) Bind(_ context.Context, _ llm.Role) (*llm.Bound, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &llm.Bound{
		Client:  b.client,
		Flavor:  llm.FlavorStrict,
		Timeout: 5 * time.Second,
	}, nil
}

// fakeTool records executions and returns a fixed result.
type fakeTool struct {
	name   string
	result string
	mu     sync.Mutex
	runs   int
}

func (f *fakeTool) Name() string         { return f.name }
func (f *fakeTool) Description() string  { return "test tool" }
func (f *fakeTool) Risk() tools.Risk     { return tools.RiskSafe }
func (f *fakeTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (f *fakeTool) Timeout() time.Duration { return 0 }
func (f *fakeTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return f.result, nil
}

func (f *fakeTool) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newTestEngine(client llm.Client, reg *tools.Registry) (*Engine, *memStore) {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	store := newMemStore()
	engine := NewEngine(&scriptedBinder{client: client}, reg, store)
	return engine, store
}

func TestStartTurnPlainText(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		{Content: "你好！", Usage: llm.TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}},
	}}
	engine, store := newTestEngine(client, nil)

	h := engine.StartTurn(context.Background(), "t1", "hi", ModeText)

	var streamed strings.Builder
	for tok := range h.Stream() {
		streamed.WriteString(tok)
	}
	outcome := h.Wait()

	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.AssistantText != "你好！" {
		t.Errorf("AssistantText = %q", outcome.AssistantText)
	}
	if streamed.String() != "你好！" {
		t.Errorf("streamed = %q", streamed.String())
	}
	if outcome.Usage.TotalTokens != 5 {
		t.Errorf("Usage.TotalTokens = %d, want 5", outcome.Usage.TotalTokens)
	}

	cp, err := store.GetLatest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if !cp.Terminal() {
		t.Errorf("final checkpoint Next = %v, want terminal", cp.Next)
	}
	// user message + assistant message
	if len(cp.State.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(cp.State.Messages))
	}
}

func TestStartTurnSuspendsBeforeTools(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "echo_test", Args: map[string]any{}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{call}},
	}}
	tool := &fakeTool{name: "echo_test", result: "tool output"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	engine, store := newTestEngine(client, reg)

	outcome := engine.StartTurn(context.Background(), "t1", "run the tool", ModeText).Wait()

	if outcome.Kind != OutcomeSuspended {
		t.Fatalf("Kind = %v, want suspended (err=%v)", outcome.Kind, outcome.Err)
	}
	if len(outcome.Pending) != 1 || outcome.Pending[0].ID != "c1" {
		t.Errorf("Pending = %v, want the c1 call", outcome.Pending)
	}
	if tool.executions() != 0 {
		t.Error("tool ran before approval")
	}

	cp, err := store.GetLatest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if !cp.NextIs(NodeTools) {
		t.Errorf("Next = %v, want [tools]", cp.Next)
	}
}

func TestResumeRunsPendingTools(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "echo_test", Args: map[string]any{}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "工具跑完了。"},
	}}
	tool := &fakeTool{name: "echo_test", result: "tool output"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	engine, store := newTestEngine(client, reg)

	if outcome := engine.StartTurn(context.Background(), "t1", "go", ModeText).Wait(); outcome.Kind != OutcomeSuspended {
		t.Fatalf("setup: Kind = %v, want suspended", outcome.Kind)
	}

	outcome := engine.Resume(context.Background(), "t1").Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.AssistantText != "工具跑完了。" {
		t.Errorf("AssistantText = %q", outcome.AssistantText)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executions = %d, want 1", tool.executions())
	}

	cp, _ := store.GetLatest(context.Background(), "t1")
	var sawToolResult bool
	for _, m := range cp.State.Messages {
		if m.Kind == llm.KindTool && m.ToolCallID == "c1" && m.Content == "tool output" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Error("tool result message missing from the log")
	}
}

func TestResumeOnTerminalThreadIsNoop(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{{Content: "done"}}}
	engine, store := newTestEngine(client, nil)

	engine.StartTurn(context.Background(), "t1", "hi", ModeText).Wait()
	before := store.versions("t1")

	outcome := engine.Resume(context.Background(), "t1").Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished", outcome.Kind)
	}
	if outcome.AssistantText != "done" {
		t.Errorf("AssistantText = %q, want the existing final text", outcome.AssistantText)
	}
	if store.versions("t1") != before {
		t.Error("resume of a terminal thread wrote new checkpoints")
	}
}

func TestRejectAndResume(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "echo_test", Args: map[string]any{}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "好的，不执行了。"},
	}}
	tool := &fakeTool{name: "echo_test", result: "should never run"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	engine, _ := newTestEngine(client, reg)

	if outcome := engine.StartTurn(context.Background(), "t1", "go", ModeText).Wait(); outcome.Kind != OutcomeSuspended {
		t.Fatalf("setup: Kind = %v, want suspended", outcome.Kind)
	}

	rejection := llm.NewToolMessage("c1", "echo_test", "用户拒绝了该操作。", true)
	outcome := engine.RejectAndResume(context.Background(), "t1", []llm.Message{rejection}).Wait()

	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}
	if tool.executions() != 0 {
		t.Error("rejected tool still executed")
	}
	if outcome.AssistantText != "好的，不执行了。" {
		t.Errorf("AssistantText = %q", outcome.AssistantText)
	}
}

func TestRoleSwitchThroughStateUpdater(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "switch_role", Args: map[string]any{"role": "coder"}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "已进入编程模式。"},
	}}
	tool := &fakeTool{
		name:   "switch_role",
		result: llm.RoleSwitchMarker + ":coder\n已切换到 coder 模式。",
	}
	reg := tools.NewRegistry()
	reg.Register(tool)
	engine, store := newTestEngine(client, reg)

	if outcome := engine.StartTurn(context.Background(), "t1", "切换到编程模式", ModeText).Wait(); outcome.Kind != OutcomeSuspended {
		t.Fatalf("setup: Kind = %v, want suspended", outcome.Kind)
	}
	outcome := engine.Resume(context.Background(), "t1").Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}

	cp, _ := store.GetLatest(context.Background(), "t1")
	if cp.State.CurrentRole != llm.RoleCoder {
		t.Errorf("CurrentRole = %q, want coder", cp.State.CurrentRole)
	}
}

func TestWithoutInterruptsRunsToolsDirectly(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "echo_test", Args: map[string]any{}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{call}},
		{Content: "一气呵成。"},
	}}
	tool := &fakeTool{name: "echo_test", result: "ok"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	store := newMemStore()
	engine := NewEngine(&scriptedBinder{client: client}, reg, store, WithoutInterrupts())

	outcome := engine.StartTurn(context.Background(), "t1", "go", ModeText).Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executions = %d, want 1", tool.executions())
	}
}

func TestThreadBusy(t *testing.T) {
	release := make(chan struct{})
	client := &blockingClient{release: release, started: make(chan struct{})}
	engine, _ := newTestEngine(client, nil)

	first := engine.StartTurn(context.Background(), "t1", "slow", ModeText)
	<-client.started

	second := engine.StartTurn(context.Background(), "t1", "concurrent", ModeText)
	outcome := second.Wait()
	if !errors.Is(outcome.Err, ErrThreadBusy) {
		t.Errorf("second turn err = %v, want ErrThreadBusy", outcome.Err)
	}

	close(release)
	if outcome := first.Wait(); outcome.Kind != OutcomeFinished {
		t.Errorf("first turn Kind = %v, want finished", outcome.Kind)
	}
}

// blockingClient blocks its first stream until released.
type blockingClient struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (c *blockingClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (c *blockingClient) ChatStream(_ context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	c.once.Do(func() { close(c.started) })
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		<-c.release
		ch <- llm.StreamChunk{Content: "ok"}
		ch <- llm.StreamChunk{Done: true}
		close(ch)
	}()
	return ch, nil
}

func (c *blockingClient) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not supported")
}

// cancellingTool cancels the turn context from inside its own run and
// still returns its result, like a tool interrupted by Ctrl-C.
type cancellingTool struct {
	name   string
	cancel context.CancelFunc
}

func (c *cancellingTool) Name() string        { return c.name }
func (c *cancellingTool) Description() string { return "test tool" }
func (c *cancellingTool) Risk() tools.Risk    { return tools.RiskSafe }
func (c *cancellingTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (c *cancellingTool) Timeout() time.Duration { return 0 }
func (c *cancellingTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	c.cancel()
	return "first tool finished", nil
}

// assertToolCallsPaired fails unless every assistant tool call in the
// log is answered by exactly one tool message.
func assertToolCallsPaired(t *testing.T, log []llm.Message) {
	t.Helper()
	answers := map[string]int{}
	for _, m := range log {
		if m.Kind == llm.KindTool {
			answers[m.ToolCallID]++
		}
	}
	for _, m := range log {
		if m.Kind != llm.KindAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			if answers[call.ID] != 1 {
				t.Errorf("call %s answered %d times, want 1", call.ID, answers[call.ID])
			}
		}
	}
}

func TestCancelMidBatchKeepsPairing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callA := llm.ToolCall{ID: "cA", Name: "cancel_turn", Args: map[string]any{}}
	callB := llm.ToolCall{ID: "cB", Name: "second_tool", Args: map[string]any{}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{callA, callB}},
		{Content: "接着刚才的说。"},
	}}
	second := &fakeTool{name: "second_tool", result: "should never run"}
	reg := tools.NewRegistry()
	reg.Register(&cancellingTool{name: "cancel_turn", cancel: cancel})
	reg.Register(second)
	store := newMemStore()
	engine := NewEngine(&scriptedBinder{client: client}, reg, store, WithoutInterrupts())

	outcome := engine.StartTurn(ctx, "t1", "go", ModeText).Wait()
	if !errors.Is(outcome.Err, ErrCancelled) {
		t.Fatalf("outcome err = %v, want ErrCancelled", outcome.Err)
	}
	if second.executions() != 0 {
		t.Error("second tool ran despite cancellation")
	}

	cp, err := store.GetLatest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if !cp.NextIs(NodeStateUpdater) {
		t.Errorf("Next = %v, want [state_updater]", cp.Next)
	}
	assertToolCallsPaired(t, cp.State.Messages)

	var sawFirst, sawSkipped bool
	for _, m := range cp.State.Messages {
		if m.Kind != llm.KindTool {
			continue
		}
		switch m.ToolCallID {
		case "cA":
			sawFirst = m.Content == "first tool finished" && !m.IsError
		case "cB":
			sawSkipped = strings.Contains(m.Content, "was not executed") && !m.IsError
		}
	}
	if !sawFirst {
		t.Error("in-flight tool result missing from the persisted log")
	}
	if !sawSkipped {
		t.Error("skipped call has no synthetic result in the persisted log")
	}

	resumed := engine.Resume(context.Background(), "t1").Wait()
	if resumed.Kind != OutcomeFinished {
		t.Fatalf("resume Kind = %v, want finished (err=%v)", resumed.Kind, resumed.Err)
	}
	if resumed.AssistantText != "接着刚才的说。" {
		t.Errorf("AssistantText = %q", resumed.AssistantText)
	}
	if second.executions() != 0 {
		t.Error("skipped call re-ran on resume")
	}

	cp, _ = store.GetLatest(context.Background(), "t1")
	if !cp.Terminal() {
		t.Errorf("final Next = %v, want terminal", cp.Next)
	}
	assertToolCallsPaired(t, cp.State.Messages)
}

func TestChatbotErrorBecomesApology(t *testing.T) {
	store := newMemStore()
	engine := NewEngine(&scriptedBinder{err: errors.New("no model")}, tools.NewRegistry(), store)

	outcome := engine.StartTurn(context.Background(), "t1", "hi", ModeText).Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished with an apology", outcome.Kind)
	}
	if !strings.Contains(outcome.AssistantText, "抱歉") {
		t.Errorf("AssistantText = %q, want an apology", outcome.AssistantText)
	}
}

func TestIterationLimit(t *testing.T) {
	// The model asks for the same tool forever.
	call := llm.ToolCall{ID: "loop", Name: "echo_test", Args: map[string]any{}}
	client := &loopingClient{call: call}
	tool := &fakeTool{name: "echo_test", result: "again"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	store := newMemStore()
	engine := NewEngine(&scriptedBinder{client: client}, reg, store, WithoutInterrupts())

	outcome := engine.StartTurn(context.Background(), "t1", "loop", ModeText).Wait()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("Kind = %v, want finished (err=%v)", outcome.Kind, outcome.Err)
	}
	if !strings.Contains(outcome.AssistantText, "次数过多") {
		t.Errorf("AssistantText = %q, want the loop-limit notice", outcome.AssistantText)
	}
}

// loopingClient always requests the same tool call with a fresh ID.
type loopingClient struct {
	call llm.ToolCall
	mu   sync.Mutex
	n    int
}

func (c *loopingClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{ToolCalls: []llm.ToolCall{c.nextCall()}}, nil
}

func (c *loopingClient) nextCall() llm.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	call := c.call
	call.ID = fmt.Sprintf("loop-%d", c.n)
	return call
}

func (c *loopingClient) ChatStream(_ context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{ToolCalls: []llm.ToolCall{c.nextCall()}}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (c *loopingClient) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not supported")
}

func TestSetRole(t *testing.T) {
	client := &scriptedClient{}
	engine, store := newTestEngine(client, nil)

	t.Run("fresh thread gets a seeded checkpoint", func(t *testing.T) {
		if err := engine.SetRole(context.Background(), "fresh", llm.RoleSmart); err != nil {
			t.Fatalf("SetRole error = %v", err)
		}
		cp, err := store.GetLatest(context.Background(), "fresh")
		if err != nil {
			t.Fatalf("GetLatest error = %v", err)
		}
		if cp.State.CurrentRole != llm.RoleSmart {
			t.Errorf("CurrentRole = %q, want smart", cp.State.CurrentRole)
		}
		if !cp.Terminal() {
			t.Errorf("Next = %v, want terminal", cp.Next)
		}
	})

	t.Run("existing thread keeps its pending nodes", func(t *testing.T) {
		state := NewState(ModeText)
		state.Messages = []llm.Message{
			assistantMsg("a1", "", llm.ToolCall{ID: "c1", Name: "echo_test"}),
		}
		if _, err := store.Put(context.Background(), NewCheckpoint("busy", state, []string{NodeTools})); err != nil {
			t.Fatal(err)
		}

		if err := engine.SetRole(context.Background(), "busy", llm.RoleFast); err != nil {
			t.Fatalf("SetRole error = %v", err)
		}
		cp, _ := store.GetLatest(context.Background(), "busy")
		if cp.State.CurrentRole != llm.RoleFast {
			t.Errorf("CurrentRole = %q, want fast", cp.State.CurrentRole)
		}
		if !cp.NextIs(NodeTools) {
			t.Errorf("Next = %v, pending nodes must carry over", cp.Next)
		}
	})
}

func TestReset(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{{Content: "hello"}}}
	engine, store := newTestEngine(client, nil)

	engine.StartTurn(context.Background(), "t1", "hi", ModeText).Wait()
	if err := engine.Reset(context.Background(), "t1", ModeText); err != nil {
		t.Fatalf("Reset error = %v", err)
	}

	cp, err := store.GetLatest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if len(cp.State.Messages) != 0 {
		t.Errorf("messages after reset = %d, want 0", len(cp.State.Messages))
	}
	if !cp.Terminal() {
		t.Errorf("Next = %v, want terminal", cp.Next)
	}
}
