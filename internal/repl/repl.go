// Package repl is the interactive text driver: it reads user turns,
// streams the assistant's tokens, and hosts the approval prompt for
// dangerous tool batches.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jarvisproj/jarvis/internal/graph"
	"github.com/jarvisproj/jarvis/internal/jarvis"
	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/safety"
)

var ErrExit = errors.New("exit requested")

var (
	promptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("cyan"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	dangerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("red"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// REPL implements the read-eval-print loop for the text mode driver.
type REPL struct {
	app      *jarvis.Jarvis
	threadID string
	scanner  *bufio.Scanner
	out      io.Writer
}

// New creates a REPL over the shared input scanner. The approval
// prompt reads from the same scanner, so build it with Asker and pass
// the result into jarvis.Options.Ask.
func New(app *jarvis.Jarvis, threadID string, scanner *bufio.Scanner, out io.Writer) *REPL {
	return &REPL{
		app:      app,
		threadID: threadID,
		scanner:  scanner,
		out:      out,
	}
}

// Asker builds the consent prompt for dangerous tool batches: renders
// the pending calls with their arguments and reads one reply line.
// There is deliberately no timeout; the question waits as long as the
// user does.
func Asker(scanner *bufio.Scanner, out io.Writer) safety.Asker {
	return func(ctx context.Context, calls []llm.ToolCall) (string, error) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, dangerStyle.Render("以下操作需要确认："))
		for i, call := range calls {
			fmt.Fprintf(out, "  %d. %s\n", i+1, call.Name)
			for key, value := range call.Args {
				fmt.Fprintf(out, "     %s: %v\n", key, value)
			}
		}
		fmt.Fprint(out, promptStyle.Render("执行吗？(y/n) "))

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}

// Run starts the loop. Exits on "exit"/"quit", Ctrl+D, or a scanner
// error.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, promptStyle.Render("Jarvis 已就绪。")+dimStyle.Render(" 输入 /help 查看命令。"))
	fmt.Fprintln(r.out)

	for {
		fmt.Fprint(r.out, promptStyle.Render("> "))

		if !r.scanner.Scan() {
			break
		}
		input := strings.TrimSpace(r.scanner.Text())
		if input == "" {
			continue
		}

		if err := r.dispatch(ctx, input); err != nil {
			if errors.Is(err, ErrExit) {
				fmt.Fprintln(r.out, "再见。")
				break
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
		fmt.Fprintln(r.out)
	}

	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

func (r *REPL) dispatch(ctx context.Context, input string) error {
	switch input {
	case "exit", "quit":
		return ErrExit
	case "clear":
		if err := r.app.Engine.Reset(ctx, r.threadID, graph.ModeText); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "对话已清空。")
		return nil
	case "history":
		return r.printHistory(ctx)
	case "debug":
		return r.printDebug(ctx)
	}

	if strings.HasPrefix(input, "/") {
		return r.handleSlashCommand(ctx, input)
	}
	return r.turn(ctx, input)
}

// turn runs one user turn through the engine, streaming tokens and
// routing suspensions through the safety interceptor until the graph
// reaches a terminal state.
func (r *REPL) turn(ctx context.Context, input string) error {
	h := r.app.Engine.StartTurn(ctx, r.threadID, input, graph.ModeText)

	for {
		streamed := r.drainStream(h)
		outcome := h.Wait()

		switch outcome.Kind {
		case graph.OutcomeFinished:
			if !streamed {
				fmt.Fprint(r.out, assistantStyle.Render(displayText(outcome.AssistantText)))
			}
			fmt.Fprintln(r.out)
			return nil
		case graph.OutcomeSuspended:
			h = r.app.Interceptor.Process(ctx, r.app.Engine, r.threadID, outcome.Pending)
		case graph.OutcomeFailed:
			return outcome.Err
		default:
			return fmt.Errorf("unexpected turn outcome %q", outcome.Kind)
		}
	}
}

// drainStream prints tokens as they arrive, reporting whether anything
// was printed.
func (r *REPL) drainStream(h *graph.TurnHandle) bool {
	streamed := false
	for token := range h.Stream() {
		fmt.Fprint(r.out, assistantStyle.Render(token))
		streamed = true
	}
	if streamed {
		fmt.Fprintln(r.out)
	}
	return streamed
}

func (r *REPL) handleSlashCommand(ctx context.Context, input string) error {
	cmd := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(cmd) == 0 {
		return nil
	}

	switch cmd[0] {
	case "role":
		return r.handleRoleCommand(ctx)
	case "help":
		return r.printHelp()
	case "exit", "quit":
		return ErrExit
	default:
		return fmt.Errorf("unknown command: /%s. Type /help for available commands", cmd[0])
	}
}

// handleRoleCommand shows the interactive role selector and forces the
// chosen role onto the thread.
func (r *REPL) handleRoleCommand(ctx context.Context) error {
	roles := roleNames()

	current := string(llm.RoleDefault)
	if cp, err := r.app.Engine.Latest(ctx, r.threadID); err == nil {
		current = string(cp.State.CurrentRole)
	}

	selected, err := RunRoleSelector(roles, current)
	if err != nil {
		return fmt.Errorf("failed to run selector: %w", err)
	}
	if selected == "" {
		fmt.Fprintln(r.out, "Cancelled")
		return nil
	}
	if selected == current {
		fmt.Fprintf(r.out, "Already using %s\n", current)
		return nil
	}

	role, ok := llm.ParseRole(selected)
	if !ok {
		return fmt.Errorf("unknown role %q", selected)
	}
	if err := r.app.Engine.SetRole(ctx, r.threadID, role); err != nil {
		return fmt.Errorf("failed to switch role: %w", err)
	}

	fmt.Fprintf(r.out, "已切换到 %s 模式。\n", role)
	return nil
}

// roleNames lists the selectable roles in the canonical order.
func roleNames() []string {
	roles := llm.Roles()
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return names
}

// printHistory renders the persisted conversation log.
func (r *REPL) printHistory(ctx context.Context) error {
	cp, err := r.app.Engine.Latest(ctx, r.threadID)
	if err != nil {
		if errors.Is(err, graph.ErrNoCheckpoint) {
			fmt.Fprintln(r.out, "还没有任何对话。")
			return nil
		}
		return err
	}
	if len(cp.State.Messages) == 0 {
		fmt.Fprintln(r.out, "还没有任何对话。")
		return nil
	}

	for _, msg := range cp.State.Messages {
		switch msg.Kind {
		case llm.KindUser:
			fmt.Fprintf(r.out, "%s %s\n", promptStyle.Render("你:"), msg.Content)
		case llm.KindAssistant:
			text := displayText(msg.Content)
			if text != "" {
				fmt.Fprintf(r.out, "%s %s\n", promptStyle.Render("Jarvis:"), text)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("  [调用工具 %s]", call.Name)))
			}
		case llm.KindTool:
			label := fmt.Sprintf("  [工具 %s 结果] %s", msg.ToolName, firstLine(msg.Content))
			fmt.Fprintln(r.out, dimStyle.Render(label))
		}
	}
	return nil
}

// printDebug dumps the thread state for inspection.
func (r *REPL) printDebug(ctx context.Context) error {
	cp, err := r.app.Engine.Latest(ctx, r.threadID)
	if err != nil {
		if errors.Is(err, graph.ErrNoCheckpoint) {
			fmt.Fprintln(r.out, "no checkpoint yet")
			return nil
		}
		return err
	}

	fmt.Fprintf(r.out, "thread:    %s\n", cp.ThreadID)
	fmt.Fprintf(r.out, "version:   %d\n", cp.Version)
	fmt.Fprintf(r.out, "role:      %s\n", cp.State.CurrentRole)
	fmt.Fprintf(r.out, "mode:      %s\n", cp.State.InteractionMode)
	fmt.Fprintf(r.out, "messages:  %d\n", len(cp.State.Messages))
	fmt.Fprintf(r.out, "next:      %v\n", cp.Next)
	fmt.Fprintf(r.out, "tokens:    in=%d out=%d total=%d\n",
		cp.State.Usage.InputTokens, cp.State.Usage.OutputTokens, cp.State.Usage.TotalTokens)
	return nil
}

func (r *REPL) printHelp() error {
	help := `Available commands:
  exit, quit  - 退出
  clear       - 清空当前对话
  history     - 查看对话记录
  debug       - 查看线程状态
  /role       - 切换 LLM 角色
  /help       - 显示本帮助
`
	fmt.Fprint(r.out, help)
	return nil
}

// displayText strips role-switch sentinel lines from text shown to the
// user; the engine has already acted on them.
func displayText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), llm.RoleSwitchMarker+":") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
