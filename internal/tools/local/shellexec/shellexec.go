// Package shellexec implements the shell_execute tool: arbitrary
// shell commands inside the workspace, screened against a blacklist
// of destructive patterns before the process ever spawns.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/tools"
	"github.com/jarvisproj/jarvis/internal/tools/local"
)

const (
	defaultTimeoutSec = 30
	minTimeoutSec     = 1
	maxTimeoutSec     = 300
	maxOutputSize     = 100 * 1024
)

// forbiddenPatterns block a command outright when found anywhere in
// it, case-insensitively.
var forbiddenPatterns = []string{
	"rm -rf",
	"rm -r",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	":(){:|:&};:",
	"shutdown",
	"reboot",
	"halt",
}

type args struct {
	Command    string `json:"command" jsonschema:"required,description=要执行的 shell 命令"`
	TimeoutSec int    `json:"timeout,omitempty" jsonschema:"description=超时秒数（1-300，默认 30）"`
}

type Tool struct {
	workspace *local.Workspace
}

func New(workspace *local.Workspace) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Name() string {
	return "shell_execute"
}

func (t *Tool) Description() string {
	return "在 workspace 目录内执行 shell 命令。适用于 Git 操作、包管理、系统命令等。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	// The per-call timeout arg governs the subprocess; leave headroom
	// above the maximum it can request.
	return (maxTimeoutSec + 10) * time.Second
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	command := strings.TrimSpace(a.Command)
	if command == "" {
		return nil, fmt.Errorf("command must not be empty")
	}
	if reason := CheckCommand(command); reason != "" {
		return nil, fmt.Errorf("%s", reason)
	}

	timeout := a.TimeoutSec
	if timeout <= 0 {
		timeout = defaultTimeoutSec
	}
	if timeout < minTimeoutSec {
		timeout = minTimeoutSec
	}
	if timeout > maxTimeoutSec {
		timeout = maxTimeoutSec
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workspace.Root()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %ds", timeout)
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to execute command: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "退出码: %d\n", exitCode)
	if out := truncate(stdout.String()); out != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", out)
	}
	if errOut := truncate(stderr.String()); errOut != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", errOut)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CheckCommand returns a block reason when the command matches the
// destructive blacklist, or "" when it may run.
func CheckCommand(command string) string {
	lower := strings.ToLower(command)
	for _, pattern := range forbiddenPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("安全拦截：检测到危险模式 %q", pattern)
		}
	}
	return ""
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputSize {
		return s[:maxOutputSize] + fmt.Sprintf("\n...[输出已截断，总长度 %d 字节]", len(s))
	}
	return s
}
