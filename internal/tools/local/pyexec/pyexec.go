// Package pyexec implements the python_interpreter tool: runs a code
// snippet through python3 inside the workspace and reports any files
// the run created there.
package pyexec

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/tools"
	"github.com/jarvisproj/jarvis/internal/tools/local"
)

const (
	execTimeout   = 60 * time.Second
	maxOutputSize = 50 * 1024
)

type args struct {
	Code string `json:"code" jsonschema:"required,description=要执行的 Python 代码"`
}

type Tool struct {
	workspace *local.Workspace
}

func New(workspace *local.Workspace) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Name() string {
	return "python_interpreter"
}

func (t *Tool) Description() string {
	return "执行 Python 代码（python3）。适用于计算、数据处理、生成文件等任务。代码在 workspace 目录中运行。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return execTimeout + 10*time.Second
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Code) == "" {
		return nil, fmt.Errorf("code must not be empty")
	}

	before, err := t.snapshotFiles()
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "python3", "-")
	cmd.Dir = t.workspace.Root()
	cmd.Stdin = strings.NewReader(a.Code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("python execution timed out after %s", execTimeout)
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run python3: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "退出码: %d\n", exitCode)
	if out := truncate(stdout.String()); out != "" {
		fmt.Fprintf(&b, "输出:\n%s\n", out)
	}
	if errOut := truncate(stderr.String()); errOut != "" {
		fmt.Fprintf(&b, "错误输出:\n%s\n", errOut)
	}

	if created := newFiles(before, t.workspace); len(created) > 0 {
		fmt.Fprintf(&b, "新生成的文件: %s\n", strings.Join(created, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// snapshotFiles records the relative paths of files currently in the
// workspace, so a post-run diff can report what the code produced.
func (t *Tool) snapshotFiles() (map[string]struct{}, error) {
	files := make(map[string]struct{})
	root := t.workspace.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		files[rel] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	return files, nil
}

func newFiles(before map[string]struct{}, workspace *local.Workspace) []string {
	var created []string
	root := workspace.Root()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if _, ok := before[rel]; !ok {
			created = append(created, rel)
		}
		return nil
	})
	sort.Strings(created)
	return created
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputSize {
		return s[:maxOutputSize] + fmt.Sprintf("\n...[输出已截断，总长度 %d 字节]", len(s))
	}
	return s
}
