// Package fileop implements the file_operation tool: filesystem
// access confined to the workspace directory.
package fileop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/tools"
	"github.com/jarvisproj/jarvis/internal/tools/local"
)

const (
	maxReadSize   = 100 * 1024
	maxReadOutput = 10000
)

type args struct {
	Action  string `json:"action" jsonschema:"required,enum=read,enum=write,enum=append,enum=list,enum=delete,enum=exists,enum=info,description=文件操作类型"`
	Path    string `json:"path" jsonschema:"required,description=workspace 内的相对路径"`
	Content string `json:"content,omitempty" jsonschema:"description=写入的内容（write/append）"`
}

type Tool struct {
	workspace *local.Workspace
}

func New(workspace *local.Workspace) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Name() string {
	return "file_operation"
}

func (t *Tool) Description() string {
	return "在 workspace 目录内读写文件：read/write/append/list/delete/exists/info。所有路径都相对于 workspace，禁止越界。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return 30 * time.Second
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	abs, err := t.workspace.Resolve(a.Path)
	if err != nil {
		return nil, err
	}

	switch a.Action {
	case "read":
		return t.read(abs, a.Path)
	case "write":
		return t.write(abs, a.Path, a.Content, false)
	case "append":
		return t.write(abs, a.Path, a.Content, true)
	case "list":
		return t.list(abs, a.Path)
	case "delete":
		return t.delete(abs, a.Path)
	case "exists":
		if _, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				return fmt.Sprintf("%s 不存在。", a.Path), nil
			}
			return nil, err
		}
		return fmt.Sprintf("%s 存在。", a.Path), nil
	case "info":
		return t.info(abs, a.Path)
	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}

func (t *Tool) read(abs, display string) (any, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", display)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", display)
	}
	if info.Size() > maxReadSize {
		return nil, fmt.Errorf("file too large (%.1f KB), max %d KB", float64(info.Size())/1024, maxReadSize/1024)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", display, err)
	}

	content := string(data)
	if len(content) > maxReadOutput {
		content = content[:maxReadOutput] + fmt.Sprintf("\n\n...[内容已截断，总长度 %d 字符]", len(data))
	}
	return fmt.Sprintf("文件内容 (%s):\n```\n%s\n```", filepath.Base(abs), content), nil
}

func (t *Tool) write(abs, display, content string, appendMode bool) (any, error) {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	if appendMode {
		f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", display, err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return nil, fmt.Errorf("appending to %s: %w", display, err)
		}
		return fmt.Sprintf("已追加到 %s (%d 字符)。", display, len(content)), nil
	}

	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", display, err)
	}
	return fmt.Sprintf("文件已保存: %s (%d 字符)。", display, len(content)), nil
}

func (t *Tool) list(abs, display string) (any, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", display)
		}
		return nil, err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("%s 是空目录。", display), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s 包含 %d 项:\n%s", display, len(names), strings.Join(names, "\n")), nil
}

func (t *Tool) delete(abs, display string) (any, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path not found: %s", display)
		}
		return nil, err
	}

	if info.IsDir() {
		if err := os.RemoveAll(abs); err != nil {
			return nil, fmt.Errorf("deleting directory %s: %w", display, err)
		}
		return fmt.Sprintf("目录已删除: %s", display), nil
	}
	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("deleting %s: %w", display, err)
	}
	return fmt.Sprintf("文件已删除: %s", display), nil
}

func (t *Tool) info(abs, display string) (any, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path not found: %s", display)
		}
		return nil, err
	}

	kind := "文件"
	if info.IsDir() {
		kind = "目录"
	}
	return fmt.Sprintf("%s: %s, %d 字节, 修改于 %s",
		display, kind, info.Size(), info.ModTime().Format("2006-01-02 15:04:05")), nil
}
