package fileop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarvisproj/jarvis/internal/tools/local"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := local.NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace error = %v", err)
	}
	return New(ws), ws.Root()
}

func run(t *testing.T, tool *Tool, args map[string]any) string {
	t.Helper()
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute(%v) error = %v", args, err)
	}
	return result.(string)
}

func TestWriteAndRead(t *testing.T) {
	tool, root := newTestTool(t)

	run(t, tool, map[string]any{"action": "write", "path": "notes/todo.txt", "content": "买牛奶"})

	data, err := os.ReadFile(filepath.Join(root, "notes", "todo.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "买牛奶" {
		t.Errorf("file content = %q", data)
	}

	out := run(t, tool, map[string]any{"action": "read", "path": "notes/todo.txt"})
	if !strings.Contains(out, "买牛奶") {
		t.Errorf("read output = %q", out)
	}
}

func TestAppend(t *testing.T) {
	tool, root := newTestTool(t)

	run(t, tool, map[string]any{"action": "write", "path": "log.txt", "content": "a"})
	run(t, tool, map[string]any{"action": "append", "path": "log.txt", "content": "b"})

	data, _ := os.ReadFile(filepath.Join(root, "log.txt"))
	if string(data) != "ab" {
		t.Errorf("file content = %q, want ab", data)
	}
}

func TestList(t *testing.T) {
	tool, _ := newTestTool(t)

	run(t, tool, map[string]any{"action": "write", "path": "b.txt", "content": "x"})
	run(t, tool, map[string]any{"action": "write", "path": "a.txt", "content": "x"})
	run(t, tool, map[string]any{"action": "write", "path": "sub/c.txt", "content": "x"})

	out := run(t, tool, map[string]any{"action": "list", "path": "."})
	if !strings.Contains(out, "3 项") {
		t.Errorf("list output = %q", out)
	}
	if !strings.Contains(out, "sub/") {
		t.Errorf("directory not marked with trailing slash: %q", out)
	}
	// Entries come back sorted.
	if strings.Index(out, "a.txt") > strings.Index(out, "b.txt") {
		t.Errorf("entries not sorted: %q", out)
	}
}

func TestListEmptyDir(t *testing.T) {
	tool, _ := newTestTool(t)

	out := run(t, tool, map[string]any{"action": "list", "path": "."})
	if !strings.Contains(out, "空目录") {
		t.Errorf("list output = %q", out)
	}
}

func TestExists(t *testing.T) {
	tool, _ := newTestTool(t)

	out := run(t, tool, map[string]any{"action": "exists", "path": "ghost.txt"})
	if !strings.Contains(out, "不存在") {
		t.Errorf("exists output = %q", out)
	}

	run(t, tool, map[string]any{"action": "write", "path": "real.txt", "content": "x"})
	out = run(t, tool, map[string]any{"action": "exists", "path": "real.txt"})
	if !strings.Contains(out, "存在") || strings.Contains(out, "不存在") {
		t.Errorf("exists output = %q", out)
	}
}

func TestInfo(t *testing.T) {
	tool, _ := newTestTool(t)

	run(t, tool, map[string]any{"action": "write", "path": "data.bin", "content": "12345"})
	out := run(t, tool, map[string]any{"action": "info", "path": "data.bin"})
	if !strings.Contains(out, "文件") || !strings.Contains(out, "5 字节") {
		t.Errorf("info output = %q", out)
	}
}

func TestDelete(t *testing.T) {
	tool, root := newTestTool(t)

	run(t, tool, map[string]any{"action": "write", "path": "gone.txt", "content": "x"})
	run(t, tool, map[string]any{"action": "delete", "path": "gone.txt"})
	if _, err := os.Stat(filepath.Join(root, "gone.txt")); !os.IsNotExist(err) {
		t.Error("file still exists after delete")
	}

	run(t, tool, map[string]any{"action": "write", "path": "dir/inner.txt", "content": "x"})
	run(t, tool, map[string]any{"action": "delete", "path": "dir"})
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Error("directory still exists after delete")
	}
}

func TestReadErrors(t *testing.T) {
	tool, _ := newTestTool(t)

	if _, err := tool.Execute(context.Background(), map[string]any{"action": "read", "path": "missing.txt"}); err == nil {
		t.Error("reading a missing file succeeded")
	}

	run(t, tool, map[string]any{"action": "write", "path": "d/x.txt", "content": "x"})
	if _, err := tool.Execute(context.Background(), map[string]any{"action": "read", "path": "d"}); err == nil {
		t.Error("reading a directory succeeded")
	}
}

func TestPathConfinement(t *testing.T) {
	tool, _ := newTestTool(t)

	for _, path := range []string{"../escape.txt", "/etc/passwd", ".ssh/id_rsa"} {
		if _, err := tool.Execute(context.Background(), map[string]any{"action": "read", "path": path}); err == nil {
			t.Errorf("path %q accepted", path)
		}
	}
}

func TestUnknownAction(t *testing.T) {
	tool, _ := newTestTool(t)

	if _, err := tool.Execute(context.Background(), map[string]any{"action": "truncate", "path": "x.txt"}); err == nil {
		t.Error("unknown action accepted")
	}
}
