package local

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkspaceResolve(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace error = %v", err)
	}
	root := ws.Root()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "relative path",
			path: "notes.txt",
			want: filepath.Join(root, "notes.txt"),
		},
		{
			name: "nested relative path",
			path: "projects/demo/main.go",
			want: filepath.Join(root, "projects", "demo", "main.go"),
		},
		{
			name: "dot resolves to root",
			path: ".",
			want: root,
		},
		{
			name: "traversal that stays inside",
			path: "sub/../notes.txt",
			want: filepath.Join(root, "notes.txt"),
		},
		{
			name: "absolute path inside root",
			path: filepath.Join(root, "data.json"),
			want: filepath.Join(root, "data.json"),
		},
		{name: "empty path", path: "", wantErr: true},
		{name: "whitespace path", path: "   ", wantErr: true},
		{name: "traversal escape", path: "../outside.txt", wantErr: true},
		{name: "deep traversal escape", path: "a/../../..", wantErr: true},
		{name: "absolute path outside root", path: "/etc/passwd", wantErr: true},
		{name: "ssh key inside workspace", path: ".ssh/id_rsa", wantErr: true},
		{name: "env file", path: ".env", wantErr: true},
		{name: "private key by name", path: "backup/id_rsa", wantErr: true},
		{name: "credentials file", path: "secret/credentials.json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewWorkspaceCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "workspace")
	ws, err := NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace error = %v", err)
	}
	info, err := os.Stat(ws.Root())
	if err != nil || !info.IsDir() {
		t.Errorf("workspace root not created: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	got, err := ExpandPath("~/docs")
	if err != nil {
		t.Fatalf("ExpandPath error = %v", err)
	}
	if got != filepath.Join(home, "docs") {
		t.Errorf("ExpandPath(~/docs) = %q", got)
	}

	got, err = ExpandPath("~")
	if err != nil {
		t.Fatalf("ExpandPath error = %v", err)
	}
	if got != home {
		t.Errorf("ExpandPath(~) = %q, want %q", got, home)
	}

	got, err = ExpandPath("relative/file")
	if err != nil {
		t.Fatalf("ExpandPath error = %v", err)
	}
	if !filepath.IsAbs(got) || !strings.HasSuffix(got, filepath.Join("relative", "file")) {
		t.Errorf("ExpandPath(relative/file) = %q", got)
	}
}
