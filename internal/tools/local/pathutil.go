// Package local holds the built-in tool implementations and the
// workspace path confinement they share.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenPathPatterns are substrings that mark a path as off-limits
// even when a tool is otherwise allowed to roam. Matched
// case-insensitively against the resolved absolute path.
var forbiddenPathPatterns = []string{
	"/etc/",
	"/usr/",
	"/bin/",
	"/sbin/",
	"/var/",
	"/proc/",
	"/sys/",
	".ssh",
	".gitconfig",
	".git/config",
	".env",
	".aws",
	".azure",
	"id_rsa",
	"id_ed25519",
	"credentials",
}

// Workspace confines tool file access to a single directory tree.
type Workspace struct {
	root string
}

// NewWorkspace creates the workspace directory if needed and returns
// the confinement handle.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace dir: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a tool-supplied path to an absolute path inside the
// workspace. Relative paths resolve against the root; anything that
// escapes the root or touches a forbidden pattern is rejected.
func (w *Workspace) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	abs = filepath.Clean(abs)

	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", path)
	}

	lower := strings.ToLower(abs)
	for _, pattern := range forbiddenPathPatterns {
		if strings.Contains(lower, pattern) {
			return "", fmt.Errorf("access to this path is not allowed: %s", path)
		}
	}
	return abs, nil
}

// ExpandPath expands ~ to the home directory and makes the path
// absolute. Used by tools that legitimately read outside the
// workspace.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(path) == 1 {
			path = home
		} else {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Abs(path)
}
