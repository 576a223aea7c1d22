// Package vision implements the vision_analyze tool: capture the
// screen and describe it with the vision-role model.
package vision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/jarvisproj/jarvis/internal/tools"
)

// Analyzer describes an image with a multimodal model. Satisfied by
// the Gemini client.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, prompt string, image []byte, format string) (string, error)
}

// Capture grabs the current screen as PNG bytes.
type Capture func(ctx context.Context) ([]byte, error)

type args struct {
	Prompt string `json:"prompt,omitempty" jsonschema:"description=对画面的提问（默认描述屏幕内容）"`
}

type Tool struct {
	analyzer Analyzer
	capture  Capture
}

// New builds the tool. A nil capture uses the platform screenshot
// command.
func New(analyzer Analyzer, capture Capture) *Tool {
	if capture == nil {
		capture = captureScreen
	}
	return &Tool{analyzer: analyzer, capture: capture}
}

func (t *Tool) Name() string {
	return "vision_analyze"
}

func (t *Tool) Description() string {
	return "截取当前屏幕并用视觉模型分析画面内容。用户问「屏幕上是什么」「帮我看看这个」时调用。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskSafe
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return 90 * time.Second
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	prompt := a.Prompt
	if prompt == "" {
		prompt = "请描述这张屏幕截图的内容，包括可见的窗口、文字和正在进行的操作。"
	}

	image, err := t.capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	result, err := t.analyzer.AnalyzeImage(ctx, prompt, image, "png")
	if err != nil {
		return nil, fmt.Errorf("image analysis failed: %w", err)
	}
	return result, nil
}

// captureScreen shells out to the platform screenshot tool and reads
// the PNG back from a temp file.
func captureScreen(ctx context.Context) ([]byte, error) {
	path := filepath.Join(os.TempDir(), "jarvis-screen-"+uuid.NewString()+".png")
	defer os.Remove(path)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "screencapture", "-x", path)
	case "linux":
		if _, err := exec.LookPath("gnome-screenshot"); err == nil {
			cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", path)
		} else {
			cmd = exec.CommandContext(ctx, "scrot", path)
		}
	default:
		return nil, fmt.Errorf("screen capture is not supported on %s", runtime.GOOS)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running screenshot command: %w", err)
	}
	return os.ReadFile(path)
}
