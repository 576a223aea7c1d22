// Package syscontrol implements the system_control tool: best-effort
// volume, brightness, and application launching through platform
// commands.
package syscontrol

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/tools"
)

type args struct {
	Action string `json:"action" jsonschema:"required,enum=set_volume,enum=set_brightness,enum=launch_app,description=系统控制操作"`
	Value  int    `json:"value,omitempty" jsonschema:"description=音量或亮度百分比（0-100）"`
	App    string `json:"app,omitempty" jsonschema:"description=要启动的应用名称（仅 launch_app）"`
}

type Tool struct{}

func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return "system_control"
}

func (t *Tool) Description() string {
	return "控制本机系统：调节音量、调节亮度、启动应用。尽力而为，依赖平台命令是否可用。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskSafe
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return 15 * time.Second
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	switch a.Action {
	case "set_volume":
		return t.setVolume(ctx, a.Value)
	case "set_brightness":
		return t.setBrightness(ctx, a.Value)
	case "launch_app":
		return t.launchApp(ctx, a.App)
	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}

func (t *Tool) setVolume(ctx context.Context, value int) (any, error) {
	if value < 0 || value > 100 {
		return nil, fmt.Errorf("volume must be 0-100, got %d", value)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "osascript", "-e", fmt.Sprintf("set volume output volume %d", value))
	case "linux":
		cmd = exec.CommandContext(ctx, "amixer", "-q", "set", "Master", fmt.Sprintf("%d%%", value))
	default:
		return nil, fmt.Errorf("volume control is not supported on %s", runtime.GOOS)
	}
	if err := run(cmd); err != nil {
		return nil, err
	}
	return fmt.Sprintf("音量已设置为 %d%%。", value), nil
}

func (t *Tool) setBrightness(ctx context.Context, value int) (any, error) {
	if value < 0 || value > 100 {
		return nil, fmt.Errorf("brightness must be 0-100, got %d", value)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "brightness", fmt.Sprintf("%.2f", float64(value)/100))
	case "linux":
		cmd = exec.CommandContext(ctx, "brightnessctl", "set", fmt.Sprintf("%d%%", value))
	default:
		return nil, fmt.Errorf("brightness control is not supported on %s", runtime.GOOS)
	}
	if err := run(cmd); err != nil {
		return nil, err
	}
	return fmt.Sprintf("亮度已设置为 %d%%。", value), nil
}

func (t *Tool) launchApp(ctx context.Context, app string) (any, error) {
	app = strings.TrimSpace(app)
	if app == "" {
		return nil, fmt.Errorf("app name must not be empty")
	}
	// App names pass to the launcher as a single argument, never a
	// shell, so metacharacters stay inert.
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", "-a", app)
	case "linux":
		cmd = exec.CommandContext(ctx, "sh", "-c", "command -v "+shellQuote(app)+" >/dev/null && nohup "+shellQuote(app)+" >/dev/null 2>&1 &")
	default:
		return nil, fmt.Errorf("app launch is not supported on %s", runtime.GOOS)
	}
	if err := run(cmd); err != nil {
		return nil, err
	}
	return fmt.Sprintf("已启动 %s。", app), nil
}

func run(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s failed: %s", cmd.Path, msg)
		}
		return fmt.Errorf("%s failed: %w", cmd.Path, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
