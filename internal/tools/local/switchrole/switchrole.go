// Package switchrole implements the switch_role tool: the model calls
// it to change its own active role. The result's first line carries
// the role-switch sentinel that the conversation engine parses.
package switchrole

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/llm"
	"github.com/jarvisproj/jarvis/internal/tools"
)

// roleAliases maps user-facing names, including Chinese and model
// nicknames, onto canonical role names.
var roleAliases = map[string]llm.Role{
	"default": llm.RoleDefault,
	"默认":      llm.RoleDefault,
	"普通":      llm.RoleDefault,
	"normal":  llm.RoleDefault,

	"smart":  llm.RoleSmart,
	"高智商":    llm.RoleSmart,
	"聪明":     llm.RoleSmart,
	"gpt4":   llm.RoleSmart,
	"gpt-4":  llm.RoleSmart,
	"gpt-4o": llm.RoleSmart,

	"coder":    llm.RoleCoder,
	"编程":       llm.RoleCoder,
	"代码":       llm.RoleCoder,
	"deepseek": llm.RoleCoder,
	"程序员":      llm.RoleCoder,

	"fast":   llm.RoleFast,
	"快速":     llm.RoleFast,
	"llama":  llm.RoleFast,
	"ollama": llm.RoleFast,

	"vision": llm.RoleVision,
	"视觉":     llm.RoleVision,
	"gemini": llm.RoleVision,
	"图像":     llm.RoleVision,
	"看图":     llm.RoleVision,
	"图片":     llm.RoleVision,
}

var roleDescriptions = map[llm.Role]string{
	llm.RoleDefault: "默认模式 - 平衡的通用对话能力",
	llm.RoleSmart:   "高智能模式 - 适合复杂推理和创意任务",
	llm.RoleCoder:   "编程模式 - 优化的代码生成能力",
	llm.RoleFast:    "快速模式 - 本地运行，响应迅速",
	llm.RoleVision:  "视觉模式 - 支持图像分析和多模态理解",
}

type args struct {
	Role string `json:"role" jsonschema:"required,description=目标角色名称。可选值: default/默认、smart/高智商/gpt4、coder/编程/代码、fast/快速/llama、vision/视觉/gemini"`
}

type Tool struct{}

func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return "switch_role"
}

func (t *Tool) Description() string {
	return "切换 AI 的模型角色。用户说「切换到编程模式」「用视觉模式」之类的话时调用。支持别名，如 gemini、高智商、编程。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskSafe
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return 0
}

// Execute resolves the requested role and returns the sentinel line
// followed by a human confirmation. Unknown roles fail so the model
// can report the miss instead of silently keeping the old role.
func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	role, ok := Resolve(a.Role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q, available: default, smart, coder, fast, vision", a.Role)
	}

	return fmt.Sprintf("%s:%s\n已切换到 %s 模式。\n%s",
		llm.RoleSwitchMarker, role, role, roleDescriptions[role]), nil
}

// Resolve maps a role name or alias to its canonical role.
func Resolve(input string) (llm.Role, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if role, ok := roleAliases[normalized]; ok {
		return role, true
	}
	return llm.ParseRole(normalized)
}
