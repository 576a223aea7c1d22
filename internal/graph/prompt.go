package graph

import (
	"fmt"
	"strings"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// DefaultPersona is the assistant's personality prompt. Override with
// PromptConfig.Persona (env JARVIS_PERSONALITY through config).
const DefaultPersona = `你是 Jarvis，一个智能 AI 助手。你友好、有帮助，并且能够协助用户完成各种任务。

你的特点：
- 简洁明了地回答问题
- 在需要时提供详细的解释
- 保持友好和专业的态度
- 使用中文与用户交流（除非用户使用其他语言）`

// ToolSummary is one line of the tool catalogue shown in the system
// prompt.
type ToolSummary struct {
	Name        string
	Description string
	Dangerous   bool
}

// PromptConfig carries the inputs the system prompt is built from.
// Suffix is an optional hook for side-channel context such as the
// user-profile memory block; it runs on every build so the prompt
// always reflects current state.
type PromptConfig struct {
	Persona string
	Tools   []ToolSummary
	Suffix  func() string
}

// BuildSystemPrompt synthesises the system message content for one LLM
// call. The stored log never contains system messages; this result is
// prepended fresh each time so role and mode changes take effect
// immediately.
func BuildSystemPrompt(cfg PromptConfig, role llm.Role, mode InteractionMode) string {
	persona := cfg.Persona
	if persona == "" {
		persona = DefaultPersona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	b.WriteString("你可以使用以下工具来帮助用户：\n")
	var safe, dangerous []ToolSummary
	for _, t := range cfg.Tools {
		if t.Dangerous {
			dangerous = append(dangerous, t)
		} else {
			safe = append(safe, t)
		}
	}
	if len(safe) > 0 {
		b.WriteString("\n【安全工具 - 自动执行】\n")
		for _, t := range safe {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, firstLine(t.Description))
		}
	}
	if len(dangerous) > 0 {
		b.WriteString("\n【危险工具 - 需要用户确认】\n")
		for _, t := range dangerous {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, firstLine(t.Description))
		}
	}
	b.WriteString("\n请根据用户的需求选择合适的工具。如果不需要工具，直接回答即可。\n")

	fmt.Fprintf(&b, "\n当前模式: %s", role)
	if mode == ModeVoice {
		b.WriteString("\n当前为语音对话，回答请口语化、简短。")
	}

	if cfg.Suffix != nil {
		if suffix := cfg.Suffix(); suffix != "" {
			b.WriteString("\n")
			b.WriteString(suffix)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
