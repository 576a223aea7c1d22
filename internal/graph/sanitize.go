package graph

import "github.com/jarvisproj/jarvis/internal/llm"

// SanitizeForProvider prepares a message log for a provider of the
// given flavor. Strict providers require every assistant tool call to
// be answered exactly once by the tool messages that follow it; where
// the log violates that, the assistant message is demoted to a
// text-only copy and its partial results are dropped. Trailing tool
// messages are always dropped for strict providers. Lenient providers
// get an untouched copy.
//
// The function is pure: it never mutates the input log.
func SanitizeForProvider(log []llm.Message, flavor llm.Flavor) []llm.Message {
	out := make([]llm.Message, 0, len(log))

	if flavor != llm.FlavorStrict {
		out = append(out, log...)
		return out
	}

	for i := 0; i < len(log); i++ {
		m := log[i]
		switch m.Kind {
		case llm.KindAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, m)
				continue
			}
			responses, next := collectResponses(log, i+1)
			if paired(m.ToolCalls, responses) {
				out = append(out, m)
				out = append(out, log[i+1:next]...)
			} else {
				out = append(out, m.WithoutToolCalls())
			}
			i = next - 1
		case llm.KindTool:
			// A tool message not consumed by the assistant branch above
			// has no matching call in the log. Drop it.
		default:
			out = append(out, m)
		}
	}

	// A strict provider rejects a log ending in a tool response.
	for len(out) > 0 && out[len(out)-1].Kind == llm.KindTool {
		out = out[:len(out)-1]
	}
	return out
}

// collectResponses gathers the run of tool messages starting at start
// and returns them with the index of the first non-tool message.
func collectResponses(log []llm.Message, start int) ([]llm.Message, int) {
	i := start
	for i < len(log) && log[i].Kind == llm.KindTool {
		i++
	}
	return log[start:i], i
}

// paired reports whether responses answer calls exactly: same count,
// every call ID matched once, no extras.
func paired(calls []llm.ToolCall, responses []llm.Message) bool {
	if len(calls) != len(responses) {
		return false
	}
	want := make(map[string]int, len(calls))
	for _, c := range calls {
		want[c.ID]++
	}
	for _, r := range responses {
		if want[r.ToolCallID] == 0 {
			return false
		}
		want[r.ToolCallID]--
	}
	return true
}
