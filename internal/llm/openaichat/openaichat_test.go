package openaichat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jarvisproj/jarvis/internal/llm"
)

func TestNewClient(t *testing.T) {
	t.Run("explicit key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		client, err := NewClient("gpt-4o", "sk-test", "")
		if err != nil {
			t.Fatalf("NewClient error = %v", err)
		}
		if client.model != "gpt-4o" {
			t.Errorf("model = %q", client.model)
		}
	})

	t.Run("default model", func(t *testing.T) {
		client, err := NewClient("", "sk-test", "")
		if err != nil {
			t.Fatalf("NewClient error = %v", err)
		}
		if client.model != defaultModel {
			t.Errorf("model = %q, want %q", client.model, defaultModel)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := NewClient("", "", ""); err == nil {
			t.Error("expected error without an API key")
		}
	})

	t.Run("key from environment", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		if _, err := NewClient("", "", ""); err != nil {
			t.Errorf("NewClient error = %v", err)
		}
	})
}

func TestBuildRequest(t *testing.T) {
	client, err := NewClient("deepseek-chat", "sk-test", "https://api.deepseek.com/v1")
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}

	req := llm.ChatRequest{
		System: "persona",
		Messages: []llm.Message{
			llm.NewSystemMessage("stored system, must be dropped"),
			llm.NewUserMessage("hi"),
			llm.NewAssistantMessage("", []llm.ToolCall{
				{ID: "call_1", Name: "file_operation", Args: map[string]any{"action": "list"}},
			}),
			llm.NewToolMessage("call_1", "file_operation", "a.txt", false),
		},
		Tools: []llm.ToolDefinition{
			{Name: "file_operation", Description: "文件操作", Parameters: map[string]any{"type": "object"}},
		},
		Temperature: 0.7,
	}

	oaiReq, err := client.buildRequest(req, true)
	if err != nil {
		t.Fatalf("buildRequest error = %v", err)
	}

	if len(oaiReq.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system first, stored system dropped)", len(oaiReq.Messages))
	}
	if oaiReq.Messages[0].Role != openai.ChatMessageRoleSystem || oaiReq.Messages[0].Content != "persona" {
		t.Errorf("messages[0] = %+v", oaiReq.Messages[0])
	}
	assistant := oaiReq.Messages[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"action":"list"}` {
		t.Errorf("arguments = %q", assistant.ToolCalls[0].Function.Arguments)
	}
	toolMsg := oaiReq.Messages[3]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", toolMsg)
	}

	if !oaiReq.Stream || oaiReq.StreamOptions == nil || !oaiReq.StreamOptions.IncludeUsage {
		t.Error("streaming request must opt into usage reporting")
	}
	if len(oaiReq.Tools) != 1 || oaiReq.Tools[0].Function.Name != "file_operation" {
		t.Errorf("tools = %+v", oaiReq.Tools)
	}
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: "我来处理。",
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call_1",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      "shell_execute",
									Arguments: `{"command":"ls"}`,
								},
							},
						},
					},
				},
			},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 6, TotalTokens: 16},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient("gpt-4o", "sk-test", server.URL)
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}

	resp, err := client.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("列出文件")},
	})
	if err != nil {
		t.Fatalf("Chat error = %v", err)
	}
	if resp.Content != "我来处理。" {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "shell_execute" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Args["command"] != "ls" {
		t.Errorf("Args = %v", resp.ToolCalls[0].Args)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("TotalTokens = %d, want 16", resp.Usage.TotalTokens)
	}
}

// sse writes one server-sent event data line.
func sse(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func TestChatStreamAccumulatesToolCallFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse(w, `{"choices":[{"delta":{"content":"好"}}]}`)
		// Tool call arrives split across three fragments on index 0.
		sse(w, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"file_operation","arguments":""}}]}}]}`)
		sse(w, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"action\":"}}]}}]}`)
		sse(w, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"list\"}"}}]}},{"finish_reason":"tool_calls"}]}`)
		sse(w, `{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
		sse(w, `{"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`)
		sse(w, `[DONE]`)
	}))
	defer server.Close()

	client, err := NewClient("gpt-4o", "sk-test", server.URL)
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}

	chunks, err := client.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("列出文件")},
	})
	if err != nil {
		t.Fatalf("ChatStream error = %v", err)
	}

	var content strings.Builder
	var calls []llm.ToolCall
	var usage llm.TokenUsage
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("chunk error = %v", chunk.Error)
		}
		content.WriteString(chunk.Content)
		calls = append(calls, chunk.ToolCalls...)
		if chunk.Done {
			usage = chunk.Usage
		}
	}

	if content.String() != "好" {
		t.Errorf("content = %q", content.String())
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "file_operation" {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].Args["action"] != "list" {
		t.Errorf("Args = %v", calls[0].Args)
	}
	if usage.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d, want 13", usage.TotalTokens)
	}
}

func TestChatStreamTextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse(w, `{"choices":[{"delta":{"content":"hello "}}]}`)
		sse(w, `{"choices":[{"delta":{"content":"world"}}]}`)
		sse(w, `{"choices":[{"delta":{},"finish_reason":"stop"}]}`)
		sse(w, `[DONE]`)
	}))
	defer server.Close()

	client, err := NewClient("gpt-4o", "sk-test", server.URL)
	if err != nil {
		t.Fatalf("NewClient error = %v", err)
	}

	chunks, err := client.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("ChatStream error = %v", err)
	}

	var content strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("chunk error = %v", chunk.Error)
		}
		content.WriteString(chunk.Content)
	}
	if content.String() != "hello world" {
		t.Errorf("content = %q", content.String())
	}
}

func TestEncodeArgs(t *testing.T) {
	if got, err := encodeArgs(nil); err != nil || got != "{}" {
		t.Errorf("encodeArgs(nil) = %q, %v", got, err)
	}
	got, err := encodeArgs(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("encodeArgs error = %v", err)
	}
	if got != `{"a":1}` {
		t.Errorf("encodeArgs = %q", got)
	}
}
