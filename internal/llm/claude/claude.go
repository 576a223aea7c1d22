// Package claude implements the llm.Client interface over Anthropic's
// Messages API, including tool_use/tool_result content blocks and SSE
// streaming.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jarvisproj/jarvis/internal/llm"
)

const defaultModel = "claude-sonnet-4-20250514"

// Client implements llm.Client using Anthropic's Claude API.
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient creates a new Claude client. The API key comes from apiKey
// or, when empty, the ANTHROPIC_API_KEY environment variable.
func NewClient(model, apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Chat sends a chat request and returns the complete response.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	params := c.buildParams(req)

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	return convertResponse(response), nil
}

// ChatStream sends a chat request and streams the response.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	params := c.buildParams(req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan llm.StreamChunk)

	go func() {
		defer close(chunks)

		var usage llm.TokenUsage
		var toolID, toolName string
		var toolInput strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				usage.InputTokens = int(start.Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					toolID = toolUse.ID
					toolName = toolUse.Name
					toolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- llm.StreamChunk{Content: delta.Text}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if toolID != "" {
					call, err := decodeToolCall(toolID, toolName, toolInput.String())
					if err != nil {
						chunks <- llm.StreamChunk{Error: err, Done: true}
						return
					}
					chunks <- llm.StreamChunk{ToolCalls: []llm.ToolCall{call}}
					toolID, toolName = "", ""
				}

			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(delta.Usage.OutputTokens)
				}

			case "message_stop":
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				chunks <- llm.StreamChunk{Done: true, Usage: usage}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- llm.StreamChunk{Error: fmt.Errorf("anthropic stream failed: %w", err), Done: true}
			return
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		chunks <- llm.StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

// Embed is not supported by the Anthropic API.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("claude provider does not support embeddings")
}

func (c *Client) buildParams(req llm.ChatRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertToolDefinition(tool))
		}
		params.Tools = tools
	}
	return params
}

// convertMessages maps the conversation log to Anthropic's block
// format. Tool results become user messages carrying tool_result
// blocks; assistant tool calls become tool_use blocks.
func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Kind {
		case llm.KindSystem:
			// Handled separately through params.System.

		case llm.KindAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}

		case llm.KindTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
			))

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result
}

func convertToolDefinition(tool llm.ToolDefinition) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := tool.Parameters["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if required, ok := tool.Parameters["required"].([]string); ok {
		schema.Required = required
	} else if raw, ok := tool.Parameters["required"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: schema,
		},
	}
}

func convertResponse(response *anthropic.Message) *llm.ChatResponse {
	result := &llm.ChatResponse{
		Usage: llm.TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
			TotalTokens:  int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			result.Content += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			call, err := decodeToolCall(toolBlock.ID, toolBlock.Name, string(toolBlock.Input))
			if err != nil {
				continue
			}
			result.ToolCalls = append(result.ToolCalls, call)
		}
	}
	return result
}

func decodeToolCall(id, name, rawArgs string) (llm.ToolCall, error) {
	args, err := llm.DecodeArgsJSON(rawArgs)
	if err != nil {
		return llm.ToolCall{}, fmt.Errorf("decoding tool call %s arguments: %w", name, err)
	}
	return llm.ToolCall{ID: id, Name: name, Args: args}, nil
}
