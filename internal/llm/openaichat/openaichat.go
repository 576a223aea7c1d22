// Package openaichat implements the llm.Client interface over any
// OpenAI-compatible chat completion endpoint (OpenAI itself, DeepSeek,
// and the other base_url-compatible providers).
package openaichat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jarvisproj/jarvis/internal/llm"
)

const defaultModel = "gpt-3.5-turbo"

// Client implements llm.Client using the OpenAI chat completion API.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new OpenAI-compatible client. The API key comes
// from apiKey or, when empty, the OPENAI_API_KEY environment variable.
// A non-empty baseURL points the client at a compatible endpoint.
func NewClient(model, apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Chat sends a chat request and returns the complete response.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	oaiReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	result := &llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		call, err := decodeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	return result, nil
}

// ChatStream sends a chat request and streams the response. Tool calls
// arrive as indexed fragments and are accumulated until the stream
// reports them complete.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	oaiReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	chunks := make(chan llm.StreamChunk)
	go c.processStream(stream, chunks)
	return chunks, nil
}

func (c *Client) processStream(stream *openai.ChatCompletionStream, chunks chan<- llm.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	// Fragments of each tool call keyed by stream index.
	type partial struct {
		id   string
		name string
		args strings.Builder
	}
	partials := make(map[int]*partial)
	var usage llm.TokenUsage

	flush := func() error {
		if len(partials) == 0 {
			return nil
		}
		indexes := make([]int, 0, len(partials))
		for i := range partials {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)

		calls := make([]llm.ToolCall, 0, len(partials))
		for _, i := range indexes {
			p := partials[i]
			if p.id == "" || p.name == "" {
				continue
			}
			call, err := decodeToolCall(p.id, p.name, p.args.String())
			if err != nil {
				return err
			}
			calls = append(calls, call)
		}
		if len(calls) > 0 {
			chunks <- llm.StreamChunk{ToolCalls: calls}
		}
		partials = make(map[int]*partial)
		return nil
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if err := flush(); err != nil {
				chunks <- llm.StreamChunk{Error: err, Done: true}
				return
			}
			chunks <- llm.StreamChunk{Done: true, Usage: usage}
			return
		}
		if err != nil {
			chunks <- llm.StreamChunk{Error: fmt.Errorf("openai stream failed: %w", err), Done: true}
			return
		}

		if resp.Usage != nil {
			usage = llm.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- llm.StreamChunk{Content: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			p := partials[index]
			if p == nil {
				p = &partial{}
				partials[index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if err := flush(); err != nil {
				chunks <- llm.StreamChunk{Error: err, Done: true}
				return
			}
		}
	}
}

// Embed generates an embedding using the small embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) buildRequest(req llm.ChatRequest, stream bool) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Kind {
		case llm.KindSystem:
			// The engine supplies the system prompt separately.

		case llm.KindAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args, err := encodeArgs(tc.Args)
				if err != nil {
					return openai.ChatCompletionRequest{}, err
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, oaiMsg)

		case llm.KindTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		default:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	oaiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}
	if stream {
		oaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	for _, tool := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return oaiReq, nil
}

func encodeArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	data, err := llm.EncodeArgsJSON(args)
	if err != nil {
		return "", err
	}
	return data, nil
}

func decodeToolCall(id, name, rawArgs string) (llm.ToolCall, error) {
	args, err := llm.DecodeArgsJSON(rawArgs)
	if err != nil {
		return llm.ToolCall{}, fmt.Errorf("decoding tool call %s arguments: %w", name, err)
	}
	return llm.ToolCall{ID: id, Name: name, Args: args}, nil
}
