// Package ollama implements the llm.Client interface against a local
// Ollama server using its native /api/chat NDJSON streaming protocol.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jarvisproj/jarvis/internal/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "qwen3:8b"
	embedModel     = "nomic-embed-text"
)

// Client implements llm.Client over the Ollama HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewClient creates a client for the Ollama server at baseURL. An empty
// baseURL falls back to the conventional localhost port.
func NewClient(model, baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
	}
}

// Ping reports whether the Ollama server is reachable. Used by the
// factory to decide whether a locally-served role is usable at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ollama at %s returned status %d", c.baseURL, resp.StatusCode)
	}
	return nil
}

// Chat sends a chat request and collects the streamed response.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	chunks, err := c.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &llm.ChatResponse{}
	var content strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		content.WriteString(chunk.Content)
		result.ToolCalls = append(result.ToolCalls, chunk.ToolCalls...)
		if chunk.Done {
			result.Usage = chunk.Usage
		}
	}
	result.Content = content.String()
	return result, nil
}

// ChatStream sends a chat request and streams the NDJSON response.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	payload := chatRequest{
		Model:    c.model,
		Stream:   true,
		Messages: c.buildMessages(req),
	}
	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, toolPayload{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.Options = map[string]any{}
		if req.MaxTokens > 0 {
			payload.Options["num_predict"] = req.MaxTokens
		}
		if req.Temperature > 0 {
			payload.Options["temperature"] = req.Temperature
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	chunks := make(chan llm.StreamChunk)
	go c.streamResponse(ctx, resp.Body, chunks)
	return chunks, nil
}

func (c *Client) streamResponse(ctx context.Context, body io.ReadCloser, out chan<- llm.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	// Ollama may re-send the same call on later lines; emit each once.
	emitted := map[string]struct{}{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- llm.StreamChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out <- llm.StreamChunk{Error: fmt.Errorf("decode ollama response: %w", err), Done: true}
			return
		}
		if resp.Error != "" {
			out <- llm.StreamChunk{Error: fmt.Errorf("ollama: %s", resp.Error), Done: true}
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				out <- llm.StreamChunk{Content: resp.Message.Content}
			}
			var calls []llm.ToolCall
			for _, tc := range resp.Message.ToolCalls {
				key := tc.Function.Name + string(tc.Function.Arguments)
				if _, ok := emitted[key]; ok {
					continue
				}
				emitted[key] = struct{}{}

				args, err := llm.DecodeArgsJSON(string(tc.Function.Arguments))
				if err != nil {
					out <- llm.StreamChunk{Error: err, Done: true}
					return
				}
				// Ollama tool calls carry no ID; synthesise one so the
				// pairing invariant holds downstream.
				calls = append(calls, llm.ToolCall{
					ID:   "ollama_" + uuid.NewString(),
					Name: tc.Function.Name,
					Args: args,
				})
			}
			if len(calls) > 0 {
				out <- llm.StreamChunk{ToolCalls: calls}
			}
		}

		if resp.Done {
			out <- llm.StreamChunk{
				Done: true,
				Usage: llm.TokenUsage{
					InputTokens:  resp.PromptEvalCount,
					OutputTokens: resp.EvalCount,
					TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
				},
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- llm.StreamChunk{Error: fmt.Errorf("ollama stream: %w", err), Done: true}
		return
	}
	out <- llm.StreamChunk{Done: true}
}

// Embed generates an embedding using the local embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  embedModel,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("ollama embedding status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ollama embedding: %w", err)
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (c *Client) buildMessages(req llm.ChatRequest) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Kind {
		case llm.KindSystem:
			// Supplied separately in req.System.

		case llm.KindAssistant:
			m := chatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					args = []byte(`{}`)
				}
				m.ToolCalls = append(m.ToolCalls, toolCall{
					Function: toolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, m)

		case llm.KindTool:
			messages = append(messages, chatMessage{
				Role:     "tool",
				Content:  msg.Content,
				ToolName: msg.ToolName,
			})

		default:
			messages = append(messages, chatMessage{Role: "user", Content: msg.Content})
		}
	}
	return messages
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolPayload  `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type chatResponse struct {
	Message         *chatMessage `json:"message"`
	Done            bool         `json:"done"`
	Error           string       `json:"error"`
	EvalCount       int          `json:"eval_count"`
	PromptEvalCount int          `json:"prompt_eval_count"`
}

type toolCall struct {
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolPayload struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
