// Package gemini implements the llm.Client interface over Google's
// Gemini API. It is the default provider for the vision role and also
// exposes image analysis for the screen-capture tool.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jarvisproj/jarvis/internal/llm"
)

const defaultModel = "gemini-1.5-flash"

// Client implements llm.Client using Google's Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// APIError represents an error from the Gemini API with structured details
type APIError struct {
	Code    int    // HTTP status code
	Message string // Raw API error message
	Err     error  // Enhanced error with user-friendly message
}

func (e *APIError) Error() string {
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// APICode returns the HTTP status code from the API
func (e *APIError) APICode() int {
	return e.Code
}

// APIMessage returns the raw error message from the API
func (e *APIError) APIMessage() string {
	return e.Message
}

// NewClient creates a new Gemini client. The API key comes from apiKey
// or, when empty, GEMINI_API_KEY / GOOGLE_API_KEY.
func NewClient(ctx context.Context, model, apiKey string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

// Chat sends a chat request and returns a response.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	chat, lastParts := c.prepare(req)

	resp, err := chat.SendMessage(ctx, lastParts...)
	if err != nil {
		return nil, c.enhanceError(ctx, err)
	}
	return convertResponse(resp), nil
}

// ChatStream sends a chat request and streams the response. Gemini
// reports function calls as complete parts within the stream; they are
// forwarded as soon as they appear.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	chat, lastParts := c.prepare(req)

	iter := chat.SendMessageStream(ctx, lastParts...)
	chunks := make(chan llm.StreamChunk)

	go func() {
		defer close(chunks)

		var usage llm.TokenUsage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				chunks <- llm.StreamChunk{Done: true, Usage: usage}
				return
			}
			if err != nil {
				chunks <- llm.StreamChunk{Error: c.enhanceError(ctx, err), Done: true}
				return
			}

			partial := convertResponse(resp)
			if partial.Content != "" {
				chunks <- llm.StreamChunk{Content: partial.Content}
			}
			if len(partial.ToolCalls) > 0 {
				chunks <- llm.StreamChunk{ToolCalls: partial.ToolCalls}
			}
			if partial.Usage.TotalTokens > 0 {
				usage = partial.Usage
			}
		}
	}()

	return chunks, nil
}

// Embed generates an embedding using the text-embedding-004 model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel("text-embedding-004")
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return resp.Embedding.Values, nil
}

// AnalyzeImage sends an image with a prompt to the vision model and
// returns the textual analysis. Used by the screen-capture tool.
func (c *Client) AnalyzeImage(ctx context.Context, prompt string, image []byte, format string) (string, error) {
	if format == "" {
		format = "png"
	}
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(format, image),
		genai.Text(prompt),
	)
	if err != nil {
		return "", c.enhanceError(ctx, err)
	}
	return convertResponse(resp).Content, nil
}

// prepare builds the chat session: system instruction, tools, history,
// and the trailing parts SendMessage wants separated.
func (c *Client) prepare(req llm.ChatRequest) (*genai.ChatSession, []genai.Part) {
	model := c.client.GenerativeModel(c.model)

	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]*genai.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertToolDefinition(tool))
		}
		model.Tools = tools
	}

	var history []*genai.Content
	var lastParts []genai.Part

	for i, msg := range req.Messages {
		parts, role := convertMessage(msg)
		if len(parts) == 0 {
			continue
		}

		// Gemini wants the final user turn passed to SendMessage, not
		// placed in history.
		if i == len(req.Messages)-1 && role == "user" {
			lastParts = parts
			break
		}
		history = append(history, &genai.Content{Parts: parts, Role: role})
	}

	chat := model.StartChat()
	chat.History = history

	if lastParts == nil {
		lastParts = []genai.Part{genai.Text("")}
	}
	return chat, lastParts
}

func convertMessage(msg llm.Message) ([]genai.Part, string) {
	switch msg.Kind {
	case llm.KindSystem:
		// Carried via SystemInstruction.
		return nil, ""

	case llm.KindAssistant:
		var parts []genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
		// FunctionCall parts let Gemini see its own tool calls in
		// history.
		for _, tc := range msg.ToolCalls {
			parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
		}
		return parts, "model"

	case llm.KindTool:
		var responseData map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &responseData); err != nil {
			responseData = map[string]any{"result": msg.Content}
		}
		return []genai.Part{genai.FunctionResponse{
			Name:     msg.ToolName,
			Response: responseData,
		}}, "user"

	default:
		return []genai.Part{genai.Text(msg.Content)}, "user"
	}
}

// convertToolDefinition lowers an inlined JSON-schema tool definition
// into Gemini's schema types.
func convertToolDefinition(tool llm.ToolDefinition) *genai.Tool {
	properties := make(map[string]*genai.Schema)
	if props, ok := tool.Parameters["properties"].(map[string]any); ok {
		for name, raw := range props {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			properties[name] = convertPropSchema(prop)
		}
	}

	var required []string
	switch r := tool.Parameters["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}

	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: properties,
					Required:   required,
				},
			},
		},
	}
}

func convertPropSchema(prop map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeString}

	if t, ok := prop["type"].(string); ok {
		switch t {
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		case "array":
			schema.Type = genai.TypeArray
		case "object":
			schema.Type = genai.TypeObject
		}
	}
	if desc, ok := prop["description"].(string); ok {
		schema.Description = desc
	}
	if raw, ok := prop["enum"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if schema.Type == genai.TypeArray {
		if items, ok := prop["items"].(map[string]any); ok {
			schema.Items = convertPropSchema(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	}
	return schema
}

// convertResponse converts a Gemini response to our response format.
// Gemini carries no tool-call IDs, so fresh ones are synthesised to
// keep the pairing invariants provider-independent.
func convertResponse(resp *genai.GenerateContentResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{}
	if resp.UsageMetadata != nil {
		result.Usage = llm.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				result.Content += string(v)
			case genai.FunctionCall:
				args := make(map[string]any, len(v.Args))
				for k, val := range v.Args {
					args[k] = val
				}
				result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
					ID:   uuid.NewString(),
					Name: v.Name,
					Args: args,
				})
			}
		}
	}
	return result
}

// enhanceError provides better error messages for common API errors
// Returns *APIError with structured details for logging
func (c *Client) enhanceError(ctx context.Context, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		var enhancedErr error
		switch apiErr.Code {
		case 404:
			modelName := c.model
			availableModels := c.listAvailableModels(ctx)
			if len(availableModels) > 0 {
				enhancedErr = fmt.Errorf("model '%s' not found for Gemini provider.\n\nAvailable models:\n  - %s\n\nUpdate your config or set VISION_LLM_MODEL=%s",
					modelName, strings.Join(availableModels, "\n  - "), availableModels[0])
			} else {
				enhancedErr = fmt.Errorf("model '%s' not found for Gemini provider. Try gemini-1.5-flash or gemini-1.5-pro", modelName)
			}
		case 400:
			enhancedErr = fmt.Errorf("invalid request to Gemini API: %s", apiErr.Message)
		case 403:
			enhancedErr = fmt.Errorf("authentication failed with Gemini API: %s\n\nCheck that your GEMINI_API_KEY is valid.", apiErr.Message)
		case 429:
			enhancedErr = fmt.Errorf("rate limit exceeded for Gemini API: %s\n\nWait a few minutes or check your quota at https://aistudio.google.com/apikey", apiErr.Message)
		default:
			enhancedErr = fmt.Errorf("Gemini API error (%d): %s", apiErr.Code, apiErr.Message)
		}

		return &APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Err:     enhancedErr,
		}
	}

	return fmt.Errorf("gemini API call failed: %w", err)
}

// listAvailableModels fetches the list of available models from Gemini API
func (c *Client) listAvailableModels(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	iter := c.client.ListModels(ctx)
	var models []string

	for {
		model, err := iter.Next()
		if err != nil {
			break
		}
		if model != nil && strings.Contains(model.Name, "models/") {
			modelName := strings.TrimPrefix(model.Name, "models/")
			for _, method := range model.SupportedGenerationMethods {
				if method == "generateContent" {
					models = append(models, modelName)
					break
				}
			}
		}
		// Keep the error message readable.
		if len(models) >= 10 {
			break
		}
	}
	return models
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}
