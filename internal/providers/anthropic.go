package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// AnthropicOptions configures the native messages dialect.
type AnthropicOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// AnthropicClient implements engine.Provider over the Anthropic messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewAnthropicClient creates a new Anthropic client for the engine.
func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	clientOpts := []anthropic.ClientOption{anthropic.WithHTTPClient(newHTTPClient(opts.Timeout))}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(opts.BaseURL))
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(opts.APIKey, clientOpts...),
		model:       opts.Model,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
	}, nil
}

// Send implements engine.Provider.
func (c *AnthropicClient) Send(ctx context.Context, system string, messages []engine.Message, tools []engine.ToolDefinition) (engine.Response, error) {
	req, err := c.buildRequest(system, messages, tools)
	if err != nil {
		return engine.Response{}, err
	}

	ctx, hint := withRetryHint(ctx)
	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return engine.Response{}, withHint(normalizeAnthropicError(err), hint)
	}
	return fromAnthropicResponse(resp), nil
}

func (c *AnthropicClient) buildRequest(system string, messages []engine.Message, tools []engine.ToolDefinition) (anthropic.MessagesRequest, error) {
	toolDefs, err := toAnthropicTools(tools)
	if err != nil {
		return anthropic.MessagesRequest{}, err
	}
	if len(toolDefs) == 0 {
		messages = flattenToolBlocks(messages)
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  toAnthropicMessages(messages),
		MaxTokens: c.maxTokens,
	}
	if c.temperature > 0 {
		temperature := c.temperature
		req.Temperature = &temperature
	}
	if system != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: system}}
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}
	return req, nil
}

func toAnthropicTools(defs []engine.ToolDefinition) ([]anthropic.ToolDefinition, error) {
	var toolDefs []anthropic.ToolDefinition
	for _, def := range defs {
		schemaObj, err := parseSchema(def)
		if err != nil {
			return nil, err
		}
		toolDefs = append(toolDefs, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaObj,
		})
	}
	return toolDefs, nil
}

// toAnthropicMessages maps blocks one to one; the dialect already pairs tool_use and
// tool_result blocks inside alternating user and assistant turns.
func toAnthropicMessages(messages []engine.Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		role := anthropic.RoleUser
		if msg.Role == engine.RoleAssistant {
			role = anthropic.RoleAssistant
		}

		var content []anthropic.MessageContent
		for _, b := range msg.Content.Blocks() {
			switch b.Kind {
			case engine.BlockText:
				if strings.TrimSpace(b.Text) != "" {
					content = append(content, anthropic.NewTextMessageContent(b.Text))
				}
			case engine.BlockToolCall:
				content = append(content, anthropic.NewToolUseMessageContent(
					b.ToolCall.ID,
					b.ToolCall.Name,
					json.RawMessage(argsJSON(b.ToolCall.Input)),
				))
			case engine.BlockToolResult:
				content = append(content, toAnthropicToolResult(*b.ToolResult))
			}
		}
		if len(content) == 0 {
			content = []anthropic.MessageContent{anthropic.NewTextMessageContent(emptyContentText)}
		}
		out = append(out, anthropic.Message{Role: role, Content: content})
	}
	return out
}

func toAnthropicToolResult(r engine.ToolResult) anthropic.MessageContent {
	result := anthropic.NewToolResultMessageContent(r.ToolCallID, resultText(r), r.IsError)
	if !r.HasImages() {
		return result
	}

	parts := make([]anthropic.MessageContent, 0, len(r.Parts))
	for _, p := range r.Parts {
		switch p.Kind {
		case engine.PartText:
			if p.Text != "" {
				parts = append(parts, anthropic.NewTextMessageContent(p.Text))
			}
		case engine.PartImage:
			parts = append(parts, anthropic.NewImageMessageContent(anthropic.MessageContentSource{
				Type:      anthropic.MessagesContentSourceTypeBase64,
				MediaType: p.MediaType,
				Data:      base64.StdEncoding.EncodeToString(p.Data),
			}))
		}
	}
	result.MessageContentToolResult.Content = parts
	return result
}

func fromAnthropicResponse(resp anthropic.MessagesResponse) engine.Response {
	var blocks []engine.ContentBlock
	hasCalls := false

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil && *block.Text != "" {
				blocks = append(blocks, engine.TextBlock(*block.Text))
			}
		case "tool_use":
			if block.MessageContentToolUse != nil && block.Name != "" {
				hasCalls = true
				blocks = append(blocks, engine.ToolCallBlock(engine.ToolCall{
					ID:    ensureID(block.ID),
					Name:  block.Name,
					Input: decodeArgs(block.Input),
				}))
			}
		}
	}

	return engine.Response{
		Content:    blocks,
		StopReason: anthropicStopReason(string(resp.StopReason), hasCalls),
		Usage: engine.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}

func anthropicStopReason(reason string, hasCalls bool) engine.StopReason {
	switch {
	case reason == "max_tokens":
		return engine.StopMaxTokens
	case hasCalls:
		return engine.StopToolUse
	default:
		return engine.StopEndTurn
	}
}

// anthropicErrStatus maps error types to the HTTP status the API pairs them with.
var anthropicErrStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"request_too_large":     http.StatusRequestEntityTooLarge,
	"rate_limit_error":      http.StatusTooManyRequests,
	"api_error":             http.StatusInternalServerError,
	"overloaded_error":      529,
}

func normalizeAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		status, ok := anthropicErrStatus[string(apiErr.Type)]
		if !ok {
			status, _ = extractErrorMetadata(err)
		}
		if status != 0 {
			return fromStatus(status, apiErr.Message, parseRetryAfter(strings.ToLower(apiErr.Message)), err)
		}
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode != 0 {
		return fromStatus(reqErr.StatusCode, err.Error(), 0, err)
	}

	return normalizeUntyped(err)
}
