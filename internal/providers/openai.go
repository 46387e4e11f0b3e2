package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// OpenAIOptions configures the chat-completions dialect. BaseURL selects any compatible
// endpoint (Kimi, DeepSeek, a local server).
type OpenAIOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClient implements engine.Provider over an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIClient creates a new OpenAI client for the engine.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	config.HTTPClient = newHTTPClient(opts.Timeout)

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

// Send implements engine.Provider.
func (c *OpenAIClient) Send(ctx context.Context, system string, messages []engine.Message, tools []engine.ToolDefinition) (engine.Response, error) {
	toolDefs, err := toOpenAITools(tools)
	if err != nil {
		return engine.Response{}, err
	}
	if len(toolDefs) == 0 {
		messages = flattenToolBlocks(messages)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(system, messages),
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
		req.ToolChoice = "auto"
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if c.temperature > 0 {
		temperature := c.temperature
		req.Temperature = &temperature
	}

	ctx, hint := withRetryHint(ctx)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return engine.Response{}, withHint(normalizeOpenAIError(err), hint)
	}
	return fromOpenAIResponse(resp)
}

func toOpenAITools(defs []engine.ToolDefinition) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, def := range defs {
		schemaObj, err := parseSchema(def)
		if err != nil {
			return nil, err
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaObj,
			},
		})
	}
	return tools, nil
}

// toOpenAIMessages splits block bodies into the dialect's shape: an assistant turn becomes one
// message carrying text and tool_calls, and a user turn becomes one tool message per result
// followed by a user message holding any text and images.
func toOpenAIMessages(system string, messages []engine.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == engine.RoleAssistant {
			out = append(out, toOpenAIAssistant(msg))
			continue
		}

		if msg.Content.IsPlain() {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content.PlainText(),
			})
			continue
		}

		var parts []openai.ChatMessagePart
		for _, b := range msg.Content.Blocks() {
			switch b.Kind {
			case engine.BlockToolResult:
				r := *b.ToolResult
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: r.ToolCallID,
					Content:    resultText(r),
				})
				if r.HasImages() {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf("Image output of tool call %s:", r.ToolCallID),
					})
					for _, p := range r.Parts {
						if p.Kind == engine.PartImage {
							parts = append(parts, imagePart(p))
						}
					}
				}
			case engine.BlockText:
				if strings.TrimSpace(b.Text) != "" {
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
				}
			}
		}
		if len(parts) > 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		}
	}
	return out
}

func toOpenAIAssistant(msg engine.Message) openai.ChatCompletionMessage {
	var toolCalls []openai.ToolCall
	for _, call := range msg.ToolCalls() {
		toolCalls = append(toolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: argsJSON(call.Input),
			},
		})
	}

	// Some compatible endpoints reject an assistant message with null content.
	content := msg.Text()
	if content == "" {
		content = " "
	}
	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}
}

func imagePart(p engine.Part) openai.ChatMessagePart {
	url := "data:" + p.MediaType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: url},
	}
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) (engine.Response, error) {
	if len(resp.Choices) == 0 {
		return engine.Response{}, fmt.Errorf("empty response from provider")
	}
	choice := resp.Choices[0]

	var blocks []engine.ContentBlock
	hasCalls := false
	if choice.Message.Content != "" {
		blocks = append(blocks, engine.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		hasCalls = true
		blocks = append(blocks, engine.ToolCallBlock(engine.ToolCall{
			ID:    ensureID(tc.ID),
			Name:  tc.Function.Name,
			Input: decodeArgs([]byte(tc.Function.Arguments)),
		}))
	}

	// A tool request wins over any finish reason; truncated arguments decode to an empty
	// map and fail schema validation at dispatch.
	stop := engine.StopEndTurn
	switch {
	case hasCalls:
		stop = engine.StopToolUse
	case choice.FinishReason == openai.FinishReasonLength:
		stop = engine.StopMaxTokens
	}

	return engine.Response{
		Content:    blocks,
		StopReason: stop,
		Usage: engine.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func normalizeOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fromStatus(apiErr.HTTPStatusCode, apiErr.Message, parseRetryAfter(strings.ToLower(apiErr.Message)), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fromStatus(reqErr.HTTPStatusCode, err.Error(), 0, err)
	}

	return normalizeUntyped(err)
}
