package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind tags the variant held by a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolCall   BlockKind = "tool_call"
	BlockToolResult BlockKind = "tool_result"
)

// ContentBlock is one element of a structured message body.
// Exactly one payload matches Kind.
type ContentBlock struct {
	Kind       BlockKind   `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolCallBlock builds an assistant tool-call block.
func ToolCallBlock(call ToolCall) ContentBlock {
	return ContentBlock{Kind: BlockToolCall, ToolCall: &call}
}

// ToolResultBlock builds a user tool-result block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: &result}
}

// ToolCall is a structured request from the model to invoke a tool.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// PartKind tags a tool result part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// Part is a piece of tool output. Images carry raw bytes and a media type.
type Part struct {
	Kind      PartKind `json:"kind"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Data      []byte   `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// ImagePart builds an image part.
func ImagePart(mediaType string, data []byte) Part {
	return Part{Kind: PartImage, MediaType: mediaType, Data: data}
}

// ToolResult pairs with exactly one prior ToolCall by id.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Parts      []Part `json:"parts"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Text joins the text parts of the result.
func (r ToolResult) Text() string {
	var texts []string
	for _, p := range r.Parts {
		if p.Kind == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImages reports whether any part is an image.
func (r ToolResult) HasImages() bool {
	for _, p := range r.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// Content is either plain text or a list of blocks. The zero value is empty plain text.
type Content struct {
	text     string
	blocks   []ContentBlock
	isBlocks bool
}

// PlainText wraps a string body.
func PlainText(text string) Content {
	return Content{text: text}
}

// Blocks wraps a block list body.
func Blocks(blocks ...ContentBlock) Content {
	return Content{blocks: blocks, isBlocks: true}
}

// IsPlain reports whether the body is plain text.
func (c Content) IsPlain() bool { return !c.isBlocks }

// PlainText returns the string body. It is empty for block bodies.
func (c Content) PlainText() string { return c.text }

// Blocks returns the body as blocks, wrapping plain text in a single text block.
func (c Content) Blocks() []ContentBlock {
	if !c.isBlocks {
		if c.text == "" {
			return nil
		}
		return []ContentBlock{TextBlock(c.text)}
	}
	return c.blocks
}

// IsEmpty reports whether there is nothing to send.
func (c Content) IsEmpty() bool {
	if !c.isBlocks {
		return strings.TrimSpace(c.text) == ""
	}
	return len(c.blocks) == 0
}

func (c Content) MarshalJSON() ([]byte, error) {
	if !c.isBlocks {
		return json.Marshal(c.text)
	}
	if c.blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.blocks)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = PlainText(text)
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = Blocks(blocks...)
	return nil
}

// Message is one turn of the conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: PlainText(text)}
}

// Text joins the text blocks of the message.
func (m Message) Text() string {
	if m.Content.IsPlain() {
		return m.Content.PlainText()
	}
	var texts []string
	for _, b := range m.Content.Blocks() {
		if b.Kind == BlockText && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls returns the tool-call blocks in emission order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content.Blocks() {
		if b.Kind == BlockToolCall && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result blocks in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, b := range m.Content.Blocks() {
		if b.Kind == BlockToolResult && b.ToolResult != nil {
			results = append(results, *b.ToolResult)
		}
	}
	return results
}

// StopReason is the normalized reason generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the normalized provider reply.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// Message converts the response into an assistant message.
func (r Response) Message() Message {
	return Message{Role: RoleAssistant, Content: Blocks(r.Content...)}
}

// ToolDefinition is the declarative shape presented to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Provider sends one chat request and returns a normalized response.
type Provider interface {
	Send(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (Response, error)

func (f ProviderFunc) Send(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (Response, error) {
	return f(ctx, system, messages, tools)
}
