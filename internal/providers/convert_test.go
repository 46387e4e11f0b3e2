package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// parallelTurn is an assistant turn with two calls and the user turn answering them.
func parallelTurn() []engine.Message {
	return []engine.Message{
		engine.UserText("Task:\nscrape meet-42"),
		{Role: engine.RoleAssistant, Content: engine.Blocks(
			engine.TextBlock("Fetching both pages."),
			engine.ToolCallBlock(engine.ToolCall{ID: "c1", Name: "http_fetch", Input: map[string]any{"url": "https://a.test"}}),
			engine.ToolCallBlock(engine.ToolCall{ID: "c2", Name: "browser_screenshot", Input: map[string]any{}}),
		)},
		{Role: engine.RoleUser, Content: engine.Blocks(
			engine.ToolResultBlock(engine.ToolResult{ToolCallID: "c1", Parts: []engine.Part{engine.TextPart("<html>")}}),
			engine.ToolResultBlock(engine.ToolResult{ToolCallID: "c2", Parts: []engine.Part{
				engine.TextPart("screenshot"),
				engine.ImagePart("image/png", []byte{0x89, 0x50}),
			}}),
		)},
	}
}

func TestToAnthropicMessages(t *testing.T) {
	out := toAnthropicMessages(parallelTurn())
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}

	assistant := out[1]
	if assistant.Role != anthropic.RoleAssistant || len(assistant.Content) != 3 {
		t.Fatalf("assistant = %+v", assistant)
	}
	if got := string(assistant.Content[1].Type); got != "tool_use" {
		t.Errorf("block 1 type = %s", got)
	}

	results := out[2]
	if results.Role != anthropic.RoleUser || len(results.Content) != 2 {
		t.Fatalf("results = %+v", results)
	}
	for i, id := range []string{"c1", "c2"} {
		block := results.Content[i]
		if string(block.Type) != "tool_result" || block.MessageContentToolResult == nil {
			t.Fatalf("block %d = %+v", i, block)
		}
		if got := *block.MessageContentToolResult.ToolUseID; got != id {
			t.Errorf("block %d id = %s, want %s", i, got, id)
		}
	}
	if n := len(results.Content[1].MessageContentToolResult.Content); n != 2 {
		t.Errorf("image result parts = %d, want text + image", n)
	}
}

func TestFromAnthropicResponse(t *testing.T) {
	text := "Looking it up."
	resp := anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{
			{Type: anthropic.MessagesContentTypeText, Text: &text},
			{Type: "tool_use", MessageContentToolUse: &anthropic.MessageContentToolUse{
				ID:    "toolu_1",
				Name:  "list_meets",
				Input: json.RawMessage(`{"state":"OH"}`),
			}},
		},
		StopReason: anthropic.MessagesStopReason("tool_use"),
		Usage:      anthropic.MessagesUsage{InputTokens: 1200, OutputTokens: 40},
	}

	got := fromAnthropicResponse(resp)
	if got.StopReason != engine.StopToolUse {
		t.Errorf("stop = %s", got.StopReason)
	}
	calls := got.Message().ToolCalls()
	if len(calls) != 1 || calls[0].ID != "toolu_1" || calls[0].Input["state"] != "OH" {
		t.Errorf("calls = %+v", calls)
	}
	if got.Usage.InputTokens != 1200 || got.Usage.OutputTokens != 40 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestAnthropicStopReason(t *testing.T) {
	tests := []struct {
		reason   string
		hasCalls bool
		want     engine.StopReason
	}{
		{"end_turn", false, engine.StopEndTurn},
		{"tool_use", true, engine.StopToolUse},
		{"tool_use", false, engine.StopEndTurn},
		{"max_tokens", true, engine.StopMaxTokens},
		{"stop_sequence", false, engine.StopEndTurn},
	}
	for _, tt := range tests {
		if got := anthropicStopReason(tt.reason, tt.hasCalls); got != tt.want {
			t.Errorf("anthropicStopReason(%q, %v) = %s, want %s", tt.reason, tt.hasCalls, got, tt.want)
		}
	}
}

func TestNormalizeAnthropicError(t *testing.T) {
	err := normalizeAnthropicError(fmt.Errorf("send: %w", &anthropic.APIError{
		Type:    anthropic.ErrType("overloaded_error"),
		Message: "Overloaded",
	}))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 529 {
		t.Fatalf("err = %#v, want APIError 529", err)
	}
	if Classify(err) != RetryClassRetryable {
		t.Error("overload should be retryable")
	}

	err = normalizeAnthropicError(&anthropic.APIError{Type: anthropic.ErrType("authentication_error"), Message: "invalid x-api-key"})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %#v, want APIError 401", err)
	}
}

func TestToOpenAIMessages(t *testing.T) {
	out := toOpenAIMessages("system prompt", parallelTurn())

	roles := make([]string, len(out))
	for i, m := range out {
		roles[i] = m.Role
	}
	want := []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleTool,
		openai.ChatMessageRoleTool,
		openai.ChatMessageRoleUser,
	}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", roles, want)
	}

	assistant := out[2]
	if assistant.Content != "Fetching both pages." || len(assistant.ToolCalls) != 2 {
		t.Errorf("assistant = %+v", assistant)
	}
	if out[3].ToolCallID != "c1" || out[4].ToolCallID != "c2" {
		t.Errorf("tool ids = %s, %s", out[3].ToolCallID, out[4].ToolCallID)
	}
	if out[4].Content != "screenshot" {
		t.Errorf("tool text = %q", out[4].Content)
	}

	images := out[5].MultiContent
	if len(images) != 2 || images[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("image follow-up = %+v", images)
	}
	if !strings.HasPrefix(images[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image url = %s", images[1].ImageURL.URL)
	}
}

func TestFromOpenAIResponse(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{ID: "call_a", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "read_file", Arguments: `{"path":"a.csv"}`}},
					{ID: "", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "read_file", Arguments: `not json`}},
				},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 900, CompletionTokens: 12},
	}

	got, err := fromOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("fromOpenAIResponse: %v", err)
	}
	if got.StopReason != engine.StopToolUse {
		t.Errorf("stop = %s", got.StopReason)
	}
	calls := got.Message().ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[1].ID == "" || len(calls[1].Input) != 0 {
		t.Errorf("second call = %+v, want synthesized id and empty args", calls[1])
	}
	if got.Usage.InputTokens != 900 {
		t.Errorf("usage = %+v", got.Usage)
	}

	if _, err := fromOpenAIResponse(openai.ChatCompletionResponse{}); err == nil {
		t.Error("empty choices should fail")
	}
}

func TestFromOpenAIResponseLength(t *testing.T) {
	tests := []struct {
		name string
		msg  openai.ChatCompletionMessage
		want engine.StopReason
	}{
		{
			name: "text only",
			msg:  openai.ChatCompletionMessage{Content: "partial"},
			want: engine.StopMaxTokens,
		},
		{
			name: "with tool calls",
			msg: openai.ChatCompletionMessage{ToolCalls: []openai.ToolCall{
				{ID: "call_a", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "list_meets", Arguments: "{}"}},
			}},
			want: engine.StopToolUse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
				Message:      tt.msg,
				FinishReason: openai.FinishReasonLength,
			}}}
			got, err := fromOpenAIResponse(resp)
			if err != nil {
				t.Fatal(err)
			}
			if got.StopReason != tt.want {
				t.Errorf("stop = %s, want %s", got.StopReason, tt.want)
			}
		})
	}
}

func TestTruncateTextKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 3, want: "abc..."},
		{in: strings.Repeat("é", 5), n: 3, want: "é..."},
		{in: "a日本", n: 2, want: "a..."},
	}
	for _, tt := range tests {
		got := truncateText(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncateText(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateText(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestToAnthropicMessagesEmptyContent(t *testing.T) {
	msgs := []engine.Message{
		engine.UserText(""),
		{Role: engine.RoleAssistant, Content: engine.Blocks(engine.ContentBlock{Kind: engine.BlockText, Text: "  \n"})},
	}
	out := toAnthropicMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("messages = %d", len(out))
	}
	for i, m := range out {
		if len(m.Content) != 1 || m.Content[0].GetText() != "(empty)" {
			t.Errorf("message %d content = %+v, want a single (empty) block", i, m.Content)
		}
	}
}

func TestNormalizeOpenAIError(t *testing.T) {
	err := normalizeOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "Rate limit reached. Please retry after 2s."})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %#v, want RateLimitError", err)
	}
	if rl.RetryAfter.Seconds() != 2 {
		t.Errorf("retry after = %s", rl.RetryAfter)
	}
}

func TestFlattenToolBlocks(t *testing.T) {
	flat := flattenToolBlocks(parallelTurn())
	for _, m := range flat {
		if len(m.ToolCalls()) > 0 || len(m.ToolResults()) > 0 {
			t.Fatalf("tool blocks remain in %+v", m)
		}
	}
	if !strings.Contains(flat[1].Text(), "[called tool http_fetch with {\"url\":\"https://a.test\"}]") {
		t.Errorf("assistant text = %q", flat[1].Text())
	}
	if !strings.Contains(flat[2].Text(), "[image omitted]") {
		t.Errorf("results text = %q", flat[2].Text())
	}
}
