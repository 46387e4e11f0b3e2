package providers

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

const (
	emptyResultText  = "(empty result)"
	emptyContentText = "(empty)" // text blocks must contain non-whitespace
)

// flattenToolBlocks rewrites tool blocks as text. Used for tool-free calls: both dialects
// reject tool blocks in the history when the request carries no tool definitions.
func flattenToolBlocks(msgs []engine.Message) []engine.Message {
	out := make([]engine.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Content.IsPlain() {
			out = append(out, m)
			continue
		}
		var blocks []engine.ContentBlock
		for _, b := range m.Content.Blocks() {
			switch b.Kind {
			case engine.BlockToolCall:
				blocks = append(blocks, engine.TextBlock(fmt.Sprintf("[called tool %s with %s]", b.ToolCall.Name, argsJSON(b.ToolCall.Input))))
			case engine.BlockToolResult:
				text := b.ToolResult.Text()
				if b.ToolResult.HasImages() {
					text += " [image omitted]"
				}
				label := "result"
				if b.ToolResult.IsError {
					label = "error"
				}
				blocks = append(blocks, engine.TextBlock(fmt.Sprintf("[tool %s for %s: %s]", label, b.ToolResult.ToolCallID, truncateText(text, 2000))))
			default:
				blocks = append(blocks, b)
			}
		}
		out = append(out, engine.Message{Role: m.Role, Content: engine.Blocks(blocks...)})
	}
	return out
}

func argsJSON(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeArgs(raw []byte) map[string]any {
	args := make(map[string]any)
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

func resultText(r engine.ToolResult) string {
	text := r.Text()
	if strings.TrimSpace(text) == "" {
		return emptyResultText
	}
	return text
}

// truncateText cuts s to at most n bytes on a rune boundary.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func parseSchema(def engine.ToolDefinition) (map[string]any, error) {
	var schemaObj map[string]any
	if err := json.Unmarshal(def.InputSchema, &schemaObj); err != nil {
		return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", def.Name, err)
	}
	return schemaObj, nil
}
