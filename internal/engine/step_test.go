package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// Mock tool function
func mockToolFn(ctx context.Context, args map[string]any) (ToolOutput, error) {
	if val, ok := args["should_error"]; ok && val.(bool) {
		return ToolOutput{}, errors.New("mock error")
	}
	if val, ok := args["should_panic"]; ok && val.(bool) {
		panic("mock panic")
	}
	if val, ok := args["domain_error"]; ok && val.(bool) {
		return ErrorOutput("meet not found"), nil
	}
	return TextOutput("success"), nil
}

func mockCore(t *testing.T) *loopCore {
	reg := mustRegistry(t, ToolSet{
		"mock_tool": Tool{
			Name:       "mock_tool",
			Fn:         mockToolFn,
			SchemaJSON: `{"type": "object", "properties": {"should_error": {"type": "boolean"}, "should_panic": {"type": "boolean"}, "domain_error": {"type": "boolean"}}, "additionalProperties": false}`,
		},
	})
	return &loopCore{tools: reg, hooks: Hooks{}, logger: discardLogger()}
}

func TestExecuteTool(t *testing.T) {
	ctx := context.Background()
	core := mockCore(t)

	tests := []struct {
		name      string
		call      ToolCall
		want      string
		wantError bool
	}{
		{
			name: "success",
			call: ToolCall{ID: "1", Name: "mock_tool", Input: map[string]any{"should_error": false}},
			want: "success",
		},
		{
			name:      "tool execution error",
			call:      ToolCall{ID: "2", Name: "mock_tool", Input: map[string]any{"should_error": true}},
			want:      "ERROR: mock_tool failed: mock error",
			wantError: true,
		},
		{
			name:      "tool panics",
			call:      ToolCall{ID: "3", Name: "mock_tool", Input: map[string]any{"should_panic": true}},
			want:      "ERROR: mock_tool failed: tool mock_tool panicked: mock panic",
			wantError: true,
		},
		{
			name:      "domain error is passed through",
			call:      ToolCall{ID: "4", Name: "mock_tool", Input: map[string]any{"domain_error": true}},
			want:      "ERROR: meet not found",
			wantError: true,
		},
		{
			name:      "tool not found",
			call:      ToolCall{ID: "5", Name: "non_existent_tool"},
			want:      `ERROR: unknown tool "non_existent_tool"; available tools: mock_tool`,
			wantError: true,
		},
		{
			name:      "invalid arguments",
			call:      ToolCall{ID: "6", Name: "mock_tool", Input: map[string]any{"should_error": "yes"}},
			want:      "ERROR: invalid arguments: tool mock_tool validation failed",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.executeTool(ctx, tt.call)
			if got.ToolCallID != tt.call.ID {
				t.Errorf("executeTool() id = %q, want %q", got.ToolCallID, tt.call.ID)
			}
			if got.IsError != tt.wantError {
				t.Errorf("executeTool() IsError = %v, want %v", got.IsError, tt.wantError)
			}
			if !strings.HasPrefix(got.Text(), tt.want) {
				t.Errorf("executeTool() = %q, want prefix %q", got.Text(), tt.want)
			}
		})
	}
}

func TestExecuteToolCalls(t *testing.T) {
	ctx := context.Background()
	core := mockCore(t)
	st := newRunState("run", "task", "")

	calls := []ToolCall{
		{ID: "a", Name: "mock_tool", Input: map[string]any{}},
		{ID: "b", Name: "mock_tool", Input: map[string]any{"should_panic": true}},
		{ID: "c", Name: "mock_tool", Input: map[string]any{"should_error": true}},
		{ID: "d", Name: "mock_tool", Input: map[string]any{}},
	}

	blocks := core.executeToolCalls(ctx, st, calls, nil)
	if len(blocks) != len(calls) {
		t.Fatalf("got %d results, want %d", len(blocks), len(calls))
	}
	wantErr := []bool{false, true, true, false}
	for i, b := range blocks {
		if b.Kind != BlockToolResult {
			t.Fatalf("block %d kind = %s", i, b.Kind)
		}
		if b.ToolResult.ToolCallID != calls[i].ID {
			t.Errorf("block %d id = %s, want %s", i, b.ToolResult.ToolCallID, calls[i].ID)
		}
		if b.ToolResult.IsError != wantErr[i] {
			t.Errorf("block %d IsError = %v, want %v", i, b.ToolResult.IsError, wantErr[i])
		}
	}
	if len(st.ToolLog) != len(calls) {
		t.Errorf("tool log has %d entries, want %d", len(st.ToolLog), len(calls))
	}
}

func TestExecuteToolCalls_StopSkipsRemaining(t *testing.T) {
	ctx := context.Background()
	core := mockCore(t)
	st := newRunState("run", "task", "")

	ran := 0
	stopped := func() bool { return ran > 0 }
	core.hooks = Hooks{countingHook{n: &ran}}

	calls := []ToolCall{
		{ID: "a", Name: "mock_tool"},
		{ID: "b", Name: "mock_tool"},
		{ID: "c", Name: "mock_tool"},
	}
	blocks := core.executeToolCalls(ctx, st, calls, stopped)
	if len(blocks) != 3 {
		t.Fatalf("got %d results, want 3", len(blocks))
	}
	if ran != 1 {
		t.Errorf("ran %d tools, want 1", ran)
	}
	for _, b := range blocks[1:] {
		if !b.ToolResult.IsError || !strings.Contains(b.ToolResult.Text(), "stop was requested") {
			t.Errorf("skipped result = %+v", b.ToolResult)
		}
	}
}

func TestExecuteTool_StateInContext(t *testing.T) {
	st := newRunState("run", "task", "")
	reg := mustRegistry(t, ToolSet{
		"load": Tool{
			Name: "load",
			Fn: func(ctx context.Context, args map[string]any) (ToolOutput, error) {
				rs, ok := StateFromContext(ctx)
				if !ok {
					return ErrorOutput("no state"), nil
				}
				rs.LoadSkill("scorecat")
				return TextOutput("loaded"), nil
			},
		},
	})
	core := &loopCore{tools: reg}
	core.executeToolCalls(context.Background(), st, []ToolCall{{ID: "x", Name: "load"}}, nil)
	if !st.Skills.Has("scorecat") {
		t.Error("tool could not reach run state through context")
	}
}

type countingHook struct {
	NopHook
	n *int
}

func (h countingHook) OnToolCall(context.Context, *RunState, ToolCall) { *h.n++ }

func TestAppendUserText_MergesTrailingUser(t *testing.T) {
	st := newRunState("run", "task", "")
	st.Append(Message{Role: RoleAssistant, Content: Blocks(ToolCallBlock(ToolCall{ID: "1", Name: "x"}))})
	st.Append(Message{Role: RoleUser, Content: Blocks(ToolResultBlock(ToolResult{ToolCallID: "1", Parts: []Part{TextPart("ok")}}))})

	appendUserText(st, "summarize")
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(st.Messages))
	}
	last := st.Messages[1]
	if len(last.ToolResults()) != 1 || last.Text() != "summarize" {
		t.Errorf("merged message = %+v", last.Content.Blocks())
	}
}
