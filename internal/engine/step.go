package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const continuePrompt = "Your previous response was cut off at the output token limit. Continue exactly where you left off."

const truncatedCallReason = "the response was cut off at the output token limit before this call was complete; issue it again with smaller arguments"

const stoppedCallReason = "a stop was requested before this call ran"

// loopCore is the request/dispatch machinery shared by task runs and chats.
type loopCore struct {
	provider Provider
	tools    *Registry
	hooks    Hooks
	logger   *slog.Logger
	newID    func() string
}

// send repairs the history, calls the provider and records usage.
func (c *loopCore) send(ctx context.Context, st *RunState, defs []ToolDefinition) (Response, error) {
	if fixed, repairs := RepairSequence(st.Messages); repairs > 0 {
		st.Messages = fixed
		c.hooks.OnSequenceRepaired(ctx, st, repairs)
	}

	c.hooks.OnBeforeProvider(ctx, st, st.Messages, defs)
	start := time.Now()
	resp, err := c.provider.Send(ctx, st.SystemPrompt, st.Messages, defs)
	c.hooks.OnAfterProvider(ctx, st, resp, time.Since(start), err)
	if err != nil {
		return Response{}, wrapStep(err, st, "provider_call")
	}
	st.recordUsage(resp.Usage)
	return resp, nil
}

// stepResult is what interpreting one response produced.
type stepResult struct {
	done  bool   // the model ended its turn
	final string // final text when done
}

// interpret appends the response and, for tool turns, dispatches every call in order.
func (c *loopCore) interpret(toolCtx context.Context, st *RunState, resp Response, stopped func() bool) stepResult {
	msg := resp.Message()
	calls := msg.ToolCalls()

	reason := resp.StopReason
	if reason != StopMaxTokens && len(calls) > 0 {
		reason = StopToolUse
	}

	switch reason {
	case StopMaxTokens:
		if msg.Content.IsEmpty() {
			appendUserText(st, continuePrompt)
			return stepResult{}
		}
		st.Append(msg)
		if len(calls) > 0 {
			st.Append(syntheticResults(calls, truncatedCallReason))
			return stepResult{}
		}
		appendUserText(st, continuePrompt)
		return stepResult{}

	case StopToolUse:
		st.Append(msg)
		blocks := c.executeToolCalls(toolCtx, st, calls, stopped)
		st.Append(Message{Role: RoleUser, Content: Blocks(blocks...)})
		return stepResult{}

	default:
		if !msg.Content.IsEmpty() {
			st.Append(msg)
		}
		return stepResult{done: true, final: msg.Text()}
	}
}

// executeToolCalls runs calls one at a time in emission order. Every call gets a result,
// whether its executor succeeds, fails, panics or is skipped after a stop request.
func (c *loopCore) executeToolCalls(ctx context.Context, st *RunState, calls []ToolCall, stopped func() bool) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(calls))
	toolCtx := withState(ctx, st)

	for i, call := range calls {
		if stopped != nil && stopped() {
			skipped := syntheticResults(calls[i:], stoppedCallReason)
			blocks = append(blocks, skipped.Content.Blocks()...)
			break
		}

		c.hooks.OnToolCall(ctx, st, call)
		start := time.Now()
		result := c.executeTool(toolCtx, call)
		elapsed := time.Since(start)

		st.ToolLog = append(st.ToolLog, ToolLogEntry{
			Name:     call.Name,
			CallID:   call.ID,
			Duration: elapsed,
			IsError:  result.IsError,
		})
		c.hooks.OnToolResult(ctx, st, call, result, elapsed)
		blocks = append(blocks, ToolResultBlock(result))
	}
	return blocks
}

// executeTool turns one call into one result. Nothing escapes this boundary.
func (c *loopCore) executeTool(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := c.tools.Get(call.Name)
	if !ok {
		return errorResult(call.ID, "unknown tool %q; available tools: %s", call.Name, c.tools.describeNames())
	}

	args := call.Input
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.ValidateArgs(args); err != nil {
		return errorResult(call.ID, "invalid arguments: %v", err)
	}

	out, err := safeCall(ctx, tool, args)
	if err != nil {
		return errorResult(call.ID, "%s failed: %v", call.Name, err)
	}
	if len(out.Parts) == 0 {
		out = TextOutput("(no output)")
	}
	return ToolResult{ToolCallID: call.ID, Parts: out.Parts, IsError: out.IsError}
}

func safeCall(ctx context.Context, tool Tool, args map[string]any) (out ToolOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ToolPanicError{ToolName: tool.Name, Value: r}
		}
	}()
	return tool.Fn(ctx, args)
}

func errorResult(callID, format string, args ...any) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		Parts:      []Part{TextPart("ERROR: " + fmt.Sprintf(format, args...))},
		IsError:    true,
	}
}

// appendUserText adds text as a user turn, merging into a trailing user message so roles
// keep alternating.
func appendUserText(st *RunState, text string) {
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == RoleUser {
		last := st.Messages[n-1]
		blocks := append(append([]ContentBlock{}, last.Content.Blocks()...), TextBlock(text))
		st.Messages[n-1] = Message{Role: RoleUser, Content: Blocks(blocks...)}
		return
	}
	st.Append(UserText(text))
}
