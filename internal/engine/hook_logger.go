package engine

import (
	"context"
	"log/slog"
	"time"
)

const previewLen = 200

// LoggerHook writes loop events to a structured logger.
type LoggerHook struct{ L *slog.Logger }

func (h LoggerHook) OnRunStart(ctx context.Context, st *RunState, resumed bool) {
	h.L.InfoContext(ctx, "run started", "run_id", st.RunID, "task_id", st.TaskID, "resumed", resumed)
}

func (h LoggerHook) OnStepStart(ctx context.Context, st *RunState) {
	h.L.DebugContext(ctx, "iteration", "n", st.Iteration, "last_input_tokens", st.LastInputTokens)
}

func (h LoggerHook) OnBeforeProvider(ctx context.Context, st *RunState, msgs []Message, defs []ToolDefinition) {
	h.L.DebugContext(ctx, "provider request", "iteration", st.Iteration, "messages", len(msgs), "tools", len(defs))
}

func (h LoggerHook) OnAfterProvider(ctx context.Context, st *RunState, r Response, elapsed time.Duration, err error) {
	if err != nil {
		h.L.ErrorContext(ctx, "provider call failed", "iteration", st.Iteration, "elapsed", elapsed, "err", err)
		return
	}
	h.L.InfoContext(ctx, "provider response",
		"iteration", st.Iteration,
		"stop", r.StopReason,
		"input_tokens", r.Usage.InputTokens,
		"output_tokens", r.Usage.OutputTokens,
		"cumulative_input", st.Totals.InputTokens,
		"elapsed", elapsed)
}

func (h LoggerHook) OnToolCall(ctx context.Context, _ *RunState, c ToolCall) {
	h.L.InfoContext(ctx, "tool call", "tool", c.Name, "id", c.ID, "args", c.Input)
}

func (h LoggerHook) OnToolResult(ctx context.Context, _ *RunState, c ToolCall, r ToolResult, elapsed time.Duration) {
	preview := r.Text()
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "..."
	}
	if r.IsError {
		h.L.WarnContext(ctx, "tool error", "tool", c.Name, "elapsed", elapsed, "result", preview)
		return
	}
	h.L.InfoContext(ctx, "tool result", "tool", c.Name, "elapsed", elapsed, "images", r.HasImages(), "result", preview)
}

func (h LoggerHook) OnSequenceRepaired(ctx context.Context, st *RunState, repairs int) {
	h.L.WarnContext(ctx, "repaired message sequence", "iteration", st.Iteration, "repairs", repairs)
}

func (h LoggerHook) OnCheckpointSaved(ctx context.Context, st *RunState, reason string) {
	h.L.InfoContext(ctx, "checkpoint saved", "task_id", st.TaskID, "reason", reason, "skills", st.Skills.Sorted())
}

func (h LoggerHook) OnDone(ctx context.Context, st *RunState, report Report) {
	h.L.InfoContext(ctx, "run finished",
		"task_id", st.TaskID,
		"outcome", report.Outcome,
		"success", report.Success,
		"iterations", st.Iteration,
		"tools_executed", len(st.ToolLog),
		"input_tokens", st.Totals.InputTokens,
		"output_tokens", st.Totals.OutputTokens)
}
