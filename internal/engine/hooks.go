package engine

import (
	"context"
	"time"
)

// Hook observes the loop. Implementations must not block.
type Hook interface {
	OnRunStart(ctx context.Context, st *RunState, resumed bool)
	OnStepStart(ctx context.Context, st *RunState)
	OnBeforeProvider(ctx context.Context, st *RunState, messages []Message, tools []ToolDefinition)
	OnAfterProvider(ctx context.Context, st *RunState, resp Response, elapsed time.Duration, err error)
	OnToolCall(ctx context.Context, st *RunState, call ToolCall)
	OnToolResult(ctx context.Context, st *RunState, call ToolCall, result ToolResult, elapsed time.Duration)
	OnSequenceRepaired(ctx context.Context, st *RunState, repairs int)
	OnCheckpointSaved(ctx context.Context, st *RunState, reason string)
	OnDone(ctx context.Context, st *RunState, report Report)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnRunStart(context.Context, *RunState, bool)                                   {}
func (NopHook) OnStepStart(context.Context, *RunState)                                        {}
func (NopHook) OnBeforeProvider(context.Context, *RunState, []Message, []ToolDefinition)      {}
func (NopHook) OnAfterProvider(context.Context, *RunState, Response, time.Duration, error)    {}
func (NopHook) OnToolCall(context.Context, *RunState, ToolCall)                               {}
func (NopHook) OnToolResult(context.Context, *RunState, ToolCall, ToolResult, time.Duration) {}
func (NopHook) OnSequenceRepaired(context.Context, *RunState, int)                            {}
func (NopHook) OnCheckpointSaved(context.Context, *RunState, string)                          {}
func (NopHook) OnDone(context.Context, *RunState, Report)                                     {}

type Hooks []Hook

func (hs Hooks) OnRunStart(ctx context.Context, st *RunState, resumed bool) {
	for _, h := range hs {
		h.OnRunStart(ctx, st, resumed)
	}
}
func (hs Hooks) OnStepStart(ctx context.Context, st *RunState) {
	for _, h := range hs {
		h.OnStepStart(ctx, st)
	}
}
func (hs Hooks) OnBeforeProvider(ctx context.Context, st *RunState, m []Message, defs []ToolDefinition) {
	for _, h := range hs {
		h.OnBeforeProvider(ctx, st, m, defs)
	}
}
func (hs Hooks) OnAfterProvider(ctx context.Context, st *RunState, r Response, elapsed time.Duration, err error) {
	for _, h := range hs {
		h.OnAfterProvider(ctx, st, r, elapsed, err)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *RunState, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *RunState, c ToolCall, r ToolResult, elapsed time.Duration) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, r, elapsed)
	}
}
func (hs Hooks) OnSequenceRepaired(ctx context.Context, st *RunState, repairs int) {
	for _, h := range hs {
		h.OnSequenceRepaired(ctx, st, repairs)
	}
}
func (hs Hooks) OnCheckpointSaved(ctx context.Context, st *RunState, reason string) {
	for _, h := range hs {
		h.OnCheckpointSaved(ctx, st, reason)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *RunState, report Report) {
	for _, h := range hs {
		h.OnDone(ctx, st, report)
	}
}
