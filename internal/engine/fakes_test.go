package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errScriptExhausted = errors.New("scripted provider: no more responses")

type scriptStep struct {
	resp Response
	err  error
}

type recordedCall struct {
	system   string
	messages []Message
	tools    []ToolDefinition
}

// scriptedProvider replays a fixed list of responses and records every request.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	calls []recordedCall
}

func (p *scriptedProvider) Send(_ context.Context, system string, messages []Message, tools []ToolDefinition) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recordedCall{
		system:   system,
		messages: append([]Message(nil), messages...),
		tools:    tools,
	})
	if len(p.steps) == 0 {
		return Response{}, errScriptExhausted
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step.resp, step.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func toolUse(usage Usage, calls ...ToolCall) scriptStep {
	blocks := make([]ContentBlock, 0, len(calls))
	for _, c := range calls {
		blocks = append(blocks, ToolCallBlock(c))
	}
	return scriptStep{resp: Response{Content: blocks, StopReason: StopToolUse, Usage: usage}}
}

func endTurn(text string) scriptStep {
	return scriptStep{resp: Response{Content: []ContentBlock{TextBlock(text)}, StopReason: StopEndTurn, Usage: Usage{InputTokens: 100, OutputTokens: 10}}}
}

// fakeAsker answers every question with answer after running onAsk.
type fakeAsker struct {
	answer    string
	err       error
	onAsk     func()
	questions []string
}

func (a *fakeAsker) Ask(_ context.Context, question string, _ []string) (string, error) {
	a.questions = append(a.questions, question)
	if a.onAsk != nil {
		a.onAsk()
	}
	return a.answer, a.err
}

// blockingAsker waits for ctx to end, signalling asked once the question is pending.
type blockingAsker struct{ asked chan struct{} }

func (a *blockingAsker) Ask(ctx context.Context, _ string, _ []string) (string, error) {
	close(a.asked)
	<-ctx.Done()
	return "", ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticTool(name, output string) Tool {
	return Tool{
		Name:       name,
		SchemaJSON: `{"type":"object","properties":{}}`,
		Fn: func(context.Context, map[string]any) (ToolOutput, error) {
			return TextOutput(output), nil
		},
		Metadata: ToolMetadata{ReadOnly: true},
	}
}

func mustRegistry(t interface{ Fatalf(string, ...any) }, sets ...ToolSet) *Registry {
	reg, err := NewRegistry(sets...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func newTestAgent(t interface{ Fatalf(string, ...any) }, p Provider, reg *Registry, store CheckpointStore, asker Asker, cfg Config) *Agent {
	b := NewAgentBuilder().
		WithProvider(p).
		WithRegistry(reg).
		WithLogger(discardLogger()).
		WithSystemPrompt("system").
		WithIDGenerator(func() string { return "run-1" })
	if store != nil {
		b.WithCheckpointStore(store)
	}
	if asker != nil {
		b.WithAsker(asker)
	}
	if cfg.MaxIterations > 0 {
		b.WithMaxIterations(cfg.MaxIterations)
	}
	if cfg.ContextWindow > 0 {
		b.WithContextWindow(cfg.ContextWindow)
	}
	agent, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return agent
}
