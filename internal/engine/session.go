package engine

import (
	"fmt"
	"log/slog"
)

// SessionOptions configures the two contexts of a host process.
type SessionOptions struct {
	Provider    Provider
	Registry    *Registry
	Store       CheckpointStore
	Asker       Asker
	Hooks       Hooks
	Logger      *slog.Logger
	Config      Config
	TaskPrompt  string
	QueryPrompt string
}

// Session is the explicit handle shared by the task and query entry points. Both contexts
// use the same provider and executors; each keeps its own message history.
type Session struct {
	Task  *Agent
	Query *Chat
}

// CreateSession builds the task agent and the read-only query chat.
func CreateSession(opts SessionOptions) (*Session, error) {
	if opts.Registry == nil {
		return nil, ErrNoTools
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	task, err := NewAgentBuilder().
		WithProvider(opts.Provider).
		WithRegistry(opts.Registry).
		WithCheckpointStore(opts.Store).
		WithAsker(opts.Asker).
		WithHooks(opts.Hooks).
		WithLogger(opts.Logger).
		WithSystemPrompt(opts.TaskPrompt).
		WithMaxIterations(cfg.MaxIterations).
		WithContextWindow(cfg.ContextWindow).
		WithBudgetFraction(cfg.BudgetFraction).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build task agent: %w", err)
	}

	query, err := NewAgentBuilder().
		WithProvider(opts.Provider).
		WithRegistry(opts.Registry.ReadOnly()).
		WithHooks(opts.Hooks).
		WithLogger(opts.Logger).
		WithSystemPrompt(opts.QueryPrompt).
		WithMaxIterations(cfg.MaxIterations).
		WithContextWindow(cfg.ContextWindow).
		WithBudgetFraction(cfg.BudgetFraction).
		BuildChat()
	if err != nil {
		return nil, fmt.Errorf("build query chat: %w", err)
	}
	return &Session{Task: task, Query: query}, nil
}
