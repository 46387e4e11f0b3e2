package engine

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// AgentBuilder helps construct an Agent or a Chat with a fluent API.
type AgentBuilder struct {
	config   Config
	provider Provider
	tools    *Registry
	store    CheckpointStore
	asker    Asker
	hooks    Hooks
	system   string
	logger   *slog.Logger
	newID    func() string
}

// NewAgentBuilder creates a new agent builder with default configuration.
func NewAgentBuilder() *AgentBuilder {
	return &AgentBuilder{
		config: DefaultConfig(),
	}
}

// WithProvider sets the provider client.
func (b *AgentBuilder) WithProvider(p Provider) *AgentBuilder {
	b.provider = p
	return b
}

// WithRegistry sets the tool registry shared by every session.
func (b *AgentBuilder) WithRegistry(r *Registry) *AgentBuilder {
	b.tools = r
	return b
}

// WithCheckpointStore enables checkpoint persistence.
func (b *AgentBuilder) WithCheckpointStore(s CheckpointStore) *AgentBuilder {
	b.store = s
	return b
}

// WithAsker sets who answers the resume-or-discard question.
func (b *AgentBuilder) WithAsker(a Asker) *AgentBuilder {
	b.asker = a
	return b
}

// WithSystemPrompt sets the system prompt.
func (b *AgentBuilder) WithSystemPrompt(system string) *AgentBuilder {
	b.system = system
	return b
}

// WithMaxIterations sets the iteration cap.
func (b *AgentBuilder) WithMaxIterations(n int) *AgentBuilder {
	b.config.MaxIterations = n
	return b
}

// WithContextWindow sets the model's context window in tokens.
func (b *AgentBuilder) WithContextWindow(tokens int) *AgentBuilder {
	b.config.ContextWindow = tokens
	return b
}

// WithBudgetFraction sets the share of the context window that triggers a pause.
func (b *AgentBuilder) WithBudgetFraction(f float64) *AgentBuilder {
	b.config.BudgetFraction = f
	return b
}

// WithHooks sets custom hooks.
func (b *AgentBuilder) WithHooks(hooks Hooks) *AgentBuilder {
	b.hooks = hooks
	return b
}

// WithLogger sets the logger used by the default hooks.
func (b *AgentBuilder) WithLogger(l *slog.Logger) *AgentBuilder {
	b.logger = l
	return b
}

// WithIDGenerator overrides run id generation.
func (b *AgentBuilder) WithIDGenerator(fn func() string) *AgentBuilder {
	b.newID = fn
	return b
}

func (b *AgentBuilder) core() (*loopCore, error) {
	if b.provider == nil {
		return nil, ErrNoProvider
	}
	if b.tools == nil {
		return nil, ErrNoTools
	}
	if b.config.MaxIterations <= 0 {
		return nil, errors.New("max iterations must be positive")
	}
	if b.config.ContextWindow <= 0 {
		return nil, errors.New("context window must be positive")
	}
	if b.config.BudgetFraction <= 0 || b.config.BudgetFraction > 1 {
		return nil, errors.New("budget fraction must be in (0, 1]")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	hooks := b.hooks
	if hooks == nil {
		hooks = Hooks{LoggerHook{L: logger}}
	}
	newID := b.newID
	if newID == nil {
		newID = uuid.NewString
	}
	return &loopCore{
		provider: b.provider,
		tools:    b.tools,
		hooks:    hooks,
		logger:   logger,
		newID:    newID,
	}, nil
}

// Build constructs the task-execution Agent.
func (b *AgentBuilder) Build() (*Agent, error) {
	core, err := b.core()
	if err != nil {
		return nil, err
	}
	return &Agent{
		loopCore: core,
		config:   b.config,
		store:    b.store,
		asker:    b.asker,
		system:   b.system,
	}, nil
}

// BuildChat constructs a lightweight query session. It never reads or writes checkpoints
// and keeps its own history.
func (b *AgentBuilder) BuildChat() (*Chat, error) {
	core, err := b.core()
	if err != nil {
		return nil, err
	}
	maxIter := b.config.MaxIterations
	if maxIter > DefaultChatMaxIterations {
		maxIter = DefaultChatMaxIterations
	}
	return &Chat{
		loopCore: core,
		config:   Config{MaxIterations: maxIter, ContextWindow: b.config.ContextWindow, BudgetFraction: b.config.BudgetFraction},
		system:   b.system,
	}, nil
}
