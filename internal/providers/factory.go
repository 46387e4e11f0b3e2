package providers

import (
	"fmt"
	"log/slog"

	"github.com/ChamsBouzaiene/meetrunner/internal/config"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// New builds the dialect client named by cfg and wraps it in the retry policy.
func New(cfg config.ProviderConfig, retry config.RetryConfig, logger *slog.Logger, observers ...RetryObserver) (engine.Provider, error) {
	var client engine.Provider

	switch cfg.Dialect {
	case "anthropic":
		c, err := NewAnthropicClient(AnthropicOptions{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxOutputTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		client = c

	case "openai":
		c, err := NewOpenAIClient(OpenAIOptions{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxOutputTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		client = c

	default:
		return nil, fmt.Errorf("unknown provider dialect: %s (supported: anthropic, openai)", cfg.Dialect)
	}

	return NewRetrying(client, PolicyFromConfig(retry), logger, observers...), nil
}

// PolicyFromConfig overlays configured values on DefaultRetryPolicy.
func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelay > 0 {
		p.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	if c.RateLimitFallback > 0 {
		p.RateLimitFallback = c.RateLimitFallback
	}
	return p
}

// WindowFor returns the configured context window, or the model's known window.
func WindowFor(cfg config.ProviderConfig) int {
	if cfg.ContextWindow > 0 {
		return cfg.ContextWindow
	}
	return ContextWindow(cfg.Model)
}
