package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// RetryPolicy defines retry behavior for provider calls.
type RetryPolicy struct {
	MaxAttempts       int           // total attempts including the first
	InitialDelay      time.Duration // backoff before the second attempt
	MaxDelay          time.Duration // backoff cap; rate-limit waits are not capped
	Multiplier        float64       // exponential backoff multiplier
	Jitter            bool          // add 0-20% random jitter to backoff
	RateLimitFallback time.Duration // wait used when a rate limit carries no hint
}

// DefaultRetryPolicy returns the standard policy for provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2.0,
		Jitter:            true,
		RateLimitFallback: 5 * time.Second,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy executes fn until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. Rate limits and backoff share the same budget.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classifyError func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if classifyError(err) == RetryClassNonRetryable {
			return zero, err
		}
		if attempt >= maxAttempts {
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt}
		}

		delay := calculateDelay(policy, attempt-1, err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// calculateDelay waits exactly the signalled duration for rate limits and backs off
// exponentially for everything else.
func calculateDelay(policy RetryPolicy, retry int, err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter
		}
		return policy.RateLimitFallback
	}

	// Exponential backoff: initialDelay * (multiplier ^ retry)
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(retry))

	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if policy.Jitter {
		jitter := rand.Float64() * 0.2 * delay
		delay += jitter
	}

	return time.Duration(delay)
}

// RetryObserver is told about each retry. Implementations must not block.
type RetryObserver func(attempt int, delay time.Duration, err error)

// Retrying wraps a provider with the retry policy.
type Retrying struct {
	next      engine.Provider
	policy    RetryPolicy
	logger    *slog.Logger
	observers []RetryObserver
}

// NewRetrying wraps next. A nil logger means slog.Default().
func NewRetrying(next engine.Provider, policy RetryPolicy, logger *slog.Logger, observers ...RetryObserver) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, policy: policy, logger: logger, observers: observers}
}

func (r *Retrying) Send(ctx context.Context, system string, messages []engine.Message, tools []engine.ToolDefinition) (engine.Response, error) {
	return RetryWithPolicy(ctx, r.policy,
		func(ctx context.Context) (engine.Response, error) {
			return r.next.Send(ctx, system, messages, tools)
		},
		Classify,
		func(attempt int, delay time.Duration, err error) {
			r.logger.WarnContext(ctx, "retrying provider call",
				"attempt", attempt,
				"max_attempts", r.policy.MaxAttempts,
				"delay", delay,
				"err", err)
			for _, obs := range r.observers {
				obs(attempt, delay, err)
			}
		},
	)
}
