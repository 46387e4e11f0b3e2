package humaninput

import (
	"context"
	"errors"
	"log/slog"

	"github.com/charmbracelet/huh"
)

// Prompter renders one question and returns the operator's answer.
type Prompter func(ctx context.Context, q Question) (string, error)

// HuhPrompter shows a select list for questions with options and a text input otherwise.
func HuhPrompter(ctx context.Context, q Question) (string, error) {
	var answer string
	var field huh.Field
	if len(q.Options) > 0 {
		field = huh.NewSelect[string]().
			Title(q.Text).
			Options(huh.NewOptions(q.Options...)...).
			Value(&answer)
	} else {
		field = huh.NewInput().
			Title(q.Text).
			Value(&answer)
	}
	if err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx); err != nil {
		return "", err
	}
	return answer, nil
}

// TerminalResponder answers bridge questions from the controlling terminal.
type TerminalResponder struct {
	bridge *Bridge
	prompt Prompter
	logger *slog.Logger
}

// NewTerminalResponder wires prompt to b. A nil prompt uses HuhPrompter.
func NewTerminalResponder(b *Bridge, prompt Prompter, logger *slog.Logger) *TerminalResponder {
	if prompt == nil {
		prompt = HuhPrompter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalResponder{bridge: b, prompt: prompt, logger: logger}
}

// Run answers questions until ctx is done.
func (t *TerminalResponder) Run(ctx context.Context) {
	events, cancel := t.bridge.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != EventAsked {
				continue
			}
			t.answer(ctx, ev.Question)
		}
	}
}

func (t *TerminalResponder) answer(ctx context.Context, q Question) {
	ans, err := t.prompt(ctx, q)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.logger.WarnContext(ctx, "terminal prompt failed", "question_id", q.ID, "err", err)
		}
		return
	}
	if err := t.bridge.Answer(q.ID, ans); err != nil {
		// Another responder (the HTTP API) may have answered first.
		t.logger.DebugContext(ctx, "terminal answer rejected", "question_id", q.ID, "err", err)
	}
}
