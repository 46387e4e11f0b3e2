package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChatContextFull is returned when the query history no longer fits the budget.
var ErrChatContextFull = errors.New("query context is full; reset the chat to continue")

// Chat is the lightweight query context. It keeps its own history across questions and
// never touches checkpoints, so it can run next to a task without sharing messages.
type Chat struct {
	*loopCore
	config Config
	system string

	mu sync.Mutex
	st *RunState
}

// Ask sends one question and runs tool calls until the model answers.
func (c *Chat) Ask(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil {
		c.st = newRunState(c.newID(), "", c.system)
	}
	st := c.st
	if st.LastInputTokens > c.config.budgetLimit() {
		return "", ErrChatContextFull
	}

	appendUserText(st, question)
	defs := c.tools.Definitions()
	for i := 0; i < c.config.MaxIterations; i++ {
		st.Iteration++
		resp, err := c.send(ctx, st, defs)
		if err != nil {
			return "", err
		}
		step := c.interpret(ctx, st, resp, nil)
		if step.done {
			return step.final, nil
		}
	}

	// Leave the history valid for the next question.
	if fixed, repairs := RepairSequence(st.Messages); repairs > 0 {
		st.Messages = fixed
	}
	return "", fmt.Errorf("no answer after %d tool rounds", c.config.MaxIterations)
}

// Reset drops the conversation history.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = nil
}

// History returns a copy of the conversation so far.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil
	}
	return append([]Message(nil), c.st.Messages...)
}
