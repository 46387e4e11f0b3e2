// Package engine drives the tool-calling conversation between a model and its executors.
// This file contains the engine's error types.

package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProvider is returned by Build when no provider has been configured.
var ErrNoProvider = errors.New("provider not configured: use WithProvider")

// ErrNoTools is returned by Build when no registry has been configured.
var ErrNoTools = errors.New("tools not configured: use WithRegistry")

// ToolValidationError indicates that tool arguments failed JSON schema validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// DuplicateToolError reports two tool sets registering the same name.
type DuplicateToolError struct {
	Name      string
	FirstSet  int
	SecondSet int
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q registered twice (sets %d and %d)", e.Name, e.FirstSet, e.SecondSet)
}

// ToolPanicError wraps a panic recovered at the dispatch boundary.
type ToolPanicError struct {
	ToolName string
	Value    any
}

func (e *ToolPanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.ToolName, e.Value)
}

// StepError wraps a fatal error with the iteration and operation it happened in.
type StepError struct {
	Err       error
	Iteration int
	Operation string // "provider_call", "checkpoint_load", "checkpoint_save"
}

func (e *StepError) Error() string {
	return fmt.Sprintf("[iteration=%d op=%s] %v", e.Iteration, e.Operation, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func wrapStep(err error, st *RunState, operation string) error {
	if err == nil {
		return nil
	}
	return &StepError{Err: err, Iteration: st.Iteration, Operation: operation}
}
