// Package sandbox runs the external processing pipeline on the host or in a container.
package sandbox

import (
	"context"
	"time"
)

// Command is one subprocess invocation.
type Command struct {
	Dir     string        // working directory on the host
	Name    string        // executable, e.g. "python3"
	Args    []string      // arguments after Name
	Env     []string      // extra KEY=VALUE pairs
	Timeout time.Duration // <=0 uses the runner default
}

// Result captures output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
	Duration time.Duration
}

// Runner executes commands. A non-zero exit is reported in Result.Code, not as an error;
// errors mean the command could not be run or was cut short.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) { return f(ctx, cmd) }
