package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto automatically selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

const (
	defaultCmdTimeout = 10 * time.Minute
	// DefaultImage carries the interpreter the processing script needs.
	DefaultImage = "python:3.12-alpine"
)

// Config holds configuration for sandbox execution.
type Config struct {
	Mode        Mode
	DockerImage string        // image for ModeDocker; DefaultImage when empty
	CPU         string        // CPU limit (e.g., "2")
	Memory      string        // Memory limit (e.g., "1g")
	CmdTimeout  time.Duration // Default command timeout (0 = use default)
	Mounts      []string      // host paths bind-mounted at the same path in the container
}

func (c Config) timeout(t time.Duration) time.Duration {
	switch {
	case t > 0:
		return t
	case c.CmdTimeout > 0:
		return c.CmdTimeout
	default:
		return defaultCmdTimeout
	}
}

// IsDockerAvailable checks if Docker is available and accessible.
func IsDockerAvailable(ctx context.Context) bool {
	return exec.CommandContext(ctx, "docker", "ps").Run() == nil
}

// New creates the runner for cfg.Mode. ModeAuto prefers Docker and falls back to the host.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case ModeHost, "":
		return NewHostRunner(cfg), nil

	case ModeDocker:
		runner, err := NewDockerRunner(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return runner, nil

	case ModeAuto:
		if IsDockerAvailable(ctx) {
			runner, err := NewDockerRunner(ctx, cfg)
			if err == nil {
				return runner, nil
			}
			logger.WarnContext(ctx, "docker available but runner failed, using host executor", "err", err)
			return NewHostRunner(cfg), nil
		}
		logger.WarnContext(ctx, "docker not available, pipeline runs on the host without isolation")
		return NewHostRunner(cfg), nil

	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}
