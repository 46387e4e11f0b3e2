// Package config loads meetrunner settings from YAML, .env and the process environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config is the root of meetrunner.yaml.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Agent    AgentConfig    `yaml:"agent"`
	Retry    RetryConfig    `yaml:"retry"`
	Tools    ToolsConfig    `yaml:"tools"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ProviderConfig selects the chat dialect and endpoint.
type ProviderConfig struct {
	Dialect         string        `yaml:"dialect"` // anthropic | openai
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	ContextWindow   int           `yaml:"context_window"` // 0 looks the model up
	Timeout         time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	MaxIterations  int     `yaml:"max_iterations"`
	BudgetFraction float64 `yaml:"budget_fraction"`
	DataDir        string  `yaml:"data_dir"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitFallback time.Duration `yaml:"rate_limit_fallback"`
}

type ToolsConfig struct {
	OutputDir        string         `yaml:"output_dir"`
	DBPath           string         `yaml:"db_path"`
	SkillsDir        string         `yaml:"skills_dir"`
	LargeResultBytes int            `yaml:"large_result_bytes"`
	AskTimeout       time.Duration  `yaml:"ask_timeout"` // 0 waits forever
	FetchTimeout     time.Duration  `yaml:"fetch_timeout"`
	Pipeline         PipelineConfig `yaml:"pipeline"`
	Browser          BrowserConfig  `yaml:"browser"`
}

// PipelineConfig describes the external processing command run by run_pipeline.
type PipelineConfig struct {
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	WorkDir     string        `yaml:"work_dir"`
	Mode        string        `yaml:"mode"` // host | docker | auto
	DockerImage string        `yaml:"docker_image"`
	CPU         string        `yaml:"cpu"`
	Memory      string        `yaml:"memory"`
	Timeout     time.Duration `yaml:"timeout"`
}

type BrowserConfig struct {
	ChromePath string `yaml:"chrome_path"`
	DebugPort  int    `yaml:"debug_port"`
	Headless   bool   `yaml:"headless"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns a configuration with every value populated.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Dialect:         "anthropic",
			Model:           "claude-sonnet-4-20250514",
			MaxOutputTokens: 8192,
			Timeout:         5 * time.Minute,
		},
		Agent: AgentConfig{
			MaxIterations:  40,
			BudgetFraction: 0.8,
			DataDir:        ".meetrunner",
		},
		Retry: RetryConfig{
			MaxAttempts:       4,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			RateLimitFallback: 5 * time.Second,
		},
		Tools: ToolsConfig{
			OutputDir:        "output",
			DBPath:           filepath.Join("output", "meets.db"),
			SkillsDir:        "skills",
			LargeResultBytes: 32 * 1024,
			FetchTimeout:     30 * time.Second,
			Pipeline: PipelineConfig{
				Command: "python3",
				Args:    []string{"process_meet.py"},
				Mode:    "host",
				CPU:     "2",
				Memory:  "1g",
				Timeout: 10 * time.Minute,
			},
			Browser: BrowserConfig{
				DebugPort: 9222,
				Headless:  true,
			},
		},
		Server: ServerConfig{Addr: "127.0.0.1:8765"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider.Dialect {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("provider.dialect %q: must be anthropic or openai", c.Provider.Dialect))
	}
	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.BudgetFraction <= 0 || c.Agent.BudgetFraction > 1 {
		errs = append(errs, fmt.Errorf("agent.budget_fraction must be in (0,1], got %g", c.Agent.BudgetFraction))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	switch c.Tools.Pipeline.Mode {
	case "host", "docker", "auto":
	default:
		errs = append(errs, fmt.Errorf("tools.pipeline.mode %q: must be host, docker or auto", c.Tools.Pipeline.Mode))
	}
	if c.Tools.AskTimeout < 0 {
		errs = append(errs, errors.New("tools.ask_timeout must not be negative"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CheckpointDir is where checkpoint files live.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Agent.DataDir, "checkpoints")
}
