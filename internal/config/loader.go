package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file searched for when no path is given.
const FileName = "meetrunner.yaml"

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load builds the configuration: defaults, then the YAML file (if any), then environment
// overrides. A .env file in the working directory is loaded first and never overrides
// variables already set. An empty path searches the standard locations.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the first existing candidate, or "".
func findConfigFile() string {
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "meetrunner", FileName))
	}
	candidates = append(candidates, FileName)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}

// applyEnv overlays MEETRUNNER_* variables and the provider key variables.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"MEETRUNNER_PROVIDER":   &cfg.Provider.Dialect,
		"MEETRUNNER_MODEL":      &cfg.Provider.Model,
		"MEETRUNNER_BASE_URL":   &cfg.Provider.BaseURL,
		"MEETRUNNER_DATA_DIR":   &cfg.Agent.DataDir,
		"MEETRUNNER_OUTPUT_DIR": &cfg.Tools.OutputDir,
		"MEETRUNNER_DB_PATH":    &cfg.Tools.DBPath,
		"MEETRUNNER_SKILLS_DIR": &cfg.Tools.SkillsDir,
		"MEETRUNNER_SANDBOX":    &cfg.Tools.Pipeline.Mode,
		"MEETRUNNER_ADDR":       &cfg.Server.Addr,
		"MEETRUNNER_LOG_LEVEL":  &cfg.Log.Level,
		"MEETRUNNER_LOG_FORMAT": &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MEETRUNNER_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MEETRUNNER_MAX_ITERATIONS: %w", err)
		}
		cfg.Agent.MaxIterations = n
	}
	if v := os.Getenv("MEETRUNNER_BUDGET_FRACTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: MEETRUNNER_BUDGET_FRACTION: %w", err)
		}
		cfg.Agent.BudgetFraction = f
	}
	if v := os.Getenv("MEETRUNNER_ASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: MEETRUNNER_ASK_TIMEOUT: %w", err)
		}
		cfg.Tools.AskTimeout = d
	}

	if cfg.Provider.APIKey == "" {
		switch cfg.Provider.Dialect {
		case "anthropic":
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return nil
}
