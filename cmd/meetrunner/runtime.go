package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
	"github.com/ChamsBouzaiene/meetrunner/internal/config"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/humaninput"
	"github.com/ChamsBouzaiene/meetrunner/internal/prompts"
	"github.com/ChamsBouzaiene/meetrunner/internal/providers"
	"github.com/ChamsBouzaiene/meetrunner/internal/sandbox"
	"github.com/ChamsBouzaiene/meetrunner/internal/skills"
	"github.com/ChamsBouzaiene/meetrunner/internal/telemetry"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/browser"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/database"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// runtimeEnv holds everything one CLI invocation wires together.
type runtimeEnv struct {
	Config      *config.Config
	WorkDir     string
	Logger      *slog.Logger
	Checkpoints *checkpoint.Store
	Bridge      *humaninput.Bridge
	Metrics     *telemetry.Metrics
	Registry    *engine.Registry
	Session     *engine.Session

	browser *browser.Manager
	db      *database.Store
	library *skills.Library
	watcher *skills.Watcher
}

// loadConfig resolves the workspace, loads the configuration and makes its paths absolute.
func loadConfig(g *globalFlags) (*config.Config, string, error) {
	workDir := g.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get current directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("workspace is not a directory: %s", workDir)
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, "", err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	absolutize(workDir, &cfg.Agent.DataDir)
	absolutize(workDir, &cfg.Tools.OutputDir)
	absolutize(workDir, &cfg.Tools.DBPath)
	absolutize(workDir, &cfg.Tools.SkillsDir)
	if cfg.Tools.Pipeline.WorkDir != "" {
		absolutize(workDir, &cfg.Tools.Pipeline.WorkDir)
	}
	return cfg, workDir, nil
}

func absolutize(base string, p *string) {
	if *p != "" && !filepath.IsAbs(*p) {
		*p = filepath.Join(base, *p)
	}
}

// prepareRuntimeEnv builds the provider, executors and both session contexts. Optional
// components that fail to start are logged and left out of the catalog. Without an
// operator the session has no asker: checkpoints resume and ask_user is not offered.
func prepareRuntimeEnv(ctx context.Context, g *globalFlags, operator bool) (*runtimeEnv, error) {
	cfg, workDir, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Tools.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	env := &runtimeEnv{
		Config:      cfg,
		WorkDir:     workDir,
		Logger:      logger,
		Checkpoints: checkpoint.NewStore(cfg.Agent.DataDir),
		Bridge:      humaninput.NewBridge(cfg.Tools.AskTimeout, logger),
		Metrics:     telemetry.New(),
	}

	provider, err := providers.New(cfg.Provider, cfg.Retry, logger, env.Metrics.RetryObserver())
	if err != nil {
		return nil, err
	}

	deps, err := env.startDeps(ctx, operator)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Registry, err = tools.NewRegistry(*cfg, workDir, deps)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to build tool catalog: %w", err)
	}

	promptEnv := prompts.Environment{
		WorkDir:   workDir,
		OutputDir: cfg.Tools.OutputDir,
		DBPath:    cfg.Tools.DBPath,
	}
	if env.library != nil {
		for _, s := range env.library.List() {
			promptEnv.Skills = append(promptEnv.Skills, prompts.SkillEntry{ID: s.ID, Title: s.Title})
		}
	}
	taskPrompt, err := prompts.TaskSystem(promptEnv)
	if err != nil {
		env.Close()
		return nil, err
	}
	queryPrompt, err := prompts.QuerySystem(promptEnv)
	if err != nil {
		env.Close()
		return nil, err
	}

	var asker engine.Asker
	if operator {
		asker = env.Bridge
	}
	env.Session, err = engine.CreateSession(engine.SessionOptions{
		Provider: provider,
		Registry: env.Registry,
		Store:    env.Checkpoints,
		Asker:    asker,
		Hooks:    engine.Hooks{engine.LoggerHook{L: logger}, env.Metrics},
		Logger:   logger,
		Config: engine.Config{
			MaxIterations:  cfg.Agent.MaxIterations,
			ContextWindow:  providers.WindowFor(cfg.Provider),
			BudgetFraction: cfg.Agent.BudgetFraction,
		},
		TaskPrompt:  taskPrompt,
		QueryPrompt: queryPrompt,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (env *runtimeEnv) startDeps(ctx context.Context, operator bool) (tools.Deps, error) {
	cfg := env.Config
	tc := cfg.Tools

	mounts := []string{env.WorkDir}
	if _, err := toolkit.Within(env.WorkDir, tc.OutputDir); err != nil {
		mounts = append(mounts, tc.OutputDir)
	}
	runner, err := sandbox.New(ctx, sandbox.Config{
		Mode:        sandbox.Mode(tc.Pipeline.Mode),
		DockerImage: tc.Pipeline.DockerImage,
		CPU:         tc.Pipeline.CPU,
		Memory:      tc.Pipeline.Memory,
		CmdTimeout:  tc.Pipeline.Timeout,
		Mounts:      mounts,
	}, env.Logger)
	if err != nil {
		return tools.Deps{}, fmt.Errorf("failed to create pipeline runner: %w", err)
	}

	env.browser = browser.NewManager(browser.Config{
		ChromePath: tc.Browser.ChromePath,
		DebugPort:  tc.Browser.DebugPort,
		Headless:   tc.Browser.Headless,
		ProfileDir: filepath.Join(cfg.Agent.DataDir, "chrome-profile"),
	}, env.Logger)
	env.db = database.NewStore(tc.DBPath)

	deps := tools.Deps{
		Browser:  env.browser,
		Runner:   runner,
		Database: env.db,
	}
	if operator {
		deps.Asker = env.Bridge
	}

	lib, err := skills.Load(tc.SkillsDir)
	if err != nil {
		env.Logger.WarnContext(ctx, "skills unavailable", "dir", tc.SkillsDir, "err", err)
		return deps, nil
	}
	env.library = lib
	deps.Skills = lib

	w, err := skills.NewWatcher(lib, env.Logger)
	if err != nil {
		env.Logger.WarnContext(ctx, "skill watcher unavailable", "err", err)
		return deps, nil
	}
	w.OnReload(func(count int, err error) {
		if err != nil {
			env.Logger.Warn("skill reload failed", "err", err)
			return
		}
		env.Logger.Info("skills reloaded", "count", count)
	})
	if err := w.Start(ctx); err != nil {
		env.Logger.WarnContext(ctx, "skill watcher unavailable", "err", err)
		_ = w.Stop()
		return deps, nil
	}
	env.watcher = w
	return deps, nil
}

// Close releases the browser, database handle and skill index.
func (env *runtimeEnv) Close() {
	var errs []error
	if env.watcher != nil {
		errs = append(errs, env.watcher.Stop())
	}
	if env.library != nil {
		errs = append(errs, env.library.Close())
	}
	if env.browser != nil {
		errs = append(errs, env.browser.Close())
	}
	if env.db != nil {
		errs = append(errs, env.db.Close())
	}
	if err := errors.Join(errs...); err != nil && env.Logger != nil {
		env.Logger.Warn("shutdown incomplete", "err", err)
	}
}
