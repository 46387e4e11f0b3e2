// Package tools assembles the tool catalog from the independently owned tool modules.
package tools

import (
	"path/filepath"

	"github.com/ChamsBouzaiene/meetrunner/internal/config"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/sandbox"
	"github.com/ChamsBouzaiene/meetrunner/internal/skills"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/askuser"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/browser"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/database"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/httpfetch"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/pipeline"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/progress"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/skilltool"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// Deps are the live components the executors close over. Nil components leave their
// tools out of the catalog.
type Deps struct {
	Browser  browser.Source
	Runner   sandbox.Runner
	Database *database.Store
	Skills   *skills.Library
	Asker    engine.Asker
}

// SpillDir is where oversized results are written, under the output directory.
func SpillDir(outputDir string) string {
	return filepath.Join(outputDir, ".spill")
}

// Sets returns every tool module's map, in a fixed order.
func Sets(cfg config.Config, workDir string, deps Deps) []engine.ToolSet {
	tc := cfg.Tools
	spill := toolkit.Spiller{Dir: SpillDir(tc.OutputDir), Limit: tc.LargeResultBytes}

	sets := []engine.ToolSet{
		filesystem.New(filesystem.Options{Root: workDir, OutputDir: tc.OutputDir, Spiller: spill}),
		engine.ToolSet{}.Add(httpfetch.NewTool(httpfetch.New(tc.FetchTimeout, spill))),
		engine.ToolSet{}.Add(progress.NewTool()),
	}
	if deps.Browser != nil {
		sets = append(sets, browser.Tools(deps.Browser, tc.OutputDir, spill))
	}
	if deps.Runner != nil {
		pipelineDir := tc.Pipeline.WorkDir
		if pipelineDir == "" {
			pipelineDir = workDir
		}
		var afterRun func()
		if deps.Database != nil {
			// The script replaces the database file; drop handles on the old one.
			afterRun = func() { _ = deps.Database.Close() }
		}
		sets = append(sets, engine.ToolSet{}.Add(pipeline.NewRunPipelineTool(pipeline.Options{
			Runner:    deps.Runner,
			Command:   tc.Pipeline.Command,
			BaseArgs:  tc.Pipeline.Args,
			WorkDir:   pipelineDir,
			OutputDir: tc.OutputDir,
			DBPath:    tc.DBPath,
			Timeout:   tc.Pipeline.Timeout,
			AfterRun:  afterRun,
		})))
	}
	if deps.Database != nil {
		sets = append(sets, database.Tools(deps.Database, spill))
	}
	if deps.Skills != nil {
		sets = append(sets, skilltool.Tools(deps.Skills))
	}
	if deps.Asker != nil {
		sets = append(sets, engine.ToolSet{}.Add(askuser.NewTool(deps.Asker)))
	}
	return sets
}

// NewRegistry merges the tool sets. A name claimed by two modules is an error.
func NewRegistry(cfg config.Config, workDir string, deps Deps) (*engine.Registry, error) {
	return engine.NewRegistry(Sets(cfg, workDir, deps)...)
}
