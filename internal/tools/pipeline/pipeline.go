// Package pipeline exposes the meet processing script as the run_pipeline tool.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/sandbox"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

const (
	defaultOutputLines = 60
	minOutputLines     = 5
	maxOutputLines     = 400
	maxOutputChars     = 8000
	maxTimeout         = 30 * time.Minute
)

var (
	sources      = []string{"scorecat", "mso_pdf", "mso_html", "generic"}
	associations = []string{"USAG", "AAU"}
	shirtFormats = []string{"level_first", "event_first"}
)

// Options configures how the script is launched. OutputDir and DBPath are always passed
// as --output and --db; the model never chooses them.
type Options struct {
	Runner    sandbox.Runner
	Command   string   // interpreter, e.g. "python3"
	BaseArgs  []string // script path and fixed leading args
	WorkDir   string
	OutputDir string
	DBPath    string
	Timeout   time.Duration
	AfterRun  func() // called once the script has run, whatever its exit status
}

// Result is the JSON payload returned to the model.
type Result struct {
	Cmd             string `json:"cmd"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
	Status          string `json:"status"`
	OutputDir       string `json:"output_dir"`
	DBPath          string `json:"db_path"`
}

// Request is the validated set of script arguments.
type Request struct {
	Source             string
	Data               []string
	State              string
	Meet               string
	Association        string
	Year               int
	GymMap             string
	StripParenthetical bool
	ShirtFormat        string
	ShirtTitle         string
	TitleLines         []string
}

func parseRequest(args map[string]any) (Request, error) {
	var req Request
	var err error
	if req.Source, err = toolkit.String(args, "source"); err != nil {
		return req, err
	}
	if !contains(sources, req.Source) {
		return req, fmt.Errorf("source must be one of %s", strings.Join(sources, ", "))
	}
	req.Data = toolkit.Strings(args, "data")
	if len(req.Data) == 0 {
		return req, fmt.Errorf("data must list at least one input file")
	}
	if req.State, err = toolkit.String(args, "state"); err != nil {
		return req, err
	}
	if req.Meet, err = toolkit.String(args, "meet"); err != nil {
		return req, err
	}
	req.Association = toolkit.OptString(args, "association", "USAG")
	if !contains(associations, req.Association) {
		return req, fmt.Errorf("association must be one of %s", strings.Join(associations, ", "))
	}
	req.Year = toolkit.OptInt(args, "year", 0)
	req.GymMap = toolkit.OptString(args, "gym_map", "")
	req.StripParenthetical = toolkit.OptBool(args, "strip_parenthetical", false)
	req.ShirtFormat = toolkit.OptString(args, "shirt_format", "")
	if req.ShirtFormat != "" && !contains(shirtFormats, req.ShirtFormat) {
		return req, fmt.Errorf("shirt_format must be one of %s", strings.Join(shirtFormats, ", "))
	}
	req.ShirtTitle = toolkit.OptString(args, "shirt_title", "")
	req.TitleLines = toolkit.Strings(args, "title_lines")
	if len(req.TitleLines) > 3 {
		return req, fmt.Errorf("title_lines takes at most 3 lines")
	}
	return req, nil
}

// argv builds the script arguments, injecting the configured output locations.
func (o Options) argv(req Request, data []string) []string {
	args := append([]string{}, o.BaseArgs...)
	args = append(args, "--source", req.Source, "--data")
	args = append(args, data...)
	args = append(args, "--state", req.State, "--meet", req.Meet, "--association", req.Association)
	args = append(args, "--output", o.OutputDir)
	if o.DBPath != "" {
		args = append(args, "--db", o.DBPath)
	}
	if req.Year > 0 {
		args = append(args, "--year", strconv.Itoa(req.Year))
	}
	if req.GymMap != "" {
		args = append(args, "--gym-map", req.GymMap)
	}
	if req.StripParenthetical {
		args = append(args, "--strip-parenthetical")
	}
	if req.ShirtFormat != "" {
		args = append(args, "--shirt-format", req.ShirtFormat)
	}
	if req.ShirtTitle != "" {
		args = append(args, "--shirt-title", req.ShirtTitle)
	}
	for i, line := range req.TitleLines {
		args = append(args, fmt.Sprintf("--title-line%d", i+1), line)
	}
	return args
}

func (o Options) resolveInputs(req Request) ([]string, error) {
	resolved := make([]string, 0, len(req.Data))
	for _, p := range req.Data {
		abs, err := o.within(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

func (o Options) within(p string) (string, error) {
	if abs, err := toolkit.Within(o.WorkDir, p); err == nil {
		return abs, nil
	}
	return toolkit.Within(o.OutputDir, p)
}

// runPipelineImpl runs the script once and reports the outcome.
func runPipelineImpl(ctx context.Context, o Options, req Request, timeout time.Duration, maxLines int) (Result, error) {
	data, err := o.resolveInputs(req)
	if err != nil {
		return Result{}, err
	}
	if req.GymMap != "" {
		if req.GymMap, err = o.within(req.GymMap); err != nil {
			return Result{}, err
		}
	}
	if err := os.MkdirAll(o.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	args := o.argv(req, data)
	res, runErr := o.Runner.Run(ctx, sandbox.Command{
		Dir:     o.WorkDir,
		Name:    o.Command,
		Args:    args,
		Timeout: timeout,
	})
	if o.AfterRun != nil {
		o.AfterRun()
	}
	if runErr != nil && !res.TimedOut && !errors.Is(runErr, context.DeadlineExceeded) {
		return Result{}, runErr
	}

	stdout, stdoutTruncated := truncateOutput(res.Stdout, maxLines)
	stderr, stderrTruncated := truncateOutput(res.Stderr, maxLines)
	out := Result{
		Cmd:             o.Command + " " + strings.Join(args, " "),
		ExitCode:        res.Code,
		Stdout:          stdout,
		Stderr:          stderr,
		StdoutTruncated: stdoutTruncated,
		StderrTruncated: stderrTruncated,
		DurationMS:      res.Duration.Milliseconds(),
		Status:          "ok",
		OutputDir:       o.OutputDir,
		DBPath:          o.DBPath,
	}
	if res.TimedOut || errors.Is(runErr, context.DeadlineExceeded) {
		out.TimedOut = true
		out.Status = "failed"
	}
	if res.Code != 0 {
		out.Status = "failed"
	}
	return out, nil
}

func truncateOutput(output string, maxLines int) (string, bool) {
	if output == "" {
		return "", false
	}
	truncated := false
	lines := strings.Split(output, "\n")
	if len(lines) > maxLines {
		// The tail carries the traceback or the summary line.
		lines = lines[len(lines)-maxLines:]
		truncated = true
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > maxOutputChars {
		joined = joined[len(joined)-maxOutputChars:]
		truncated = true
	}
	return joined, truncated
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// NewRunPipelineTool creates the run_pipeline tool.
func NewRunPipelineTool(o Options) engine.Tool {
	return engine.Tool{
		Name: "run_pipeline",
		Description: "Runs the meet processing pipeline on extracted score files: parses the source format, loads results into the database and generates the shirt and order-form documents in the output directory. " +
			"Output locations are fixed by configuration. Returns the exit status with the tail of stdout and stderr.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"source": {"type":"string","enum":["scorecat","mso_pdf","mso_html","generic"],"description":"Format of the input files"},
				"data": {"type":"array","items":{"type":"string"},"minItems":1,"description":"Input files (relative to the workspace or output directory)"},
				"state": {"type":"string","description":"Two-letter state code, e.g. MN"},
				"meet": {"type":"string","description":"Meet name as it should appear in the database"},
				"association": {"type":"string","enum":["USAG","AAU"],"description":"Sanctioning body (default USAG)"},
				"year": {"type":"integer","minimum":2000,"maximum":2100,"description":"Season year printed on the documents"},
				"gym_map": {"type":"string","description":"JSON file mapping raw gym names to canonical names"},
				"strip_parenthetical": {"type":"boolean","description":"Drop parenthetical suffixes from athlete names"},
				"shirt_format": {"type":"string","enum":["level_first","event_first"]},
				"shirt_title": {"type":"string"},
				"title_lines": {"type":"array","items":{"type":"string"},"maxItems":3,"description":"Up to three title lines for the order form"},
				"timeout_seconds": {"type":"integer","minimum":10,"maximum":1800},
				"max_output_lines": {"type":"integer","minimum":5,"maximum":400,"description":"Lines of stdout/stderr tail to return (default 60)"}
			},
			"required": ["source","data","state","meet"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			req, err := parseRequest(args)
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			timeout := parseTimeoutArg(args["timeout_seconds"], o.Timeout)
			maxLines := parseMaxOutputLinesArg(args["max_output_lines"])

			res, err := runPipelineImpl(ctx, o, req, timeout, maxLines)
			if err != nil {
				return engine.ErrorOutput("run_pipeline failed: %v", err), nil
			}
			payload, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return engine.ToolOutput{}, err
			}
			if res.Status != "ok" {
				return engine.ToolOutput{Parts: []engine.Part{engine.TextPart(string(payload))}, IsError: true}, nil
			}
			if st, ok := engine.StateFromContext(ctx); ok && o.DBPath != "" {
				st.AddArtifact(checkpoint.Artifact{Path: o.DBPath, Description: "results database"})
			}
			return engine.TextOutput(string(payload)), nil
		},
		Metadata: engine.ToolMetadata{Category: "pipeline"},
	}
}

func parseTimeoutArg(value any, def time.Duration) time.Duration {
	var seconds float64
	switch v := value.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	}
	if seconds <= 0 {
		return def
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return timeout
}

func parseMaxOutputLinesArg(value any) int {
	var lines int
	switch v := value.(type) {
	case float64:
		lines = int(v)
	case int:
		lines = v
	default:
		return defaultOutputLines
	}
	if lines < minOutputLines {
		lines = minOutputLines
	}
	if lines > maxOutputLines {
		lines = maxOutputLines
	}
	return lines
}
