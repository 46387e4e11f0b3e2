// Package progress provides save_progress, which checkpoints the task and pauses the run.
package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// NewTool returns save_progress.
func NewTool() engine.Tool {
	return engine.Tool{
		Name: "save_progress",
		Description: "Saves a checkpoint of the task and pauses the run after this step. Call it when the context is getting long, when you are blocked on the user, or before an expensive step. " +
			"The summary and next steps are shown to you verbatim when the task resumes, so make them self-contained.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"summary": {"type":"string","description":"What has been done so far, including meet names, URLs and decisions"},
				"next_steps": {"type":"string","description":"What remains, in order"},
				"artifacts": {
					"type": "array",
					"items": {
						"anyOf": [
							{"type":"string"},
							{"type":"object","properties":{"path":{"type":"string"},"description":{"type":"string"}},"required":["path"]}
						]
					},
					"description": "Files produced so far"
				}
			},
			"required": ["summary"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			st, ok := engine.StateFromContext(ctx)
			if !ok || st.TaskID == "" {
				return engine.ErrorOutput("save_progress is only available while running a task"), nil
			}
			summary, err := toolkit.String(args, "summary")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			note := engine.ProgressNote{
				Summary:   strings.TrimSpace(summary),
				NextSteps: strings.TrimSpace(toolkit.OptString(args, "next_steps", "")),
				Artifacts: parseArtifacts(args["artifacts"]),
			}
			st.RequestSave(note)
			return engine.TextOutput(fmt.Sprintf("Progress saved for task %s (%d artifacts recorded). The run pauses after this step; resume with the same task id.", st.TaskID, len(st.Artifacts))), nil
		},
		Metadata: engine.ToolMetadata{Category: "control"},
	}
}

func parseArtifacts(v any) []checkpoint.Artifact {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []checkpoint.Artifact
	for _, item := range items {
		switch a := item.(type) {
		case string:
			if a != "" {
				out = append(out, checkpoint.Artifact{Path: a})
			}
		case map[string]any:
			path, _ := a["path"].(string)
			if path == "" {
				continue
			}
			desc, _ := a["description"].(string)
			out = append(out, checkpoint.Artifact{Path: path, Description: desc})
		}
	}
	return out
}
