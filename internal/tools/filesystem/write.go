package filesystem

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// writeFileImpl writes content under the output directory and returns the absolute path.
func writeFileImpl(fsys FileSystem, outputDir, path, content string) (string, error) {
	if outputDir == "" {
		return "", fmt.Errorf("no output directory configured")
	}
	filePath, err := toolkit.Within(outputDir, path)
	if err != nil {
		return "", err
	}

	if err := fsys.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := fsys.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return filePath, nil
}

func newWriteFileTool(opts Options) engine.Tool {
	return engine.Tool{
		Name:        "write_file",
		Description: "Writes a file inside the output directory, creating parent directories and overwriting any existing file. The file is recorded as a produced artifact of the task.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the output directory"},"content":{"type":"string","description":"Full file content"},"description":{"type":"string","description":"What the file holds, for the task record"}},"required":["path","content"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path, err := toolkit.String(args, "path")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			content, ok := args["content"].(string)
			if !ok {
				return engine.ErrorOutput("argument \"content\" must be a string"), nil
			}

			written, err := writeFileImpl(opts.FS, opts.OutputDir, path, content)
			if err != nil {
				return engine.ErrorOutput("write_file failed: %v", err), nil
			}
			if st, ok := engine.StateFromContext(ctx); ok {
				st.AddArtifact(checkpoint.Artifact{Path: written, Description: toolkit.OptString(args, "description", "")})
			}
			return engine.TextOutput(fmt.Sprintf("Wrote %d bytes to %s", len(content), written)), nil
		},
		Metadata: engine.ToolMetadata{Category: "filesystem"},
	}
}
