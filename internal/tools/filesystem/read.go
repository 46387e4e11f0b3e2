package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

const defaultReadLimit = 400

// readFileImpl returns lines [offset, offset+limit) of path, numbered from 1.
func readFileImpl(fsys FileSystem, opts Options, path string, offset, limit int) (string, error) {
	filePath, err := resolveReadable(opts, path)
	if err != nil {
		return "", err
	}

	data, err := fsys.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return "", fmt.Errorf("%s looks like a binary file", path)
	}

	lines := strings.Split(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	total := len(lines)

	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if offset > total && total > 0 {
		return "", fmt.Errorf("offset %d is past the end of %s (%d lines)", offset, path, total)
	}
	end := offset - 1 + limit
	if end > total {
		end = total
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (lines %d-%d of %d)\n", path, offset, end, total)
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	if end < total {
		fmt.Fprintf(&b, "... %d more lines; call read_file with offset=%d\n", total-end, end+1)
	}
	return b.String(), nil
}

// resolveReadable accepts paths under Root or OutputDir.
func resolveReadable(opts Options, path string) (string, error) {
	if p, err := toolkit.Within(opts.Root, path); err == nil {
		return p, nil
	}
	if opts.OutputDir != "" {
		if p, err := toolkit.Within(opts.OutputDir, path); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("path %s is outside the workspace", path)
}

func newReadFileTool(opts Options) engine.Tool {
	return engine.Tool{
		Name:        "read_file",
		Description: "Reads a text file from the workspace or output directory. Returns numbered lines; use offset and limit to page through large files such as scraped CSV or spilled tool output.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root, or an absolute path inside it"},"offset":{"type":"integer","minimum":1,"description":"First line to return (1-based, default 1)"},"limit":{"type":"integer","minimum":1,"description":"Maximum lines to return (default 400)"}},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			path, err := toolkit.String(args, "path")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			text, err := readFileImpl(opts.FS, opts, path, toolkit.OptInt(args, "offset", 1), toolkit.OptInt(args, "limit", defaultReadLimit))
			if err != nil {
				return engine.ErrorOutput("read_file failed: %v", err), nil
			}
			fitted, err := opts.Spiller.Fit("read_file", text)
			if err != nil {
				return engine.ToolOutput{}, err
			}
			return engine.TextOutput(fitted), nil
		},
		Metadata: engine.ToolMetadata{Category: "filesystem", ReadOnly: true},
	}
}
