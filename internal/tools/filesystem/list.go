package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
)

// IgnoreFile holds extra ignore patterns, in gitignore syntax, at the output root.
const IgnoreFile = ".agentignore"

var defaultIgnores = []string{".git/", ".spill/", IgnoreFile, "*.tmp"}

type fileEntry struct {
	Rel     string
	Size    int64
	ModTime time.Time
}

// listOutputImpl walks outputDir and returns files sorted by path.
func listOutputImpl(fsys FileSystem, outputDir, pattern string, limit int) ([]fileEntry, bool, error) {
	patterns := append([]string{}, defaultIgnores...)
	if data, err := fsys.ReadFile(filepath.Join(outputDir, IgnoreFile)); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	matcher := gitignore.CompileIgnoreLines(patterns...)

	var files []fileEntry
	truncated := false
	err := fsys.WalkDir(outputDir, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if walkPath == outputDir {
			return nil
		}
		rel, err := filepath.Rel(outputDir, walkPath)
		if err != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if d.IsDir() {
			if matcher.MatchesPath(relSlash + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.MatchesPath(relSlash) {
			return nil
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, d.Name()); !ok {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil || info == nil {
			files = append(files, fileEntry{Rel: relSlash})
		} else {
			files = append(files, fileEntry{Rel: relSlash, Size: info.Size(), ModTime: info.ModTime()})
		}
		if len(files) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, truncated, nil
}

func newListOutputFilesTool(opts Options) engine.Tool {
	return engine.Tool{
		Name:        "list_output_files",
		Description: "Lists files produced in the output directory (path, size, modification time). Entries matching .agentignore are hidden.",
		SchemaJSON:  `{"type":"object","properties":{"pattern":{"type":"string","description":"Optional glob on the file name, e.g. *.pdf"},"limit":{"type":"integer","minimum":1,"description":"Maximum entries (default 500)"}}}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			pattern, _ := args["pattern"].(string)
			limit := 500
			if v, ok := args["limit"].(float64); ok && v >= 1 {
				limit = int(v)
			}

			if _, err := opts.FS.Stat(opts.OutputDir); err != nil {
				return engine.TextOutput("Output directory is empty (it does not exist yet)."), nil
			}
			files, truncated, err := listOutputImpl(opts.FS, opts.OutputDir, pattern, limit)
			if err != nil {
				return engine.ErrorOutput("list_output_files failed: %v", err), nil
			}
			if len(files) == 0 {
				return engine.TextOutput("No files in the output directory."), nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%d files under %s\n", len(files), opts.OutputDir)
			for _, f := range files {
				fmt.Fprintf(&b, "%s\t%d bytes\t%s\n", f.Rel, f.Size, f.ModTime.Format(time.RFC3339))
			}
			if truncated {
				b.WriteString("(truncated; narrow with pattern)\n")
			}
			return engine.TextOutput(b.String()), nil
		},
		Metadata: engine.ToolMetadata{Category: "filesystem", ReadOnly: true},
	}
}
