package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

// Tools returns browser_navigate, browser_evaluate, browser_screenshot and browser_save.
func Tools(src Source, outputDir string, spill toolkit.Spiller) engine.ToolSet {
	return engine.ToolSet{}.Add(
		navigateTool(src),
		evaluateTool(src, spill),
		screenshotTool(src),
		saveTool(src, outputDir),
	)
}

// failure turns browser errors into model-visible results; cancellation propagates.
func failure(ctx context.Context, tool string, err error) (engine.ToolOutput, error) {
	if ctx.Err() != nil {
		return engine.ToolOutput{}, ctx.Err()
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return engine.ErrorOutput("%s: %s", tool, se.Message), nil
	}
	return engine.ErrorOutput("%s failed: %v", tool, err), nil
}

func navigateTool(src Source) engine.Tool {
	return engine.Tool{
		Name:        "browser_navigate",
		Description: "Opens a URL in the browser and waits for the page to finish loading. Use for results sites that render with JavaScript.",
		SchemaJSON:  `{"type":"object","properties":{"url":{"type":"string","description":"Absolute URL to open"}},"required":["url"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			url, err := toolkit.String(args, "url")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			b, err := src.Get(ctx)
			if err != nil {
				return failure(ctx, "browser_navigate", err)
			}
			info, err := b.Navigate(ctx, url)
			if err != nil {
				return failure(ctx, "browser_navigate", err)
			}
			return engine.TextOutput(fmt.Sprintf("Loaded %s\nTitle: %s", info.URL, info.Title)), nil
		},
		Metadata: engine.ToolMetadata{Category: "browser", ReadOnly: true},
	}
}

func evaluateTool(src Source, spill toolkit.Spiller) engine.Tool {
	return engine.Tool{
		Name:        "browser_evaluate",
		Description: "Evaluates a JavaScript expression in the current page and returns its JSON-serializable value. Promises are awaited. Use it to read tables, follow links or click through session selectors.",
		SchemaJSON:  `{"type":"object","properties":{"script":{"type":"string","description":"JavaScript expression; wrap statements in an IIFE"}},"required":["script"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			script, err := toolkit.String(args, "script")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			b, err := src.Get(ctx)
			if err != nil {
				return failure(ctx, "browser_evaluate", err)
			}
			raw, err := b.Evaluate(ctx, script)
			if err != nil {
				return failure(ctx, "browser_evaluate", err)
			}
			text, err := spill.Fit("browser_evaluate", render(raw))
			if err != nil {
				return engine.ToolOutput{}, err
			}
			return engine.TextOutput(text), nil
		},
		Metadata: engine.ToolMetadata{Category: "browser", ReadOnly: true},
	}
}

func screenshotTool(src Source) engine.Tool {
	return engine.Tool{
		Name:        "browser_screenshot",
		Description: "Captures the current page as a PNG image.",
		SchemaJSON:  `{"type":"object","properties":{"full_page":{"type":"boolean","description":"Capture beyond the viewport"}}}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			b, err := src.Get(ctx)
			if err != nil {
				return failure(ctx, "browser_screenshot", err)
			}
			img, err := b.Screenshot(ctx, toolkit.OptBool(args, "full_page", false))
			if err != nil {
				return failure(ctx, "browser_screenshot", err)
			}
			return engine.PartsOutput(
				engine.TextPart(fmt.Sprintf("Screenshot (%d bytes)", len(img))),
				engine.ImagePart("image/png", img),
			), nil
		},
		Metadata: engine.ToolMetadata{Category: "browser", ReadOnly: true},
	}
}

func saveTool(src Source, outputDir string) engine.Tool {
	return engine.Tool{
		Name:        "browser_save",
		Description: "Evaluates a script in the current page and writes its result to a file in the output directory. String results are written verbatim (e.g. CSV built in the page); other values as indented JSON. Use it to extract score tables without passing them through the conversation.",
		SchemaJSON:  `{"type":"object","properties":{"script":{"type":"string"},"path":{"type":"string","description":"Destination relative to the output directory"},"description":{"type":"string"}},"required":["script","path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (engine.ToolOutput, error) {
			script, err := toolkit.String(args, "script")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			path, err := toolkit.String(args, "path")
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}
			dest, err := toolkit.Within(outputDir, path)
			if err != nil {
				return engine.ErrorOutput("%v", err), nil
			}

			b, err := src.Get(ctx)
			if err != nil {
				return failure(ctx, "browser_save", err)
			}
			raw, err := b.Evaluate(ctx, script)
			if err != nil {
				return failure(ctx, "browser_save", err)
			}
			var s string
			if bytes.Equal(raw, []byte("null")) {
				return engine.ErrorOutput("browser_save: script returned no value"), nil
			}
			data := []byte(render(raw))
			if json.Unmarshal(raw, &s) == nil {
				data = []byte(s)
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return engine.ErrorOutput("browser_save: %v", err), nil
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return engine.ErrorOutput("browser_save: %v", err), nil
			}
			if st, ok := engine.StateFromContext(ctx); ok {
				st.AddArtifact(checkpoint.Artifact{Path: dest, Description: toolkit.OptString(args, "description", "")})
			}
			return engine.TextOutput(fmt.Sprintf("Saved %d bytes to %s\nPreview:\n%s", len(data), dest, toolkit.Preview(string(data), 500))), nil
		},
		Metadata: engine.ToolMetadata{Category: "browser"},
	}
}

// render pretty-prints JSON values and unwraps plain strings.
func render(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
