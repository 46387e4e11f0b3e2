package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ToolOutput is what an executor hands back: text, or an ordered list of text and image parts.
type ToolOutput struct {
	Parts   []Part
	IsError bool
}

// TextOutput wraps a plain text result.
func TextOutput(text string) ToolOutput {
	return ToolOutput{Parts: []Part{TextPart(text)}}
}

// ErrorOutput formats an expected failure the model can correct.
func ErrorOutput(format string, args ...any) ToolOutput {
	return ToolOutput{Parts: []Part{TextPart("ERROR: " + fmt.Sprintf(format, args...))}, IsError: true}
}

// PartsOutput wraps multi-part output.
func PartsOutput(parts ...Part) ToolOutput {
	return ToolOutput{Parts: parts}
}

// Text joins the text parts.
func (o ToolOutput) Text() string {
	return ToolResult{Parts: o.Parts}.Text()
}

type ToolFunc func(ctx context.Context, args map[string]any) (ToolOutput, error)

// ToolMetadata categorizes tools.
type ToolMetadata struct {
	Category string // e.g. "browser", "database", "filesystem"
	ReadOnly bool   // safe for the lightweight query context
}

type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	Metadata    ToolMetadata
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

// Definition returns the model-facing shape of the tool.
func (t Tool) Definition() ToolDefinition {
	schema := t.SchemaJSON
	if schema == "" {
		schema = `{"type":"object","properties":{}}`
	}
	return ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: json.RawMessage(schema),
	}
}

// ToolSet is the map a single tool module owns.
type ToolSet map[string]Tool

// Add inserts a tool keyed by its name.
func (s ToolSet) Add(tools ...Tool) ToolSet {
	for _, t := range tools {
		s[t.Name] = t
	}
	return s
}

// Registry is the immutable name -> tool mapping shared by every session in the process.
type Registry struct {
	tools       map[string]Tool
	definitions []ToolDefinition
}

// NewRegistry merges independently owned tool sets. A name registered by two sets is a
// configuration error.
func NewRegistry(sets ...ToolSet) (*Registry, error) {
	tools := make(map[string]Tool)
	owner := make(map[string]int)
	for i, set := range sets {
		for name, tool := range set {
			if tool.Name == "" {
				tool.Name = name
			}
			if tool.Name != name {
				return nil, fmt.Errorf("tool registered as %q declares name %q", name, tool.Name)
			}
			if tool.Fn == nil {
				return nil, fmt.Errorf("tool %q has no executor", name)
			}
			if prev, ok := owner[name]; ok {
				return nil, &DuplicateToolError{Name: name, FirstSet: prev, SecondSet: i}
			}
			if tool.SchemaJSON != "" && !json.Valid([]byte(tool.SchemaJSON)) {
				return nil, fmt.Errorf("tool %q has an invalid input schema", name)
			}
			owner[name] = i
			tools[name] = tool
		}
	}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, tools[name].Definition())
	}
	return &Registry{tools: tools, definitions: defs}, nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog in a stable order. Callers must not modify it.
func (r *Registry) Definitions() []ToolDefinition {
	return r.definitions
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for _, d := range r.definitions {
		names = append(names, d.Name)
	}
	return names
}

func (r *Registry) Len() int { return len(r.tools) }

// Filter returns a registry holding only the tools keep accepts.
func (r *Registry) Filter(keep func(Tool) bool) *Registry {
	set := make(ToolSet)
	for name, t := range r.tools {
		if keep(t) {
			set[name] = t
		}
	}
	filtered, _ := NewRegistry(set)
	return filtered
}

// ReadOnly returns the subset safe for the query context.
func (r *Registry) ReadOnly() *Registry {
	return r.Filter(func(t Tool) bool { return t.Metadata.ReadOnly })
}

func (r *Registry) describeNames() string {
	return strings.Join(r.Names(), ", ")
}
