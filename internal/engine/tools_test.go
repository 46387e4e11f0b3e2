package engine

import (
	"context"
	"errors"
	"testing"
)

func TestNewRegistry_DuplicateName(t *testing.T) {
	browser := ToolSet{}.Add(staticTool("browser_navigate", "ok"))
	other := ToolSet{}.Add(staticTool("browser_navigate", "again"))

	_, err := NewRegistry(browser, other)
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("NewRegistry() error = %v, want *DuplicateToolError", err)
	}
	if dup.Name != "browser_navigate" {
		t.Errorf("duplicate name = %q", dup.Name)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name string
		set  ToolSet
	}{
		{name: "missing executor", set: ToolSet{"x": Tool{Name: "x"}}},
		{name: "key and name differ", set: ToolSet{"x": staticTool("y", "")}},
		{name: "invalid schema", set: ToolSet{"x": Tool{Name: "x", SchemaJSON: "{", Fn: staticTool("x", "").Fn}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.set); err == nil {
				t.Error("NewRegistry() error = nil")
			}
		})
	}
}

func TestRegistry_DefinitionsAreStable(t *testing.T) {
	reg := mustRegistry(t,
		ToolSet{}.Add(staticTool("query_db", ""), staticTool("list_meets", "")),
		ToolSet{}.Add(staticTool("ask_user", "")),
	)
	want := []string{"ask_user", "list_meets", "query_db"}
	for round := 0; round < 3; round++ {
		defs := reg.Definitions()
		if len(defs) != len(want) {
			t.Fatalf("got %d definitions, want %d", len(defs), len(want))
		}
		for i, d := range defs {
			if d.Name != want[i] {
				t.Errorf("definition %d = %s, want %s", i, d.Name, want[i])
			}
		}
	}
}

func TestRegistry_ReadOnly(t *testing.T) {
	write := Tool{Name: "write_file", Fn: staticTool("write_file", "").Fn}
	reg := mustRegistry(t, ToolSet{}.Add(staticTool("query_db", ""), write))

	ro := reg.ReadOnly()
	if _, ok := ro.Get("write_file"); ok {
		t.Error("read-only registry contains write_file")
	}
	if _, ok := ro.Get("query_db"); !ok {
		t.Error("read-only registry lost query_db")
	}
	if reg.Len() != 2 {
		t.Error("filtering modified the source registry")
	}
}

func TestTool_ValidateArgs(t *testing.T) {
	tool := Tool{
		Name:       "run_pipeline",
		SchemaJSON: `{"type":"object","properties":{"source":{"type":"string","enum":["scorecat","mso_pdf","mso_html","generic"]},"data":{"type":"array","items":{"type":"string"}}},"required":["source","data"]}`,
		Fn: func(context.Context, map[string]any) (ToolOutput, error) {
			return TextOutput(""), nil
		},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", args: map[string]any{"source": "scorecat", "data": []any{"a.json"}}},
		{name: "missing required", args: map[string]any{"source": "scorecat"}, wantErr: true},
		{name: "bad enum", args: map[string]any{"source": "xlsx", "data": []any{}}, wantErr: true},
		{name: "nil args", args: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.ValidateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			var vErr *ToolValidationError
			if err != nil && !errors.As(err, &vErr) {
				t.Errorf("ValidateArgs() error type = %T", err)
			}
		})
	}
}
