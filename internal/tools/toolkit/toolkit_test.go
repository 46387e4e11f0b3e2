package toolkit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestArgs(t *testing.T) {
	args := map[string]any{
		"name":  "meet",
		"blank": "  ",
		"n":     float64(12),
		"frac":  1.5,
		"flag":  true,
		"list":  []any{"a", 3, "b"},
		"one":   "solo",
		"hdrs":  map[string]any{"Accept": "text/html", "Bad": 1},
	}

	if s, err := String(args, "name"); err != nil || s != "meet" {
		t.Errorf("String(name) = %q, %v", s, err)
	}
	for _, key := range []string{"blank", "missing", "n"} {
		if _, err := String(args, key); err == nil {
			t.Errorf("String(%s) should fail", key)
		}
	}
	if got := OptInt(args, "n", 5); got != 12 {
		t.Errorf("OptInt(n) = %d", got)
	}
	if got := OptInt(args, "frac", 5); got != 5 {
		t.Errorf("OptInt(frac) = %d, want default", got)
	}
	if !OptBool(args, "flag", false) || OptBool(args, "missing", false) {
		t.Error("OptBool")
	}
	if got := Strings(args, "list"); strings.Join(got, ",") != "a,b" {
		t.Errorf("Strings(list) = %v", got)
	}
	if got := Strings(args, "one"); len(got) != 1 || got[0] != "solo" {
		t.Errorf("Strings(one) = %v", got)
	}
	if got := StringMap(args, "hdrs"); len(got) != 1 || got["Accept"] != "text/html" {
		t.Errorf("StringMap = %v", got)
	}
}

func TestWithin(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"a.csv", false},
		{"sub/b.csv", false},
		{filepath.Join(root, "c.csv"), false},
		{"../escape.txt", true},
		{"sub/../../escape.txt", true},
		{"/etc/passwd", true},
	}
	for _, tt := range tests {
		got, err := Within(root, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("Within(%q) = %q, %v", tt.path, got, err)
		}
	}
}

func TestSpillerFit(t *testing.T) {
	dir := t.TempDir()
	s := Spiller{Dir: dir, Limit: 100}

	small, err := s.Fit("http_fetch", "short")
	if err != nil || small != "short" {
		t.Fatalf("small = %q, %v", small, err)
	}

	big := strings.Repeat("row,", 100)
	out, err := s.Fit("browser evaluate", big)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "400 bytes") {
		t.Errorf("pointer = %q", out)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "browser_evaluate-") {
		t.Fatalf("spill files = %v", entries)
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if string(data) != big {
		t.Error("spill file does not hold the full result")
	}
}

func TestPreviewKeepsRunes(t *testing.T) {
	text := strings.Repeat("é", 10) // 2 bytes each
	p := Preview(text, 5)
	if !utf8.ValidString(p) {
		t.Errorf("preview split a rune: %q", p)
	}
}
