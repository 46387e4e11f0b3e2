package skilltool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/skills"
)

func library(t *testing.T) *skills.Library {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"scorecat.md": "# ScoreCat extraction\n\nRead the JSON feed behind the results table.\n",
		"mso.md":      "# MeetScoresOnline\n\nSession PDFs and HTML tables.\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lib, err := skills.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestSkillTools(t *testing.T) {
	set := Tools(library(t))
	st := &engine.RunState{}
	ctx := engine.ContextWithState(context.Background(), st)

	out, _ := set["load_skill"].Fn(ctx, map[string]any{"id": "scorecat"})
	if out.IsError || !strings.Contains(out.Text(), "Read the JSON feed") {
		t.Fatalf("load_skill = %q", out.Text())
	}
	if !st.Skills.Has("scorecat") {
		t.Error("skill not recorded on the run state")
	}

	out, _ = set["list_skills"].Fn(ctx, map[string]any{})
	want := "- mso: MeetScoresOnline\n  Session PDFs and HTML tables.\n- scorecat: ScoreCat extraction [loaded]\n"
	if !strings.HasPrefix(out.Text(), want) {
		t.Errorf("list_skills =\n%s", out.Text())
	}

	out, _ = set["search_skills"].Fn(ctx, map[string]any{"query": "json feed"})
	if !strings.HasPrefix(out.Text(), "- scorecat") {
		t.Errorf("search_skills = %q", out.Text())
	}

	out, _ = set["load_skill"].Fn(ctx, map[string]any{"id": "usag-rules"})
	if !out.IsError {
		t.Errorf("load_skill(unknown) = %q", out.Text())
	}
}
