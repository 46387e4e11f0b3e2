package skills

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSkill(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeSkill(t, dir, "scorecat.md", "# ScoreCat extraction\n\nScoreCat serves results from a Firebase backend; read the JSON feed rather than the rendered table.\n\n## Steps\n1. Find the meet id in the URL.\n")
	writeSkill(t, dir, "sources/mso.md", "# MeetScoresOnline\n\nMSO publishes session PDFs and HTML tables. Prefer the HTML table for all-around ranks.\n")
	writeSkill(t, dir, "notitle.md", "Just notes about gym name normalization.\n")
	writeSkill(t, dir, "README.txt", "not a skill")
	writeSkill(t, dir, ".drafts/wip.md", "# Draft\n")
	return dir
}

func TestLoadAndParse(t *testing.T) {
	lib, err := Load(fixture(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer lib.Close()

	list := lib.List()
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	if got := strings.Join(ids, ","); got != "notitle,scorecat,sources/mso" {
		t.Errorf("ids = %s", got)
	}

	tests := []struct {
		id, title, summaryPrefix string
	}{
		{"scorecat", "ScoreCat extraction", "ScoreCat serves results"},
		{"sources/mso", "MeetScoresOnline", "MSO publishes session PDFs"},
		{"notitle", "notitle", "Just notes about gym"},
	}
	for _, tt := range tests {
		s, ok := lib.Get(tt.id)
		if !ok {
			t.Errorf("Get(%q) missing", tt.id)
			continue
		}
		if s.Title != tt.title || !strings.HasPrefix(s.Summary, tt.summaryPrefix) {
			t.Errorf("Get(%q) = title %q summary %q", tt.id, s.Title, s.Summary)
		}
	}
	if _, ok := lib.Get("scorecat.md"); !ok {
		t.Error("Get with .md suffix failed")
	}
}

func TestSearch(t *testing.T) {
	lib, err := Load(fixture(t))
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()

	hits, err := lib.Search("PDF session tables", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 || hits[0].Skill.ID != "sources/mso" {
		t.Errorf("Search() first hit = %+v", hits)
	}

	hits, _ = lib.Search("firebase", 3)
	if len(hits) != 1 || hits[0].Skill.ID != "scorecat" {
		t.Errorf("Search(firebase) = %+v", hits)
	}

	hits, _ = lib.Search("zebra", 3)
	if len(hits) != 0 {
		t.Errorf("Search(zebra) = %+v", hits)
	}
}

func TestMissingDirIsEmpty(t *testing.T) {
	lib, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer lib.Close()
	if n := len(lib.List()); n != 0 {
		t.Errorf("List() len = %d", n)
	}
}

func TestSummaryTruncated(t *testing.T) {
	s := parse("x", "x.md", "# X\n"+strings.Repeat("é", 200)+"\n")
	if !strings.HasSuffix(s.Summary, "...") || len(s.Summary) > summaryLen+3 {
		t.Errorf("summary len = %d", len(s.Summary))
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := fixture(t)
	lib, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer lib.Close()

	w, err := NewWatcher(lib, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	w.debounceTime = 20 * time.Millisecond
	reloaded := make(chan int, 4)
	w.OnReload(func(count int, err error) {
		if err == nil {
			reloaded <- count
		}
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeSkill(t, dir, "aau.md", "# AAU meets\n\nAAU uses a different level scheme.\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if _, ok := lib.Get("aau"); ok {
				return
			}
		case <-deadline:
			t.Fatal("library was not reloaded after a new skill file appeared")
		}
	}
}
