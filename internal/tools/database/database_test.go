package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/meetrunner/internal/tools/toolkit"
)

const testSchema = `
CREATE TABLE results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state TEXT NOT NULL,
	meet_name TEXT NOT NULL,
	association TEXT NOT NULL DEFAULT 'USAG',
	name TEXT NOT NULL,
	gym TEXT,
	session TEXT,
	level TEXT,
	division TEXT,
	vault REAL, bars REAL, beam REAL, floor REAL, aa REAL,
	rank TEXT,
	num TEXT
);
CREATE TABLE winners (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state TEXT NOT NULL,
	meet_name TEXT NOT NULL,
	association TEXT NOT NULL DEFAULT 'USAG',
	name TEXT NOT NULL,
	gym TEXT,
	session TEXT,
	level TEXT,
	division TEXT,
	event TEXT NOT NULL,
	score REAL,
	is_tie INTEGER DEFAULT 0
);
CREATE INDEX idx_results_meet ON results(state, meet_name);
`

func buildDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meets.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	rows := []struct {
		meet, name, level, session string
		aa                         float64
	}{
		{"Snowflake Classic", "Ava Lund", "6", "1", 37.525},
		{"Snowflake Classic", "Mia Berg", "6", "1", 36.9},
		{"Snowflake Classic", "Zoe Hall", "7", "2", 35.1},
		{"Twin Cities Invite", "Nora Kay", "8", "1", 36.2},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO results (state, meet_name, name, gym, session, level, aa) VALUES ('MN', ?, ?, 'Gym', ?, ?, ?)`,
			r.meet, r.name, r.session, r.level, r.aa); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`INSERT INTO winners (state, meet_name, name, level, event, score) VALUES ('MN', 'Snowflake Classic', 'Ava Lund', '6', 'vault', 9.5)`); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ok    bool
	}{
		{"select", "SELECT * FROM results", true},
		{"lowercase with trailing semicolon", "select name from results;", true},
		{"cte", "WITH top AS (SELECT * FROM results ORDER BY aa DESC) SELECT name FROM top", true},
		{"keyword inside string", "SELECT * FROM results WHERE name = 'DELETE ME; DROP'", true},
		{"keyword inside comment", "SELECT 1 -- delete later\n", true},
		{"quoted identifier", `SELECT "update" FROM results`, true},
		{"replace function", "SELECT replace(name, ' ', '_') FROM results", true},
		{"delete", "DELETE FROM results", false},
		{"multiple statements", "SELECT 1; DROP TABLE results", false},
		{"mutation in cte", "WITH x AS (DELETE FROM results RETURNING *) SELECT * FROM x", false},
		{"pragma", "PRAGMA writable_schema = 1", false},
		{"attach", "SELECT 1; ATTACH 'x.db' AS x", false},
		{"empty", "  ;  ", false},
		{"unterminated string", "SELECT 'oops", false},
		{"unterminated comment", "SELECT 1 /* x", false},
		{"block comment hides nothing", "/* note */ SELECT 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.query)
			if (err == nil) != tt.ok {
				t.Errorf("CheckReadOnly(%q) = %v, want ok=%v", tt.query, err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrNotReadOnly) {
				t.Errorf("error %v does not wrap ErrNotReadOnly", err)
			}
		})
	}
}

func TestQueryTools(t *testing.T) {
	store := NewStore(buildDB(t))
	defer store.Close()
	set := Tools(store, toolkit.Spiller{Dir: t.TempDir()})
	ctx := context.Background()

	out, err := set["list_meets"].Fn(ctx, map[string]any{})
	if err != nil || out.IsError {
		t.Fatalf("list_meets = %q, %v", out.Text(), err)
	}
	want := "state\tmeet_name\tassociation\tathletes\tlevels\tsessions\nMN\tSnowflake Classic\tUSAG\t3\t2\t2\nMN\tTwin Cities Invite\tUSAG\t1\t1\t1\n(2 rows)\n"
	if out.Text() != want {
		t.Errorf("list_meets =\n%s\nwant\n%s", out.Text(), want)
	}

	out, _ = set["query_db"].Fn(ctx, map[string]any{"sql": "SELECT name, aa FROM results WHERE level = '6' ORDER BY aa DESC", "max_rows": float64(1)})
	if !strings.Contains(out.Text(), "Ava Lund\t37.525") || !strings.Contains(out.Text(), "truncated") {
		t.Errorf("query_db = %q", out.Text())
	}

	out, _ = set["query_db"].Fn(ctx, map[string]any{"sql": "SELECT name, rank FROM results WHERE name = 'Zoe Hall'"})
	if !strings.Contains(out.Text(), "Zoe Hall\tNULL") {
		t.Errorf("NULL rendering = %q", out.Text())
	}

	out, _ = set["query_db"].Fn(ctx, map[string]any{"sql": "SELECT nope FROM results"})
	if !out.IsError || !strings.HasPrefix(out.Text(), "ERROR: query failed") {
		t.Errorf("bad column = %q", out.Text())
	}

	out, _ = set["describe_schema"].Fn(ctx, map[string]any{})
	for _, w := range []string{"CREATE TABLE results", "-- results rows: 4", "-- winners rows: 1", "CREATE INDEX idx_results_meet"} {
		if !strings.Contains(out.Text(), w) {
			t.Errorf("describe_schema missing %q:\n%s", w, out.Text())
		}
	}
}

func TestQueryRejectsMutationWithoutOpening(t *testing.T) {
	path := buildDB(t)
	store := NewStore(path)
	defer store.Close()
	set := Tools(store, toolkit.Spiller{Dir: t.TempDir()})

	out, err := set["query_db"].Fn(context.Background(), map[string]any{"sql": "DELETE FROM results"})
	if err != nil {
		t.Fatalf("Fn() error = %v", err)
	}
	if !out.IsError || !strings.HasPrefix(out.Text(), "ERROR:") || !strings.Contains(out.Text(), "DELETE") {
		t.Errorf("output = %q", out.Text())
	}
	if store.Opened() {
		t.Error("database was opened for a rejected statement")
	}

	rows, err := store.Query(context.Background(), "SELECT COUNT(*) FROM results", 1)
	if err != nil || rows.Values[0][0] != "4" {
		t.Errorf("rows after rejected delete = %v, %v", rows.Values, err)
	}
}

func TestReadOnlyConnection(t *testing.T) {
	store := NewStore(buildDB(t))
	defer store.Close()
	db, err := store.handle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DELETE FROM results"); err == nil {
		t.Error("write through the read-only connection succeeded")
	}
}

func TestMissingDatabase(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.db"))
	out, err := Tools(store, toolkit.Spiller{})["list_meets"].Fn(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsError || !strings.Contains(out.Text(), "run run_pipeline first") {
		t.Errorf("output = %q", out.Text())
	}
}

func writeSingleMeetDB(t *testing.T, path, meet string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO results (state, meet_name, name, level, session) VALUES ('MN', ?, 'Ava Lund', '6', '1')`, meet); err != nil {
		t.Fatal(err)
	}
}

func TestStoreReopensRebuiltDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meets.db")
	writeSingleMeetDB(t, path, "first")
	store := NewStore(path)
	defer store.Close()
	ctx := context.Background()

	rows, err := store.Query(ctx, "SELECT meet_name FROM results", 10)
	if err != nil || len(rows.Values) != 1 || rows.Values[0][0] != "first" {
		t.Fatalf("before rebuild = %v, %v", rows.Values, err)
	}

	// The pipeline deletes the database before loading a new build.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	writeSingleMeetDB(t, path, "second")

	rows, err = store.Query(ctx, "SELECT meet_name FROM results", 10)
	if err != nil || len(rows.Values) != 1 || rows.Values[0][0] != "second" {
		t.Errorf("after rebuild = %v, %v; want [[second]]", rows.Values, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Query(ctx, "SELECT 1", 1); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("after removal error = %v, want ErrNoDatabase", err)
	}
	if store.Opened() {
		t.Error("handle on a removed database was kept")
	}
}

func TestStoreCloseForcesReopen(t *testing.T) {
	store := NewStore(buildDB(t))
	if _, err := store.Query(context.Background(), "SELECT 1", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if store.Opened() {
		t.Fatal("Opened() after Close()")
	}
	rows, err := store.Query(context.Background(), "SELECT COUNT(*) FROM results", 1)
	if err != nil || rows.Values[0][0] != "4" {
		t.Errorf("query after Close() = %v, %v", rows.Values, err)
	}
	store.Close()
}

func TestUnreadableDatabasePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "output")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(filepath.Join(blocker, "meets.db"))
	set := Tools(store, toolkit.Spiller{Dir: dir})

	for _, name := range []string{"list_meets", "query_db", "describe_schema"} {
		_, err := set[name].Fn(context.Background(), map[string]any{"sql": "SELECT 1"})
		var openErr *OpenError
		if !errors.As(err, &openErr) {
			t.Errorf("%s error = %v, want *OpenError", name, err)
		}
	}
}

func TestLargeListingsSpill(t *testing.T) {
	spillDir := t.TempDir()
	store := NewStore(buildDB(t))
	defer store.Close()
	set := Tools(store, toolkit.Spiller{Dir: spillDir, Limit: 64})

	for _, name := range []string{"list_meets", "describe_schema"} {
		out, err := set[name].Fn(context.Background(), map[string]any{})
		if err != nil || out.IsError {
			t.Fatalf("%s = %q, %v", name, out.Text(), err)
		}
		if !strings.HasPrefix(out.Text(), "Result too large to inline") {
			t.Errorf("%s was not spilled: %q", name, out.Text())
		}
	}
	entries, err := os.ReadDir(spillDir)
	if err != nil || len(entries) != 2 {
		t.Errorf("spill files = %d, %v", len(entries), err)
	}
}
