// Package database exposes the pipeline's results database to the model through
// read-only tools.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrNoDatabase means the pipeline has not produced the database yet.
var ErrNoDatabase = errors.New("results database does not exist yet; run run_pipeline first")

const (
	defaultMaxRows = 200
	hardMaxRows    = 2000
)

// OpenError reports a database file that exists but cannot be opened or read.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("sqlite: open %s: %v", e.Path, e.Err) }

func (e *OpenError) Unwrap() error { return e.Err }

// Store opens the database lazily in read-only mode. The pipeline replaces the file on
// every build, so the handle is reopened whenever the file on disk changes.
type Store struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	opened os.FileInfo
}

// NewStore returns a store for path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		s.closeLocked()
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDatabase
		}
		return nil, &OpenError{Path: s.path, Err: err}
	}
	if s.db != nil {
		if sameBuild(s.opened, info) {
			return s.db, nil
		}
		s.closeLocked()
	}

	dsn := "file:" + s.path + "?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &OpenError{Path: s.path, Err: err}
	}
	db.SetMaxOpenConns(2)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &OpenError{Path: s.path, Err: err}
	}
	s.db = db
	s.opened = info
	return db, nil
}

// sameBuild reports whether the file is the one the handle was opened on, unmodified.
func sameBuild(opened, current os.FileInfo) bool {
	return opened != nil && os.SameFile(opened, current) &&
		opened.ModTime().Equal(current.ModTime()) && opened.Size() == current.Size()
}

func (s *Store) closeLocked() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.opened = nil
	return err
}

// Opened reports whether a connection has been made.
func (s *Store) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Close releases the connection. The next query reopens the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Rows is a materialized result set.
type Rows struct {
	Columns   []string
	Values    [][]string
	Truncated bool
}

// Query runs a guarded statement and returns at most maxRows rows.
func (s *Store) Query(ctx context.Context, query string, maxRows int, args ...any) (Rows, error) {
	if err := CheckReadOnly(query); err != nil {
		return Rows{}, err
	}
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	if maxRows > hardMaxRows {
		maxRows = hardMaxRows
	}
	db, err := s.handle(ctx)
	if err != nil {
		return Rows{}, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return Rows{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Rows{}, err
	}
	out := Rows{Columns: cols}
	for rows.Next() {
		if len(out.Values) == maxRows {
			out.Truncated = true
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Rows{}, err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = formatValue(v)
		}
		out.Values = append(out.Values, row)
	}
	return out, rows.Err()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
