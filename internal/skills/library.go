// Package skills loads the markdown skill documents the agent can pull into its context
// and keeps a full-text index over them.
package skills

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

const summaryLen = 160

// Skill is one markdown document. ID is its path under the library root without ".md".
type Skill struct {
	ID      string
	Title   string
	Summary string
	Path    string
	Body    string
}

// Hit is a search result.
type Hit struct {
	Skill Skill
	Score float64
}

// Library is the in-memory skill set. It is safe for concurrent use; Reload swaps the
// documents and the index atomically.
type Library struct {
	dir string

	mu     sync.RWMutex
	skills map[string]Skill
	index  bleve.Index
}

// Load reads every *.md file under dir. A missing dir yields an empty library.
func Load(dir string) (*Library, error) {
	lib := &Library{dir: dir}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Dir returns the library root.
func (l *Library) Dir() string { return l.dir }

// Reload re-reads the directory and rebuilds the index.
func (l *Library) Reload() error {
	skills, err := readDir(l.dir)
	if err != nil {
		return err
	}
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create skill index: %w", err)
	}
	batch := index.NewBatch()
	for id, s := range skills {
		doc := map[string]any{"id": id, "title": s.Title, "body": s.Body}
		if err := batch.Index(id, doc); err != nil {
			_ = index.Close()
			return fmt.Errorf("index skill %s: %w", id, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return fmt.Errorf("index skills: %w", err)
	}

	l.mu.Lock()
	old := l.index
	l.skills = skills
	l.index = index
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	doc.AddFieldMappingsAt("id", idField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	doc.AddFieldMappingsAt("title", titleField)

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = standard.Name
	bodyField.Store = false
	doc.AddFieldMappingsAt("body", bodyField)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

func readDir(dir string) (map[string]Skill, error) {
	skills := make(map[string]Skill)
	if dir == "" {
		return skills, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read skill %s: %w", rel, err)
		}
		skills[id] = parse(id, path, string(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return skills, nil
}

// parse takes the title from the first "# " line and the summary from the first
// paragraph line after it.
func parse(id, path, body string) Skill {
	s := Skill{ID: id, Title: id, Path: path, Body: body}
	sc := bufio.NewScanner(strings.NewReader(body))
	titled := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !titled && strings.HasPrefix(line, "# ") {
			s.Title = strings.TrimSpace(line[2:])
			titled = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		s.Summary = line
		break
	}
	if len(s.Summary) > summaryLen {
		cut := summaryLen
		for cut > 0 && s.Summary[cut]&0xC0 == 0x80 {
			cut--
		}
		s.Summary = s.Summary[:cut] + "..."
	}
	return s
}

// List returns all skills ordered by id.
func (l *Library) List() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks up a skill by id. A trailing ".md" is tolerated.
func (l *Library) Get(id string) (Skill, bool) {
	id = strings.TrimSuffix(strings.TrimSpace(id), ".md")
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[id]
	return s, ok
}

// Search runs a match query over titles and bodies and returns up to k hits.
func (l *Library) Search(query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.index == nil {
		return nil, errors.New("skill library is closed")
	}

	titleQ := bleve.NewMatchQuery(query)
	titleQ.SetField("title")
	titleQ.SetBoost(2)
	bodyQ := bleve.NewMatchQuery(query)
	bodyQ.SetField("body")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(titleQ, bodyQ))
	req.Size = k
	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("skill search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if s, ok := l.skills[h.ID]; ok {
			hits = append(hits, Hit{Skill: s, Score: h.Score})
		}
	}
	return hits, nil
}

// Close releases the index.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index == nil {
		return nil
	}
	err := l.index.Close()
	l.index = nil
	return err
}
