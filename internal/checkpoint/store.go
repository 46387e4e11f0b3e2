package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store persists one JSON checkpoint per task id.
type Store struct {
	basePath string
	now      func() time.Time
}

// NewStore creates a store rooted at dataDir/checkpoints.
func NewStore(dataDir string) *Store {
	return &Store{
		basePath: filepath.Join(dataDir, "checkpoints"),
		now:      time.Now,
	}
}

// Dir is the directory holding checkpoint files.
func (s *Store) Dir() string { return s.basePath }

// Path returns the file a task's checkpoint lives in.
func (s *Store) Path(taskID string) string {
	return filepath.Join(s.basePath, fileName(taskID))
}

// fileName keeps safe ids readable and hashes anything else.
func fileName(taskID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, taskID)
	if safe == taskID && safe != "" && !strings.HasPrefix(safe, ".") {
		return safe + ".json"
	}
	hash := sha256.Sum256([]byte(taskID))
	return fmt.Sprintf("%s-%s.json", strings.TrimLeft(safe, "."), hex.EncodeToString(hash[:])[:12])
}

// Save writes the record, replacing any existing checkpoint for the same task.
func (s *Store) Save(cp *Checkpoint) error {
	if cp == nil || cp.TaskID == "" {
		return errors.New("checkpoint requires a task id")
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	if cp.LoadedSkills == nil {
		cp.LoadedSkills = []string{}
	}

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(cp.TaskID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit checkpoint file: %w", err)
	}
	return nil
}

// Load returns the checkpoint for taskID, or nil when none exists.
func (s *Store) Load(taskID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Exists reports whether a checkpoint is stored for taskID.
func (s *Store) Exists(taskID string) bool {
	_, err := os.Stat(s.Path(taskID))
	return err == nil
}

// Discard deletes the checkpoint for taskID. Missing files are not an error.
func (s *Store) Discard(taskID string) error {
	err := os.Remove(s.Path(taskID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}
	return nil
}

// List returns every stored checkpoint, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.basePath)
	if os.IsNotExist(err) {
		return []Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint directory: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, entry.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		metas = append(metas, Meta{
			TaskID:    cp.TaskID,
			Reason:    cp.Reason,
			Timestamp: cp.Timestamp,
			Summary:   cp.Summary,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
	return metas, nil
}
