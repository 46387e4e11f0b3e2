package skills

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Library when markdown files under its root change.
type Watcher struct {
	lib          *Library
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
	debounceTime time.Duration
	onReload     func(count int, err error)

	mu      sync.Mutex
	pending bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for lib. Call Start to begin.
func NewWatcher(lib *Library, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		lib:          lib,
		logger:       logger,
		watcher:      w,
		debounceTime: 300 * time.Millisecond,
	}, nil
}

// OnReload sets a callback run after every debounced reload.
func (w *Watcher) OnReload(fn func(count int, err error)) { w.onReload = fn }

// Start watches every directory under the library root.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.lib.Dir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.WarnContext(ctx, "failed to watch skills dir", "path", path, "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk skills dir: %w", err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop ends watching and waits for the loops to exit.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("skills watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new skills dir", "path", event.Name, "err", err)
			}
			w.markPending()
			return
		}
	}
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.markPending()
	}
}

func (w *Watcher) markPending() {
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			due := w.pending
			w.pending = false
			w.mu.Unlock()
			if !due {
				continue
			}
			err := w.lib.Reload()
			count := len(w.lib.List())
			if err != nil {
				w.logger.Warn("skills reload failed", "err", err)
			} else {
				w.logger.Info("skills reloaded", "count", count)
			}
			if w.onReload != nil {
				w.onReload(count, err)
			}
		}
	}
}
