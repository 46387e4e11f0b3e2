// Package browser controls a Chrome instance over the DevTools protocol and exposes it as
// the browser_* tools.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// PageInfo describes the loaded page.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Browser is the page surface the tools need.
type Browser interface {
	Navigate(ctx context.Context, url string) (PageInfo, error)
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// Source hands out a ready browser.
type Source interface {
	Get(ctx context.Context) (Browser, error)
}

// Config locates or launches Chrome.
type Config struct {
	ChromePath string // empty searches PATH
	DebugPort  int
	Headless   bool
	ProfileDir string // user-data-dir for a launched instance; empty uses a temp dir
}

const (
	connectTimeout = 30 * time.Second
	launchWait     = 15 * time.Second
)

var chromeCandidates = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Manager connects to Chrome on first use, launching it when nothing listens on the
// debug port. Concurrent first calls share one connect attempt.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	current Browser
	proc    *exec.Cmd

	connect func(ctx context.Context) (Browser, error)
	launch  func(ctx context.Context) (*exec.Cmd, error)
}

// NewManager returns a manager for cfg. Nothing is started until Get.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DebugPort == 0 {
		cfg.DebugPort = 9222
	}
	m := &Manager{cfg: cfg, logger: logger}
	m.connect = m.dialDevtools
	m.launch = m.launchChrome
	return m
}

// Get returns the live browser, connecting or launching as needed.
func (m *Manager) Get(ctx context.Context) (Browser, error) {
	m.mu.Lock()
	if b := m.current; b != nil && alive(b) {
		m.mu.Unlock()
		return b, nil
	}
	m.current = nil
	m.mu.Unlock()

	ch := m.group.DoChan("browser", func() (any, error) {
		// Shared by every waiter, so it must not inherit one caller's cancellation.
		connCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()
		b, err := m.connectOrLaunch(connCtx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.current = b
		m.mu.Unlock()
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Browser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) connectOrLaunch(ctx context.Context) (Browser, error) {
	b, err := m.connect(ctx)
	if err == nil {
		m.logger.InfoContext(ctx, "attached to running browser", "port", m.cfg.DebugPort)
		return b, nil
	}
	m.logger.InfoContext(ctx, "no browser on debug port, launching", "port", m.cfg.DebugPort, "err", err)

	proc, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.proc = proc
	m.mu.Unlock()

	deadline := time.Now().Add(launchWait)
	for {
		b, err := m.connect(ctx)
		if err == nil {
			return b, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("browser did not accept connections within %s: %w", launchWait, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (m *Manager) endpoint() string {
	return "http://127.0.0.1:" + strconv.Itoa(m.cfg.DebugPort)
}

func (m *Manager) dialDevtools(ctx context.Context) (Browser, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	wsURL, err := pageWebSocketURL(ctx, client, m.endpoint())
	if err != nil {
		return nil, err
	}
	return Dial(ctx, wsURL)
}

func (m *Manager) launchChrome(ctx context.Context) (*exec.Cmd, error) {
	path, err := findChrome(m.cfg.ChromePath)
	if err != nil {
		return nil, err
	}
	profile := m.cfg.ProfileDir
	if profile == "" {
		profile = filepath.Join(os.TempDir(), "meetrunner-chrome")
	}
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(m.cfg.DebugPort),
		"--user-data-dir=" + profile,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if m.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "about:blank")

	// Not tied to ctx: the browser outlives the connect attempt.
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", path, err)
	}
	m.logger.InfoContext(ctx, "launched browser", "path", path, "pid", cmd.Process.Pid, "headless", m.cfg.Headless)
	return cmd, nil
}

func findChrome(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("chrome_path %s: %w", configured, err)
		}
		return configured, nil
	}
	for _, c := range chromeCandidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", errors.New("no Chrome or Chromium executable found; set tools.browser.chrome_path")
}

// Close drops the connection and stops a browser this manager launched.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.current != nil {
		errs = append(errs, m.current.Close())
		m.current = nil
	}
	if m.proc != nil && m.proc.Process != nil {
		_ = m.proc.Process.Kill()
		_ = m.proc.Wait()
		m.proc = nil
	}
	return errors.Join(errs...)
}

func alive(b Browser) bool {
	if a, ok := b.(interface{ Alive() bool }); ok {
		return a.Alive()
	}
	return true
}
