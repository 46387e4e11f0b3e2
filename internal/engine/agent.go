package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

// CheckpointStore persists the single live checkpoint of a task.
type CheckpointStore interface {
	Load(taskID string) (*checkpoint.Checkpoint, error)
	Save(cp *checkpoint.Checkpoint) error
	Discard(taskID string) error
}

// Asker puts a multiple-choice question to a human and waits for the answer.
type Asker interface {
	Ask(ctx context.Context, question string, options []string) (string, error)
}

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomePaused     Outcome = "paused"
	OutcomeStopped    Outcome = "stopped"
	OutcomeSummarized Outcome = "summarized"
)

// Report is what a run returns. Every outcome carries a message.
type Report struct {
	Outcome         Outcome        `json:"outcome"`
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	TaskID          string         `json:"task_id"`
	RunID           string         `json:"run_id"`
	Iterations      int            `json:"iterations"`
	ToolLog         []ToolLogEntry `json:"tool_log"`
	Usage           Usage          `json:"usage"`
	CheckpointSaved bool           `json:"checkpoint_saved"`
	Err             error          `json:"-"`
}

// Agent runs tasks. One Agent runs at most one task at a time.
type Agent struct {
	*loopCore
	config Config
	store  CheckpointStore
	asker  Asker
	system string

	runMu  sync.Mutex // held for the duration of Run
	mu     sync.Mutex
	signal *stopSignal
}

// stopSignal is the cancellation token of one run. The flag is read at the top of each
// iteration; ctx is handed to tools so long sub-steps can abort early.
type stopSignal struct {
	flag   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

func newStopSignal(parent context.Context) *stopSignal {
	ctx, cancel := context.WithCancel(parent)
	return &stopSignal{ctx: ctx, cancel: cancel}
}

func (s *stopSignal) request() {
	s.flag.Store(true)
	s.cancel()
}

func (s *stopSignal) requested() bool { return s.flag.Load() }

// Stop asks the running task to stop at the next safe point. It reports whether a run
// was active.
func (a *Agent) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.signal == nil {
		return false
	}
	a.signal.request()
	return true
}

// Running reports whether a task is in progress.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signal != nil
}

// Config returns the loop limits.
func (a *Agent) Config() Config { return a.config }

func (a *Agent) beginRun(ctx context.Context) *stopSignal {
	a.runMu.Lock()
	sig := newStopSignal(ctx)
	a.mu.Lock()
	a.signal = sig
	a.mu.Unlock()
	return sig
}

func (a *Agent) endRun(sig *stopSignal) {
	a.mu.Lock()
	a.signal = nil
	a.mu.Unlock()
	sig.cancel()
	a.runMu.Unlock()
}
