package engine

import (
	"context"
	"sort"
	"time"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

// SkillSet is the set of skill ids loaded into the conversation.
type SkillSet map[string]struct{}

// NewSkillSet builds a set from ids.
func NewSkillSet(ids ...string) SkillSet {
	s := make(SkillSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s SkillSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s SkillSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order.
func (s SkillSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolLogEntry records one executed tool call.
type ToolLogEntry struct {
	Name     string        `json:"name"`
	CallID   string        `json:"call_id"`
	Duration time.Duration `json:"duration"`
	IsError  bool          `json:"is_error"`
}

// ProgressNote is a model-authored snapshot requested through save_progress.
type ProgressNote struct {
	Summary   string
	NextSteps string
	Artifacts []checkpoint.Artifact
}

// RunState is the conversation context of one loop invocation. Only the loop goroutine
// mutates it; tools reach it through StateFromContext while they run on that goroutine.
type RunState struct {
	RunID           string
	TaskID          string
	SystemPrompt    string
	Skills          SkillSet
	Messages        []Message
	Totals          Usage // cumulative across provider calls
	LastInputTokens int   // input tokens of the most recent response
	Iteration       int
	ToolLog         []ToolLogEntry
	Artifacts       []checkpoint.Artifact

	progress    *ProgressNote
	resumedFrom *checkpoint.Checkpoint
}

func newRunState(runID, taskID, system string) *RunState {
	return &RunState{
		RunID:        runID,
		TaskID:       taskID,
		SystemPrompt: system,
		Skills:       NewSkillSet(),
	}
}

func (s *RunState) Append(msg Message) { s.Messages = append(s.Messages, msg) }

// LoadSkill marks a skill document as present in the conversation.
func (s *RunState) LoadSkill(id string) {
	if s.Skills == nil {
		s.Skills = NewSkillSet()
	}
	s.Skills.Add(id)
}

// AddArtifact records a produced file, replacing an older entry for the same path.
func (s *RunState) AddArtifact(a checkpoint.Artifact) {
	for i, existing := range s.Artifacts {
		if existing.Path == a.Path {
			if a.Description == "" {
				a.Description = existing.Description
			}
			s.Artifacts[i] = a
			return
		}
	}
	s.Artifacts = append(s.Artifacts, a)
}

// RequestSave asks the loop to persist note and pause after the current tool batch.
func (s *RunState) RequestSave(note ProgressNote) {
	for _, a := range note.Artifacts {
		s.AddArtifact(a)
	}
	s.progress = &note
}

func (s *RunState) recordUsage(u Usage) {
	s.Totals.InputTokens += u.InputTokens
	s.Totals.OutputTokens += u.OutputTokens
	s.LastInputTokens = u.InputTokens
}

type stateKey struct{}

func withState(ctx context.Context, st *RunState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// ContextWithState attaches st for executors invoked outside the loop, as in tool tests.
func ContextWithState(ctx context.Context, st *RunState) context.Context {
	return withState(ctx, st)
}

// StateFromContext returns the run state of the loop invoking a tool.
func StateFromContext(ctx context.Context) (*RunState, bool) {
	st, ok := ctx.Value(stateKey{}).(*RunState)
	return st, ok && st != nil
}
