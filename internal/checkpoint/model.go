// Package checkpoint persists the single live checkpoint of each task as a JSON file.
package checkpoint

import "time"

// Reason records why a checkpoint was written.
type Reason string

const (
	ReasonExplicit       Reason = "explicit"        // the model called save_progress
	ReasonBudget         Reason = "budget"          // input tokens crossed the budget fraction
	ReasonStopped        Reason = "stopped"         // a stop was requested
	ReasonError          Reason = "error"           // an unrecoverable provider error
	ReasonIterationLimit Reason = "iteration_limit" // the loop hit its iteration cap
)

// Artifact is a file produced during a run.
type Artifact struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Checkpoint is the persisted projection of a paused run.
type Checkpoint struct {
	TaskID       string     `json:"task_id"`
	Summary      string     `json:"summary"`
	NextSteps    string     `json:"next_steps"`
	LoadedSkills []string   `json:"loaded_skill_ids"`
	Artifacts    []Artifact `json:"produced_artifacts,omitempty"`
	Reason       Reason     `json:"reason"`
	AutoSummary  bool       `json:"auto_summary,omitempty"` // summary was extracted, not model-authored
	Timestamp    time.Time  `json:"timestamp"`
}

// Meta is the listing view of a stored checkpoint.
type Meta struct {
	TaskID    string    `json:"task_id"`
	Reason    Reason    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}
