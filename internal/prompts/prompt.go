// Package prompts holds the versioned system prompts of the task and query contexts.
package prompts

// PromptVersion represents a version identifier for prompts.
type PromptVersion string

const (
	PromptV1 PromptVersion = "1.0.0"
	PromptV2 PromptVersion = "2.0.0"
)

// Registered prompt ids.
const (
	TaskPromptID  = "task"
	QueryPromptID = "query"
)

// Prompt represents a versioned prompt with metadata.
type Prompt struct {
	ID          string        // e.g. "task", "query"
	Version     PromptVersion // Version of this prompt
	Content     string        // prompt text with {{variable}} placeholders
	Description string
	Deprecated  bool // True if this version is deprecated
}
