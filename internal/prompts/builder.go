package prompts

import (
	"fmt"
	"strings"
)

// PromptBuilder composes a prompt from a registered base, extra fragments and variables.
type PromptBuilder struct {
	fragments []string
	variables map[string]string
}

// NewPromptBuilder starts from the latest version of prompt id.
func NewPromptBuilder(registry *PromptRegistry, id string) (*PromptBuilder, error) {
	base, err := registry.GetLatest(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}
	return &PromptBuilder{
		fragments: []string{base.Content},
		variables: make(map[string]string),
	}, nil
}

// AddFragment appends a fragment; empty fragments are skipped.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	if strings.TrimSpace(text) != "" {
		b.fragments = append(b.fragments, text)
	}
	return b
}

// SetVariable sets a {{key}} substitution.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.variables[key] = value
	return b
}

// Build joins the fragments and substitutes variables.
func (b *PromptBuilder) Build() string {
	result := strings.Join(b.fragments, "\n\n")
	for key, value := range b.variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// Environment describes where the agent's files live.
type Environment struct {
	WorkDir   string
	OutputDir string
	DBPath    string
	Skills    []SkillEntry
}

// SkillEntry is one line of the skill index shown in the prompt.
type SkillEntry struct {
	ID    string
	Title string
}

func (e Environment) apply(b *PromptBuilder) {
	b.SetVariable("work_dir", e.WorkDir).
		SetVariable("output_dir", e.OutputDir).
		SetVariable("db_path", e.DBPath)
	if len(e.Skills) == 0 {
		b.AddFragment("No skill documents are installed.")
		return
	}
	var s strings.Builder
	s.WriteString("Available skills (load with load_skill before relying on them):\n")
	for _, sk := range e.Skills {
		fmt.Fprintf(&s, "- %s: %s\n", sk.ID, sk.Title)
	}
	b.AddFragment(strings.TrimRight(s.String(), "\n"))
}

// TaskSystem builds the system prompt of the task context.
func TaskSystem(env Environment) (string, error) {
	b, err := NewPromptBuilder(DefaultRegistry(), TaskPromptID)
	if err != nil {
		return "", err
	}
	env.apply(b)
	return b.Build(), nil
}

// QuerySystem builds the system prompt of the lightweight query context.
func QuerySystem(env Environment) (string, error) {
	b, err := NewPromptBuilder(DefaultRegistry(), QueryPromptID)
	if err != nil {
		return "", err
	}
	env.apply(b)
	return b.Build(), nil
}
