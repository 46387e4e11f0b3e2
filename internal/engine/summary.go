package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

const (
	ChoiceResume = "Resume"
	ChoiceFresh  = "Start fresh"
)

const (
	maxSummaryText  = 1500
	maxRecentCalls  = 5
	maxResultSample = 200
)

const iterationLimitPrompt = `You have reached the iteration limit for this run. Do not call any tools.
Reply with a short report in three parts:
1. Accomplished: what has been done so far, including files produced.
2. Blockers: anything that failed or is still unclear.
3. Next action: the single most useful next step for whoever resumes this task.`

func openingMessage(task string) string {
	return "Task:\n" + task
}

func resumeQuestion(cp *checkpoint.Checkpoint) string {
	when := cp.Timestamp.Local().Format(time.DateTime)
	return fmt.Sprintf("A saved checkpoint exists for task %q (%s, %s). Resume from it or start fresh?", cp.TaskID, cp.Reason, when)
}

// resumeMessage folds a checkpoint into the opening user message.
func resumeMessage(task string, cp *checkpoint.Checkpoint) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(task)
	b.WriteString("\n\nYou are resuming this task from a saved checkpoint")
	if !cp.Timestamp.IsZero() {
		fmt.Fprintf(&b, " written %s", cp.Timestamp.UTC().Format(time.RFC3339))
	}
	b.WriteString(".\n\nProgress so far:\n")
	b.WriteString(orDefault(cp.Summary, "(no summary recorded)"))
	b.WriteString("\n\nNext steps:\n")
	b.WriteString(orDefault(cp.NextSteps, "(none recorded)"))
	if len(cp.LoadedSkills) > 0 {
		b.WriteString("\n\nSkills already loaded in the previous run (load them again before relying on them): ")
		b.WriteString(strings.Join(cp.LoadedSkills, ", "))
	}
	if len(cp.Artifacts) > 0 {
		b.WriteString("\n\nFiles already produced:")
		for _, a := range cp.Artifacts {
			b.WriteString("\n- ")
			b.WriteString(a.Path)
			if a.Description != "" {
				b.WriteString(": ")
				b.WriteString(a.Description)
			}
		}
	}
	b.WriteString("\n\nDo not redo finished work. Verify the produced files exist, then continue.")
	return b.String()
}

// snapshot builds the checkpoint for st. A model-authored progress note wins; otherwise the
// summary is extracted from the tail of the conversation, best effort.
func snapshot(st *RunState, reason checkpoint.Reason) *checkpoint.Checkpoint {
	cp := &checkpoint.Checkpoint{
		TaskID:       st.TaskID,
		LoadedSkills: st.Skills.Sorted(),
		Artifacts:    append([]checkpoint.Artifact(nil), st.Artifacts...),
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	}
	if note := st.progress; note != nil && strings.TrimSpace(note.Summary) != "" {
		cp.Summary = note.Summary
		cp.NextSteps = note.NextSteps
		return cp
	}
	cp.Summary, cp.NextSteps = autoSummary(st)
	cp.AutoSummary = true
	return cp
}

// autoSummary scrapes the most recent assistant text and tool activity. When the run has
// produced nothing yet, the checkpoint it resumed from is carried over.
func autoSummary(st *RunState) (summary, nextSteps string) {
	lastText := ""
	type activity struct {
		call   ToolCall
		result *ToolResult
	}
	var recent []activity

	results := map[string]ToolResult{}
	for i := len(st.Messages) - 1; i >= 0; i-- {
		msg := st.Messages[i]
		if msg.Role == RoleUser {
			for _, r := range msg.ToolResults() {
				results[r.ToolCallID] = r
			}
			continue
		}
		if lastText == "" {
			lastText = strings.TrimSpace(msg.Text())
		}
		calls := msg.ToolCalls()
		for j := len(calls) - 1; j >= 0 && len(recent) < maxRecentCalls; j-- {
			a := activity{call: calls[j]}
			if r, ok := results[calls[j].ID]; ok {
				a.result = &r
			}
			recent = append(recent, a)
		}
		if lastText != "" && len(recent) >= maxRecentCalls {
			break
		}
	}

	if lastText == "" && len(recent) == 0 {
		if st.resumedFrom != nil {
			return st.resumedFrom.Summary, st.resumedFrom.NextSteps
		}
		return "No progress recorded yet.", "Start the task from the beginning."
	}

	var b strings.Builder
	b.WriteString("Automatically captured progress")
	if st.resumedFrom != nil && st.resumedFrom.Summary != "" {
		b.WriteString(".\n\nEarlier progress:\n")
		b.WriteString(truncate(st.resumedFrom.Summary, maxSummaryText))
		b.WriteString("\n\nSince then")
	}
	b.WriteString(":\n")
	if lastText != "" {
		b.WriteString(truncate(lastText, maxSummaryText))
		b.WriteString("\n")
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent tool calls (newest first):")
		for _, a := range recent {
			fmt.Fprintf(&b, "\n- %s(%s)", a.call.Name, compactArgs(a.call.Input))
			switch {
			case a.result == nil:
				b.WriteString(" -> no result")
			case a.result.IsError:
				b.WriteString(" -> failed: " + truncate(a.result.Text(), maxResultSample))
			default:
				b.WriteString(" -> " + truncate(a.result.Text(), maxResultSample))
			}
		}
	}

	switch {
	case len(recent) == 0:
		nextSteps = "Continue from the last assistant message above."
	case recent[0].result == nil || recent[0].result.IsError:
		nextSteps = fmt.Sprintf("Retry or work around the failed %s call, then continue the workflow.", recent[0].call.Name)
	default:
		nextSteps = fmt.Sprintf("Continue the workflow after the last %s call.", recent[0].call.Name)
	}
	return strings.TrimSpace(b.String()), nextSteps
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "..."
	}
	return truncate(string(data), 120)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
