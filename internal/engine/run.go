package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

// Run executes one task to a terminal state. Re-running with the same task id offers to
// resume from the checkpoint a previous run left behind.
func (a *Agent) Run(ctx context.Context, taskID, task string) Report {
	sig := a.beginRun(ctx)
	defer a.endRun(sig)

	st := newRunState(a.newID(), taskID, a.system)

	resumed, err := a.initRun(sig.ctx, st, task)
	if err != nil {
		return a.finish(ctx, st, Report{
			Outcome: OutcomeFailed,
			Message: fmt.Sprintf("Could not start task %s: %v", taskID, err),
			Err:     err,
		})
	}
	a.hooks.OnRunStart(ctx, st, resumed)

	toolCtx := sig.ctx
	defs := a.tools.Definitions()

	for {
		if sig.requested() || ctx.Err() != nil {
			return a.pause(ctx, st, checkpoint.ReasonStopped, OutcomeStopped,
				"Stopped by request. Progress was saved; run the same task again to resume.")
		}
		if limit := a.config.budgetLimit(); st.LastInputTokens > limit {
			return a.pause(ctx, st, checkpoint.ReasonBudget, OutcomePaused,
				fmt.Sprintf("Paused: the last request used %d input tokens, over the %d token budget of a %d token context window. Progress was saved; run the same task again to resume.",
					st.LastInputTokens, limit, a.config.ContextWindow))
		}
		if st.Iteration >= a.config.MaxIterations {
			return a.summarize(ctx, st)
		}

		st.Iteration++
		a.hooks.OnStepStart(ctx, st)

		resp, err := a.send(ctx, st, defs)
		if err != nil {
			if errors.Is(err, context.Canceled) && (sig.requested() || ctx.Err() != nil) {
				continue
			}
			return a.fail(ctx, st, err)
		}

		step := a.interpret(toolCtx, st, resp, sig.requested)
		if step.done {
			return a.complete(ctx, st, step.final)
		}
		if st.progress != nil {
			return a.pause(ctx, st, checkpoint.ReasonExplicit, OutcomePaused,
				"Progress saved at the model's request. Run the same task again to resume.")
		}
	}
}

// initRun builds the opening message, consulting a stored checkpoint first. ctx is the
// run's stop context so a stop request ends a pending resume question.
func (a *Agent) initRun(ctx context.Context, st *RunState, task string) (bool, error) {
	var cp *checkpoint.Checkpoint
	if a.store != nil {
		var err error
		cp, err = a.store.Load(st.TaskID)
		if err != nil {
			return false, wrapStep(err, st, "checkpoint_load")
		}
	}
	if cp == nil {
		st.Append(UserText(openingMessage(task)))
		return false, nil
	}

	resume := true
	if a.asker != nil {
		answer, err := a.asker.Ask(ctx, resumeQuestion(cp), []string{ChoiceResume, ChoiceFresh})
		if err != nil {
			a.logger.WarnContext(ctx, "resume question went unanswered, resuming", "task_id", st.TaskID, "err", err)
		} else {
			resume = !strings.EqualFold(strings.TrimSpace(answer), ChoiceFresh)
		}
	}

	if !resume {
		if err := a.store.Discard(st.TaskID); err != nil {
			return false, wrapStep(err, st, "checkpoint_discard")
		}
		st.Append(UserText(openingMessage(task)))
		return false, nil
	}

	st.resumedFrom = cp
	for _, id := range cp.LoadedSkills {
		st.LoadSkill(id)
	}
	for _, art := range cp.Artifacts {
		st.AddArtifact(art)
	}
	st.Append(UserText(resumeMessage(task, cp)))
	return true, nil
}

func (a *Agent) complete(ctx context.Context, st *RunState, final string) Report {
	report := Report{Outcome: OutcomeCompleted, Success: true, Message: final}
	if strings.TrimSpace(final) == "" {
		report.Message = "Task completed."
	}
	if a.store != nil {
		if err := a.store.Discard(st.TaskID); err != nil {
			a.logger.WarnContext(ctx, "failed to discard checkpoint after completion", "task_id", st.TaskID, "err", err)
		}
	}
	return a.finish(ctx, st, report)
}

func (a *Agent) pause(ctx context.Context, st *RunState, reason checkpoint.Reason, outcome Outcome, message string) Report {
	report := Report{Outcome: outcome, Success: outcome == OutcomeStopped, Message: message}
	a.checkpoint(ctx, st, snapshot(st, reason), &report)
	return a.finish(ctx, st, report)
}

func (a *Agent) fail(ctx context.Context, st *RunState, err error) Report {
	report := Report{
		Outcome: OutcomeFailed,
		Message: fmt.Sprintf("Run failed: %v", err),
		Err:     err,
	}
	a.checkpoint(ctx, st, snapshot(st, checkpoint.ReasonError), &report)
	if report.CheckpointSaved {
		report.Message += ". Progress was saved; run the same task again to resume."
	}
	return a.finish(ctx, st, report)
}

// summarize makes the final tool-free call once the iteration cap is reached.
func (a *Agent) summarize(ctx context.Context, st *RunState) Report {
	appendUserText(st, iterationLimitPrompt)

	cp := snapshot(st, checkpoint.ReasonIterationLimit)
	resp, err := a.send(ctx, st, nil)
	summary := ""
	if err == nil {
		msg := resp.Message()
		summary = strings.TrimSpace(msg.Text())
		if summary != "" {
			st.Append(Message{Role: RoleAssistant, Content: PlainText(summary)})
		}
	} else {
		a.logger.WarnContext(ctx, "final summary call failed", "task_id", st.TaskID, "err", err)
	}

	if summary != "" && (st.progress == nil || strings.TrimSpace(st.progress.Summary) == "") {
		cp.Summary = summary
		cp.AutoSummary = false
	}

	report := Report{
		Outcome: OutcomeSummarized,
		Message: summary,
	}
	if summary == "" {
		report.Message = fmt.Sprintf("Reached the limit of %d iterations.\n\n%s", a.config.MaxIterations, cp.Summary)
	}
	a.checkpoint(ctx, st, cp, &report)
	return a.finish(ctx, st, report)
}

func (a *Agent) checkpoint(ctx context.Context, st *RunState, cp *checkpoint.Checkpoint, report *Report) {
	if a.store == nil {
		return
	}
	if err := a.store.Save(cp); err != nil {
		err = wrapStep(err, st, "checkpoint_save")
		a.logger.ErrorContext(ctx, "failed to save checkpoint", "task_id", st.TaskID, "err", err)
		report.Message += fmt.Sprintf(" (warning: checkpoint could not be saved: %v)", err)
		if report.Err == nil {
			report.Err = err
		}
		return
	}
	report.CheckpointSaved = true
	a.hooks.OnCheckpointSaved(ctx, st, string(cp.Reason))
}

func (a *Agent) finish(ctx context.Context, st *RunState, report Report) Report {
	report.TaskID = st.TaskID
	report.RunID = st.RunID
	report.Iterations = st.Iteration
	report.ToolLog = append([]ToolLogEntry(nil), st.ToolLog...)
	report.Usage = st.Totals
	a.hooks.OnDone(ctx, st, report)
	return report
}
