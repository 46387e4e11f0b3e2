package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/meetrunner/internal/checkpoint"
)

func TestRun_EndToEnd(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 1200, OutputTokens: 40}, ToolCall{ID: "call-1", Name: "list_meets", Input: map[string]any{}}),
		endTurn("done"),
	}}
	reg := mustRegistry(t, ToolSet{}.Add(staticTool("list_meets", "state | meet_name | association | athletes")))
	agent := newTestAgent(t, provider, reg, store, nil, Config{})

	report := agent.Run(context.Background(), "meet-42", "Process the state meet")

	if !report.Success || report.Message != "done" {
		t.Fatalf("report = {success:%v message:%q}, want {success:true message:\"done\"}", report.Success, report.Message)
	}
	if report.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want %s", report.Outcome, OutcomeCompleted)
	}
	if len(report.ToolLog) != 1 || report.ToolLog[0].Name != "list_meets" {
		t.Errorf("tool log = %+v, want one list_meets entry", report.ToolLog)
	}
	if _, err := os.Stat(store.Path("meet-42")); !os.IsNotExist(err) {
		t.Errorf("checkpoint file left behind after completion (stat err = %v)", err)
	}
	if report.CheckpointSaved {
		t.Error("CheckpointSaved = true on completion")
	}

	second := provider.calls[1].messages
	last := second[len(second)-1]
	if rs := last.ToolResults(); len(rs) != 1 || rs[0].ToolCallID != "call-1" {
		t.Errorf("second request does not answer call-1: %+v", last)
	}
	if provider.calls[0].system != "system" {
		t.Errorf("system prompt = %q", provider.calls[0].system)
	}
}

func TestRun_CompletionDiscardsExistingCheckpoint(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if err := store.Save(&checkpoint.Checkpoint{TaskID: "t", Summary: "old"}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{steps: []scriptStep{endTurn("finished")}}
	agent := newTestAgent(t, provider, mustRegistry(t), store, &fakeAsker{answer: ChoiceResume}, Config{})

	report := agent.Run(context.Background(), "t", "task")
	if !report.Success {
		t.Fatalf("report = %+v", report)
	}
	if store.Exists("t") {
		t.Error("checkpoint should be discarded after success")
	}
}

func TestRun_ToolFailureDoesNotAbortSiblings(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 500},
			ToolCall{ID: "1", Name: "ok"},
			ToolCall{ID: "2", Name: "boom"},
			ToolCall{ID: "3", Name: "ok"},
		),
		endTurn("recovered"),
	}}
	reg := mustRegistry(t, ToolSet{
		"ok": staticTool("ok", "fine"),
		"boom": Tool{Name: "boom", Fn: func(context.Context, map[string]any) (ToolOutput, error) {
			panic("database exploded")
		}},
	})
	agent := newTestAgent(t, provider, reg, nil, nil, Config{})

	report := agent.Run(context.Background(), "t", "task")
	if !report.Success || report.Message != "recovered" {
		t.Fatalf("report = %+v", report)
	}

	msgs := provider.calls[1].messages
	results := msgs[len(msgs)-1].ToolResults()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantErr := map[string]bool{"1": false, "2": true, "3": false}
	for _, r := range results {
		if r.IsError != wantErr[r.ToolCallID] {
			t.Errorf("result %s IsError = %v", r.ToolCallID, r.IsError)
		}
	}
	if !strings.Contains(results[1].Text(), "database exploded") {
		t.Errorf("error payload = %q", results[1].Text())
	}
	if len(report.ToolLog) != 3 {
		t.Errorf("tool log = %d entries, want 3", len(report.ToolLog))
	}
}

func TestRun_BudgetPause(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 170_000, OutputTokens: 200}, ToolCall{ID: "1", Name: "list_meets"}),
		endTurn("should not be reached"),
	}}
	reg := mustRegistry(t, ToolSet{}.Add(staticTool("list_meets", "none")))
	agent := newTestAgent(t, provider, reg, store, nil, Config{ContextWindow: 200_000})

	report := agent.Run(context.Background(), "meet-7", "task")

	if report.Outcome != OutcomePaused {
		t.Fatalf("outcome = %s, want paused (message %q)", report.Outcome, report.Message)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}
	if !report.CheckpointSaved {
		t.Error("CheckpointSaved = false")
	}
	cp, err := store.Load("meet-7")
	if err != nil || cp == nil {
		t.Fatalf("Load() = %v, %v", cp, err)
	}
	if cp.Reason != checkpoint.ReasonBudget {
		t.Errorf("reason = %s, want budget", cp.Reason)
	}
	if !strings.Contains(cp.Summary, "list_meets") {
		t.Errorf("auto summary does not mention recent tool activity: %q", cp.Summary)
	}
}

func TestRun_ResumeThenStopKeepsSkills(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	saved := &checkpoint.Checkpoint{
		TaskID:       "meet-42",
		Summary:      "Extracted sessions 1-3",
		NextSteps:    "Extract session 4",
		LoadedSkills: []string{"mso-html", "scorecat"},
		Artifacts:    []checkpoint.Artifact{{Path: "raw/s1.json"}},
		Reason:       checkpoint.ReasonBudget,
	}
	if err := store.Save(saved); err != nil {
		t.Fatal(err)
	}

	provider := &scriptedProvider{}
	asker := &fakeAsker{answer: ChoiceResume}
	agent := newTestAgent(t, provider, mustRegistry(t), store, asker, Config{})
	asker.onAsk = func() { agent.Stop() }

	report := agent.Run(context.Background(), "meet-42", "task")

	if report.Outcome != OutcomeStopped || !report.Success {
		t.Fatalf("report = %+v, want successful stop", report)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times after stop", provider.callCount())
	}
	cp, err := store.Load("meet-42")
	if err != nil || cp == nil {
		t.Fatalf("Load() = %v, %v", cp, err)
	}
	if strings.Join(cp.LoadedSkills, ",") != "mso-html,scorecat" {
		t.Errorf("LoadedSkills = %v, want [mso-html scorecat]", cp.LoadedSkills)
	}
	if cp.Summary != saved.Summary || cp.NextSteps != saved.NextSteps {
		t.Errorf("summary not carried over: %+v", cp)
	}
	if len(cp.Artifacts) != 1 || cp.Artifacts[0].Path != "raw/s1.json" {
		t.Errorf("Artifacts = %+v", cp.Artifacts)
	}
	if cp.Reason != checkpoint.ReasonStopped {
		t.Errorf("reason = %s", cp.Reason)
	}
	if len(asker.questions) != 1 {
		t.Errorf("asked %d questions, want 1", len(asker.questions))
	}
}

func TestRun_ResumeFoldsCheckpointIntoOpeningMessage(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if err := store.Save(&checkpoint.Checkpoint{
		TaskID:       "t",
		Summary:      "Built the database",
		NextSteps:    "Generate the outputs",
		LoadedSkills: []string{"scorecat"},
	}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{steps: []scriptStep{endTurn("ok")}}
	agent := newTestAgent(t, provider, mustRegistry(t), store, &fakeAsker{answer: ChoiceResume}, Config{})

	agent.Run(context.Background(), "t", "Process the meet")

	opening := provider.calls[0].messages[0].Text()
	for _, want := range []string{"Process the meet", "Built the database", "Generate the outputs", "scorecat"} {
		if !strings.Contains(opening, want) {
			t.Errorf("opening message missing %q:\n%s", want, opening)
		}
	}
}

func TestRun_StartFreshDiscardsCheckpoint(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if err := store.Save(&checkpoint.Checkpoint{TaskID: "t", Summary: "old progress"}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{steps: []scriptStep{{err: errors.New("stop here")}}}
	agent := newTestAgent(t, provider, mustRegistry(t), store, &fakeAsker{answer: ChoiceFresh}, Config{})

	agent.Run(context.Background(), "t", "task")

	opening := provider.calls[0].messages[0].Text()
	if strings.Contains(opening, "old progress") {
		t.Errorf("fresh start should not mention the old checkpoint: %q", opening)
	}
	cp, _ := store.Load("t")
	if cp == nil || strings.Contains(cp.Summary, "old progress") {
		t.Errorf("checkpoint after fresh failure = %+v", cp)
	}
}

func TestRun_AskerErrorResumes(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if err := store.Save(&checkpoint.Checkpoint{TaskID: "t", Summary: "keep me"}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{steps: []scriptStep{endTurn("ok")}}
	agent := newTestAgent(t, provider, mustRegistry(t), store, &fakeAsker{err: context.DeadlineExceeded}, Config{})

	agent.Run(context.Background(), "t", "task")
	if !strings.Contains(provider.calls[0].messages[0].Text(), "keep me") {
		t.Error("unanswered resume question should resume")
	}
}

func TestRun_StopDuringResumeQuestion(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if err := store.Save(&checkpoint.Checkpoint{TaskID: "meet-42", Summary: "sessions 1-3 done", LoadedSkills: []string{"scorecat"}}); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{}
	asker := &blockingAsker{asked: make(chan struct{})}
	agent := newTestAgent(t, provider, mustRegistry(t), store, asker, Config{})

	done := make(chan Report, 1)
	go func() { done <- agent.Run(context.Background(), "meet-42", "task") }()

	select {
	case <-asker.asked:
	case <-time.After(2 * time.Second):
		t.Fatal("resume question was never asked")
	}
	if !agent.Stop() {
		t.Fatal("Stop() = false while the run waits on the resume question")
	}

	var report Report
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked on the resume question after Stop()")
	}
	if report.Outcome != OutcomeStopped {
		t.Errorf("outcome = %s, want stopped", report.Outcome)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times", provider.callCount())
	}
	cp, err := store.Load("meet-42")
	if err != nil || cp == nil || cp.Summary != "sessions 1-3 done" || strings.Join(cp.LoadedSkills, ",") != "scorecat" {
		t.Errorf("checkpoint after stop = %+v, %v", cp, err)
	}
}

func TestRun_MaxTokensRepairsOrphanedCalls(t *testing.T) {
	executed := false
	reg := mustRegistry(t, ToolSet{
		"write_file": Tool{Name: "write_file", Fn: func(context.Context, map[string]any) (ToolOutput, error) {
			executed = true
			return TextOutput("written"), nil
		}},
	})
	provider := &scriptedProvider{steps: []scriptStep{
		{resp: Response{
			Content: []ContentBlock{
				TextBlock("Writing the file"),
				ToolCallBlock(ToolCall{ID: "w1", Name: "write_file", Input: map[string]any{"path": "a"}}),
			},
			StopReason: StopMaxTokens,
		}},
		{resp: Response{Content: []ContentBlock{TextBlock("partial")}, StopReason: StopMaxTokens}},
		endTurn("done"),
	}}
	agent := newTestAgent(t, provider, reg, nil, nil, Config{})

	report := agent.Run(context.Background(), "t", "task")
	if !report.Success {
		t.Fatalf("report = %+v", report)
	}
	if executed {
		t.Error("truncated tool call must not be executed")
	}

	second := provider.calls[1].messages
	results := second[len(second)-1].ToolResults()
	if len(results) != 1 || results[0].ToolCallID != "w1" || !results[0].IsError {
		t.Errorf("second request results = %+v", results)
	}
	third := provider.calls[2].messages
	if !strings.Contains(third[len(third)-1].Text(), "cut off") {
		t.Errorf("truncated text turn should be followed by a continue prompt, got %q", third[len(third)-1].Text())
	}
	for i, c := range provider.calls {
		if gaps := ValidateSequence(c.messages); len(gaps) != 0 {
			t.Errorf("request %d sent an invalid history: %+v", i, gaps)
		}
	}
}

func TestRun_IterationLimitSummarizes(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	reg := mustRegistry(t, ToolSet{}.Add(staticTool("http_fetch", "<html>")))
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 100}, ToolCall{ID: "1", Name: "http_fetch"}),
		toolUse(Usage{InputTokens: 200}, ToolCall{ID: "2", Name: "http_fetch"}),
		endTurn("Accomplished: fetched pages. Blockers: none. Next action: extract."),
	}}
	agent := newTestAgent(t, provider, reg, store, nil, Config{MaxIterations: 2})

	report := agent.Run(context.Background(), "t", "task")

	if report.Outcome != OutcomeSummarized {
		t.Fatalf("outcome = %s, want summarized", report.Outcome)
	}
	if !strings.HasPrefix(report.Message, "Accomplished") {
		t.Errorf("message = %q", report.Message)
	}
	last := provider.calls[len(provider.calls)-1]
	if last.tools != nil {
		t.Errorf("final summary call offered %d tools", len(last.tools))
	}
	cp, _ := store.Load("t")
	if cp == nil || cp.Reason != checkpoint.ReasonIterationLimit || !strings.HasPrefix(cp.Summary, "Accomplished") {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestRun_ProviderErrorSavesCheckpoint(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	apiErr := errors.New("401 unauthorized")
	provider := &scriptedProvider{steps: []scriptStep{{err: apiErr}}}
	agent := newTestAgent(t, provider, mustRegistry(t), store, nil, Config{})

	report := agent.Run(context.Background(), "t", "task")

	if report.Outcome != OutcomeFailed || report.Success {
		t.Fatalf("report = %+v", report)
	}
	if !errors.Is(report.Err, apiErr) {
		t.Errorf("Err = %v, want wrapped %v", report.Err, apiErr)
	}
	var stepErr *StepError
	if !errors.As(report.Err, &stepErr) || stepErr.Operation != "provider_call" {
		t.Errorf("Err = %#v, want *StepError for provider_call", report.Err)
	}
	cp, _ := store.Load("t")
	if cp == nil || cp.Reason != checkpoint.ReasonError {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestRun_SaveProgressPauses(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	reg := mustRegistry(t, ToolSet{
		"save_progress": Tool{Name: "save_progress", Fn: func(ctx context.Context, args map[string]any) (ToolOutput, error) {
			st, _ := StateFromContext(ctx)
			st.RequestSave(ProgressNote{
				Summary:   "Database built",
				NextSteps: "Render outputs",
				Artifacts: []checkpoint.Artifact{{Path: "meet.db", Description: "results"}},
			})
			return TextOutput("saved"), nil
		}},
	})
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 10}, ToolCall{ID: "s", Name: "save_progress"}),
	}}
	agent := newTestAgent(t, provider, reg, store, nil, Config{})

	report := agent.Run(context.Background(), "t", "task")
	if report.Outcome != OutcomePaused {
		t.Fatalf("outcome = %s", report.Outcome)
	}
	cp, _ := store.Load("t")
	if cp == nil || cp.Summary != "Database built" || cp.NextSteps != "Render outputs" || cp.AutoSummary {
		t.Errorf("checkpoint = %+v", cp)
	}
	if len(cp.Artifacts) != 1 || cp.Artifacts[0].Path != "meet.db" {
		t.Errorf("Artifacts = %+v", cp.Artifacts)
	}
}

func TestRun_StopDuringToolCancelsToolContext(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	var agent *Agent
	reg := mustRegistry(t, ToolSet{
		"run_pipeline": Tool{Name: "run_pipeline", Fn: func(ctx context.Context, args map[string]any) (ToolOutput, error) {
			agent.Stop()
			<-ctx.Done()
			return ErrorOutput("pipeline interrupted"), nil
		}},
	})
	provider := &scriptedProvider{steps: []scriptStep{
		toolUse(Usage{InputTokens: 10}, ToolCall{ID: "p", Name: "run_pipeline"}),
	}}
	agent = newTestAgent(t, provider, reg, store, nil, Config{})

	report := agent.Run(context.Background(), "t", "task")
	if report.Outcome != OutcomeStopped || !report.Success {
		t.Fatalf("report = %+v", report)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}
	if agent.Running() {
		t.Error("agent still running after Run returned")
	}
	if agent.Stop() {
		t.Error("Stop() with no active run should report false")
	}
}

func TestAgentBuilder_Validation(t *testing.T) {
	t.Run("missing provider", func(t *testing.T) {
		_, err := NewAgentBuilder().WithRegistry(mustRegistry(t)).Build()
		if !errors.Is(err, ErrNoProvider) {
			t.Errorf("Build() error = %v, want %v", err, ErrNoProvider)
		}
	})

	t.Run("missing tools", func(t *testing.T) {
		_, err := NewAgentBuilder().WithProvider(&scriptedProvider{}).Build()
		if !errors.Is(err, ErrNoTools) {
			t.Errorf("Build() error = %v, want %v", err, ErrNoTools)
		}
	})

	t.Run("bad budget fraction", func(t *testing.T) {
		_, err := NewAgentBuilder().WithProvider(&scriptedProvider{}).WithRegistry(mustRegistry(t)).WithBudgetFraction(1.5).Build()
		if err == nil {
			t.Error("Build() accepted a budget fraction above 1")
		}
	})
}
