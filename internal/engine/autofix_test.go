package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/state"
)

var errExitStatus = errors.New("exit status 1")

func TestAutoFixHappyPathAddsNothing(t *testing.T) {
	exec := &agent.ScriptedExecutor{}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	res, history := eng.withAutoFix(context.Background(), state.PhaseAnalyze, &st, func(ctx context.Context) PhaseResult {
		return Continue(state.Delta{Logs: []string{"ok"}})
	})
	if !res.IsContinue() {
		t.Fatalf("result = %+v", res)
	}
	if len(history) != 0 {
		t.Fatalf("history = %v", history)
	}
	if exec.CallCount() != 0 {
		t.Fatal("agent consulted on success")
	}
}

func TestAutoFixSuspensionPassesThrough(t *testing.T) {
	exec := &agent.ScriptedExecutor{}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	res, history := eng.withAutoFix(context.Background(), state.PhaseMerge, &st, func(ctx context.Context) PhaseResult {
		return Suspend(SuspendPayload{Phase: state.PhaseMerge})
	})
	if !res.IsSuspend() || len(history) != 0 || exec.CallCount() != 0 {
		t.Fatalf("res=%+v history=%v calls=%d", res, history, exec.CallCount())
	}
}

func TestAutoFixFailThenSucceedRecordsOneFixedEntry(t *testing.T) {
	exec := &agent.ScriptedExecutor{Responses: []agent.ScriptedResponse{
		{Text: "adjusted the build file"},
	}}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	invocations := 0
	res, history := eng.withAutoFix(context.Background(), state.PhaseImplement, &st, func(ctx context.Context) PhaseResult {
		invocations++
		if invocations == 1 {
			return Fail(errExitStatus)
		}
		return Continue(state.Delta{})
	})
	if !res.IsContinue() {
		t.Fatalf("result = %+v, err = %v", res, res.Err())
	}
	if invocations != 2 {
		t.Fatalf("phase invoked %d times", invocations)
	}
	if len(history) != 1 {
		t.Fatalf("history = %v", history)
	}
	entry := history[0]
	if entry.Outcome != state.FixOutcomeFixed || entry.Attempt != 1 || entry.Subject != state.PhaseImplement {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.StartedAt.IsZero() {
		t.Fatal("entry has no start time")
	}
	fixPrompt := exec.Calls[0].Prompt
	if !strings.Contains(fixPrompt, errExitStatus.Error()) || !strings.Contains(fixPrompt, unfixablePrefix) {
		t.Fatalf("fix prompt incomplete: %q", fixPrompt)
	}
}

func TestAutoFixUnfixableRethrowsOriginalWithoutSecondInvocation(t *testing.T) {
	exec := &agent.ScriptedExecutor{Responses: []agent.ScriptedResponse{
		{Text: "UNFIXABLE: needs credentials I do not have"},
	}}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	invocations := 0
	res, history := eng.withAutoFix(context.Background(), state.PhasePlan, &st, func(ctx context.Context) PhaseResult {
		invocations++
		return Fail(errExitStatus)
	})
	if !res.IsFail() || res.Err() != errExitStatus {
		t.Fatalf("result = %+v, err = %v", res, res.Err())
	}
	if invocations != 1 {
		t.Fatalf("phase invoked %d times, want 1", invocations)
	}
	if len(history) != 1 || history[0].Outcome != state.FixOutcomeUnfixable {
		t.Fatalf("history = %v", history)
	}
}

func TestAutoFixNonFixableErrorSkipsAgent(t *testing.T) {
	exec := &agent.ScriptedExecutor{}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	authErr := errors.New("authentication failed for origin")
	res, history := eng.withAutoFix(context.Background(), state.PhaseMerge, &st, func(ctx context.Context) PhaseResult {
		return Fail(authErr)
	})
	if !res.IsFail() || res.Err() != authErr {
		t.Fatalf("result err = %v", res.Err())
	}
	if len(history) != 0 || exec.CallCount() != 0 {
		t.Fatalf("history=%v calls=%d", history, exec.CallCount())
	}
}

func TestAutoFixVerificationFailureIsFinal(t *testing.T) {
	exec := &agent.ScriptedExecutor{}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	st := testState(t)

	verErr := &VerificationError{FeatureBranch: "feature/x", BaseBranch: "main"}
	res, history := eng.withAutoFix(context.Background(), state.PhaseMerge, &st, func(ctx context.Context) PhaseResult {
		return Fail(verErr)
	})
	if !res.IsFail() || !errors.Is(res.Err(), verErr) {
		t.Fatalf("result err = %v", res.Err())
	}
	if len(history) != 0 || exec.CallCount() != 0 {
		t.Fatal("verification failure must not be offered to the fixer")
	}
}

func TestAutoFixExhaustionRecordsFailedEntries(t *testing.T) {
	exec := &agent.ScriptedExecutor{Responses: []agent.ScriptedResponse{
		{Text: "tried a fix"}, {Text: "tried again"},
	}}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	eng.MaxFixAttempts = 2
	st := testState(t)

	res, history := eng.withAutoFix(context.Background(), state.PhaseImplement, &st, func(ctx context.Context) PhaseResult {
		return Fail(errExitStatus)
	})
	if !res.IsFail() {
		t.Fatal("expected failure after exhaustion")
	}
	if len(history) != 2 {
		t.Fatalf("history = %v", history)
	}
	for i, entry := range history {
		if entry.Outcome != state.FixOutcomeFailed {
			t.Fatalf("entry %d outcome = %q", i, entry.Outcome)
		}
		if entry.Attempt != i+1 {
			t.Fatalf("entry %d attempt = %d", i, entry.Attempt)
		}
	}
}

// The same error recurring across attempts must carry the same signature, so
// the history distinguishes a stuck failure from fresh ones.
func TestAutoFixEntriesCarryStableSignature(t *testing.T) {
	exec := &agent.ScriptedExecutor{Responses: []agent.ScriptedResponse{
		{Text: "tried a fix"}, {Text: "tried again"},
	}}
	eng := newTestEngine(exec, &fakeGit{}, nil)
	eng.MaxFixAttempts = 2
	st := testState(t)

	_, history := eng.withAutoFix(context.Background(), state.PhaseImplement, &st, func(ctx context.Context) PhaseResult {
		return Fail(errExitStatus)
	})
	if len(history) != 2 {
		t.Fatalf("history = %v", history)
	}
	want := retry.Signature(state.PhaseImplement, errExitStatus.Error())
	for i, entry := range history {
		if entry.Signature != want {
			t.Fatalf("entry %d signature = %q, want %q", i, entry.Signature, want)
		}
	}
}
