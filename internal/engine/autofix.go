package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/specdoc"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// DefaultMaxFixAttempts bounds automated phase repair.
const DefaultMaxFixAttempts = 3

// unfixablePrefix is the literal the fix prompt instructs the agent to lead
// with when it cannot help; seeing it rethrows the original error.
const unfixablePrefix = "UNFIXABLE:"

// nonFixableHints mark failures no agent call can repair: credentials,
// missing binaries, the process being killed.
var nonFixableHints = []string{
	"authentication",
	"permission denied",
	"unauthorized",
	"executable file not found",
	"command not found",
	"signal: killed",
	"signal: terminated",
}

func isNonFixable(err error) bool {
	if err == nil {
		return false
	}
	// Verification and validation exhaustion are final verdicts, not
	// conditions an agent call can repair.
	var verErr *VerificationError
	if errors.As(err, &verErr) {
		return true
	}
	var valErr *specdoc.ValidationFailure
	if errors.As(err, &valErr) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, hint := range nonFixableHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

// withAutoFix runs a phase and, on genuine failure, asks the agent to repair
// the working tree before re-invoking the phase. Success and suspension pass
// through untouched so the happy path pays nothing. Every fix attempt is
// returned as a history entry whether it worked or not.
func (e *Engine) withAutoFix(ctx context.Context, phase string, st *state.RunState, fn func(ctx context.Context) PhaseResult) (PhaseResult, []state.FixHistoryEntry) {
	res := fn(ctx)
	if !res.IsFail() {
		return res, nil
	}

	maxAttempts := e.MaxFixAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxFixAttempts
	}

	var history []state.FixHistoryEntry
	originalErr := res.Err()
	lastErr := originalErr
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if isNonFixable(lastErr) {
			break
		}
		entry := state.FixHistoryEntry{
			Attempt:      attempt,
			Subject:      phase,
			ErrorSummary: summarize(lastErr.Error()),
			Signature:    retry.Signature(phase, lastErr.Error()),
			StartedAt:    time.Now().UTC(),
		}
		e.Progress.append(map[string]any{
			"event":     "fix_attempt",
			"phase":     phase,
			"attempt":   attempt,
			"error":     entry.ErrorSummary,
			"signature": entry.Signature,
		})

		reply, err := e.Agent.Execute(ctx, buildFixPrompt(phase, lastErr, st.WorkDir()), agent.Options{Cwd: st.WorkDir()})
		if err != nil {
			entry.Outcome = state.FixOutcomeFailed
			history = append(history, entry)
			lastErr = err
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(reply.Text), unfixablePrefix) {
			entry.Outcome = state.FixOutcomeUnfixable
			history = append(history, entry)
			return Fail(originalErr), history
		}

		res = fn(ctx)
		if !res.IsFail() {
			entry.Outcome = state.FixOutcomeFixed
			history = append(history, entry)
			return res, history
		}
		entry.Outcome = state.FixOutcomeFailed
		history = append(history, entry)
		lastErr = res.Err()
	}
	return Fail(lastErr), history
}

func buildFixPrompt(phase string, err error, workDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s phase failed in %s with this error:\n\n%s\n\n", phase, workDir, err.Error())
	b.WriteString("Investigate and fix the underlying problem in the working directory. ")
	b.WriteString("If this error is not something you can address by changing files here, ")
	b.WriteString("respond with exactly the prefix " + unfixablePrefix + " followed by a short reason, and change nothing.")
	return b.String()
}

// summarize keeps fix-history entries readable: first line, bounded length.
func summarize(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 300
	if len(text) > max {
		text = text[:max]
	}
	return text
}
