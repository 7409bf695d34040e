package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/ci"
	"github.com/stagehand-dev/stagehand/internal/gitutil"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// GitOps is the slice of git the merge driver needs. The production
// implementation shells out via gitutil; tests script it.
type GitOps interface {
	HasRemote(dir string) bool
	DefaultBranch(dir string) (string, error)
	CurrentBranch(dir string) (string, error)
	IsClean(dir string) (bool, error)
	HeadSHA(dir string) (string, error)
	CommitAll(dir, message string) (string, error)
	VerifyMerge(dir, featureBranch, baseBranch string) (bool, error)
	GetDiffSummary(dir, baseBranch string) (gitutil.DiffSummary, error)
	FetchBranch(dir, remote, branch string) error
	PushBranch(dir, remote, branch string) error
	RemoveWorktree(repoDir, worktreeDir string) error
}

// SystemGit delegates to the local git installation.
type SystemGit struct{}

func (SystemGit) HasRemote(dir string) bool { return gitutil.HasRemote(dir) }
func (SystemGit) DefaultBranch(dir string) (string, error) {
	return gitutil.DefaultBranch(dir)
}
func (SystemGit) CurrentBranch(dir string) (string, error) {
	return gitutil.CurrentBranch(dir)
}
func (SystemGit) IsClean(dir string) (bool, error) {
	return gitutil.IsClean(dir)
}
func (SystemGit) HeadSHA(dir string) (string, error) {
	return gitutil.HeadSHA(dir)
}
func (SystemGit) CommitAll(dir, message string) (string, error) {
	return gitutil.CommitAll(dir, message)
}
func (SystemGit) PushBranch(dir, remote, branch string) error {
	return gitutil.PushBranch(dir, remote, branch)
}
func (SystemGit) VerifyMerge(dir, featureBranch, baseBranch string) (bool, error) {
	return gitutil.VerifyMerge(dir, featureBranch, baseBranch)
}
func (SystemGit) GetDiffSummary(dir, baseBranch string) (gitutil.DiffSummary, error) {
	return gitutil.GetDiffSummary(dir, baseBranch)
}
func (SystemGit) FetchBranch(dir, remote, branch string) error {
	return gitutil.FetchBranch(dir, remote, branch)
}
func (SystemGit) RemoveWorktree(repoDir, worktreeDir string) error {
	return gitutil.RemoveWorktree(repoDir, worktreeDir)
}

// VerificationError is the fatal, never-downgraded failure raised when a
// merge was reported but the feature branch is not an ancestor of the base.
type VerificationError struct {
	FeatureBranch string
	BaseBranch    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("merge verification failed: %s is not an ancestor of %s", e.FeatureBranch, e.BaseBranch)
}

// runMerge drives the merge phase. approved is true only when re-entering
// after a human released the merge gate; commit/push/PR work then happened
// before the suspension and is not repeated.
func (e *Engine) runMerge(ctx context.Context, st *state.RunState, approved bool) PhaseResult {
	workDir := st.WorkDir()
	hasRemote := e.Git.HasRemote(workDir)

	// Without a remote neither pushing nor opening a PR is possible,
	// whatever the caller asked.
	push := st.Push && hasRemote
	openPR := st.OpenPR && hasRemote

	baseBranch, err := e.Git.DefaultBranch(workDir)
	if err != nil {
		return Fail(err)
	}
	featureBranch, err := e.Git.CurrentBranch(workDir)
	if err != nil {
		return Fail(err)
	}

	var delta state.Delta
	if !approved {
		pr, logs, err := e.commitAndPublish(ctx, st, push, openPR)
		delta.Logs = append(delta.Logs, logs...)
		if pr != nil {
			delta.PR = pr
		}
		if err != nil {
			return failWithDelta(delta, err)
		}

		if st.Gates == nil {
			// Absent gate configuration is never implicit approval: no
			// merge attempt, the feature lands in review.
			if err := state.SetLifecycle(st.SpecDir, state.LifecycleReview); err != nil {
				return Fail(err)
			}
			delta.Logs = append(delta.Logs, "merge: no approval gates configured, feature left in review")
			return Continue(delta)
		}

		if state.ShouldInterrupt(state.PhaseMerge, st.Gates) {
			summary, err := e.Git.GetDiffSummary(workDir, baseBranch)
			if err != nil {
				return Fail(err)
			}
			e.Progress.append(map[string]any{
				"event":         "merge_gate",
				"base_branch":   baseBranch,
				"files_changed": summary.FilesChanged,
				"commits":       summary.Commits,
			})
			return SuspendWith(delta, SuspendPayload{
				Phase:       state.PhaseMerge,
				Message:     "merge awaiting approval",
				DiffSummary: &summary,
			})
		}
	}

	pr := st.PR
	if delta.PR != nil {
		pr = delta.PR
	}

	mergeLogs, err := e.performMerge(ctx, st, pr, hasRemote, featureBranch, baseBranch)
	delta.Logs = append(delta.Logs, mergeLogs...)
	if err != nil {
		return failWithDelta(delta, err)
	}

	// On the local merge path the base branch only advanced here; push it
	// when the caller asked. A failed push never undoes a verified merge.
	if push && (pr == nil || (pr.URL == "" && pr.Number == 0)) {
		if err := e.Git.PushBranch(workDir, "origin", baseBranch); err != nil {
			delta.Logs = append(delta.Logs, "merge: push of merged "+baseBranch+" failed: "+err.Error())
		} else {
			delta.Logs = append(delta.Logs, "merge: pushed merged "+baseBranch)
		}
	}

	// Lifecycle first, durably; cleanup strictly after.
	if err := state.SetLifecycle(st.SpecDir, state.LifecycleMerged); err != nil {
		return failWithDelta(delta, err)
	}
	if st.WorkTreePath != "" {
		if err := e.Git.RemoveWorktree(st.RepoPath, st.WorkTreePath); err != nil {
			delta.Logs = append(delta.Logs, "merge: worktree cleanup failed: "+err.Error())
		}
	}
	delta.Logs = append(delta.Logs, fmt.Sprintf("merge: %s verified as merged into %s", featureBranch, baseBranch))
	return Continue(delta)
}

// commitAndPublish is agent call #1: commit pending work, conditionally push
// and open a PR, then parse the commit hash and PR reference from the
// agent's free text. A PR also triggers the CI watch-and-fix loop.
func (e *Engine) commitAndPublish(ctx context.Context, st *state.RunState, push, openPR bool) (*state.PRRecord, []string, error) {
	reply, err := e.callAgent(ctx, buildCommitPrompt(st, push, openPR), agent.Options{Cwd: st.WorkDir()})
	if err != nil {
		return nil, nil, err
	}

	var logs []string
	pr := &state.PRRecord{CommitSHA: ParseCommitHash(reply.Text)}
	if pr.CommitSHA == "" {
		// The agent's word is not the record: commit whatever it left
		// uncommitted, otherwise record the HEAD it produced.
		clean, err := e.Git.IsClean(st.WorkDir())
		if err != nil {
			return pr, logs, err
		}
		if clean {
			sha, err := e.Git.HeadSHA(st.WorkDir())
			if err != nil {
				return pr, logs, err
			}
			pr.CommitSHA = sha
			logs = append(logs, "merge: no commit hash in agent output, recorded HEAD")
		} else {
			sha, err := e.Git.CommitAll(st.WorkDir(), fmt.Sprintf("%s: commit outstanding work", st.FeatureID))
			if err != nil {
				return pr, logs, err
			}
			pr.CommitSHA = sha
			logs = append(logs, "merge: agent left uncommitted changes, committed directly")
		}
	}
	if openPR {
		url, number := ParsePR(reply.Text)
		if url == "" && number == 0 {
			return nil, logs, fmt.Errorf("merge: PR requested but none found in agent output: %s", summarize(reply.Text))
		}
		pr.URL = url
		pr.Number = number
		logs = append(logs, fmt.Sprintf("merge: opened PR #%d", number))

		if e.CI != nil && number > 0 {
			entries, status, watchErr := e.watchCI(ctx, st.WorkDir(), number)
			pr.CIStatus = string(status)
			pr.CIFixAttempts = len(entries)
			pr.CIFixHistory = append(pr.CIFixHistory, entries...)
			if watchErr != nil {
				return pr, logs, watchErr
			}
			logs = append(logs, fmt.Sprintf("merge: CI %s after %d fix attempts", status, len(entries)))
		}
	}
	return pr, logs, nil
}

// performMerge is agent call #2 plus the mandatory verification: the agent
// merges via the platform PR operation or a local branch merge, and the
// driver then independently checks ancestry. The agent's word is never
// proof; this check runs on every path, the PR path included.
func (e *Engine) performMerge(ctx context.Context, st *state.RunState, pr *state.PRRecord, hasRemote bool, featureBranch, baseBranch string) ([]string, error) {
	_, err := e.callAgent(ctx, buildMergePrompt(st, pr, hasRemote, featureBranch, baseBranch), agent.Options{Cwd: st.WorkDir()})
	if err != nil {
		return nil, err
	}

	var logs []string
	if hasRemote && pr != nil && (pr.URL != "" || pr.Number > 0) {
		if err := e.Git.FetchBranch(st.WorkDir(), "origin", baseBranch); err != nil {
			logs = append(logs, "merge: fetch after PR merge failed: "+err.Error())
		}
	}
	merged, err := e.Git.VerifyMerge(st.WorkDir(), featureBranch, baseBranch)
	if err != nil {
		return logs, err
	}
	e.Progress.append(map[string]any{
		"event":          "merge_verified",
		"feature_branch": featureBranch,
		"base_branch":    baseBranch,
		"merged":         merged,
	})
	if !merged {
		return logs, &VerificationError{FeatureBranch: featureBranch, BaseBranch: baseBranch}
	}
	return logs, nil
}

// watchCI polls CI to a verdict, repairing bounded times. Each fix attempt
// becomes exactly one history entry, appended once its outcome is known.
func (e *Engine) watchCI(ctx context.Context, workDir string, prNumber int) ([]state.FixHistoryEntry, ci.Status, error) {
	watch := e.Watch
	watch.ApplyDefaults()
	deadline := time.Now().Add(watch.Timeout)

	var entries []state.FixHistoryEntry
	var open *state.FixHistoryEntry
	attempts := 0

	conclude := func(outcome state.FixOutcome) {
		if open != nil {
			open.Outcome = outcome
			entries = append(entries, *open)
			open = nil
		}
	}

	for {
		status, err := e.CI.CIStatus(ctx, prNumber)
		if err != nil {
			conclude(state.FixOutcomeFailed)
			return entries, "", err
		}
		e.Progress.append(map[string]any{
			"event":  "ci_status",
			"pr":     prNumber,
			"status": string(status),
		})
		switch status {
		case ci.StatusPassing, ci.StatusNone:
			conclude(state.FixOutcomeFixed)
			return entries, status, nil
		case ci.StatusFailing:
			conclude(state.FixOutcomeFailed)
			if attempts >= watch.MaxFixAttempts {
				return entries, status, fmt.Errorf("ci still failing after %d fix attempts", attempts)
			}
			attempts++
			logs, err := e.CI.FailureLogs(ctx, prNumber, watch.LogBudget)
			if err != nil {
				return entries, status, err
			}
			open = &state.FixHistoryEntry{
				Attempt:      attempts,
				Subject:      "ci",
				ErrorSummary: summarize(logs),
				Signature:    retry.Signature("ci", logs),
				StartedAt:    time.Now().UTC(),
			}
			if _, err := e.Agent.Execute(ctx, buildCIFixPrompt(logs), agent.Options{Cwd: workDir}); err != nil {
				conclude(state.FixOutcomeFailed)
				return entries, status, err
			}
		}

		if time.Now().After(deadline) {
			conclude(state.FixOutcomeFailed)
			return entries, status, fmt.Errorf("ci watch timed out after %s", watch.Timeout)
		}
		if err := e.sleep(ctx, watch.PollInterval); err != nil {
			conclude(state.FixOutcomeFailed)
			return entries, status, err
		}
	}
}

func buildCommitPrompt(st *state.RunState, push, openPR bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit all pending changes for feature %s with a descriptive message and report the commit hash.", st.FeatureID)
	if push {
		b.WriteString(" Push the current branch to origin.")
	}
	if openPR {
		b.WriteString(" Open a pull request against the default branch and report its URL.")
	}
	return b.String()
}

func buildMergePrompt(st *state.RunState, pr *state.PRRecord, hasRemote bool, featureBranch, baseBranch string) string {
	var b strings.Builder
	if pr != nil && (pr.URL != "" || pr.Number > 0) {
		if pr.URL != "" {
			fmt.Fprintf(&b, "Merge the pull request %s using the hosting platform's merge operation.", pr.URL)
		} else {
			fmt.Fprintf(&b, "Merge pull request #%d using the hosting platform's merge operation.", pr.Number)
		}
	} else {
		fmt.Fprintf(&b, "Merge branch %s into %s locally with a merge commit.", featureBranch, baseBranch)
	}
	if hasRemote {
		b.WriteString(" A remote is configured; make sure the merged base branch state is reflected locally afterwards.")
	} else {
		b.WriteString(" No remote is configured; everything happens on this machine.")
	}
	return b.String()
}

func buildCIFixPrompt(logs string) string {
	var b strings.Builder
	b.WriteString("CI is failing for the pull request you just worked on. Failure output:\n\n")
	b.WriteString(logs)
	b.WriteString("\n\nFix the cause in this working directory, commit, and push the fix to the PR branch.")
	return b.String()
}

func failWithDelta(d state.Delta, err error) PhaseResult {
	res := Fail(err)
	res.delta = d
	return res
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.SleepFn != nil {
		return e.SleepFn(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
