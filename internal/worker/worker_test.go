package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/checkpoint"
	"github.com/stagehand-dev/stagehand/internal/ci"
	"github.com/stagehand-dev/stagehand/internal/engine"
	"github.com/stagehand-dev/stagehand/internal/gitutil"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/runstore"
	"github.com/stagehand-dev/stagehand/internal/state"
)

type stubGit struct {
	mu          sync.Mutex
	verifyCalls int
}

func (g *stubGit) HasRemote(dir string) bool                    { return false }
func (g *stubGit) DefaultBranch(dir string) (string, error)     { return "main", nil }
func (g *stubGit) CurrentBranch(dir string) (string, error)     { return "feature/x", nil }
func (g *stubGit) IsClean(dir string) (bool, error)             { return true, nil }
func (g *stubGit) FetchBranch(dir, remote, branch string) error { return nil }
func (g *stubGit) PushBranch(dir, remote, branch string) error  { return nil }

func (g *stubGit) HeadSHA(dir string) (string, error) {
	return "4444444444444444444444444444444444444444", nil
}

func (g *stubGit) CommitAll(dir, message string) (string, error) {
	return "5555555555555555555555555555555555555555", nil
}
func (g *stubGit) VerifyMerge(dir, featureBranch, baseBranch string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	return true, nil
}
func (g *stubGit) GetDiffSummary(dir, baseBranch string) (gitutil.DiffSummary, error) {
	return gitutil.DiffSummary{BaseBranch: baseBranch, FilesChanged: 1, Commits: 1}, nil
}
func (g *stubGit) RemoveWorktree(repoDir, worktreeDir string) error { return nil }

// stubWorkspace records branch/worktree preparation instead of running git.
type stubWorkspace struct {
	mu        sync.Mutex
	current   string
	dirty     bool
	branches  []string
	checkouts []string
	worktrees []string
}

func (w *stubWorkspace) IsRepo(dir string) bool { return true }

func (w *stubWorkspace) IsClean(dir string) (bool, error) { return !w.dirty, nil }

func (w *stubWorkspace) CurrentBranch(dir string) (string, error) {
	if w.current == "" {
		return "main", nil
	}
	return w.current, nil
}

func (w *stubWorkspace) CreateBranchAt(dir, branch, baseSHA string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.branches = append(w.branches, branch)
	return nil
}

func (w *stubWorkspace) CheckoutBranch(dir, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkouts = append(w.checkouts, branch)
	return nil
}

func (w *stubWorkspace) AddWorktree(repoDir, worktreeDir, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.worktrees = append(w.worktrees, worktreeDir)
	return nil
}

func newTestWorker(t *testing.T, exec agent.Executor) (*Worker, *runstore.FileRepository) {
	t.Helper()
	repo, err := runstore.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng := &engine.Engine{
		Agent:       exec,
		Checkpoints: checkpoint.NewMemoryStore(),
		Git:         &stubGit{},
		Watch:       ci.WatchConfig{PollInterval: time.Millisecond, Timeout: time.Second},
		Retry:       retry.Options{MaxAttempts: 1},
		SleepFn:     func(ctx context.Context, d time.Duration) error { return nil },
	}
	return &Worker{Runs: repo, Engine: eng, Git: &stubWorkspace{}, PID: 777}, repo
}

func writeArtifactResponse(t *testing.T, specDir, name, content string) agent.ScriptedResponse {
	t.Helper()
	return agent.ScriptedResponse{Fn: func(prompt string, opts agent.Options) (string, error) {
		if err := os.WriteFile(filepath.Join(specDir, name), []byte(content), 0o644); err != nil {
			return "", err
		}
		return "wrote " + name, nil
	}}
}

func fullResponses(t *testing.T, specDir string) []agent.ScriptedResponse {
	t.Helper()
	return []agent.ScriptedResponse{
		{Text: "analysis complete"},
		writeArtifactResponse(t, specDir, "requirements.json", `{"feature":"f","requirements":[{"id":"R1","title":"t"}]}`),
		writeArtifactResponse(t, specDir, "research.json", `{"feature":"f","findings":[{"topic":"a","summary":"b"}]}`),
		writeArtifactResponse(t, specDir, "plan.json", `{"feature":"f","steps":[{"id":"S1","title":"t"}]}`),
		writeArtifactResponse(t, specDir, "tasks.json", `{"tasks":[{"id":"T1","title":"t","status":"done"}]}`),
		{Text: "committed 3b1f2a9c4d5e6f708192a3b4c5d6e7f8091a2b3c"},
		{Text: "merged"},
	}
}

func testInput(t *testing.T) Input {
	t.Helper()
	return Input{
		FeatureID:      "feat-login",
		RunID:          "run-1",
		RepositoryPath: t.TempDir(),
		SpecDir:        t.TempDir(),
	}
}

func TestFreshRunCompletes(t *testing.T) {
	in := testInput(t)
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)[:6]}
	w, repo := newTestWorker(t, exec)

	out, err := w.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Suspended || out.Empty {
		t.Fatalf("outcome = %+v", out)
	}
	run, found, err := repo.FindByID(context.Background(), "run-1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if run.Status != runstore.StatusCompleted {
		t.Fatalf("status = %q", run.Status)
	}
	if run.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	if run.PID != 777 {
		t.Fatalf("pid = %d", run.PID)
	}
}

func TestMissingInputFields(t *testing.T) {
	w, _ := newTestWorker(t, &agent.ScriptedExecutor{})
	_, err := w.Run(context.Background(), Input{FeatureID: "f"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGatedRunWaitsThenResumes(t *testing.T) {
	in := testInput(t)
	in.ApprovalGates = &state.ApprovalGateConfig{AllowPrd: false, AllowPlan: true, AllowMerge: true}
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)}
	w, repo := newTestWorker(t, exec)
	ctx := context.Background()

	out, err := w.Run(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Suspended || out.Suspension.Phase != state.PhaseRequirements {
		t.Fatalf("outcome = %+v", out)
	}
	run, _, _ := repo.FindByID(ctx, "run-1")
	if run.Status != runstore.StatusWaitingApproval {
		t.Fatalf("status = %q", run.Status)
	}

	resume := in
	resume.ResumeFromInterrupt = true
	resume.Approved = true
	out, err = w.Run(ctx, resume)
	if err != nil {
		t.Fatal(err)
	}
	if out.Suspended {
		t.Fatalf("still suspended: %+v", out.Suspension)
	}
	run, _, _ = repo.FindByID(ctx, "run-1")
	if run.Status != runstore.StatusCompleted {
		t.Fatalf("status = %q", run.Status)
	}
}

func TestFailureRecordsVerbatimError(t *testing.T) {
	in := testInput(t)
	agentErr := errors.New("exit status 1")
	exec := &agent.ScriptedExecutor{Responses: []agent.ScriptedResponse{
		{Err: agentErr},
		{Text: "UNFIXABLE: repository is empty"},
	}}
	w, repo := newTestWorker(t, exec)

	_, err := w.Run(context.Background(), in)
	if err != agentErr {
		t.Fatalf("error identity lost: %v", err)
	}
	run, _, _ := repo.FindByID(context.Background(), "run-1")
	if run.Status != runstore.StatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
	if run.Error != agentErr.Error() {
		t.Fatalf("error = %q", run.Error)
	}
	if run.CompletedAt == nil {
		t.Fatal("completedAt not set on failure")
	}
}

func TestResumeUnknownThreadNeverCompletes(t *testing.T) {
	in := testInput(t)
	in.ResumeFromInterrupt = true
	in.Approved = true
	in.ThreadID = "thread-B"
	w, repo := newTestWorker(t, &agent.ScriptedExecutor{})

	out, err := w.Run(context.Background(), in)
	if err == nil {
		t.Fatal("expected an error for a resume with no checkpoint")
	}
	if !out.Empty {
		t.Fatalf("outcome = %+v", out)
	}
	run, _, _ := repo.FindByID(context.Background(), "run-1")
	if run.Status == runstore.StatusCompleted {
		t.Fatal("phantom resume marked the run completed")
	}
	if run.Status != runstore.StatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
}

func TestWorkspaceCheckedOutOntoFeatureBranch(t *testing.T) {
	in := testInput(t)
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)[:6]}
	w, _ := newTestWorker(t, exec)
	ws := w.Git.(*stubWorkspace)

	if _, err := w.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if len(ws.branches) != 1 || ws.branches[0] != "feature/feat-login" {
		t.Fatalf("branches = %v", ws.branches)
	}
	if len(ws.checkouts) != 1 || ws.checkouts[0] != "feature/feat-login" {
		t.Fatalf("checkouts = %v", ws.checkouts)
	}
	if len(ws.worktrees) != 0 {
		t.Fatalf("worktrees = %v", ws.worktrees)
	}
}

func TestWorktreeAllocatedWhenRequested(t *testing.T) {
	in := testInput(t)
	in.WorkTreePath = filepath.Join(t.TempDir(), "wt")
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)[:6]}
	w, _ := newTestWorker(t, exec)
	ws := w.Git.(*stubWorkspace)

	if _, err := w.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if len(ws.branches) != 1 || ws.branches[0] != "feature/feat-login" {
		t.Fatalf("branches = %v", ws.branches)
	}
	if len(ws.worktrees) != 1 || ws.worktrees[0] != in.WorkTreePath {
		t.Fatalf("worktrees = %v", ws.worktrees)
	}
	if len(ws.checkouts) != 0 {
		t.Fatalf("checkouts = %v", ws.checkouts)
	}
}

func TestDirtyTreeRefusedWithoutWorktree(t *testing.T) {
	in := testInput(t)
	w, repo := newTestWorker(t, &agent.ScriptedExecutor{})
	w.Git.(*stubWorkspace).dirty = true

	_, err := w.Run(context.Background(), in)
	if err == nil || !strings.Contains(err.Error(), "uncommitted changes") {
		t.Fatalf("err = %v", err)
	}
	run, _, _ := repo.FindByID(context.Background(), "run-1")
	if run.Status != runstore.StatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
}

func TestResumeSkipsWorkspacePreparation(t *testing.T) {
	in := testInput(t)
	in.ApprovalGates = &state.ApprovalGateConfig{AllowPrd: false, AllowPlan: true, AllowMerge: true}
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)}
	w, _ := newTestWorker(t, exec)
	ws := w.Git.(*stubWorkspace)
	ctx := context.Background()

	if _, err := w.Run(ctx, in); err != nil {
		t.Fatal(err)
	}
	prepared := len(ws.branches)

	resume := in
	resume.ResumeFromInterrupt = true
	resume.Approved = true
	if _, err := w.Run(ctx, resume); err != nil {
		t.Fatal(err)
	}
	if len(ws.branches) != prepared {
		t.Fatalf("resume re-prepared the workspace: %v", ws.branches)
	}
}

func TestFreshRunDiscardsSuspendedCheckpoint(t *testing.T) {
	in := testInput(t)
	in.ApprovalGates = &state.ApprovalGateConfig{AllowPrd: false, AllowPlan: true, AllowMerge: true}
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)}
	w, repo := newTestWorker(t, exec)
	ctx := context.Background()

	out, err := w.Run(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Suspended {
		t.Fatalf("outcome = %+v", out)
	}

	fresh := in
	fresh.Fresh = true
	out, err = w.Run(ctx, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if out.Suspended || out.Empty {
		t.Fatalf("outcome = %+v", out)
	}
	run, _, _ := repo.FindByID(ctx, "run-1")
	if run.Status != runstore.StatusCompleted {
		t.Fatalf("status = %q", run.Status)
	}
	cp, found, err := w.Engine.Checkpoints.Get("run-1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if cp.Suspended || cp.NextPhase != "" {
		t.Fatalf("checkpoint not terminal: %+v", cp)
	}
}

func TestFreshConflictsWithResume(t *testing.T) {
	in := testInput(t)
	in.Fresh = true
	in.ResumeFromInterrupt = true
	w, _ := newTestWorker(t, &agent.ScriptedExecutor{})
	if _, err := w.Run(context.Background(), in); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestThreadIDDefaultsToRunID(t *testing.T) {
	in := testInput(t)
	in.ApprovalGates = &state.ApprovalGateConfig{AllowPrd: false, AllowPlan: true, AllowMerge: true}
	exec := &agent.ScriptedExecutor{Responses: fullResponses(t, in.SpecDir)}
	w, _ := newTestWorker(t, exec)
	ctx := context.Background()

	if _, err := w.Run(ctx, in); err != nil {
		t.Fatal(err)
	}
	// The suspension checkpoint is keyed by the run id.
	cp, found, err := w.Engine.Checkpoints.Get("run-1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if !cp.Suspended || cp.SuspendedAt != state.PhaseRequirements {
		t.Fatalf("checkpoint = %+v", cp)
	}
}
