// Package worker bridges a persisted run record to the engine: one worker
// process executes one run, marking the record through
// running/waiting_approval/completed/failed as the engine progresses.
package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/internal/engine"
	"github.com/stagehand-dev/stagehand/internal/gitutil"
	"github.com/stagehand-dev/stagehand/internal/runstore"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// Input is the worker's invocation shape, decoded from flags or the run
// config file.
type Input struct {
	FeatureID      string `json:"featureId" yaml:"featureId"`
	RunID          string `json:"runId" yaml:"runId"`
	RepositoryPath string `json:"repositoryPath" yaml:"repositoryPath"`
	SpecDir        string `json:"specDir" yaml:"specDir"`
	WorkTreePath   string `json:"workTreePath,omitempty" yaml:"workTreePath"`

	ApprovalGates *state.ApprovalGateConfig `json:"approvalGates,omitempty" yaml:"approvalGates"`
	Push          bool                      `json:"push,omitempty" yaml:"push"`
	OpenPR        bool                      `json:"openPr,omitempty" yaml:"openPr"`

	// ThreadID scopes the checkpoint; empty falls back to RunID.
	ThreadID string `json:"threadId,omitempty" yaml:"threadId"`

	// Fresh discards any prior checkpoint for the thread and starts over.
	Fresh bool `json:"fresh,omitempty" yaml:"fresh"`
	// Resume continues after a crash: same checkpoint, plain state, no
	// human decision involved.
	Resume bool `json:"resume,omitempty" yaml:"resume"`
	// ResumeFromInterrupt continues after a suspension and carries the
	// human decision. A distinct operation from Resume against the same
	// checkpoint.
	ResumeFromInterrupt bool   `json:"resumeFromInterrupt,omitempty" yaml:"resumeFromInterrupt"`
	Approved            bool   `json:"approved,omitempty" yaml:"approved"`
	Feedback            string `json:"feedback,omitempty" yaml:"feedback"`
}

func (in *Input) validate() error {
	var missing []string
	if in.FeatureID == "" {
		missing = append(missing, "featureId")
	}
	if in.RunID == "" {
		missing = append(missing, "runId")
	}
	if in.RepositoryPath == "" {
		missing = append(missing, "repositoryPath")
	}
	if in.SpecDir == "" {
		missing = append(missing, "specDir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("worker input missing %s", strings.Join(missing, ", "))
	}
	if in.Fresh && (in.Resume || in.ResumeFromInterrupt) {
		return fmt.Errorf("fresh conflicts with resume")
	}
	return nil
}

// WorkspaceGit prepares the branch and working tree a run executes in.
// Production use shells out via gitutil; tests script it.
type WorkspaceGit interface {
	IsRepo(dir string) bool
	IsClean(dir string) (bool, error)
	CurrentBranch(dir string) (string, error)
	CreateBranchAt(dir, branch, baseSHA string) error
	CheckoutBranch(dir, branch string) error
	AddWorktree(repoDir, worktreeDir, branch string) error
}

// SystemWorkspace delegates to the local git installation.
type SystemWorkspace struct{}

func (SystemWorkspace) IsRepo(dir string) bool { return gitutil.IsRepo(dir) }
func (SystemWorkspace) IsClean(dir string) (bool, error) {
	return gitutil.IsClean(dir)
}
func (SystemWorkspace) CurrentBranch(dir string) (string, error) {
	return gitutil.CurrentBranch(dir)
}
func (SystemWorkspace) CreateBranchAt(dir, branch, baseSHA string) error {
	return gitutil.CreateBranchAt(dir, branch, baseSHA)
}
func (SystemWorkspace) CheckoutBranch(dir, branch string) error {
	return gitutil.CheckoutBranch(dir, branch)
}
func (SystemWorkspace) AddWorktree(repoDir, worktreeDir, branch string) error {
	return gitutil.AddWorktree(repoDir, worktreeDir, branch)
}

// Worker executes one run against the engine and keeps the run record
// current.
type Worker struct {
	Runs   runstore.Repository
	Engine *engine.Engine

	// Git allocates the feature branch and worktree for fresh runs; nil
	// skips workspace preparation (the caller manages branches itself).
	Git WorkspaceGit

	// PID recorded on the running run; defaults to this process.
	PID int
}

// prepareWorkspace puts a fresh run onto its own feature branch: a dedicated
// worktree when one was requested, an in-place checkout otherwise. Called
// only when no checkpoint exists for the thread, so resumed runs keep the
// branch they started on.
func (w *Worker) prepareWorkspace(in Input) error {
	if !w.Git.IsRepo(in.RepositoryPath) {
		return fmt.Errorf("%s is not a git repository", in.RepositoryPath)
	}
	branch := "feature/" + in.FeatureID

	if in.WorkTreePath != "" {
		if _, err := os.Stat(in.WorkTreePath); err == nil {
			return nil
		}
		if err := w.Git.CreateBranchAt(in.RepositoryPath, branch, "HEAD"); err != nil {
			return fmt.Errorf("create branch %s: %w", branch, err)
		}
		if err := w.Git.AddWorktree(in.RepositoryPath, in.WorkTreePath, branch); err != nil {
			return fmt.Errorf("add worktree %s: %w", in.WorkTreePath, err)
		}
		return nil
	}

	current, err := w.Git.CurrentBranch(in.RepositoryPath)
	if err != nil {
		return err
	}
	if current == branch {
		return nil
	}
	clean, err := w.Git.IsClean(in.RepositoryPath)
	if err != nil {
		return err
	}
	if !clean {
		return fmt.Errorf("working tree at %s has uncommitted changes; commit or stash them, or run with a worktree", in.RepositoryPath)
	}
	if err := w.Git.CreateBranchAt(in.RepositoryPath, branch, "HEAD"); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return w.Git.CheckoutBranch(in.RepositoryPath, branch)
}

func (w *Worker) pid() int {
	if w.PID != 0 {
		return w.PID
	}
	return os.Getpid()
}

// Run resolves the run record, marks it running, drives the engine, and maps
// the outcome onto the record's status.
func (w *Worker) Run(ctx context.Context, in Input) (engine.Outcome, error) {
	if err := in.validate(); err != nil {
		return engine.Outcome{}, err
	}

	threadID := in.ThreadID
	if threadID == "" {
		threadID = in.RunID
	}

	if _, found, err := w.Runs.FindByID(ctx, in.RunID); err != nil {
		return engine.Outcome{}, err
	} else if !found {
		err := w.Runs.Create(ctx, runstore.Run{
			ID:             in.RunID,
			FeatureID:      in.FeatureID,
			ThreadID:       threadID,
			RepositoryPath: in.RepositoryPath,
			SpecDir:        in.SpecDir,
			WorkTreePath:   in.WorkTreePath,
			Gates:          in.ApprovalGates,
			Push:           in.Push,
			OpenPR:         in.OpenPR,
			Status:         runstore.StatusRunning,
		})
		if err != nil {
			return engine.Outcome{}, err
		}
	}

	pid := w.pid()
	if err := w.Runs.UpdateStatus(ctx, in.RunID, runstore.StatusRunning, runstore.Patch{PID: &pid}); err != nil {
		return engine.Outcome{}, err
	}

	var out engine.Outcome
	var runErr error
	if in.ResumeFromInterrupt {
		out, runErr = w.Engine.Resume(ctx, engine.ResumeCommand{
			Approved: in.Approved,
			Feedback: in.Feedback,
		}, threadID)
	} else {
		// New starts and crash-resumes share this path: the engine picks
		// up an existing checkpoint for the thread, and the state here
		// carries no prior error.
		if w.Git != nil && !in.Resume {
			_, found, err := w.Engine.Checkpoints.Get(threadID)
			if err != nil {
				runErr = err
			} else if !found || in.Fresh {
				runErr = w.prepareWorkspace(in)
			}
		}
		if runErr == nil {
			initial := state.RunState{
				FeatureID:    in.FeatureID,
				RepoPath:     in.RepositoryPath,
				WorkTreePath: in.WorkTreePath,
				SpecDir:      in.SpecDir,
				Gates:        in.ApprovalGates,
				Push:         in.Push,
				OpenPR:       in.OpenPR,
			}
			if in.Fresh {
				out, runErr = w.Engine.InvokeFresh(ctx, initial, threadID)
			} else {
				out, runErr = w.Engine.Invoke(ctx, initial, threadID)
			}
		}
	}

	now := time.Now().UTC()
	switch {
	case runErr != nil:
		// The original error text, verbatim, lands on the record.
		errText := runErr.Error()
		if err := w.Runs.UpdateStatus(ctx, in.RunID, runstore.StatusFailed, runstore.Patch{
			Error:       &errText,
			PR:          out.State.PR,
			CompletedAt: &now,
		}); err != nil {
			return out, err
		}
		return out, runErr

	case out.Empty:
		// A resume against a thread that never checkpointed must never be
		// reported as a completed run.
		errText := fmt.Sprintf("resume requested but no checkpoint exists for thread %s", threadID)
		if err := w.Runs.UpdateStatus(ctx, in.RunID, runstore.StatusFailed, runstore.Patch{
			Error:       &errText,
			CompletedAt: &now,
		}); err != nil {
			return out, err
		}
		return out, fmt.Errorf("%s", errText)

	case out.Suspended:
		return out, w.Runs.UpdateStatus(ctx, in.RunID, runstore.StatusWaitingApproval, runstore.Patch{
			PR: out.State.PR,
		})

	default:
		return out, w.Runs.UpdateStatus(ctx, in.RunID, runstore.StatusCompleted, runstore.Patch{
			PR:          out.State.PR,
			CompletedAt: &now,
		})
	}
}
