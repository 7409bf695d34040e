package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/checkpoint"
	"github.com/stagehand-dev/stagehand/internal/ci"
	"github.com/stagehand-dev/stagehand/internal/engine"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/runstore"
	"github.com/stagehand-dev/stagehand/internal/state"
	"github.com/stagehand-dev/stagehand/internal/worker"
)

var workerInput worker.Input

var (
	gateAllowPrd   bool
	gateAllowPlan  bool
	gateAllowMerge bool
	gatesSet       bool
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)

	f := workerRunCmd.Flags()
	f.StringVar(&workerInput.FeatureID, "feature-id", "", "feature identifier (required)")
	f.StringVar(&workerInput.RunID, "run-id", "", "run identifier (generated when omitted)")
	f.StringVar(&workerInput.RepositoryPath, "repo", "", "path to the git repository (required)")
	f.StringVar(&workerInput.SpecDir, "spec-dir", "", "spec directory for this feature (required)")
	f.StringVar(&workerInput.WorkTreePath, "worktree", "", "isolated working tree (defaults to the repository itself)")
	f.StringVar(&workerInput.ThreadID, "thread-id", "", "checkpoint thread identity (defaults to the run id)")
	f.BoolVar(&workerInput.Push, "push", false, "push the feature branch when a remote exists")
	f.BoolVar(&workerInput.OpenPR, "open-pr", false, "open a pull request when a remote exists")
	f.BoolVar(&workerInput.Fresh, "fresh", false, "discard any prior checkpoint for this thread and start over")
	f.BoolVar(&workerInput.Resume, "resume", false, "continue after a crash from the last checkpoint")
	f.BoolVar(&workerInput.ResumeFromInterrupt, "resume-from-interrupt", false, "continue after an approval suspension")
	f.BoolVar(&workerInput.Approved, "approved", false, "approval decision for --resume-from-interrupt")
	f.StringVar(&workerInput.Feedback, "feedback", "", "reviewer feedback recorded on the run log")
	f.BoolVar(&gateAllowPrd, "allow-prd", false, "do not pause for PRD approval")
	f.BoolVar(&gateAllowPlan, "allow-plan", false, "do not pause for plan approval")
	f.BoolVar(&gateAllowMerge, "allow-merge", false, "do not pause for merge approval")
	f.BoolVar(&gatesSet, "gated", false, "enable approval gates (absent gates never merge)")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker-process operations",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one feature run",
	Long: `Execute one feature run against the configured coding agent.

Examples:
  # Fully autonomous run (no gates: the feature ends in review, never merged)
  stagehand worker run --feature-id login --repo . --spec-dir ./specs/login

  # Gated run that may merge once a human approves
  stagehand worker run --feature-id login --repo . --spec-dir ./specs/login --gated --allow-prd --allow-plan

  # Release a waiting approval gate
  stagehand worker run --feature-id login --repo . --spec-dir ./specs/login \
    --run-id 01J9... --resume-from-interrupt --approved`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := workerInput
	if in.RunID == "" {
		in.RunID = ulid.Make().String()
	}
	if gatesSet {
		in.ApprovalGates = &state.ApprovalGateConfig{
			AllowPrd:   gateAllowPrd,
			AllowPlan:  gateAllowPlan,
			AllowMerge: gateAllowMerge,
		}
	}

	runs, cleanup, err := openRunRepository(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	checkpoints, err := checkpoint.NewFileStore(cfg.CheckpointsDir)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	progress, err := engine.NewProgress(filepath.Join(cfg.LogsDir, in.RunID))
	if err != nil {
		return fmt.Errorf("open logs dir: %w", err)
	}

	var ciSvc ci.Service
	if cfg.GitHub != nil {
		ciSvc, err = ci.NewGitHubService(cmd.Context(), *cfg.GitHub)
		if err != nil {
			return err
		}
	}

	eng := &engine.Engine{
		Agent: &agent.CLIExecutor{
			Command:  cfg.Agent.Command,
			BaseArgs: cfg.Agent.BaseArgs,
		},
		Checkpoints: checkpoints,
		Git:         engine.SystemGit{},
		CI:          ciSvc,
		Watch:       cfg.watchConfig(),
		Retry: retry.Options{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelaySeconds) * time.Second,
		},
		MaxFixAttempts:    cfg.MaxFixAttempts,
		MaxRepairAttempts: cfg.MaxRepairAttempts,
		Progress:          progress,
	}

	w := &worker.Worker{Runs: runs, Engine: eng, Git: worker.SystemWorkspace{}}
	out, err := w.Run(cmd.Context(), in)
	if err != nil {
		return err
	}
	if out.Suspended {
		payload, _ := json.MarshalIndent(out.Suspension, "", "  ")
		fmt.Fprintf(os.Stdout, "run %s waiting for approval at %s\n%s\n", in.RunID, out.Suspension.Phase, payload)
		return nil
	}
	fmt.Fprintf(os.Stdout, "run %s completed (phase %s)\n", in.RunID, out.State.CurrentPhase)
	return nil
}

func openRunRepository(cmd *cobra.Command, cfg Config) (runstore.Repository, func(), error) {
	if cfg.Postgres != "" {
		repo, err := runstore.NewPGRepository(cmd.Context(), cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
	repo, err := runstore.NewFileRepository(cfg.RunsDir)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() {}, nil
}
