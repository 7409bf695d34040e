// Package engine sequences a feature traversal through its fixed lifecycle:
// analyze, requirements, research, plan, implement, merge, with a repair
// detour when spec validation fails. Suspension at approval gates is a
// result value; checkpoints make every pause and crash resumable.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/checkpoint"
	"github.com/stagehand-dev/stagehand/internal/ci"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// Engine executes one run at a time; concurrency across features comes from
// process isolation, never from shared engine state.
type Engine struct {
	Agent       agent.Executor
	Checkpoints checkpoint.Store
	Git         GitOps

	// CI may be nil when the repository runs no CI; the merge driver then
	// skips the watch loop.
	CI    ci.Service
	Watch ci.WatchConfig

	Retry             retry.Options
	MaxFixAttempts    int
	MaxRepairAttempts int

	Progress *Progress

	// SleepFn is swapped in tests to skip real CI poll waits.
	SleepFn func(ctx context.Context, d time.Duration) error
}

// Invoke starts a traversal for threadID, resuming automatically when a
// checkpoint for that thread identity already exists.
func (e *Engine) Invoke(ctx context.Context, initial state.RunState, threadID string) (Outcome, error) {
	cp, found, err := e.Checkpoints.Get(threadID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return e.runFrom(ctx, initial, threadID, state.PhaseAnalyze, false)
	}
	if cp.Suspended {
		// Still parked at a gate; only an explicit Resume moves it.
		return Outcome{
			State:      cp.State,
			Suspended:  true,
			Suspension: suspensionPayload(cp),
		}, nil
	}
	if cp.NextPhase == "" {
		return Outcome{State: cp.State}, nil
	}
	return e.runFrom(ctx, cp.State, threadID, cp.NextPhase, false)
}

// InvokeFresh discards any prior checkpoint for threadID and starts over.
func (e *Engine) InvokeFresh(ctx context.Context, initial state.RunState, threadID string) (Outcome, error) {
	if err := e.Checkpoints.Delete(threadID); err != nil {
		return Outcome{}, err
	}
	return e.runFrom(ctx, initial, threadID, state.PhaseAnalyze, false)
}

// Resume continues a suspended run with a human decision. A thread identity
// that never checkpointed yields an explicitly empty outcome, never a
// fabricated fresh run: callers read "no error, no suspension" as their own
// completion signal.
func (e *Engine) Resume(ctx context.Context, cmd ResumeCommand, threadID string) (Outcome, error) {
	cp, found, err := e.Checkpoints.Get(threadID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{Empty: true}, nil
	}

	st := cp.State
	if cmd.Feedback != "" {
		st.Logs = append(st.Logs, "feedback: "+cmd.Feedback)
	}

	if !cp.Suspended {
		if cp.NextPhase == "" {
			return Outcome{State: st}, nil
		}
		return e.runFrom(ctx, st, threadID, cp.NextPhase, false)
	}

	if !cmd.Approved {
		if cp.SuspendedAt == state.PhaseMerge {
			// A declined merge concludes in review; no merge, no cleanup.
			if err := state.SetLifecycle(st.SpecDir, state.LifecycleReview); err != nil {
				return Outcome{State: st}, err
			}
			st.Logs = append(st.Logs, "merge: approval declined, feature left in review")
			if err := e.saveCheckpoint(threadID, st, "", nil); err != nil {
				return Outcome{State: st}, err
			}
			return Outcome{State: st}, nil
		}
		// Declined PRD/plan gates stay suspended; the operator revises the
		// artifacts and resumes again. The original gate payload is kept.
		st.Logs = append(st.Logs, fmt.Sprintf("%s: approval declined, still waiting", cp.SuspendedAt))
		susp := suspensionPayload(cp)
		susp.Message = "approval declined"
		if err := e.saveCheckpoint(threadID, st, cp.NextPhase, susp); err != nil {
			return Outcome{State: st}, err
		}
		return Outcome{
			State:      st,
			Suspended:  true,
			Suspension: susp,
		}, nil
	}

	if cp.SuspendedAt == state.PhaseMerge {
		return e.runFrom(ctx, st, threadID, state.PhaseMerge, true)
	}
	return e.runFrom(ctx, st, threadID, cp.NextPhase, false)
}

func phaseIndex(phase string) int {
	for i, p := range state.Phases() {
		if p == phase {
			return i
		}
	}
	return -1
}

func (e *Engine) runFrom(ctx context.Context, st state.RunState, threadID, startPhase string, mergeApproved bool) (Outcome, error) {
	phases := state.Phases()
	start := phaseIndex(startPhase)
	if start < 0 {
		return Outcome{State: st}, fmt.Errorf("unknown phase %q", startPhase)
	}

	for i := start; i < len(phases); i++ {
		phase := phases[i]

		done, err := state.PhaseCompleted(st.SpecDir, phase)
		if err != nil {
			return Outcome{State: st}, err
		}
		if done {
			e.Progress.append(map[string]any{"event": "phase_skipped", "phase": phase})
			continue
		}

		st.CurrentPhase = phase
		e.Progress.append(map[string]any{"event": "phase_start", "phase": phase})

		res, history := e.executePhase(ctx, phase, &st, mergeApproved && phase == state.PhaseMerge)
		if len(history) > 0 {
			st.Apply(state.Delta{
				FixAttempts: map[string]int{phase: st.FixAttempts[phase] + len(history)},
				FixHistory:  history,
			})
		}
		st.Apply(res.Delta())

		switch {
		case res.IsFail():
			// The original error text survives verbatim on the run record.
			st.LastError = res.Err().Error()
			e.Progress.append(map[string]any{
				"event": "phase_failed",
				"phase": phase,
				"error": st.LastError,
			})
			if err := e.saveCheckpoint(threadID, st, phase, nil); err != nil {
				return Outcome{State: st}, err
			}
			return Outcome{State: st}, res.Err()

		case res.IsSuspend():
			payload := res.Payload()
			e.Progress.append(map[string]any{
				"event": "phase_suspended",
				"phase": phase,
			})
			if err := e.saveCheckpoint(threadID, st, phase, &payload); err != nil {
				return Outcome{State: st}, err
			}
			return Outcome{State: st, Suspended: true, Suspension: &payload}, nil
		}

		// Validation failed mid-phase: detour to repair, then re-run the
		// originating phase (which finds valid artifacts and moves on).
		if st.RepairReturnPhase != "" {
			st.CurrentPhase = state.PhaseRepair
			e.Progress.append(map[string]any{"event": "phase_start", "phase": state.PhaseRepair, "return_phase": phase})
			repairRes := e.runRepair(ctx, &st)
			st.Apply(repairRes.Delta())
			if repairRes.IsFail() {
				st.LastError = repairRes.Err().Error()
				if err := e.saveCheckpoint(threadID, st, phase, nil); err != nil {
					return Outcome{State: st}, err
				}
				return Outcome{State: st}, repairRes.Err()
			}
			if err := e.saveCheckpoint(threadID, st, phase, nil); err != nil {
				return Outcome{State: st}, err
			}
			i--
			continue
		}

		if err := state.MarkPhaseCompleted(st.SpecDir, phase); err != nil {
			return Outcome{State: st}, err
		}
		next := ""
		if i+1 < len(phases) {
			next = phases[i+1]
		}
		e.Progress.append(map[string]any{"event": "phase_complete", "phase": phase})

		// The PRD and plan gates pause after their artifact exists so the
		// human reviews real output. The merge gate lives in the driver.
		if phase != state.PhaseMerge && state.ShouldInterrupt(phase, st.Gates) {
			payload := SuspendPayload{Phase: phase, Message: phase + " awaiting approval"}
			if err := e.saveCheckpoint(threadID, st, next, &payload); err != nil {
				return Outcome{State: st}, err
			}
			return Outcome{State: st, Suspended: true, Suspension: &payload}, nil
		}

		if err := e.saveCheckpoint(threadID, st, next, nil); err != nil {
			return Outcome{State: st}, err
		}
	}

	e.Progress.append(map[string]any{"event": "run_complete", "feature": st.FeatureID})
	return Outcome{State: st}, nil
}

func (e *Engine) executePhase(ctx context.Context, phase string, st *state.RunState, mergeApproved bool) (PhaseResult, []state.FixHistoryEntry) {
	fn := func(ctx context.Context) PhaseResult {
		switch phase {
		case state.PhaseAnalyze:
			return e.runAnalyze(ctx, st)
		case state.PhaseMerge:
			return e.runMerge(ctx, st, mergeApproved)
		default:
			return e.runArtifactPhase(ctx, phase, st)
		}
	}
	return e.withAutoFix(ctx, phase, st, fn)
}

// saveCheckpoint persists the snapshot; a non-nil suspension marks the
// checkpoint as parked at that gate and carries its payload.
func (e *Engine) saveCheckpoint(threadID string, st state.RunState, nextPhase string, susp *SuspendPayload) error {
	cp := checkpoint.Checkpoint{
		Version:   checkpoint.FormatVersion,
		ThreadID:  threadID,
		State:     st,
		NextPhase: nextPhase,
		UpdatedAt: time.Now().UTC(),
	}
	if susp != nil {
		cp.Suspended = true
		cp.SuspendedAt = susp.Phase
		cp.Suspension = &checkpoint.SuspendInfo{
			Phase:       susp.Phase,
			Message:     susp.Message,
			DiffSummary: susp.DiffSummary,
		}
	}
	if err := e.Checkpoints.Put(cp); err != nil {
		return fmt.Errorf("persist checkpoint for %s: %w", threadID, err)
	}
	e.Progress.append(map[string]any{
		"event":      "checkpoint_saved",
		"thread_id":  threadID,
		"next_phase": nextPhase,
		"suspended":  cp.Suspended,
	})
	return nil
}

// suspensionPayload restores the gate payload from a suspended checkpoint.
// Records written before payloads were persisted fall back to the phase name.
func suspensionPayload(cp checkpoint.Checkpoint) *SuspendPayload {
	if cp.Suspension != nil {
		return &SuspendPayload{
			Phase:       cp.Suspension.Phase,
			Message:     cp.Suspension.Message,
			DiffSummary: cp.Suspension.DiffSummary,
		}
	}
	return &SuspendPayload{Phase: cp.SuspendedAt, Message: "awaiting approval"}
}
