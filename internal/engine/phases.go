package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/stagehand-dev/stagehand/internal/agent"
	"github.com/stagehand-dev/stagehand/internal/retry"
	"github.com/stagehand-dev/stagehand/internal/specdoc"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// artifactKinds maps each phase to the spec artifacts it must leave behind.
// Analyze produces context only; merge is handled by the merge driver.
var artifactKinds = map[string][]specdoc.Kind{
	state.PhaseRequirements: {specdoc.KindRequirements},
	state.PhaseResearch:     {specdoc.KindResearch},
	state.PhasePlan:         {specdoc.KindPlan},
	state.PhaseImplement:    {specdoc.KindTasks},
}

// callAgent runs one agent invocation under the classified-retry policy.
func (e *Engine) callAgent(ctx context.Context, prompt string, opts agent.Options) (agent.Result, error) {
	var reply agent.Result
	err := retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		reply, callErr = e.Agent.Execute(ctx, prompt, opts)
		return callErr
	}, e.Retry)
	return reply, err
}

// runArtifactPhase is the shared body of the artifact-producing phases:
// skip the agent call when valid artifacts already exist (this is how the
// repair detour hands control back), otherwise prompt the agent and
// validate what it wrote. Invalid artifacts route to the repair phase via
// RepairReturnPhase rather than failing outright.
func (e *Engine) runArtifactPhase(ctx context.Context, phase string, st *state.RunState) PhaseResult {
	kinds := artifactKinds[phase]

	failures, err := specdoc.ValidateKinds(st.SpecDir, kinds)
	if err != nil {
		return Fail(err)
	}
	if len(failures) == 0 {
		if done, err := anyArtifactPresent(st.SpecDir, kinds); err != nil {
			return Fail(err)
		} else if done {
			return Continue(state.Delta{
				Logs: []string{fmt.Sprintf("%s: artifacts already valid, skipping agent call", phase)},
			})
		}
	}

	reply, err := e.callAgent(ctx, phasePrompt(phase, st), agent.Options{Cwd: st.WorkDir()})
	if err != nil {
		return Fail(err)
	}

	failures, err = specdoc.ValidateKinds(st.SpecDir, kinds)
	if err != nil {
		return Fail(err)
	}
	if len(failures) > 0 {
		msgs := (&specdoc.ValidationFailure{SpecDir: st.SpecDir, Files: failures}).Messages()
		return Continue(state.Delta{
			Logs:                 []string{fmt.Sprintf("%s: spec validation failed, routing to repair", phase)},
			ValidationTarget:     state.StringPtr(string(kinds[0])),
			LastValidationErrors: msgs,
			RepairReturnPhase:    state.StringPtr(phase),
		})
	}
	return Continue(state.Delta{
		Logs: []string{fmt.Sprintf("%s: %s", phase, summarize(reply.Text))},
	})
}

// anyArtifactPresent distinguishes "valid because written" from "valid
// because the phase never ran" for phases whose kinds all exist.
func anyArtifactPresent(specDir string, kinds []specdoc.Kind) (bool, error) {
	for _, kind := range kinds {
		files, err := specdoc.Discover(specDir, kind)
		if err != nil {
			return false, err
		}
		if len(files) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) runAnalyze(ctx context.Context, st *state.RunState) PhaseResult {
	reply, err := e.callAgent(ctx, phasePrompt(state.PhaseAnalyze, st), agent.Options{Cwd: st.WorkDir()})
	if err != nil {
		return Fail(err)
	}
	return Continue(state.Delta{
		Logs: []string{"analyze: " + summarize(reply.Text)},
	})
}

// runRepair is the detour phase: it drives the bounded validate-repair loop
// for the originating phase's artifacts and hands control back on success.
func (e *Engine) runRepair(ctx context.Context, st *state.RunState) PhaseResult {
	returnPhase := st.RepairReturnPhase
	kinds := artifactKinds[returnPhase]
	if len(kinds) == 0 {
		return Fail(fmt.Errorf("repair: no artifacts registered for phase %q", returnPhase))
	}

	retries := st.ValidationRetries
	repairer := &specdoc.Repairer{
		Executor:          e.Agent,
		MaxRepairAttempts: e.MaxRepairAttempts,
		OnAttempt: func(attempt int, failures []specdoc.FileError) {
			retries++
			e.Progress.append(map[string]any{
				"event":       "repair_attempt",
				"phase":       returnPhase,
				"attempt":     attempt,
				"file_errors": len(failures),
			})
		},
	}
	if err := repairer.EnsureValid(ctx, st.SpecDir, kinds); err != nil {
		return Fail(err)
	}
	return Continue(state.Delta{
		Logs:                 []string{fmt.Sprintf("repair: %s artifacts valid after %d retries", returnPhase, retries-st.ValidationRetries)},
		ValidationRetries:    state.IntPtr(retries),
		LastValidationErrors: []string{},
		RepairReturnPhase:    state.StringPtr(""),
	})
}

func phasePrompt(phase string, st *state.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\nSpec directory: %s\n\n", st.FeatureID, st.SpecDir)
	switch phase {
	case state.PhaseAnalyze:
		b.WriteString("Analyze this repository and the feature request. ")
		b.WriteString("Identify the affected packages, existing conventions, and constraints a change must respect. ")
		b.WriteString("Summarize your findings; do not change any files yet.")
	case state.PhaseRequirements:
		fmt.Fprintf(&b, "Write the feature's requirements to %s/requirements.json as JSON with the shape ", st.SpecDir)
		b.WriteString(`{"feature": string, "summary"?: string, "requirements": [{"id", "title", "description"?, "priority"? (must|should|could)}]}. `)
		b.WriteString("Base the requirements on the analysis of this repository.")
	case state.PhaseResearch:
		fmt.Fprintf(&b, "Research how to satisfy the requirements in %s/requirements.json. ", st.SpecDir)
		fmt.Fprintf(&b, "Write findings to %s/research.json as JSON with the shape ", st.SpecDir)
		b.WriteString(`{"feature": string, "findings": [{"topic", "summary", "references"?}], "openQuestions"?: [string]}.`)
	case state.PhasePlan:
		fmt.Fprintf(&b, "Produce an implementation plan from %s/requirements.json and %s/research.json. ", st.SpecDir, st.SpecDir)
		fmt.Fprintf(&b, "Write it to %s/plan.json as JSON with the shape ", st.SpecDir)
		b.WriteString(`{"feature": string, "steps": [{"id", "title", "detail"?, "requirementIds"?}]}.`)
	case state.PhaseImplement:
		fmt.Fprintf(&b, "Implement the plan in %s/plan.json: make the code changes in this working directory. ", st.SpecDir)
		fmt.Fprintf(&b, "Track progress in %s/tasks.json as JSON with the shape ", st.SpecDir)
		b.WriteString(`{"tasks": [{"id", "title", "status" (pending|in_progress|done), "stepId"?, "dependsOn"?}]}. `)
		b.WriteString("Every task must be done when you finish.")
	}
	return b.String()
}
