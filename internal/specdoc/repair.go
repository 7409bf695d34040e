package specdoc

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/stagehand-dev/stagehand/internal/agent"
)

const (
	// DefaultMaxRepairAttempts bounds the validate-repair-revalidate loop.
	DefaultMaxRepairAttempts = 3
	// repairMaxTurns keeps the repair call cheap; it only edits files.
	repairMaxTurns = 8
	// repairContentBudget caps how much of each broken file goes in the prompt.
	repairContentBudget = 8_000
)

// writeOnlyTools is the tool surface a repair call is allowed: it may rewrite
// the artifacts but not browse or execute.
var writeOnlyTools = []string{"write_file", "edit_file"}

// Repairer runs the bounded repair loop over a phase's artifacts.
type Repairer struct {
	Executor          agent.Executor
	MaxRepairAttempts int
	// OnAttempt fires before each repair call with the attempt number
	// (1-based) and the failures driving it; the engine uses it to bump the
	// run's validation-retry counter and emit progress.
	OnAttempt func(attempt int, failures []FileError)
}

// EnsureValid validates the artifacts for kinds and, while invalid, asks the
// agent to repair them. Exhaustion returns a *ValidationFailure carrying the
// last round of errors.
func (r *Repairer) EnsureValid(ctx context.Context, specDir string, kinds []Kind) error {
	maxAttempts := r.MaxRepairAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRepairAttempts
	}

	failures, err := ValidateKinds(specDir, kinds)
	if err != nil {
		return err
	}
	for attempt := 1; len(failures) > 0; attempt++ {
		if attempt > maxAttempts {
			return &ValidationFailure{SpecDir: specDir, Files: failures}
		}
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, failures)
		}
		prompt := buildRepairPrompt(specDir, failures)
		if _, err := r.Executor.Execute(ctx, prompt, agent.Options{
			Cwd:          specDir,
			MaxTurns:     repairMaxTurns,
			DisableMCP:   true,
			AllowedTools: writeOnlyTools,
		}); err != nil {
			return fmt.Errorf("spec repair attempt %d: %w", attempt, err)
		}
		failures, err = ValidateKinds(specDir, kinds)
		if err != nil {
			return err
		}
	}
	return nil
}

func buildRepairPrompt(specDir string, failures []FileError) string {
	var b strings.Builder
	b.WriteString("The following spec files failed schema validation. ")
	b.WriteString("Rewrite each file in place so it conforms. ")
	b.WriteString("Do not change file names or invent new files.\n")
	for _, fe := range failures {
		fmt.Fprintf(&b, "\n### File: %s\n", fe.Path)
		b.WriteString("Errors:\n")
		for _, msg := range fe.Errors {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
		if raw, err := os.ReadFile(fe.Path); err == nil {
			content := string(raw)
			if len(content) > repairContentBudget {
				content = content[:repairContentBudget] + "\n... (truncated)"
			}
			b.WriteString("Current content:\n```json\n")
			b.WriteString(content)
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}
