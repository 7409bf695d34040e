package engine

import (
	"github.com/stagehand-dev/stagehand/internal/gitutil"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// SuspendPayload is handed to the caller when a gated phase pauses for a
// human decision. DiffSummary is populated only for the merge gate.
type SuspendPayload struct {
	Phase       string               `json:"phase"`
	Message     string               `json:"message,omitempty"`
	DiffSummary *gitutil.DiffSummary `json:"diffSummary,omitempty"`
}

type resultKind int

const (
	kindContinue resultKind = iota
	kindSuspend
	kindFail
)

// PhaseResult is the sum type a phase hands back: Continue(delta),
// Suspend(payload) or Fail(err). Suspension is a value, never a sentinel
// error threaded through the call stack.
type PhaseResult struct {
	kind    resultKind
	delta   state.Delta
	payload SuspendPayload
	err     error
}

func Continue(d state.Delta) PhaseResult   { return PhaseResult{kind: kindContinue, delta: d} }
func Suspend(p SuspendPayload) PhaseResult { return PhaseResult{kind: kindSuspend, payload: p} }
func Fail(err error) PhaseResult           { return PhaseResult{kind: kindFail, err: err} }

// SuspendWith suspends while still carrying a delta for work done before the
// gate (e.g. the merge phase commits and opens a PR before pausing).
func SuspendWith(d state.Delta, p SuspendPayload) PhaseResult {
	return PhaseResult{kind: kindSuspend, delta: d, payload: p}
}

func (r PhaseResult) IsContinue() bool        { return r.kind == kindContinue }
func (r PhaseResult) IsSuspend() bool         { return r.kind == kindSuspend }
func (r PhaseResult) IsFail() bool            { return r.kind == kindFail }
func (r PhaseResult) Delta() state.Delta      { return r.delta }
func (r PhaseResult) Payload() SuspendPayload { return r.payload }
func (r PhaseResult) Err() error              { return r.err }

// ResumeCommand carries the human decision back into a suspended run.
type ResumeCommand struct {
	// Approved releases the gate. False re-runs the gated phase (for
	// requirements/plan, so feedback can be incorporated) or concludes the
	// merge phase with a review lifecycle.
	Approved bool `json:"approved"`
	// Feedback is appended to the run log so the re-run phase sees it.
	Feedback string `json:"feedback,omitempty"`
}

// Outcome is what Invoke and Resume return to the worker.
type Outcome struct {
	State state.RunState

	// Suspended is set when the run paused at an approval gate.
	Suspended  bool
	Suspension *SuspendPayload

	// Empty marks a Resume against a thread identity that never
	// checkpointed: no error, no suspension, nothing happened.
	Empty bool
}
