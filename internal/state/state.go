// Package state holds the engine's working record for one feature traversal.
// RunState is the only channel of information between phases: each phase
// returns a Delta that the engine merges, nothing shares mutable references.
package state

import (
	"time"
)

// Phase names, in traversal order. Repair is a detour, not part of the
// ordered lifecycle.
const (
	PhaseAnalyze      = "analyze"
	PhaseRequirements = "requirements"
	PhaseResearch     = "research"
	PhasePlan         = "plan"
	PhaseImplement    = "implement"
	PhaseMerge        = "merge"
	PhaseRepair       = "repair"
)

// Phases lists the lifecycle phases in execution order.
func Phases() []string {
	return []string{
		PhaseAnalyze,
		PhaseRequirements,
		PhaseResearch,
		PhasePlan,
		PhaseImplement,
		PhaseMerge,
	}
}

// FixOutcome is the terminal result of one auto-fix or CI-fix attempt.
type FixOutcome string

const (
	FixOutcomeFixed     FixOutcome = "fixed"
	FixOutcomeFailed    FixOutcome = "failed"
	FixOutcomeUnfixable FixOutcome = "unfixable"
)

// FixHistoryEntry records one repair attempt. Entries are appended once per
// attempt and never mutated or removed afterwards.
type FixHistoryEntry struct {
	Attempt      int    `json:"attempt" msgpack:"attempt"`
	Subject      string `json:"subject" msgpack:"subject"`
	ErrorSummary string `json:"errorSummary" msgpack:"errorSummary"`
	// Signature identifies the failure across attempts: entries with the
	// same signature are the same error recurring, not a new one.
	Signature string     `json:"signature,omitempty" msgpack:"signature,omitempty"`
	StartedAt time.Time  `json:"startedAt" msgpack:"startedAt"`
	Outcome   FixOutcome `json:"outcome" msgpack:"outcome"`
}

// PRRecord is populated only once a PR path is taken. Absent fields stay
// absent through persistence (omitempty everywhere, no null placeholders).
type PRRecord struct {
	URL           string            `json:"url,omitempty" msgpack:"url,omitempty"`
	Number        int               `json:"number,omitempty" msgpack:"number,omitempty"`
	CommitSHA     string            `json:"commitSha,omitempty" msgpack:"commitSha,omitempty"`
	CIStatus      string            `json:"ciStatus,omitempty" msgpack:"ciStatus,omitempty"`
	CIFixAttempts int               `json:"ciFixAttempts,omitempty" msgpack:"ciFixAttempts,omitempty"`
	CIFixHistory  []FixHistoryEntry `json:"ciFixHistory,omitempty" msgpack:"ciFixHistory,omitempty"`
}

// ApprovalGateConfig is the 3-flag gate policy. A nil config means the run
// is fully autonomous: no phase ever suspends.
type ApprovalGateConfig struct {
	AllowPrd   bool `json:"allowPrd" yaml:"allowPrd" msgpack:"allowPrd"`
	AllowPlan  bool `json:"allowPlan" yaml:"allowPlan" msgpack:"allowPlan"`
	AllowMerge bool `json:"allowMerge" yaml:"allowMerge" msgpack:"allowMerge"`
}

// RunState is the engine's working record for one feature traversal.
type RunState struct {
	FeatureID    string `json:"featureId" msgpack:"featureId"`
	RepoPath     string `json:"repoPath" msgpack:"repoPath"`
	WorkTreePath string `json:"workTreePath,omitempty" msgpack:"workTreePath,omitempty"`
	SpecDir      string `json:"specDir" msgpack:"specDir"`

	CurrentPhase string   `json:"currentPhase,omitempty" msgpack:"currentPhase,omitempty"`
	Logs         []string `json:"logs,omitempty" msgpack:"logs,omitempty"`
	LastError    string   `json:"lastError,omitempty" msgpack:"lastError,omitempty"`

	Gates  *ApprovalGateConfig `json:"gates,omitempty" msgpack:"gates,omitempty"`
	Push   bool                `json:"push,omitempty" msgpack:"push,omitempty"`
	OpenPR bool                `json:"openPr,omitempty" msgpack:"openPr,omitempty"`

	PR *PRRecord `json:"pr,omitempty" msgpack:"pr,omitempty"`

	ValidationRetries    int      `json:"validationRetries,omitempty" msgpack:"validationRetries,omitempty"`
	ValidationTarget     string   `json:"validationTarget,omitempty" msgpack:"validationTarget,omitempty"`
	LastValidationErrors []string `json:"lastValidationErrors,omitempty" msgpack:"lastValidationErrors,omitempty"`
	RepairReturnPhase    string   `json:"repairReturnPhase,omitempty" msgpack:"repairReturnPhase,omitempty"`

	FixAttempts map[string]int    `json:"fixAttempts,omitempty" msgpack:"fixAttempts,omitempty"`
	FixHistory  []FixHistoryEntry `json:"fixHistory,omitempty" msgpack:"fixHistory,omitempty"`
}

// WorkDir is the directory phases operate in: the isolated working tree when
// one is allocated, otherwise the repository itself.
func (s *RunState) WorkDir() string {
	if s.WorkTreePath != "" {
		return s.WorkTreePath
	}
	return s.RepoPath
}

// Delta is the partial state a phase hands back. The engine merges it into
// RunState; zero fields leave the existing value untouched, log messages and
// fix history append.
type Delta struct {
	CurrentPhase string
	Logs         []string
	LastError    *string
	PR           *PRRecord

	ValidationRetries    *int
	ValidationTarget     *string
	LastValidationErrors []string
	RepairReturnPhase    *string

	FixAttempts map[string]int
	FixHistory  []FixHistoryEntry
}

// Apply merges a delta into the state. Append-only fields (Logs, FixHistory)
// grow; pointer fields overwrite only when set.
func (s *RunState) Apply(d Delta) {
	if d.CurrentPhase != "" {
		s.CurrentPhase = d.CurrentPhase
	}
	s.Logs = append(s.Logs, d.Logs...)
	if d.LastError != nil {
		s.LastError = *d.LastError
	}
	if d.PR != nil {
		s.PR = d.PR
	}
	if d.ValidationRetries != nil {
		s.ValidationRetries = *d.ValidationRetries
	}
	if d.ValidationTarget != nil {
		s.ValidationTarget = *d.ValidationTarget
	}
	if d.LastValidationErrors != nil {
		s.LastValidationErrors = d.LastValidationErrors
	}
	if d.RepairReturnPhase != nil {
		s.RepairReturnPhase = *d.RepairReturnPhase
	}
	for k, v := range d.FixAttempts {
		if s.FixAttempts == nil {
			s.FixAttempts = map[string]int{}
		}
		s.FixAttempts[k] = v
	}
	s.FixHistory = append(s.FixHistory, d.FixHistory...)
}

// StringPtr is a small helper for building deltas.
func StringPtr(s string) *string { return &s }

// IntPtr is a small helper for building deltas.
func IntPtr(n int) *int { return &n }
