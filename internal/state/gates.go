package state

// ShouldInterrupt decides whether a phase must suspend for human approval.
// This is the entire approval policy: a nil config never interrupts;
// requirements, plan and merge suspend unless their flag allows autonomous
// continuation; no other phase ever suspends.
func ShouldInterrupt(phase string, gates *ApprovalGateConfig) bool {
	if gates == nil {
		return false
	}
	switch phase {
	case PhaseRequirements:
		return !gates.AllowPrd
	case PhasePlan:
		return !gates.AllowPlan
	case PhaseMerge:
		return !gates.AllowMerge
	default:
		return false
	}
}
