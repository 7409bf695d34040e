// Package checkpoint persists engine snapshots keyed by thread identity.
// A checkpoint exists after every phase completion or suspension; resume
// correlates a thread identity with its prior snapshot.
package checkpoint

import (
	"time"

	"github.com/stagehand-dev/stagehand/internal/gitutil"
	"github.com/stagehand-dev/stagehand/internal/state"
)

// FormatVersion guards the on-disk record shape. Loading a record with an
// unknown version fails loudly instead of guessing.
const FormatVersion = 1

// Checkpoint is a durable snapshot of RunState plus engine position.
type Checkpoint struct {
	Version  int    `msgpack:"version" json:"version"`
	ThreadID string `msgpack:"threadId" json:"threadId"`

	State state.RunState `msgpack:"state" json:"state"`

	// NextPhase is where the traversal continues. Empty means the run is
	// terminal and a resume has nothing left to do.
	NextPhase string `msgpack:"nextPhase,omitempty" json:"nextPhase,omitempty"`

	// Suspended marks a checkpoint written at an approval gate; SuspendedAt
	// names the gated phase awaiting a decision.
	Suspended   bool   `msgpack:"suspended,omitempty" json:"suspended,omitempty"`
	SuspendedAt string `msgpack:"suspendedAt,omitempty" json:"suspendedAt,omitempty"`

	// Suspension preserves the gate payload across process restarts, so a
	// re-invoked worker re-presents the same review material (the merge
	// gate's diff summary included) without recomputing it.
	Suspension *SuspendInfo `msgpack:"suspension,omitempty" json:"suspension,omitempty"`

	UpdatedAt time.Time `msgpack:"updatedAt" json:"updatedAt"`
}

// SuspendInfo is the persisted form of an approval-gate payload.
type SuspendInfo struct {
	Phase       string               `msgpack:"phase" json:"phase"`
	Message     string               `msgpack:"message,omitempty" json:"message,omitempty"`
	DiffSummary *gitutil.DiffSummary `msgpack:"diffSummary,omitempty" json:"diffSummary,omitempty"`
}

// Store is the checkpoint persistence contract. Implementations must make
// Put durable before returning: no state change after a suspension payload
// is computed may be lost to a crash.
type Store interface {
	// Put writes or replaces the checkpoint for cp.ThreadID.
	Put(cp Checkpoint) error
	// Get returns the checkpoint for threadID; found=false (not an error)
	// when the thread identity has never checkpointed.
	Get(threadID string) (Checkpoint, bool, error)
	// Delete removes a thread's checkpoint. Missing is not an error.
	Delete(threadID string) error
}
