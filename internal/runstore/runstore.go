// Package runstore persists run records: the bridge between a dashboard or
// supervisor that schedules features and the worker process that executes
// them. A run record outlives the worker; the engine's checkpoint does not
// replace it.
package runstore

import (
	"context"
	"time"

	"github.com/stagehand-dev/stagehand/internal/state"
)

// Status is the run's coarse position in its lifecycle.
type Status string

const (
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Run is one persisted feature run.
type Run struct {
	ID        string `json:"id"`
	FeatureID string `json:"featureId"`
	// ThreadID correlates the run with its engine checkpoint. Distinct from
	// the run id: retries of the same run may reuse a thread identity.
	ThreadID string `json:"threadId,omitempty"`

	RepositoryPath string `json:"repositoryPath"`
	SpecDir        string `json:"specDir"`
	WorkTreePath   string `json:"workTreePath,omitempty"`

	Gates  *state.ApprovalGateConfig `json:"approvalGates,omitempty"`
	Push   bool                      `json:"push,omitempty"`
	OpenPR bool                      `json:"openPr,omitempty"`

	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
	Error  string `json:"error,omitempty"`

	PR *state.PRRecord `json:"pr,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Patch carries the optional fields UpdateStatus sets alongside the status.
// Nil fields leave the stored value untouched.
type Patch struct {
	PID         *int
	Error       *string
	PR          *state.PRRecord
	CompletedAt *time.Time
}

func (r *Run) applyPatch(status Status, p Patch, now time.Time) {
	r.Status = status
	r.UpdatedAt = now
	if p.PID != nil {
		r.PID = *p.PID
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.PR != nil {
		r.PR = p.PR
	}
	if p.CompletedAt != nil {
		r.CompletedAt = p.CompletedAt
	}
}

// Repository is the run persistence contract. Find methods report
// found=false, not an error, for unknown identifiers.
type Repository interface {
	Create(ctx context.Context, run Run) error
	FindByID(ctx context.Context, id string) (Run, bool, error)
	FindByThreadID(ctx context.Context, threadID string) (Run, bool, error)
	UpdateStatus(ctx context.Context, id string, status Status, patch Patch) error
	FindRunningByPID(ctx context.Context, pid int) ([]Run, error)
	List(ctx context.Context) ([]Run, error)
	Delete(ctx context.Context, id string) error
}
