// Package ci exposes the hosting platform's CI surface to the merge driver:
// status polling for a PR's head commit and retrieval of failure logs for
// automated fixes.
package ci

import (
	"context"
	"time"
)

// Status is the aggregate CI verdict for a PR head.
type Status string

const (
	StatusPending Status = "pending"
	StatusPassing Status = "passing"
	StatusFailing Status = "failing"
	// StatusNone means the repository runs no CI for this ref.
	StatusNone Status = "none"
)

// Service is what the merge driver consumes. Implementations must bound
// every call with the supplied context.
type Service interface {
	// CIStatus reports the aggregate status for a PR's head commit.
	CIStatus(ctx context.Context, prNumber int) (Status, error)
	// FailureLogs returns failure output for a PR's head commit, truncated
	// to maxChars. Empty when nothing failed.
	FailureLogs(ctx context.Context, prNumber int, maxChars int) (string, error)
}

// WatchConfig bounds the CI watch-and-fix loop. Passed explicitly into the
// merge driver's constructor; the driver never reads ambient settings.
type WatchConfig struct {
	// PollInterval between status checks.
	PollInterval time.Duration `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	// Timeout after which the watch loop exits instead of hanging the phase.
	Timeout time.Duration `json:"timeoutMs" yaml:"timeoutMs"`
	// MaxFixAttempts bounds automated CI repair attempts.
	MaxFixAttempts int `json:"maxFixAttempts" yaml:"maxFixAttempts"`
	// LogBudget caps failure-log characters handed to a fix call.
	LogBudget int `json:"logBudget" yaml:"logBudget"`
}

// DefaultWatchConfig mirrors production defaults.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		PollInterval:   15 * time.Second,
		Timeout:        20 * time.Minute,
		MaxFixAttempts: 3,
		LogBudget:      20_000,
	}
}

func (c *WatchConfig) ApplyDefaults() {
	d := DefaultWatchConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = d.MaxFixAttempts
	}
	if c.LogBudget <= 0 {
		c.LogBudget = d.LogBudget
	}
}

// Truncate caps s at max characters. max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
