package ci

import (
	"context"
	"sync"
)

// FakeService replays a scripted status sequence; the last status repeats
// once the script runs out. Used by merge-driver tests.
type FakeService struct {
	mu sync.Mutex

	Statuses []Status
	Logs     string
	Err      error

	StatusCalls int
	LogCalls    int
}

func (f *FakeService) CIStatus(ctx context.Context, prNumber int) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Statuses) == 0 {
		return StatusNone, nil
	}
	idx := f.StatusCalls - 1
	if idx >= len(f.Statuses) {
		idx = len(f.Statuses) - 1
	}
	return f.Statuses[idx], nil
}

func (f *FakeService) FailureLogs(ctx context.Context, prNumber int, maxChars int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LogCalls++
	if f.Err != nil {
		return "", f.Err
	}
	return Truncate(f.Logs, maxChars), nil
}
