package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/internal/state"
)

// FileRepository stores one JSON document per run under a base directory.
// Writes go through write-to-temp-then-rename; a crash mid-write never
// leaves a corrupt record.
type FileRepository struct {
	mu      sync.Mutex
	baseDir string
}

func NewFileRepository(baseDir string) (*FileRepository, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileRepository{baseDir: baseDir}, nil
}

func (r *FileRepository) path(id string) string {
	safe := strings.NewReplacer("/", "_", string(os.PathSeparator), "_", "..", "_").Replace(id)
	return filepath.Join(r.baseDir, safe+".json")
}

func (r *FileRepository) read(id string) (Run, bool, error) {
	b, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	var run Run
	if err := json.Unmarshal(b, &run); err != nil {
		return Run{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (r *FileRepository) write(run Run) error {
	return state.WriteJSONAtomic(r.path(run.ID), run)
}

func (r *FileRepository) Create(ctx context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if _, found, err := r.read(run.ID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	return r.write(run)
}

func (r *FileRepository) FindByID(ctx context.Context, id string) (Run, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(id)
}

func (r *FileRepository) FindByThreadID(ctx context.Context, threadID string) (Run, bool, error) {
	runs, err := r.List(ctx)
	if err != nil {
		return Run{}, false, err
	}
	for _, run := range runs {
		if run.ThreadID == threadID {
			return run, true, nil
		}
	}
	return Run{}, false, nil
}

func (r *FileRepository) UpdateStatus(ctx context.Context, id string, status Status, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, found, err := r.read(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("run %s not found", id)
	}
	run.applyPatch(status, patch, time.Now().UTC())
	return r.write(run)
}

func (r *FileRepository) FindRunningByPID(ctx context.Context, pid int) ([]Run, error) {
	runs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, run := range runs {
		if run.Status == StatusRunning && run.PID == pid {
			out = append(out, run)
		}
	}
	return out, nil
}

func (r *FileRepository) List(ctx context.Context) ([]Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var run Run
		if err := json.Unmarshal(b, &run); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := os.Remove(r.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
