package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/stagehand-dev/stagehand/internal/state"
)

// FileStore persists one msgpack-encoded checkpoint record per thread
// identity under baseDir, written atomically so a crash mid-write never
// corrupts the record. This is the durable variant required for
// process-restart survival.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("checkpoint base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (f *FileStore) path(threadID string) string {
	// Thread identities are ULIDs or caller-chosen tokens; flatten path
	// separators so a hostile id cannot escape the base dir.
	safe := strings.NewReplacer("/", "_", string(os.PathSeparator), "_", "..", "_").Replace(threadID)
	return filepath.Join(f.baseDir, safe+".ckpt")
}

func (f *FileStore) Put(cp Checkpoint) error {
	if strings.TrimSpace(cp.ThreadID) == "" {
		return fmt.Errorf("checkpoint missing thread id")
	}
	if cp.Version == 0 {
		cp.Version = FormatVersion
	}
	b, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ThreadID, err)
	}
	return state.WriteFileAtomic(f.path(cp.ThreadID), b)
}

func (f *FileStore) Get(threadID string) (Checkpoint, bool, error) {
	b, err := os.ReadFile(f.path(threadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var cp Checkpoint
	if err := msgpack.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	if cp.Version != FormatVersion {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s has unsupported format version %d", threadID, cp.Version)
	}
	return cp, true, nil
}

func (f *FileStore) Delete(threadID string) error {
	err := os.Remove(f.path(threadID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
