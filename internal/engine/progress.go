package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stagehand-dev/stagehand/internal/state"
)

// Progress appends one JSON object per event to progress.ndjson under the
// logs root and mirrors the latest event into live.json for cheap polling.
// A nil Progress drops every event, so the engine never branches on it.
type Progress struct {
	mu       sync.Mutex
	LogsRoot string
}

func NewProgress(logsRoot string) (*Progress, error) {
	if err := os.MkdirAll(logsRoot, 0o755); err != nil {
		return nil, err
	}
	return &Progress{LogsRoot: logsRoot}, nil
}

func (p *Progress) append(ev map[string]any) {
	if p == nil || p.LogsRoot == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := ev["ts"]; !ok {
		ev["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(p.LogsRoot, "progress.ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	_ = f.Close()
	_ = state.WriteFileAtomic(filepath.Join(p.LogsRoot, "live.json"), line)
}
