package checkpoint

import "sync"

// MemoryStore keeps checkpoints in process memory. It satisfies tests and
// single-process runs; it does not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Checkpoint{}}
}

func (m *MemoryStore) Put(cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[cp.ThreadID] = cp
	return nil
}

func (m *MemoryStore) Get(threadID string) (Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.byID[threadID]
	return cp, ok, nil
}

func (m *MemoryStore) Delete(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, threadID)
	return nil
}
