package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/jarvisproj/jarvis/internal/graph"
)

// MemoryStore is an in-process checkpointer for tests. It round-trips
// every checkpoint through the serialised form so tests exercise the
// same encoding as the SQLite backend.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string][][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][][]byte)}
}

// GetLatest returns the newest checkpoint for the thread.
func (s *MemoryStore) GetLatest(_ context.Context, threadID string) (graph.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.threads[threadID]
	if len(versions) == 0 {
		return graph.Checkpoint{}, fmt.Errorf("%w: %s", graph.ErrNoCheckpoint, threadID)
	}
	return graph.DecodeCheckpoint(versions[len(versions)-1])
}

// Put appends cp as the thread's next version.
func (s *MemoryStore) Put(_ context.Context, cp graph.Checkpoint) (graph.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.Version = int64(len(s.threads[cp.ThreadID])) + 1
	snapshot, err := graph.EncodeCheckpoint(cp)
	if err != nil {
		return graph.Checkpoint{}, err
	}
	s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], snapshot)
	return cp, nil
}

// Versions returns how many checkpoints exist for the thread.
func (s *MemoryStore) Versions(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads[threadID])
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
