package dedupe

import (
	"context"
	"sync"
)

// MemoryTracker is a process-local tracker for single-node setups and tests.
type MemoryTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{counts: make(map[string]int)}
}

func (t *MemoryTracker) Record(ctx context.Context, hash string, _ string, _ int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[hash]++
	return t.counts[hash], nil
}

func (t *MemoryTracker) SeenCount(ctx context.Context, hash string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[hash], nil
}

func (t *MemoryTracker) Close() error { return nil }
