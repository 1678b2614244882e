package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

// MemoryBackend keeps serialized states in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data     []byte
	revision uint64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(ctx context.Context, key string) (model.FlowState, uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.FlowState{}, 0, false, err
	}
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return model.FlowState{}, 0, false, nil
	}

	var s model.FlowState
	if err := json.Unmarshal(entry.data, &s); err != nil {
		return model.FlowState{}, 0, false, fmt.Errorf("failed to decode state: %w", err)
	}
	return s, entry.revision, true, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(ctx context.Context, key string, s model.FlowState) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("failed to encode state: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	revision := b.entries[key].revision + 1
	b.entries[key] = memoryEntry{data: data, revision: revision}
	return revision, nil
}
