package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrStateNotFound indicates no live state blob exists for an execution.
var ErrStateNotFound = errors.New("runtime state not found")

// Backend holds state blobs outside the lifetime of any single worker, so a
// supervising entity can recreate an orchestrator after a crash and find the
// state intact until the next scheduled cleanup.
type Backend interface {
	Save(ctx context.Context, executionID string, state *State) error
	Load(ctx context.Context, executionID string) (*State, error)
	Delete(ctx context.Context, executionID string) error
}

// MemoryBackend keeps serialized state blobs in process memory. It is the
// default for tests and single-process deployments; blobs go through the
// same JSON encoding as external backends so restore paths behave
// identically.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (b *MemoryBackend) Save(_ context.Context, executionID string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", executionID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[executionID] = data

	return nil
}

func (b *MemoryBackend) Load(_ context.Context, executionID string) (*State, error) {
	b.mu.RLock()
	data, ok := b.blobs[executionID]
	b.mu.RUnlock()

	if !ok {
		return nil, ErrStateNotFound
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", executionID, err)
	}

	return &state, nil
}

func (b *MemoryBackend) Delete(_ context.Context, executionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, executionID)

	return nil
}
