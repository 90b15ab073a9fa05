package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a chain id is not in the store.
var ErrNotFound = errors.New("chain not found")

// Store durably records chain state. The runner writes through it on
// every status mutation so a crash can report accurately.
type Store interface {
	Put(ctx context.Context, chain *Chain) error
	Get(ctx context.Context, id string) (*Chain, error)
	List(ctx context.Context) ([]*Chain, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mutex  sync.RWMutex
	chains map[string]*Chain
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: map[string]*Chain{}}
}

// Put stores a chain, replacing any prior state with its id.
func (s *MemoryStore) Put(ctx context.Context, chain *Chain) error {
	if chain == nil {
		return fmt.Errorf("chain is required")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.chains[chain.ID] = chain
	return nil
}

// Get returns the chain with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Chain, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	chain, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %q: %w", id, ErrNotFound)
	}
	return chain, nil
}

// List returns all stored chains in unspecified order.
func (s *MemoryStore) List(ctx context.Context) ([]*Chain, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]*Chain, 0, len(s.chains))
	for _, chain := range s.chains {
		out = append(out, chain)
	}
	return out, nil
}

// Delete removes a chain. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.chains, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
