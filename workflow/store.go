package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a workflow id is not in the store.
var ErrNotFound = errors.New("workflow not found")

// Store holds workflow definitions. Constructed once and passed into
// the components that need lookups; there is no global registry.
type Store interface {
	Put(ctx context.Context, workflow *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context) ([]*Workflow, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mutex     sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: map[string]*Workflow{}}
}

// Put stores a workflow, replacing any prior definition with its id.
func (s *MemoryStore) Put(ctx context.Context, workflow *Workflow) error {
	if workflow == nil {
		return fmt.Errorf("workflow is required")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.workflows[workflow.ID()] = workflow
	return nil
}

// Get returns the workflow with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Workflow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return workflow, nil
}

// List returns all stored workflows in unspecified order.
func (s *MemoryStore) List(ctx context.Context) ([]*Workflow, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, workflow := range s.workflows {
		out = append(out, workflow)
	}
	return out, nil
}

// Delete removes a workflow. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.workflows, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
