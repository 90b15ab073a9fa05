package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Suitable for tests and for
// library use where durable history is not needed.
type MemoryStore struct {
	mutex     sync.RWMutex
	events    map[string][]*Event
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    map[string][]*Event{},
		snapshots: map[string]*Snapshot{},
	}
}

func (m *MemoryStore) AppendEvents(ctx context.Context, batch []*Event) error {
	for _, event := range batch {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, event := range batch {
		m.events[event.ExecutionID] = append(m.events[event.ExecutionID], event)
	}
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var result []*Event
	for _, event := range m.events[executionID] {
		if event.Sequence >= fromSeq {
			result = append(result, event)
		}
	}
	if result == nil {
		result = []*Event{}
	}
	return result, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, executionID string) ([]*Event, error) {
	return m.GetEvents(ctx, executionID, 1)
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot ID is required")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	snapshot.UpdatedAt = time.Now()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}
	copied := *snapshot
	m.snapshots[snapshot.ID] = &copied
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, executionID string) (*Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	snapshot, ok := m.snapshots[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %q: %w", executionID, ErrNotFound)
	}
	copied := *snapshot
	return &copied, nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, filter Filter) ([]*Snapshot, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var snapshots []*Snapshot
	for _, snapshot := range m.snapshots {
		if filter.matches(snapshot) {
			copied := *snapshot
			snapshots = append(snapshots, &copied)
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return paginate(snapshots, filter.Offset, filter.Limit), nil
}

func (m *MemoryStore) DeleteExecution(ctx context.Context, executionID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.events, executionID)
	delete(m.snapshots, executionID)
	return nil
}

func (m *MemoryStore) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	deleted := 0
	for id, snapshot := range m.snapshots {
		if isTerminalStatus(snapshot.Status) && !snapshot.EndTime.IsZero() &&
			snapshot.EndTime.Before(olderThan) {
			delete(m.snapshots, id)
			delete(m.events, id)
			deleted++
		}
	}
	return deleted, nil
}
