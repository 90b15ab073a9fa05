package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore implements Store using one directory per execution containing
// an append-only events.jsonl and a snapshot.json updated atomically.
type FileStore struct {
	basePath string
	mutex    sync.RWMutex
}

// NewFileStore creates a file-based event store rooted at basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

// AppendEvents appends events to their execution's event log.
func (f *FileStore) AppendEvents(ctx context.Context, batch []*Event) error {
	if len(batch) == 0 {
		return nil
	}
	for _, event := range batch {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
	}

	executionID := batch[0].ExecutionID
	f.mutex.Lock()
	defer f.mutex.Unlock()

	execDir := filepath.Join(f.basePath, executionID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}

	eventsFile := filepath.Join(execDir, "events.jsonl")
	file, err := os.OpenFile(eventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, event := range batch {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// GetEvents returns an execution's events starting at fromSeq.
func (f *FileStore) GetEvents(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	eventsFile := filepath.Join(f.basePath, executionID, "events.jsonl")
	file, err := os.Open(eventsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	var result []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		if event.Sequence >= fromSeq {
			result = append(result, &event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return result, nil
}

// GetHistory returns an execution's complete event history.
func (f *FileStore) GetHistory(ctx context.Context, executionID string) ([]*Event, error) {
	return f.GetEvents(ctx, executionID, 1)
}

// SaveSnapshot writes the snapshot with a temp-file rename so readers
// never observe a partial write.
func (f *FileStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot ID is required")
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	execDir := filepath.Join(f.basePath, snapshot.ID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}

	snapshot.UpdatedAt = time.Now()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}

	snapshotFile := filepath.Join(execDir, "snapshot.json")
	tempFile := snapshotFile + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}
	if err := os.Rename(tempFile, snapshotFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// GetSnapshot returns the latest snapshot for an execution.
func (f *FileStore) GetSnapshot(ctx context.Context, executionID string) (*Snapshot, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.loadSnapshot(executionID)
}

// loadSnapshot reads a snapshot file. Callers must hold the mutex.
func (f *FileStore) loadSnapshot(executionID string) (*Snapshot, error) {
	snapshotFile := filepath.Join(f.basePath, executionID, "snapshot.json")
	data, err := os.ReadFile(snapshotFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("execution %q: %w", executionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListExecutions returns snapshots matching the filter, newest first.
func (f *FileStore) ListExecutions(ctx context.Context, filter Filter) ([]*Snapshot, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var snapshots []*Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snapshot, err := f.loadSnapshot(entry.Name())
		if err != nil {
			// Executions without snapshots are skipped
			continue
		}
		if filter.matches(snapshot) {
			snapshots = append(snapshots, snapshot)
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return paginate(snapshots, filter.Offset, filter.Limit), nil
}

// DeleteExecution removes all files for an execution.
func (f *FileStore) DeleteExecution(ctx context.Context, executionID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := os.RemoveAll(filepath.Join(f.basePath, executionID)); err != nil {
		return fmt.Errorf("failed to delete execution directory: %w", err)
	}
	return nil
}

// CleanupCompleted removes terminal executions that ended before olderThan.
func (f *FileStore) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	snapshots, err := f.ListExecutions(ctx, Filter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}

	deleted := 0
	for _, snapshot := range snapshots {
		if !isTerminalStatus(snapshot.Status) || snapshot.EndTime.IsZero() ||
			!snapshot.EndTime.Before(olderThan) {
			continue
		}
		if err := f.DeleteExecution(ctx, snapshot.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func paginate(snapshots []*Snapshot, offset, limit int) []*Snapshot {
	if offset >= len(snapshots) {
		return []*Snapshot{}
	}
	end := len(snapshots)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return snapshots[offset:end]
}
