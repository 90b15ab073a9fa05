package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an execution has no stored snapshot.
var ErrNotFound = errors.New("execution not found")

// Type identifies a kind of execution event
type Type string

const (
	TypeExecutionStarted    Type = "execution_started"
	TypeStepStarted         Type = "step_started"
	TypeStepCompleted       Type = "step_completed"
	TypeStepFailed          Type = "step_failed"
	TypeStepRetrying        Type = "step_retrying"
	TypeCodeRepaired        Type = "code_repaired"
	TypeExecutionCompleted  Type = "execution_completed"
	TypeExecutionFailed     Type = "execution_failed"
	TypeExecutionDeadlocked Type = "execution_deadlocked"
)

// Event is one entry in an execution's append-only history.
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Sequence    int64          `json:"sequence"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        Type           `json:"type"`
	StepID      string         `json:"step_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Validate checks that the event carries the required fields.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.ExecutionID == "" {
		return fmt.Errorf("execution ID is required")
	}
	if e.Sequence <= 0 {
		return fmt.Errorf("sequence must be positive")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// StepSnapshot is the per-step portion of an execution snapshot.
type StepSnapshot struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// Snapshot is the latest known state of a chain or workflow execution.
type Snapshot struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Name         string         `json:"name,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	Status       string         `json:"status"`
	Steps        []StepSnapshot `json:"steps,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastEventSeq int64          `json:"last_event_seq"`
}

// Filter selects executions in List queries. Zero values match anything.
type Filter struct {
	Kind      string `json:"kind,omitempty"`
	Status    string `json:"status,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Validate checks filter bounds.
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if f.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	return nil
}

func (f *Filter) matches(s *Snapshot) bool {
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.ProjectID != "" && s.ProjectID != f.ProjectID {
		return false
	}
	return true
}

// Store persists execution events and snapshots.
type Store interface {
	AppendEvents(ctx context.Context, events []*Event) error
	GetEvents(ctx context.Context, executionID string, fromSeq int64) ([]*Event, error)
	GetHistory(ctx context.Context, executionID string) ([]*Event, error)

	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, executionID string) (*Snapshot, error)

	ListExecutions(ctx context.Context, filter Filter) ([]*Snapshot, error)
	DeleteExecution(ctx context.Context, executionID string) error

	// CleanupCompleted removes terminal executions that ended before the
	// given time and reports how many were deleted.
	CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "failed", "deadlocked":
		return true
	}
	return false
}
