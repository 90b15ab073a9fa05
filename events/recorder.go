package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/deepnoodle-ai/plunge/internal/random"
	"github.com/deepnoodle-ai/plunge/log"
)

// Recorder stamps and appends events for one execution. Event persistence
// is best-effort: failures are logged and never interrupt the execution.
type Recorder struct {
	store       Store
	executionID string
	sequence    atomic.Int64
	logger      log.Logger
}

// NewRecorder creates a recorder for the given execution. A nil store
// yields a recorder that drops everything.
func NewRecorder(store Store, executionID string, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Recorder{store: store, executionID: executionID, logger: logger}
}

// Record appends a single event with the next sequence number.
func (r *Recorder) Record(ctx context.Context, eventType Type, stepID string, data map[string]any) {
	if r.store == nil {
		return
	}
	event := &Event{
		ID:          random.ID("evt"),
		ExecutionID: r.executionID,
		Sequence:    r.sequence.Add(1),
		Timestamp:   time.Now(),
		Type:        eventType,
		StepID:      stepID,
		Data:        data,
	}
	if err := r.store.AppendEvents(ctx, []*Event{event}); err != nil {
		r.logger.Warn("failed to record execution event",
			"execution_id", r.executionID, "type", string(eventType), "error", err)
	}
}

// Sequence returns the last assigned sequence number.
func (r *Recorder) Sequence() int64 {
	return r.sequence.Load()
}
