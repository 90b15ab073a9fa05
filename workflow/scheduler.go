package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/deepnoodle-ai/plunge/internal/random"
	"github.com/deepnoodle-ai/plunge/log"
)

// DefaultMaxConcurrent bounds how many ready steps run at once.
const DefaultMaxConcurrent = 4

// StepExecutor runs one dispatched step. depResults maps each id in the
// step's depends_on list to that dependency's stored result.
type StepExecutor func(ctx context.Context, step *Step, depResults map[string]any) (any, error)

// StepSummary reports one step's final state in an Outcome.
type StepSummary struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Status plunge.StepStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// Outcome is the terminal result of one workflow execution.
type Outcome struct {
	WorkflowID  string                `json:"workflow_id"`
	ExecutionID string                `json:"execution_id"`
	Status      plunge.WorkflowStatus `json:"status"`
	Results     map[string]any        `json:"results,omitempty"`
	Steps       []StepSummary         `json:"steps"`
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// MaxConcurrent bounds simultaneously running steps (default 4).
	MaxConcurrent int

	// EventStore, when set, receives execution history and snapshots.
	EventStore events.Store

	Logger log.Logger
}

// Scheduler drives a workflow's steps in dependency order: it computes
// the ready set, dispatches its members concurrently, collects their
// results, and repeats until the workflow is completed, failed, or
// deadlocked.
type Scheduler struct {
	maxConcurrent int
	eventStore    events.Store
	logger        log.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		eventStore:    opts.EventStore,
		logger:        logger,
	}
}

// stepOutcome is one dispatched step's report back to the collection
// loop, which is the only writer of shared run state.
type stepOutcome struct {
	id     string
	result any
	err    error
}

// Execute runs the workflow to a terminal status. Step failures and
// deadlocks are reported in the Outcome, not as errors; the error
// return is reserved for invalid invocations.
func (s *Scheduler) Execute(ctx context.Context, wf *Workflow, execute StepExecutor) (*Outcome, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if execute == nil {
		return nil, fmt.Errorf("step executor is required")
	}

	executionID := random.ID("run")
	recorder := events.NewRecorder(s.eventStore, executionID, s.logger)

	statuses := make(map[string]plunge.StepStatus, len(wf.Steps()))
	stepErrors := make(map[string]string)
	results := make(map[string]any)
	for _, step := range wf.Steps() {
		statuses[step.ID()] = plunge.StepStatusPending
	}

	startTime := time.Now()
	recorder.Record(ctx, events.TypeExecutionStarted, "", map[string]any{
		"workflow_id": wf.ID(),
		"name":        wf.Name(),
		"steps":       len(wf.Steps()),
	})
	s.saveSnapshot(ctx, wf, executionID, plunge.WorkflowStatusRunning,
		statuses, stepErrors, startTime, time.Time{}, recorder.Sequence())

	status := s.runLoop(ctx, wf, execute, recorder, statuses, stepErrors, results)

	endTime := time.Now()
	switch status {
	case plunge.WorkflowStatusCompleted:
		recorder.Record(ctx, events.TypeExecutionCompleted, "", map[string]any{
			"steps": len(wf.Steps()),
		})
	case plunge.WorkflowStatusDeadlocked:
		recorder.Record(ctx, events.TypeExecutionDeadlocked, "", map[string]any{
			"pending": pendingIDs(wf, statuses),
		})
	default:
		recorder.Record(ctx, events.TypeExecutionFailed, "", map[string]any{
			"errors": stepErrors,
		})
	}
	s.saveSnapshot(ctx, wf, executionID, status,
		statuses, stepErrors, startTime, endTime, recorder.Sequence())

	s.logger.Info("workflow finished",
		"workflow_id", wf.ID(),
		"execution_id", executionID,
		"status", status,
		"duration", endTime.Sub(startTime))

	summaries := make([]StepSummary, 0, len(wf.Steps()))
	for _, step := range wf.Steps() {
		summaries = append(summaries, StepSummary{
			ID:     step.ID(),
			Name:   step.Name(),
			Status: statuses[step.ID()],
			Error:  stepErrors[step.ID()],
		})
	}
	return &Outcome{
		WorkflowID:  wf.ID(),
		ExecutionID: executionID,
		Status:      status,
		Results:     results,
		Steps:       summaries,
	}, nil
}

// runLoop repeats ready-set rounds until the workflow reaches a
// terminal status. All mutations of statuses, stepErrors, and results
// happen here, never in the dispatch goroutines.
func (s *Scheduler) runLoop(
	ctx context.Context,
	wf *Workflow,
	execute StepExecutor,
	recorder *events.Recorder,
	statuses map[string]plunge.StepStatus,
	stepErrors map[string]string,
	results map[string]any,
) plunge.WorkflowStatus {
	completed := 0
	failed := false

	for {
		if err := ctx.Err(); err != nil {
			for id, status := range statuses {
				if status == plunge.StepStatusPending {
					stepErrors[id] = "workflow canceled"
				}
			}
			return plunge.WorkflowStatusFailed
		}
		if failed {
			return plunge.WorkflowStatusFailed
		}

		ready := readySteps(wf, statuses)
		if len(ready) == 0 {
			if completed == len(wf.Steps()) {
				return plunge.WorkflowStatusCompleted
			}
			return plunge.WorkflowStatusDeadlocked
		}

		// Dispatch the whole ready set; members are mutually
		// independent. The semaphore bounds real parallelism.
		sem := make(chan struct{}, s.maxConcurrent)
		outcomes := make(chan stepOutcome, len(ready))
		for _, step := range ready {
			statuses[step.ID()] = plunge.StepStatusRunning
			recorder.Record(ctx, events.TypeStepStarted, step.ID(), map[string]any{
				"name": step.Name(),
				"kind": string(step.Kind()),
			})
			depResults := make(map[string]any, len(step.DependsOn()))
			for _, dep := range step.DependsOn() {
				depResults[dep] = results[dep]
			}
			go func(step *Step, depResults map[string]any) {
				sem <- struct{}{}
				defer func() { <-sem }()
				result, err := execute(ctx, step, depResults)
				outcomes <- stepOutcome{id: step.ID(), result: result, err: err}
			}(step, depResults)
		}

		// In-flight siblings drain even after a failure; only new
		// dispatch stops.
		for range ready {
			outcome := <-outcomes
			step, _ := wf.Step(outcome.id)
			if outcome.err != nil {
				statuses[outcome.id] = plunge.StepStatusFailed
				stepErrors[outcome.id] = outcome.err.Error()
				failed = true
				recorder.Record(ctx, events.TypeStepFailed, outcome.id, map[string]any{
					"error": outcome.err.Error(),
				})
				s.logger.Warn("workflow step failed",
					"workflow_id", wf.ID(), "step_id", outcome.id,
					"step_name", step.Name(), "error", outcome.err)
				continue
			}
			statuses[outcome.id] = plunge.StepStatusCompleted
			results[outcome.id] = outcome.result
			completed++
			recorder.Record(ctx, events.TypeStepCompleted, outcome.id, nil)
			s.logger.Debug("workflow step completed",
				"workflow_id", wf.ID(), "step_id", outcome.id,
				"step_name", step.Name())
		}
	}
}

// readySteps returns the pending steps whose dependencies are all
// completed. A dependency id naming no step in the workflow can never
// be satisfied, which the main loop surfaces as a deadlock.
func readySteps(wf *Workflow, statuses map[string]plunge.StepStatus) []*Step {
	var ready []*Step
	for _, step := range wf.Steps() {
		if statuses[step.ID()] != plunge.StepStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn() {
			if _, exists := wf.Step(dep); !exists {
				satisfied = false
				break
			}
			if statuses[dep] != plunge.StepStatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step)
		}
	}
	return ready
}

func pendingIDs(wf *Workflow, statuses map[string]plunge.StepStatus) []string {
	var pending []string
	for _, step := range wf.Steps() {
		if statuses[step.ID()] == plunge.StepStatusPending {
			pending = append(pending, step.ID())
		}
	}
	return pending
}

func (s *Scheduler) saveSnapshot(
	ctx context.Context,
	wf *Workflow,
	executionID string,
	status plunge.WorkflowStatus,
	statuses map[string]plunge.StepStatus,
	stepErrors map[string]string,
	startTime, endTime time.Time,
	lastSeq int64,
) {
	if s.eventStore == nil {
		return
	}
	steps := make([]events.StepSnapshot, 0, len(wf.Steps()))
	for _, step := range wf.Steps() {
		steps = append(steps, events.StepSnapshot{
			ID:     step.ID(),
			Name:   step.Name(),
			Status: string(statuses[step.ID()]),
			Error:  stepErrors[step.ID()],
		})
	}
	snapshot := &events.Snapshot{
		ID:           executionID,
		Kind:         "workflow",
		Name:         wf.Name(),
		ProjectID:    wf.ProjectID(),
		Status:       string(status),
		Steps:        steps,
		StartTime:    startTime,
		EndTime:      endTime,
		LastEventSeq: lastSeq,
	}
	if err := s.eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		s.logger.Warn("failed to save workflow snapshot",
			"execution_id", executionID, "error", err)
	}
}
