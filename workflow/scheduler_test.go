package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/stretchr/testify/require"
)

func buildWorkflow(t *testing.T, steps ...*Step) *Workflow {
	t.Helper()
	wf, err := New(Options{Name: "test", ProjectID: "proj-1", Steps: steps})
	require.NoError(t, err)
	return wf
}

func summaryByID(outcome *Outcome, id string) StepSummary {
	for _, s := range outcome.Steps {
		if s.ID == id {
			return s
		}
	}
	return StepSummary{}
}

func TestSchedulerDiamond(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "a"),
		testStep(t, "c", "a"),
		testStep(t, "d", "b", "c"),
	)

	var mu sync.Mutex
	seen := map[string]map[string]any{}
	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		mu.Lock()
		seen[step.ID()] = depResults
		mu.Unlock()
		return "result-" + step.ID(), nil
	}

	outcome, err := NewScheduler(SchedulerOptions{}).Execute(context.Background(), wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusCompleted, outcome.Status)
	require.Equal(t, wf.ID(), outcome.WorkflowID)
	require.Len(t, outcome.Results, 4)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.Equal(t, "result-"+id, outcome.Results[id])
		require.Equal(t, plunge.StepStatusCompleted, summaryByID(outcome, id).Status)
	}

	// Each step received exactly its dependencies' results
	require.Empty(t, seen["a"])
	require.Equal(t, map[string]any{"a": "result-a"}, seen["b"])
	require.Equal(t, map[string]any{"a": "result-a"}, seen["c"])
	require.Equal(t, map[string]any{"b": "result-b", "c": "result-c"}, seen["d"])
}

// Siblings in the same ready set run concurrently: b and c rendezvous
// inside the executor, which can only succeed if both are in flight.
func TestSchedulerConcurrentSiblings(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "a"),
		testStep(t, "c", "a"),
	)

	started := make(chan string, 2)
	release := make(chan struct{})
	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		if step.ID() == "b" || step.ID() == "c" {
			started <- step.ID()
			select {
			case <-release:
			case <-time.After(5 * time.Second):
				return nil, fmt.Errorf("sibling never started")
			}
		}
		return step.ID(), nil
	}

	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := NewScheduler(SchedulerOptions{}).Execute(context.Background(), wf, execute)
		require.NoError(t, err)
		done <- outcome
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("siblings were not dispatched concurrently")
		}
	}
	close(release)

	outcome := <-done
	require.Equal(t, plunge.WorkflowStatusCompleted, outcome.Status)
}

func TestSchedulerDeadlock(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a", "b"),
		testStep(t, "b", "a"),
	)

	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		t.Errorf("step %s should never run", step.ID())
		return nil, fmt.Errorf("unexpected dispatch")
	}

	outcome, err := NewScheduler(SchedulerOptions{}).Execute(context.Background(), wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusDeadlocked, outcome.Status)
	require.Empty(t, outcome.Results)
	require.Equal(t, plunge.StepStatusPending, summaryByID(outcome, "a").Status)
	require.Equal(t, plunge.StepStatusPending, summaryByID(outcome, "b").Status)
}

func TestSchedulerMissingDependency(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "ghost"),
	)

	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		return step.ID(), nil
	}

	outcome, err := NewScheduler(SchedulerOptions{}).Execute(context.Background(), wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusDeadlocked, outcome.Status)
	require.Equal(t, plunge.StepStatusCompleted, summaryByID(outcome, "a").Status)
	require.Equal(t, plunge.StepStatusPending, summaryByID(outcome, "b").Status)
}

func TestSchedulerStepFailure(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "a"),
		testStep(t, "c", "a"),
		testStep(t, "d", "b"),
	)

	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		if step.ID() == "b" {
			return nil, fmt.Errorf("division by zero")
		}
		return step.ID(), nil
	}

	outcome, err := NewScheduler(SchedulerOptions{}).Execute(context.Background(), wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusFailed, outcome.Status)
	require.Equal(t, plunge.StepStatusFailed, summaryByID(outcome, "b").Status)
	require.Contains(t, summaryByID(outcome, "b").Error, "division by zero")

	// The in-flight sibling finished; the dependent never started
	require.Equal(t, plunge.StepStatusCompleted, summaryByID(outcome, "c").Status)
	require.Equal(t, plunge.StepStatusPending, summaryByID(outcome, "d").Status)
	require.NotContains(t, outcome.Results, "d")
}

func TestSchedulerCancellation(t *testing.T) {
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "a"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	execute := func(stepCtx context.Context, step *Step, depResults map[string]any) (any, error) {
		cancel()
		return step.ID(), nil
	}

	outcome, err := NewScheduler(SchedulerOptions{}).Execute(ctx, wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusFailed, outcome.Status)
	require.Equal(t, plunge.StepStatusCompleted, summaryByID(outcome, "a").Status)
	require.Equal(t, plunge.StepStatusPending, summaryByID(outcome, "b").Status)
	require.Equal(t, "workflow canceled", summaryByID(outcome, "b").Error)
}

func TestSchedulerRecordsHistory(t *testing.T) {
	store := events.NewMemoryStore()
	wf := buildWorkflow(t,
		testStep(t, "a"),
		testStep(t, "b", "a"),
	)

	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		return step.ID(), nil
	}

	outcome, err := NewScheduler(SchedulerOptions{EventStore: store}).
		Execute(context.Background(), wf, execute)
	require.NoError(t, err)
	require.Equal(t, plunge.WorkflowStatusCompleted, outcome.Status)
	require.NotEmpty(t, outcome.ExecutionID)

	ctx := context.Background()
	snapshot, err := store.GetSnapshot(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, "workflow", snapshot.Kind)
	require.Equal(t, "proj-1", snapshot.ProjectID)
	require.Equal(t, string(plunge.WorkflowStatusCompleted), snapshot.Status)
	require.Len(t, snapshot.Steps, 2)
	require.False(t, snapshot.EndTime.IsZero())

	history, err := store.GetHistory(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, events.TypeExecutionStarted, history[0].Type)
	require.Equal(t, events.TypeExecutionCompleted, history[len(history)-1].Type)

	var stepStarts int
	for _, event := range history {
		if event.Type == events.TypeStepStarted {
			stepStarts++
		}
	}
	require.Equal(t, 2, stepStarts)
}

func TestSchedulerInvalidArgs(t *testing.T) {
	scheduler := NewScheduler(SchedulerOptions{})
	execute := func(ctx context.Context, step *Step, depResults map[string]any) (any, error) {
		return nil, nil
	}

	_, err := scheduler.Execute(context.Background(), nil, execute)
	require.ErrorContains(t, err, "workflow is required")

	wf := buildWorkflow(t, testStep(t, "a"))
	_, err = scheduler.Execute(context.Background(), wf, nil)
	require.ErrorContains(t, err, "step executor is required")
}
