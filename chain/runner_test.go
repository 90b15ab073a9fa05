package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/stretchr/testify/require"
)

// fakeExecutor runs a programmable handler and records every request.
type fakeExecutor struct {
	mutex    sync.Mutex
	requests []plunge.ExecutionRequest
	handler  func(req plunge.ExecutionRequest) *plunge.ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, req plunge.ExecutionRequest) *plunge.ExecutionResult {
	f.mutex.Lock()
	f.requests = append(f.requests, req)
	f.mutex.Unlock()
	return f.handler(req)
}

func succeed(stdout string) *plunge.ExecutionResult {
	return &plunge.ExecutionResult{Success: true, Stdout: stdout}
}

func fail(stderr string) *plunge.ExecutionResult {
	return &plunge.ExecutionResult{Success: false, Stderr: stderr, ExitCode: 1}
}

// fakeRepairer returns queued fixes in order and records requests.
type fakeRepairer struct {
	fixes    []*plunge.RepairResult
	err      error
	requests []plunge.RepairRequest
}

func (f *fakeRepairer) Fix(ctx context.Context, req plunge.RepairRequest) (*plunge.RepairResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.fixes) == 0 {
		return nil, fmt.Errorf("no fix available")
	}
	fix := f.fixes[0]
	f.fixes = f.fixes[1:]
	return fix, nil
}

// captureSink records every progress message.
type captureSink struct {
	mutex    sync.Mutex
	messages []string
}

func (s *captureSink) Append(ctx context.Context, projectID, sessionID, message string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *captureSink) countPrefix(prefix string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	count := 0
	for _, m := range s.messages {
		if strings.HasPrefix(m, prefix) {
			count++
		}
	}
	return count
}

func twoStepChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(Options{
		Name:      "test",
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Steps: []StepOptions{
			{Code: "x = 1"},
			{Code: "print(x + 1)"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestRunnerAllSuccess(t *testing.T) {
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		if strings.Contains(req.Code, "print") {
			return succeed("2\n")
		}
		return succeed("")
	}}
	sink := &captureSink{}
	runner, err := NewRunner(RunnerOptions{Executor: executor, Progress: sink})
	require.NoError(t, err)

	c := twoStepChain(t)
	require.NoError(t, runner.Run(context.Background(), c))

	require.Equal(t, plunge.ChainStatusCompleted, c.Status)
	require.Equal(t, 2, c.CurrentStep)
	require.Empty(t, c.LastError)
	for _, step := range c.Steps {
		require.Equal(t, plunge.StepStatusCompleted, step.Status)
		require.Zero(t, step.RetryCount)
	}
	require.Contains(t, c.Steps[1].Stdout, "2")

	// The first step starts fresh; later steps restore prior context
	require.False(t, executor.requests[0].RestoreContext)
	require.True(t, executor.requests[1].RestoreContext)
	require.Equal(t, "proj-1", executor.requests[0].ProjectID)

	require.Equal(t, 1, sink.countPrefix("Starting analysis"))
	require.Equal(t, 1, sink.countPrefix("Step 1/2 started"))
	require.Equal(t, 1, sink.countPrefix("Step 2/2 started"))
	require.Equal(t, 1, sink.countPrefix("Step 1/2 succeeded"))
	require.Equal(t, 1, sink.countPrefix("Step 2/2 succeeded"))
	require.Equal(t, 1, sink.countPrefix("Analysis completed"))
	require.Equal(t, 0, sink.countPrefix("Retrying"))
}

func TestRunnerRepairSuccess(t *testing.T) {
	// The step fails twice; the second repair finally produces working
	// code, so the third attempt succeeds within max_retries=3.
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		if strings.Contains(req.Code, "broken") {
			return fail("ModuleNotFoundError: No module named 'pands'")
		}
		return succeed("")
	}}
	repairer := &fakeRepairer{fixes: []*plunge.RepairResult{
		{Analysis: "typo in module name", FixedCode: "import pands  # still broken"},
		{Analysis: "correct module is pandas", FixedCode: "import pandas"},
	}}
	sink := &captureSink{}
	store := events.NewMemoryStore()
	runner, err := NewRunner(RunnerOptions{
		Executor:   executor,
		Repairer:   repairer,
		Progress:   sink,
		EventStore: store,
	})
	require.NoError(t, err)

	c, err := New(Options{
		ProjectID: "proj-1",
		Steps: []StepOptions{
			{Code: "x = 1"},
			{Code: "import broken"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), c))

	require.Equal(t, plunge.ChainStatusCompleted, c.Status)
	require.Equal(t, 2, c.CurrentStep)

	// Success resets retry state and leaves the repaired code in place
	step := c.Steps[1]
	require.Equal(t, plunge.StepStatusCompleted, step.Status)
	require.Zero(t, step.RetryCount)
	require.Empty(t, step.LastError)
	require.Equal(t, "import pandas", step.Code)

	require.Len(t, repairer.requests, 2)
	require.Equal(t, "import broken", repairer.requests[0].Code)
	require.Equal(t, 0, repairer.requests[0].RetryCount)
	require.Equal(t, 3, repairer.requests[0].MaxRetries)
	require.Contains(t, repairer.requests[0].ErrorMessage, "ModuleNotFoundError")
	require.Equal(t, 1, repairer.requests[1].RetryCount)

	require.Equal(t, 2, sink.countPrefix("Retrying step 2/2"))

	// The event log carries the repair diffs and retries
	executions, err := store.ListExecutions(context.Background(), events.Filter{})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	history, err := store.GetHistory(context.Background(), executions[0].ID)
	require.NoError(t, err)

	var types []events.Type
	for _, event := range history {
		types = append(types, event.Type)
	}
	require.Equal(t, events.TypeExecutionStarted, types[0])
	require.Equal(t, events.TypeExecutionCompleted, types[len(types)-1])

	var repaired, retrying int
	for _, event := range history {
		switch event.Type {
		case events.TypeCodeRepaired:
			repaired++
			require.NotEmpty(t, event.Data["diff"])
		case events.TypeStepRetrying:
			retrying++
		}
	}
	require.Equal(t, 2, repaired)
	require.Equal(t, 2, retrying)
}

func TestRunnerExhaustionHalts(t *testing.T) {
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		if strings.Contains(req.Code, "doomed") {
			return fail("NameError: name 'df' is not defined")
		}
		return succeed("")
	}}
	sink := &captureSink{}
	store := events.NewMemoryStore()
	runner, err := NewRunner(RunnerOptions{
		Executor:   executor,
		Classifier: plunge.NewPatternClassifier(),
		Progress:   sink,
		EventStore: store,
	})
	require.NoError(t, err)

	c, err := New(Options{
		ProjectID: "proj-1",
		Steps: []StepOptions{
			{Code: "x = 1"},
			{Code: "doomed"},
			{Code: "never_runs"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), c))

	require.Equal(t, plunge.ChainStatusFailed, c.Status)
	require.Equal(t, 1, c.CurrentStep)
	require.Contains(t, c.LastError, "NameError")

	require.Equal(t, plunge.StepStatusCompleted, c.Steps[0].Status)
	require.Equal(t, plunge.StepStatusFailed, c.Steps[1].Status)
	require.Equal(t, 3, c.Steps[1].RetryCount)
	require.Contains(t, c.Steps[1].LastError, "NameError")

	// The third step never ran and produced no notifications
	require.Equal(t, plunge.StepStatusPending, c.Steps[2].Status)
	require.Equal(t, 0, sink.countPrefix("Step 3/3"))

	// Initial attempt plus three retries for the doomed step
	require.Len(t, executor.requests, 1+4)
	require.Equal(t, 3, sink.countPrefix("Retrying step 2/3"))

	// The final failure message carries the classification
	require.Equal(t, 1, sink.countPrefix("Step 2/3 failed"))
	var failure string
	for _, m := range sink.messages {
		if strings.HasPrefix(m, "Step 2/3 failed") {
			failure = m
		}
	}
	require.Contains(t, failure, "logic_error")

	executions, err := store.ListExecutions(context.Background(), events.Filter{})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	snapshot := executions[0]
	require.Equal(t, "chain", snapshot.Kind)
	require.Equal(t, "failed", snapshot.Status)
	require.Equal(t, 3, snapshot.Steps[1].RetryCount)
	require.False(t, snapshot.EndTime.IsZero())
}

func TestRunnerRepairerFailureFallsBack(t *testing.T) {
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		return fail("boom")
	}}
	repairer := &fakeRepairer{err: fmt.Errorf("llm unavailable")}
	runner, err := NewRunner(RunnerOptions{Executor: executor, Repairer: repairer})
	require.NoError(t, err)

	c, err := New(Options{
		ProjectID: "proj-1",
		Steps:     []StepOptions{{Code: "x = 1"}},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), c))

	require.Equal(t, plunge.ChainStatusFailed, c.Status)
	// The original code was retried for the full budget
	require.Len(t, executor.requests, 4)
	for _, req := range executor.requests {
		require.Equal(t, "x = 1", req.Code)
	}
	require.Len(t, repairer.requests, 3)
}

func TestRunnerRetrySuccessResetsState(t *testing.T) {
	calls := 0
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		calls++
		if calls == 1 {
			return fail("flaky")
		}
		return succeed("")
	}}
	sink := &captureSink{}
	runner, err := NewRunner(RunnerOptions{Executor: executor, Progress: sink})
	require.NoError(t, err)

	c, err := New(Options{
		ProjectID: "proj-1",
		Steps:     []StepOptions{{Code: "x = 1"}},
	})
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background(), c))

	require.Equal(t, plunge.ChainStatusCompleted, c.Status)
	require.Zero(t, c.Steps[0].RetryCount)
	require.Empty(t, c.Steps[0].LastError)
	require.Zero(t, c.RetryCount)
	require.Empty(t, c.LastError)
	require.Equal(t, 1, sink.countPrefix("Retrying"))
}

func TestRunnerCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		cancel()
		return succeed("")
	}}
	sink := &captureSink{}
	runner, err := NewRunner(RunnerOptions{Executor: executor, Progress: sink})
	require.NoError(t, err)

	c := twoStepChain(t)
	require.NoError(t, runner.Run(ctx, c))

	require.Equal(t, plunge.ChainStatusFailed, c.Status)
	require.Equal(t, "chain canceled", c.LastError)
	require.Equal(t, 1, c.CurrentStep)
	require.Equal(t, plunge.StepStatusCompleted, c.Steps[0].Status)
	require.Equal(t, plunge.StepStatusPending, c.Steps[1].Status)
	require.Len(t, executor.requests, 1)
	require.Equal(t, 1, sink.countPrefix("Analysis canceled"))
}

func TestRunnerPersistsThroughStore(t *testing.T) {
	executor := &fakeExecutor{handler: func(req plunge.ExecutionRequest) *plunge.ExecutionResult {
		return succeed("")
	}}
	store := NewMemoryStore()
	runner, err := NewRunner(RunnerOptions{Executor: executor, Store: store})
	require.NoError(t, err)

	c := twoStepChain(t)
	require.NoError(t, runner.Run(context.Background(), c))

	saved, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, plunge.ChainStatusCompleted, saved.Status)
	require.Equal(t, 2, saved.CurrentStep)
}

func TestRunnerRequiresExecutor(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.ErrorContains(t, err, "executor is required")

	runner, err := NewRunner(RunnerOptions{Executor: &fakeExecutor{}})
	require.NoError(t, err)
	require.ErrorContains(t, runner.Run(context.Background(), nil), "chain is required")
}

func TestUnifiedDiff(t *testing.T) {
	diff := unifiedDiff("import pands\n", "import pandas\n")
	require.Contains(t, diff, "-import pands")
	require.Contains(t, diff, "+import pandas")
	require.Empty(t, unifiedDiff("same\n", "same\n"))
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "backend down",
		failureMessage(&plunge.ExecutionResult{Error: "backend down", Stderr: "x"}))
	require.Equal(t, "Traceback",
		failureMessage(&plunge.ExecutionResult{Stderr: "  Traceback  \n"}))
	require.Equal(t, "process exited with code 7",
		failureMessage(&plunge.ExecutionResult{ExitCode: 7}))
}
