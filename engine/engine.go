// Package engine composes the sandbox executor, chain runner, and
// workflow scheduler behind submit APIs. Submitted work runs on a
// shared worker pool; callers hold an Execution handle to wait on.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/chain"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/deepnoodle-ai/plunge/log"
	"github.com/deepnoodle-ai/plunge/worker"
	"github.com/deepnoodle-ai/plunge/workflow"
)

// DefaultMaxCallDepth bounds workflow-call nesting.
const DefaultMaxCallDepth = 8

// ToolCall carries the inputs of one tool-call step invocation.
type ToolCall struct {
	ProjectID string
	Inputs    map[string]any
}

// ToolFunc implements a named tool-call step.
type ToolFunc func(ctx context.Context, call ToolCall) (any, error)

// Options configures an Engine.
type Options struct {
	// Executor runs step and chain code. Required.
	Executor plunge.Executor

	// Repairer proposes fixes for failed chain steps. Optional.
	Repairer plunge.Repairer

	// Classifier enriches chain failure messages. Optional.
	Classifier plunge.ErrorClassifier

	// Progress receives chain notifications. Optional.
	Progress plunge.ProgressSink

	// ChainStore and WorkflowStore persist definitions and state.
	// In-memory stores are used when unset.
	ChainStore    chain.Store
	WorkflowStore workflow.Store

	// EventStore, when set, receives execution history and snapshots.
	EventStore events.Store

	// Tools maps tool names to tool-call step implementations.
	Tools map[string]ToolFunc

	// DataRoot holds per-project data directories, read by data-fetch
	// steps and described in repair prompts.
	DataRoot string

	// Workers sizes the submission pool.
	Workers int

	// MaxConcurrent bounds parallel workflow steps.
	MaxConcurrent int

	// MaxRetries is the per-step chain repair budget.
	MaxRetries int

	// MaxCallDepth bounds workflow-call nesting (default 8).
	MaxCallDepth int

	Logger log.Logger
}

// Engine owns the stores, pool, runner, and scheduler for one process.
type Engine struct {
	executor     plunge.Executor
	runner       *chain.Runner
	scheduler    *workflow.Scheduler
	chains       chain.Store
	workflows    workflow.Store
	events       events.Store
	pool         *worker.Pool
	tools        map[string]ToolFunc
	dataRoot     string
	maxCallDepth int
	logger       log.Logger
}

// New creates an Engine and starts its worker pool.
func New(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	chains := opts.ChainStore
	if chains == nil {
		chains = chain.NewMemoryStore()
	}
	workflows := opts.WorkflowStore
	if workflows == nil {
		workflows = workflow.NewMemoryStore()
	}
	maxCallDepth := opts.MaxCallDepth
	if maxCallDepth <= 0 {
		maxCallDepth = DefaultMaxCallDepth
	}
	e := &Engine{
		executor:     opts.Executor,
		chains:       chains,
		workflows:    workflows,
		events:       opts.EventStore,
		tools:        opts.Tools,
		dataRoot:     opts.DataRoot,
		maxCallDepth: maxCallDepth,
		logger:       logger,
	}
	runner, err := chain.NewRunner(chain.RunnerOptions{
		Executor:    opts.Executor,
		Repairer:    opts.Repairer,
		Classifier:  opts.Classifier,
		Progress:    opts.Progress,
		Store:       chains,
		EventStore:  opts.EventStore,
		MaxRetries:  opts.MaxRetries,
		DataContext: e.describeProjectData,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	e.runner = runner
	e.scheduler = workflow.NewScheduler(workflow.SchedulerOptions{
		MaxConcurrent: opts.MaxConcurrent,
		EventStore:    opts.EventStore,
		Logger:        logger,
	})
	e.pool = worker.NewPool(worker.PoolOptions{
		Workers: opts.Workers,
		Logger:  logger,
	})
	return e, nil
}

// Close stops intake and waits for running executions to drain.
func (e *Engine) Close(ctx context.Context) error {
	return e.pool.Shutdown(ctx)
}

// ChainStore returns the engine's chain store.
func (e *Engine) ChainStore() chain.Store {
	return e.chains
}

// WorkflowStore returns the engine's workflow store.
func (e *Engine) WorkflowStore() workflow.Store {
	return e.workflows
}

// CreateWorkflowOptions configures CreateWorkflow.
type CreateWorkflowOptions struct {
	ID          string
	Name        string
	Description string
	ProjectID   string
	Steps       []workflow.StepOptions
}

// CreateWorkflow validates the step configurations, builds the
// workflow, and registers it in the workflow store.
func (e *Engine) CreateWorkflow(ctx context.Context, opts CreateWorkflowOptions) (*workflow.Workflow, error) {
	steps := make([]*workflow.Step, 0, len(opts.Steps))
	for i, stepOpts := range opts.Steps {
		step, err := workflow.NewStep(stepOpts)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	wf, err := workflow.New(workflow.Options{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		ProjectID:   opts.ProjectID,
		Steps:       steps,
	})
	if err != nil {
		return nil, err
	}
	if err := e.workflows.Put(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to store workflow: %w", err)
	}
	return wf, nil
}

// Execution is a handle to one submitted chain or workflow run.
type Execution struct {
	kind  string
	chain *chain.Chain
	done  chan struct{}

	mutex    sync.Mutex
	outcome  *workflow.Outcome
	err      error
	cancel   context.CancelFunc
	canceled bool
}

func newExecution(kind string) *Execution {
	return &Execution{kind: kind, done: make(chan struct{})}
}

// Kind returns "chain" or "workflow".
func (x *Execution) Kind() string {
	return x.kind
}

// Chain returns the submitted chain, nil for workflow submissions. The
// chain's fields settle once Done is closed.
func (x *Execution) Chain() *chain.Chain {
	return x.chain
}

// Outcome returns the workflow outcome, nil until completion and for
// chain submissions.
func (x *Execution) Outcome() *workflow.Outcome {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return x.outcome
}

// Err returns the invocation error, if any, once Done is closed.
func (x *Execution) Err() error {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return x.err
}

// Done is closed when the execution reaches a terminal state.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Wait blocks until the execution finishes or ctx is done.
func (x *Execution) Wait(ctx context.Context) error {
	select {
	case <-x.done:
		return x.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops this execution without affecting the rest of the pool.
func (x *Execution) Cancel() {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	x.canceled = true
	if x.cancel != nil {
		x.cancel()
	}
}

// bind attaches the run's cancel func, applying an earlier Cancel call.
func (x *Execution) bind(cancel context.CancelFunc) {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	x.cancel = cancel
	if x.canceled {
		cancel()
	}
}

func (x *Execution) finish(outcome *workflow.Outcome, err error) {
	x.mutex.Lock()
	x.outcome = outcome
	x.err = err
	x.mutex.Unlock()
	close(x.done)
}

// SubmitChain queues a chain for execution and returns immediately.
// The chain's state mutates as the run progresses.
func (e *Engine) SubmitChain(ctx context.Context, c *chain.Chain) (*Execution, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	handle := newExecution("chain")
	handle.chain = c
	err := e.pool.Submit(func(taskCtx context.Context) {
		runCtx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		handle.bind(cancel)
		handle.finish(nil, e.runner.Run(runCtx, c))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue chain: %w", err)
	}
	return handle, nil
}

// SubmitWorkflow queues a stored workflow for execution and returns
// immediately.
func (e *Engine) SubmitWorkflow(ctx context.Context, workflowID string) (*Execution, error) {
	wf, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	handle := newExecution("workflow")
	err = e.pool.Submit(func(taskCtx context.Context) {
		runCtx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		handle.bind(cancel)
		outcome, runErr := e.scheduler.Execute(runCtx, wf, e.stepExecutor(wf.ProjectID(), 0))
		handle.finish(outcome, runErr)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue workflow: %w", err)
	}
	return handle, nil
}

// describeProjectData renders a one-line-per-file listing of the
// project's data directory for repair prompts.
func (e *Engine) describeProjectData(projectID string) string {
	if e.dataRoot == "" {
		return ""
	}
	entries, err := os.ReadDir(e.projectDataDir(projectID))
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name()+"/")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			names = append(names, entry.Name())
			continue
		}
		names = append(names, fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size()))
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return "Files in the project data directory:\n" + strings.Join(names, "\n")
}
