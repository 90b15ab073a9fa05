package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/deepnoodle-ai/plunge/internal/random"
	"github.com/deepnoodle-ai/plunge/log"
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultMaxRetries is the per-step repair budget: a step may be
// re-attempted this many times after its initial failure.
const DefaultMaxRetries = 3

// maxErrorBytes bounds error text carried into chain state, progress
// messages, and events.
const maxErrorBytes = 4096

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Executor runs each step's code. Required.
	Executor plunge.Executor

	// Repairer proposes corrected code for failed steps. Nil means
	// failed steps are retried with their original code.
	Repairer plunge.Repairer

	// Classifier enriches final failure messages. Optional.
	Classifier plunge.ErrorClassifier

	// Progress receives human-readable notifications. Optional.
	Progress plunge.ProgressSink

	// Store persists chain state between mutations. Optional.
	Store Store

	// EventStore, when set, receives execution history and snapshots.
	EventStore events.Store

	// MaxRetries is the per-step repair budget (default 3).
	MaxRetries int

	// DataContext, when set, describes the project's available data
	// for repair prompts.
	DataContext func(projectID string) string

	Logger log.Logger
}

// Runner executes chains step by step: each step runs in the sandbox
// with the previous steps' variable context restored, and a failing
// step is repaired and retried up to the per-step budget before the
// chain halts.
type Runner struct {
	executor    plunge.Executor
	repairer    plunge.Repairer
	classifier  plunge.ErrorClassifier
	progress    plunge.ProgressSink
	store       Store
	eventStore  events.Store
	maxRetries  int
	dataContext func(projectID string) string
	logger      log.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	progress := opts.Progress
	if progress == nil {
		progress = plunge.NewNullProgressSink()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Runner{
		executor:    opts.Executor,
		repairer:    opts.Repairer,
		classifier:  opts.Classifier,
		progress:    progress,
		store:       opts.Store,
		eventStore:  opts.EventStore,
		maxRetries:  maxRetries,
		dataContext: opts.DataContext,
		logger:      logger,
	}, nil
}

// Run drives the chain to a terminal status, mutating and persisting
// its state as it goes. A failed chain is not an error; the error
// return is reserved for invalid invocations.
func (r *Runner) Run(ctx context.Context, c *Chain) error {
	if c == nil {
		return fmt.Errorf("chain is required")
	}
	runID := random.ID("run")
	recorder := events.NewRecorder(r.eventStore, runID, r.logger)
	startTime := time.Now()
	total := len(c.Steps)

	c.Status = plunge.ChainStatusRunning
	r.persist(ctx, c)
	recorder.Record(ctx, events.TypeExecutionStarted, "", map[string]any{
		"chain_id": c.ID,
		"name":     c.Name,
		"steps":    total,
	})
	r.saveSnapshot(ctx, c, runID, startTime, time.Time{}, recorder.Sequence())
	r.notify(ctx, c, fmt.Sprintf("Starting analysis%s (%d steps)", chainLabel(c), total))

	for i, step := range c.Steps {
		if err := ctx.Err(); err != nil {
			r.halt(ctx, c, step.ID, recorder, runID, startTime,
				"chain canceled", "Analysis canceled")
			return nil
		}

		step.Status = plunge.StepStatusRunning
		r.persist(ctx, c)
		recorder.Record(ctx, events.TypeStepStarted, step.ID, map[string]any{
			"name":  step.Name,
			"index": i + 1,
		})
		r.notify(ctx, c, fmt.Sprintf("Step %d/%d started: %s", i+1, total, step.Name))

		result, ok := r.runStepWithRetry(ctx, c, i, recorder)
		if !ok {
			message := fmt.Sprintf("Step %d/%d failed after %d retries: %s",
				i+1, total, step.RetryCount, step.LastError)
			if r.classifier != nil && result != nil {
				cls := r.classifier.Classify(step.LastError, result.Stderr, result.Stdout)
				message = fmt.Sprintf("Step %d/%d failed after %d retries [%s]: %s %s",
					i+1, total, step.RetryCount, cls.Category, step.LastError, cls.Suggestion)
			}
			r.halt(ctx, c, step.ID, recorder, runID, startTime,
				step.LastError, message)
			return nil
		}

		c.CurrentStep = i + 1
		r.persist(ctx, c)
		r.notify(ctx, c, fmt.Sprintf("Step %d/%d succeeded: %s%s",
			i+1, total, step.Name, artifactSuffix(step.Artifacts)))
	}

	c.Status = plunge.ChainStatusCompleted
	r.persist(ctx, c)
	recorder.Record(ctx, events.TypeExecutionCompleted, "", map[string]any{
		"steps": total,
	})
	r.saveSnapshot(ctx, c, runID, startTime, time.Now(), recorder.Sequence())
	r.notify(ctx, c, fmt.Sprintf("Analysis completed: %d/%d steps succeeded%s",
		total, total, consolidatedArtifacts(c)))
	r.logger.Info("chain completed",
		"chain_id", c.ID, "run_id", runID, "steps", total,
		"duration", time.Since(startTime))
	return nil
}

// runStepWithRetry attempts one step until it succeeds or the repair
// budget is exhausted. Returns the last execution result and whether
// the step completed.
func (r *Runner) runStepWithRetry(
	ctx context.Context,
	c *Chain,
	index int,
	recorder *events.Recorder,
) (*plunge.ExecutionResult, bool) {
	step := c.Steps[index]
	total := len(c.Steps)

	for {
		result := r.executor.Execute(ctx, plunge.ExecutionRequest{
			ProjectID: c.ProjectID,
			Code:      step.Code,
			Timeout:   step.Timeout,
			// Later steps see variables bound by earlier steps
			RestoreContext: index > 0,
		})

		if result.Success {
			step.Status = plunge.StepStatusCompleted
			step.RetryCount = 0
			step.LastError = ""
			step.Stdout = result.Stdout
			step.Artifacts = result.Artifacts
			c.RetryCount = 0
			c.LastError = ""
			r.persist(ctx, c)
			recorder.Record(ctx, events.TypeStepCompleted, step.ID, map[string]any{
				"artifacts": len(result.Artifacts),
			})
			return result, true
		}

		step.LastError = truncateText(failureMessage(result), maxErrorBytes)
		step.Stdout = result.Stdout
		r.logger.Warn("chain step failed",
			"chain_id", c.ID, "step_id", step.ID,
			"retry_count", step.RetryCount, "error", step.LastError)

		// Cancellation is not repairable
		exhausted := step.RetryCount >= r.maxRetries || ctx.Err() != nil
		if exhausted {
			step.Status = plunge.StepStatusFailed
			r.persist(ctx, c)
			recorder.Record(ctx, events.TypeStepFailed, step.ID, map[string]any{
				"error":       step.LastError,
				"retry_count": step.RetryCount,
			})
			return result, false
		}

		analysis := r.attemptRepair(ctx, c, step, result, recorder)
		step.RetryCount++
		c.RetryCount = step.RetryCount
		c.LastError = step.LastError
		r.persist(ctx, c)
		recorder.Record(ctx, events.TypeStepRetrying, step.ID, map[string]any{
			"retry_count": step.RetryCount,
			"max_retries": r.maxRetries,
			"analysis":    analysis,
		})
		retryMessage := fmt.Sprintf("Retrying step %d/%d (attempt %d of %d)",
			index+1, total, step.RetryCount, r.maxRetries)
		if analysis != "" {
			retryMessage += ": " + analysis
		}
		r.notify(ctx, c, retryMessage)
	}
}

// attemptRepair asks the repair collaborator for corrected code and
// swaps it in. A failed or empty repair leaves the original code in
// place so the retry budget is still spent on it. Returns the repair's
// analysis for the retry announcement.
func (r *Runner) attemptRepair(
	ctx context.Context,
	c *Chain,
	step *ChainStep,
	result *plunge.ExecutionResult,
	recorder *events.Recorder,
) string {
	if r.repairer == nil {
		return ""
	}
	dataContext := ""
	if r.dataContext != nil {
		dataContext = r.dataContext(c.ProjectID)
	}
	fix, err := r.repairer.Fix(ctx, plunge.RepairRequest{
		Code:         step.Code,
		ErrorMessage: step.LastError,
		Stdout:       result.Stdout,
		DataContext:  dataContext,
		RetryCount:   step.RetryCount,
		MaxRetries:   r.maxRetries,
	})
	if err != nil || fix == nil || strings.TrimSpace(fix.FixedCode) == "" {
		r.logger.Warn("code repair unavailable; retrying original code",
			"chain_id", c.ID, "step_id", step.ID, "error", err)
		return ""
	}
	if fix.FixedCode != step.Code {
		diff := unifiedDiff(step.Code, fix.FixedCode)
		r.logger.Debug("applying repaired code",
			"chain_id", c.ID, "step_id", step.ID, "diff", diff)
		recorder.Record(ctx, events.TypeCodeRepaired, step.ID, map[string]any{
			"analysis":        fix.Analysis,
			"fix_description": fix.FixDescription,
			"diff":            diff,
		})
		step.Code = fix.FixedCode
	}
	return fix.Analysis
}

// halt marks the chain failed, persists, and announces. CurrentStep is
// left at the count of completed steps; the failing step's own status
// was already set by the retry loop (a canceled chain leaves the
// unstarted step pending).
func (r *Runner) halt(
	ctx context.Context,
	c *Chain,
	stepID string,
	recorder *events.Recorder,
	runID string,
	startTime time.Time,
	lastError, message string,
) {
	c.Status = plunge.ChainStatusFailed
	c.LastError = lastError
	r.persist(ctx, c)
	recorder.Record(ctx, events.TypeExecutionFailed, stepID, map[string]any{
		"error":       lastError,
		"retry_count": c.RetryCount,
	})
	r.saveSnapshot(ctx, c, runID, startTime, time.Now(), recorder.Sequence())
	r.notify(ctx, c, message)
	r.logger.Warn("chain failed",
		"chain_id", c.ID, "run_id", runID,
		"step_id", stepID, "error", lastError)
}

func (r *Runner) persist(ctx context.Context, c *Chain) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, c); err != nil {
		r.logger.Warn("failed to persist chain state",
			"chain_id", c.ID, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, c *Chain, message string) {
	if err := r.progress.Append(ctx, c.ProjectID, c.SessionID, message); err != nil {
		r.logger.Warn("progress notification failed",
			"chain_id", c.ID, "error", err)
	}
}

func (r *Runner) saveSnapshot(
	ctx context.Context,
	c *Chain,
	runID string,
	startTime, endTime time.Time,
	lastSeq int64,
) {
	if r.eventStore == nil {
		return
	}
	steps := make([]events.StepSnapshot, 0, len(c.Steps))
	for _, step := range c.Steps {
		steps = append(steps, events.StepSnapshot{
			ID:         step.ID,
			Name:       step.Name,
			Status:     string(step.Status),
			Error:      step.LastError,
			RetryCount: step.RetryCount,
		})
	}
	snapshot := &events.Snapshot{
		ID:           runID,
		Kind:         "chain",
		Name:         c.Name,
		ProjectID:    c.ProjectID,
		Status:       string(c.Status),
		Steps:        steps,
		Error:        c.LastError,
		StartTime:    startTime,
		EndTime:      endTime,
		LastEventSeq: lastSeq,
	}
	if err := r.eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		r.logger.Warn("failed to save chain snapshot",
			"run_id", runID, "error", err)
	}
}

// failureMessage extracts the most useful error text from a failed
// result: the system message when one is set, otherwise stderr,
// otherwise the exit code.
func failureMessage(result *plunge.ExecutionResult) string {
	if result.Error != "" {
		return result.Error
	}
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		return stderr
	}
	return fmt.Sprintf("process exited with code %d", result.ExitCode)
}

func unifiedDiff(original, repaired string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(repaired),
		FromFile: "original",
		ToFile:   "repaired",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return text
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}

func chainLabel(c *Chain) string {
	if c.Name == "" {
		return ""
	}
	return ": " + c.Name
}

func artifactSuffix(artifacts []plunge.Artifact) string {
	if len(artifacts) == 0 {
		return ""
	}
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	return fmt.Sprintf(" (produced %s)", strings.Join(names, ", "))
}

func consolidatedArtifacts(c *Chain) string {
	var names []string
	for _, step := range c.Steps {
		for _, a := range step.Artifacts {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return fmt.Sprintf(". Artifacts: %s", strings.Join(names, ", "))
}
