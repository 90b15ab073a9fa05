package plunge

import (
	"context"
	"time"
)

// StepStatus indicates the execution status of a single step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ChainStatus indicates the overall status of a linear chain
type ChainStatus string

const (
	ChainStatusPending   ChainStatus = "pending"
	ChainStatusRunning   ChainStatus = "running"
	ChainStatusCompleted ChainStatus = "completed"
	ChainStatusFailed    ChainStatus = "failed"
)

// WorkflowStatus indicates the overall status of a DAG workflow
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusDeadlocked WorkflowStatus = "deadlocked"
)

// ExecutionRequest describes one code unit to be run in isolation.
// Immutable once constructed.
type ExecutionRequest struct {
	// ProjectID selects the data directory and context snapshot namespace.
	ProjectID string `json:"project_id"`

	// Code is the script source to run.
	Code string `json:"code"`

	// Timeout bounds wall-clock execution. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RestoreContext injects the project's saved variable snapshot into
	// the script's namespace before it runs.
	RestoreContext bool `json:"restore_context,omitempty"`

	// Inputs, when non-nil, is written to an inputs.json file in the
	// scratch directory and bound as the "inputs" variable.
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ExecutionResult is the outcome of one sandboxed execution. An executor
// always returns a result, even for timeouts and launch failures.
type ExecutionResult struct {
	Success         bool           `json:"success"`
	Stdout          string         `json:"stdout,omitempty"`
	Stderr          string         `json:"stderr,omitempty"`
	Artifacts       []Artifact     `json:"artifacts,omitempty"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
	ExitCode        int            `json:"exit_code"`
	Duration        time.Duration  `json:"duration"`

	// Error carries a system-level message when the failure happened
	// outside the script itself (backend unavailable, setup failure).
	Error string `json:"error,omitempty"`
}

// Executor runs one code unit in isolation. Execute must not return an
// error: every failure mode is folded into the result.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) *ExecutionResult
}

// RepairRequest carries a failing code unit to a repair collaborator.
type RepairRequest struct {
	Code         string `json:"code"`
	ErrorMessage string `json:"error_message"`
	Stdout       string `json:"stdout,omitempty"`
	DataContext  string `json:"data_context,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
}

// RepairResult is a repair collaborator's proposed correction.
type RepairResult struct {
	Analysis       string `json:"analysis,omitempty"`
	FixDescription string `json:"fix_description,omitempty"`
	FixedCode      string `json:"fixed_code"`
}

// Repairer proposes corrected code for a failed execution. Implementations
// are typically LLM-backed and may themselves fail; callers fall back to
// retrying the original code.
type Repairer interface {
	Fix(ctx context.Context, req RepairRequest) (*RepairResult, error)
}
