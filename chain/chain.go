// Package chain runs linear plans of code steps through a sandboxed
// executor, repairing and retrying failed steps a bounded number of
// times before halting.
package chain

import (
	"fmt"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/internal/random"
)

// ChainStep is one unit of a linear chain. The runner mutates its
// status, retry bookkeeping, and (after a repair) its code.
type ChainStep struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Code       string            `json:"code"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	Status     plunge.StepStatus `json:"status"`
	RetryCount int               `json:"retry_count"`
	LastError  string            `json:"last_error,omitempty"`
	Stdout     string            `json:"stdout,omitempty"`
	Artifacts  []plunge.Artifact `json:"artifacts,omitempty"`
}

// Chain is a linear, ordered plan of steps. CurrentStep counts the
// steps completed so far: it is the index of the step currently
// executing or about to execute, and equals len(Steps) once the chain
// completes.
type Chain struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	ProjectID   string             `json:"project_id"`
	SessionID   string             `json:"session_id,omitempty"`
	Strategy    string             `json:"strategy,omitempty"`
	Steps       []*ChainStep       `json:"steps"`
	CurrentStep int                `json:"current_step"`
	Status      plunge.ChainStatus `json:"status"`
	RetryCount  int                `json:"retry_count"`
	LastError   string             `json:"last_error,omitempty"`
}

// StepOptions configures one chain step.
type StepOptions struct {
	ID      string
	Name    string
	Code    string
	Timeout time.Duration
}

// Options configures a new chain.
type Options struct {
	ID        string
	Name      string
	ProjectID string
	SessionID string
	Strategy  string
	Steps     []StepOptions
}

// New creates and validates a Chain in the pending state.
func New(opts Options) (*Chain, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("chain project id required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("chain steps required")
	}
	id := opts.ID
	if id == "" {
		id = random.ID("chain")
	}
	steps := make([]*ChainStep, 0, len(opts.Steps))
	seen := make(map[string]bool, len(opts.Steps))
	for i, stepOpts := range opts.Steps {
		if stepOpts.Code == "" {
			return nil, fmt.Errorf("chain step %d: code required", i+1)
		}
		stepID := stepOpts.ID
		if stepID == "" {
			stepID = random.ID("step")
		}
		if seen[stepID] {
			return nil, fmt.Errorf("duplicate step id %q", stepID)
		}
		seen[stepID] = true
		name := stepOpts.Name
		if name == "" {
			name = fmt.Sprintf("Step %d", i+1)
		}
		steps = append(steps, &ChainStep{
			ID:      stepID,
			Name:    name,
			Code:    stepOpts.Code,
			Timeout: stepOpts.Timeout,
			Status:  plunge.StepStatusPending,
		})
	}
	return &Chain{
		ID:        id,
		Name:      opts.Name,
		ProjectID: opts.ProjectID,
		SessionID: opts.SessionID,
		Strategy:  opts.Strategy,
		Steps:     steps,
		Status:    plunge.ChainStatusPending,
	}, nil
}
