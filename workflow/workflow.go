// Package workflow defines dependency-ordered step graphs and the
// scheduler that drives them to completion, failure, or deadlock.
package workflow

import (
	"fmt"

	"github.com/deepnoodle-ai/plunge/internal/random"
)

// Workflow is a named set of steps with explicit dependency edges.
// Immutable once constructed.
type Workflow struct {
	id          string
	name        string
	description string
	projectID   string
	steps       []*Step
	byID        map[string]*Step
}

// Options configures a new workflow.
type Options struct {
	ID          string
	Name        string
	Description string
	ProjectID   string
	Steps       []*Step
}

// New creates and validates a Workflow. Duplicate step ids are rejected
// here; dependency edges pointing at unknown ids are not, because the
// scheduler reports those structurally as a deadlock.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("workflow steps required")
	}
	byID := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if _, exists := byID[step.ID()]; exists {
			return nil, fmt.Errorf("duplicate step id %q", step.ID())
		}
		byID[step.ID()] = step
	}
	id := opts.ID
	if id == "" {
		id = random.ID("wf")
	}
	return &Workflow{
		id:          id,
		name:        opts.Name,
		description: opts.Description,
		projectID:   opts.ProjectID,
		steps:       opts.Steps,
		byID:        byID,
	}, nil
}

func (w *Workflow) ID() string {
	return w.id
}

func (w *Workflow) Name() string {
	return w.name
}

func (w *Workflow) Description() string {
	return w.description
}

// ProjectID names the project whose data and context the steps run
// against.
func (w *Workflow) ProjectID() string {
	return w.projectID
}

func (w *Workflow) Steps() []*Step {
	return w.steps
}

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (*Step, bool) {
	step, ok := w.byID[id]
	return step, ok
}
