package workflow

import (
	"fmt"
	"time"

	"github.com/deepnoodle-ai/plunge/internal/random"
)

// Kind identifies what a step does. The set is closed: a configuration
// carrying any other kind is rejected when the step is built.
type Kind string

const (
	KindWorkflowCall Kind = "workflow-call"
	KindToolCall     Kind = "tool-call"
	KindDataFetch    Kind = "data-fetch"
	KindTransform    Kind = "transform"
	KindVisualize    Kind = "visualize"
	KindCondition    Kind = "condition"
	KindLoop         Kind = "loop"
)

// Valid reports whether k names a known step kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWorkflowCall, KindToolCall, KindDataFetch,
		KindTransform, KindVisualize, KindCondition, KindLoop:
		return true
	}
	return false
}

// ConditionSpec is the payload of a condition step: it tests one value
// from the step's inputs or dependency results.
type ConditionSpec struct {
	// Input names the tested value.
	Input string `json:"input"`

	// Equals, when non-nil, is the value Input must equal. Nil tests
	// truthiness instead.
	Equals any `json:"equals,omitempty"`
}

// LoopSpec is the payload of a loop step: it runs a code body once per
// item of a list-valued input.
type LoopSpec struct {
	// Items names the input holding the list to iterate.
	Items string `json:"items"`

	// ItemVar is the variable the body sees per iteration ("item" when
	// empty).
	ItemVar string `json:"item_var,omitempty"`

	// Body is the code executed per item.
	Body string `json:"body"`

	// MaxItems bounds the iteration count. Zero means the runner default.
	MaxItems int `json:"max_items,omitempty"`
}

// Step is one node of a workflow. Immutable once constructed; runtime
// status lives with the execution, not the definition.
type Step struct {
	id        string
	name      string
	kind      Kind
	code      string
	tool      string
	source    string
	workflow  string
	condition *ConditionSpec
	loop      *LoopSpec
	inputs    map[string]any
	dependsOn []string
	timeout   time.Duration
}

// StepOptions configures a new workflow step. Exactly the payload
// fields matching Kind must be set.
type StepOptions struct {
	ID        string
	Name      string
	Kind      Kind
	Code      string         // transform, visualize
	Tool      string         // tool-call
	Source    string         // data-fetch: path inside the project data dir
	Workflow  string         // workflow-call: id of the called workflow
	Condition *ConditionSpec // condition
	Loop      *LoopSpec      // loop
	Inputs    map[string]any
	DependsOn []string
	Timeout   time.Duration
}

// NewStep creates and validates a Step. Unknown kinds and missing
// per-kind payloads are rejected here, not at dispatch time.
func NewStep(opts StepOptions) (*Step, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("unknown step kind %q", opts.Kind)
	}
	switch opts.Kind {
	case KindTransform, KindVisualize:
		if opts.Code == "" {
			return nil, fmt.Errorf("code is required for %s steps", opts.Kind)
		}
	case KindToolCall:
		if opts.Tool == "" {
			return nil, fmt.Errorf("tool name is required for tool-call steps")
		}
	case KindDataFetch:
		if opts.Source == "" {
			return nil, fmt.Errorf("source path is required for data-fetch steps")
		}
	case KindWorkflowCall:
		if opts.Workflow == "" {
			return nil, fmt.Errorf("workflow id is required for workflow-call steps")
		}
	case KindCondition:
		if opts.Condition == nil || opts.Condition.Input == "" {
			return nil, fmt.Errorf("condition input is required for condition steps")
		}
	case KindLoop:
		if opts.Loop == nil || opts.Loop.Items == "" {
			return nil, fmt.Errorf("loop items input is required for loop steps")
		}
		if opts.Loop.Body == "" {
			return nil, fmt.Errorf("loop body is required for loop steps")
		}
	}
	id := opts.ID
	if id == "" {
		id = random.ID("step")
	}
	name := opts.Name
	if name == "" {
		name = id
	}
	return &Step{
		id:        id,
		name:      name,
		kind:      opts.Kind,
		code:      opts.Code,
		tool:      opts.Tool,
		source:    opts.Source,
		workflow:  opts.Workflow,
		condition: opts.Condition,
		loop:      opts.Loop,
		inputs:    opts.Inputs,
		dependsOn: opts.DependsOn,
		timeout:   opts.Timeout,
	}, nil
}

func (s *Step) ID() string {
	return s.id
}

func (s *Step) Name() string {
	return s.name
}

func (s *Step) Kind() Kind {
	return s.kind
}

func (s *Step) Code() string {
	return s.code
}

func (s *Step) Tool() string {
	return s.tool
}

func (s *Step) Source() string {
	return s.source
}

// WorkflowID returns the id of the workflow a workflow-call step runs.
func (s *Step) WorkflowID() string {
	return s.workflow
}

func (s *Step) Condition() *ConditionSpec {
	return s.condition
}

func (s *Step) Loop() *LoopSpec {
	return s.loop
}

func (s *Step) Inputs() map[string]any {
	return s.inputs
}

// DependsOn returns the ids of the steps that must complete first.
func (s *Step) DependsOn() []string {
	return s.dependsOn
}

func (s *Step) Timeout() time.Duration {
	return s.timeout
}
