package config

import (
	"fmt"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/chain"
	"github.com/deepnoodle-ai/plunge/repair"
	"github.com/deepnoodle-ai/plunge/sandbox"
	"github.com/deepnoodle-ai/plunge/workflow"
)

// KindChain and KindWorkflow are the definition document kinds.
const (
	KindChain    = "chain"
	KindWorkflow = "workflow"
)

// ResolvedKind returns the definition's explicit kind, or infers one:
// a document whose steps all carry plain code with no dependencies is
// a chain, anything else is a workflow.
func (d *Definition) ResolvedKind() (string, error) {
	switch d.Kind {
	case KindChain, KindWorkflow:
		return d.Kind, nil
	case "":
	default:
		return "", fmt.Errorf("Kind: unknown definition kind %q", d.Kind)
	}
	for i, step := range d.Steps {
		if len(step.DependsOn) > 0 {
			return KindWorkflow, nil
		}
		kind, err := step.resolveKind()
		if err != nil {
			return "", fmt.Errorf("Steps[%d]: %w", i, err)
		}
		if kind != workflow.KindTransform && kind != workflow.KindVisualize {
			return KindWorkflow, nil
		}
	}
	return KindChain, nil
}

// BuildChain converts a chain definition into a runnable Chain.
func (d *Definition) BuildChain() (*chain.Chain, error) {
	steps := make([]chain.StepOptions, 0, len(d.Steps))
	for i, step := range d.Steps {
		if step.Code == "" {
			return nil, fmt.Errorf("Steps[%d]: chain steps carry Code", i)
		}
		timeout, err := step.parseTimeout()
		if err != nil {
			return nil, fmt.Errorf("Steps[%d].%w", i, err)
		}
		steps = append(steps, chain.StepOptions{
			ID:      step.ID,
			Name:    step.Name,
			Code:    step.Code,
			Timeout: timeout,
		})
	}
	return chain.New(chain.Options{
		Name:      d.Name,
		ProjectID: d.Project,
		SessionID: d.Session,
		Strategy:  d.Strategy,
		Steps:     steps,
	})
}

// BuildWorkflowSteps converts a workflow definition's steps into
// validated step options.
func (d *Definition) BuildWorkflowSteps() ([]workflow.StepOptions, error) {
	steps := make([]workflow.StepOptions, 0, len(d.Steps))
	for i, step := range d.Steps {
		kind, err := step.resolveKind()
		if err != nil {
			return nil, fmt.Errorf("Steps[%d]: %w", i, err)
		}
		timeout, err := step.parseTimeout()
		if err != nil {
			return nil, fmt.Errorf("Steps[%d].%w", i, err)
		}
		opts := workflow.StepOptions{
			ID:        step.ID,
			Name:      step.Name,
			Kind:      kind,
			Code:      step.Code,
			Tool:      step.Tool,
			Source:    step.Source,
			Workflow:  step.Workflow,
			Inputs:    step.Inputs,
			DependsOn: step.DependsOn,
			Timeout:   timeout,
		}
		if step.Condition != nil {
			opts.Condition = &workflow.ConditionSpec{
				Input:  step.Condition.Input,
				Equals: step.Condition.Equals,
			}
		}
		if step.Loop != nil {
			opts.Loop = &workflow.LoopSpec{
				Items:    step.Loop.Items,
				ItemVar:  step.Loop.ItemVar,
				Body:     step.Loop.Body,
				MaxItems: step.Loop.MaxItems,
			}
		}
		steps = append(steps, opts)
	}
	return steps, nil
}

// resolveKind validates an explicit step kind or infers one from which
// payload field is set.
func (s *Step) resolveKind() (workflow.Kind, error) {
	if s.Kind != "" {
		kind := workflow.Kind(s.Kind)
		if !kind.Valid() {
			return "", fmt.Errorf("unknown step kind %q", s.Kind)
		}
		return kind, nil
	}
	var kinds []workflow.Kind
	if s.Code != "" {
		kinds = append(kinds, workflow.KindTransform)
	}
	if s.Tool != "" {
		kinds = append(kinds, workflow.KindToolCall)
	}
	if s.Source != "" {
		kinds = append(kinds, workflow.KindDataFetch)
	}
	if s.Workflow != "" {
		kinds = append(kinds, workflow.KindWorkflowCall)
	}
	if s.Condition != nil {
		kinds = append(kinds, workflow.KindCondition)
	}
	if s.Loop != nil {
		kinds = append(kinds, workflow.KindLoop)
	}
	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("step has no payload to infer a kind from")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("step payload is ambiguous; set Kind explicitly")
	}
}

func (s *Step) parseTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("Timeout: %w", err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("Timeout: must not be negative")
	}
	return timeout, nil
}

// SandboxConfig maps the document's sandbox section onto the executor
// configuration.
func (c *Config) SandboxConfig() *sandbox.Config {
	s := c.Sandbox
	if s == nil {
		s = &Sandbox{}
	}
	backend := s.Backend
	if backend == "auto" {
		backend = ""
	}
	return &sandbox.Config{
		Backend:              backend,
		Image:                s.Image,
		Interpreter:          s.Interpreter,
		Memory:               s.Memory,
		CPUs:                 s.CPUs,
		PidsLimit:            s.PidsLimit,
		AllowNetwork:         s.AllowNetwork,
		Environment:          s.Environment,
		AllowProcessFallback: s.AllowProcessFallback,
	}
}

// BuildRepairer constructs the configured repair collaborator, or nil
// when repair is disabled. An empty section resolves the default model
// through the provider registry.
func (c *Config) BuildRepairer() plunge.Repairer {
	r := c.Repair
	if r == nil {
		r = &Repair{}
	}
	if r.Disabled {
		return nil
	}
	switch r.Provider {
	case "openai":
		return repair.NewOpenAIRepairer(repair.OpenAIOptions{
			Model:     r.Model,
			BaseURL:   r.Endpoint,
			MaxTokens: r.MaxTokens,
		})
	case "google":
		return repair.NewGoogleRepairer(repair.GoogleOptions{
			Model:     r.Model,
			MaxTokens: r.MaxTokens,
		})
	}
	model := r.Model
	if model == "" {
		model = string(repair.DefaultOpenAIModel)
	}
	return repair.Create(model, r.Endpoint)
}
