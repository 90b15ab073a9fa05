package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/workflow"
)

const (
	// DefaultMaxLoopItems bounds loop steps without an explicit cap.
	DefaultMaxLoopItems = 100

	// maxFetchBytes bounds data-fetch reads.
	maxFetchBytes = 8 << 20
)

// stepExecutor returns the dispatch function handed to the scheduler
// for one workflow run. Dependency results arrive keyed by step id and
// are merged over the step's static inputs.
func (e *Engine) stepExecutor(projectID string, depth int) workflow.StepExecutor {
	return func(ctx context.Context, step *workflow.Step, depResults map[string]any) (any, error) {
		inputs := mergeInputs(step.Inputs(), depResults)
		switch step.Kind() {
		case workflow.KindTransform, workflow.KindVisualize:
			return e.runCode(ctx, projectID, step.Code(), step.Timeout(), inputs)
		case workflow.KindToolCall:
			return e.callTool(ctx, projectID, step.Tool(), inputs)
		case workflow.KindDataFetch:
			return e.fetchData(projectID, step.Source())
		case workflow.KindCondition:
			return evalCondition(step.Condition(), inputs)
		case workflow.KindLoop:
			return e.runLoop(ctx, projectID, step.Loop(), inputs)
		case workflow.KindWorkflowCall:
			return e.callWorkflow(ctx, projectID, step.WorkflowID(), depth)
		default:
			return nil, fmt.Errorf("unknown step kind %q", step.Kind())
		}
	}
}

// runCode executes one script in the sandbox. Workflow steps receive
// their dependency results through the inputs file rather than the
// variable context, so restores are disabled and results stay
// deterministic under concurrent siblings.
func (e *Engine) runCode(ctx context.Context, projectID, code string, timeout time.Duration, inputs map[string]any) (any, error) {
	result := e.executor.Execute(ctx, plunge.ExecutionRequest{
		ProjectID: projectID,
		Code:      code,
		Timeout:   timeout,
		Inputs:    inputs,
	})
	if !result.Success {
		return nil, fmt.Errorf("%s", failureText(result))
	}
	artifacts := make([]string, 0, len(result.Artifacts))
	for _, artifact := range result.Artifacts {
		artifacts = append(artifacts, artifact.Name)
	}
	return map[string]any{
		"stdout":    result.Stdout,
		"context":   result.ContextSnapshot,
		"artifacts": artifacts,
	}, nil
}

func (e *Engine) callTool(ctx context.Context, projectID, name string, inputs map[string]any) (any, error) {
	tool, ok := e.tools[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown tool %q", plunge.ErrorCategoryInput, name)
	}
	result, err := tool(ctx, ToolCall{ProjectID: projectID, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return result, nil
}

// fetchData reads one file from the project data directory. Paths that
// escape the directory are rejected.
func (e *Engine) fetchData(projectID, source string) (any, error) {
	if e.dataRoot == "" {
		return nil, fmt.Errorf("%s: no data directory configured", plunge.ErrorCategoryInput)
	}
	if filepath.IsAbs(source) {
		return nil, fmt.Errorf("%s: data path must be relative: %s", plunge.ErrorCategoryInput, source)
	}
	root := e.projectDataDir(projectID)
	path := filepath.Join(root, source)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s: data path escapes the project data directory: %s", plunge.ErrorCategoryInput, source)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", plunge.ErrorCategoryInput, err)
	}
	if info.Size() > maxFetchBytes {
		return nil, fmt.Errorf("%s: %s is %d bytes, over the %d byte fetch limit",
			plunge.ErrorCategoryInput, source, info.Size(), maxFetchBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return string(data), nil
}

func (e *Engine) projectDataDir(projectID string) string {
	return filepath.Join(e.dataRoot, projectID)
}

// evalCondition resolves the tested input and compares it against
// Equals, or tests truthiness when Equals is nil.
func evalCondition(spec *workflow.ConditionSpec, inputs map[string]any) (any, error) {
	value, ok := inputs[spec.Input]
	if !ok {
		return nil, fmt.Errorf("%s: condition input %q not found", plunge.ErrorCategoryInput, spec.Input)
	}
	if spec.Equals != nil {
		return looseEqual(value, spec.Equals), nil
	}
	return truthy(value), nil
}

// runLoop executes the body once per item, bounded by MaxItems. Each
// iteration sees the merged inputs plus the item bound to ItemVar.
func (e *Engine) runLoop(ctx context.Context, projectID string, spec *workflow.LoopSpec, inputs map[string]any) (any, error) {
	raw, ok := inputs[spec.Items]
	if !ok {
		return nil, fmt.Errorf("%s: loop items input %q not found", plunge.ErrorCategoryInput, spec.Items)
	}
	items, err := toItems(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: loop input %q: %w", plunge.ErrorCategoryInput, spec.Items, err)
	}
	maxItems := spec.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxLoopItems
	}
	if len(items) > maxItems {
		e.logger.Warn("loop input truncated",
			"items", len(items), "max_items", maxItems)
		items = items[:maxItems]
	}
	itemVar := spec.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}
	results := make([]any, 0, len(items))
	for i, item := range items {
		iterationInputs := make(map[string]any, len(inputs)+2)
		for key, value := range inputs {
			iterationInputs[key] = value
		}
		iterationInputs[itemVar] = item
		iterationInputs["item_index"] = i
		result, err := e.runCode(ctx, projectID, spec.Body, 0, iterationInputs)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// callWorkflow runs a stored workflow inline and resolves to its
// results map. Nesting is bounded to keep cyclic definitions from
// recursing without limit.
func (e *Engine) callWorkflow(ctx context.Context, projectID, workflowID string, depth int) (any, error) {
	if depth >= e.maxCallDepth {
		return nil, fmt.Errorf("%s: workflow call depth exceeds %d", plunge.ErrorCategoryInput, e.maxCallDepth)
	}
	nested, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", plunge.ErrorCategoryInput, err)
	}
	nestedProject := nested.ProjectID()
	if nestedProject == "" {
		nestedProject = projectID
	}
	outcome, err := e.scheduler.Execute(ctx, nested, e.stepExecutor(nestedProject, depth+1))
	if err != nil {
		return nil, err
	}
	if outcome.Status != plunge.WorkflowStatusCompleted {
		if detail := firstStepError(outcome); detail != "" {
			return nil, fmt.Errorf("called workflow %q finished %s: %s", nested.Name(), outcome.Status, detail)
		}
		return nil, fmt.Errorf("called workflow %q finished %s", nested.Name(), outcome.Status)
	}
	return outcome.Results, nil
}

func firstStepError(outcome *workflow.Outcome) string {
	for _, step := range outcome.Steps {
		if step.Error != "" {
			return step.Error
		}
	}
	return ""
}

// mergeInputs overlays dependency results on the step's static inputs.
func mergeInputs(base map[string]any, depResults map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(depResults))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range depResults {
		merged[key] = value
	}
	return merged
}

// failureText summarizes a failed execution result.
func failureText(result *plunge.ExecutionResult) string {
	if result.Error != "" {
		return result.Error
	}
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		if len(stderr) > 2048 {
			stderr = stderr[len(stderr)-2048:]
		}
		return stderr
	}
	return fmt.Sprintf("process exited with code %d", result.ExitCode)
}

// truthy mirrors Python truthiness for the JSON-decodable types that
// reach condition steps.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

// looseEqual compares values, treating numeric types as interchangeable
// so YAML and JSON decodings of the same number compare equal.
func looseEqual(a, b any) bool {
	aNum, aOK := toFloat(a)
	bNum, bOK := toFloat(b)
	if aOK && bOK {
		return aNum == bNum
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return float64(v), true
	}
	return 0, false
}

// toItems normalizes a loop's items input to a slice.
func toItems(raw any) ([]any, error) {
	if items, ok := raw.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	items := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
