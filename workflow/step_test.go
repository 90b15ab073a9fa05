package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewStepValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    StepOptions
		wantErr string
	}{
		{
			name:    "unknown kind",
			opts:    StepOptions{ID: "s1", Kind: "shell"},
			wantErr: "unknown step kind",
		},
		{
			name:    "empty kind",
			opts:    StepOptions{ID: "s1"},
			wantErr: "unknown step kind",
		},
		{
			name:    "transform without code",
			opts:    StepOptions{ID: "s1", Kind: KindTransform},
			wantErr: "code is required",
		},
		{
			name:    "visualize without code",
			opts:    StepOptions{ID: "s1", Kind: KindVisualize},
			wantErr: "code is required",
		},
		{
			name:    "tool-call without tool",
			opts:    StepOptions{ID: "s1", Kind: KindToolCall},
			wantErr: "tool name is required",
		},
		{
			name:    "data-fetch without source",
			opts:    StepOptions{ID: "s1", Kind: KindDataFetch},
			wantErr: "source path is required",
		},
		{
			name:    "workflow-call without target",
			opts:    StepOptions{ID: "s1", Kind: KindWorkflowCall},
			wantErr: "workflow id is required",
		},
		{
			name:    "condition without spec",
			opts:    StepOptions{ID: "s1", Kind: KindCondition},
			wantErr: "condition input is required",
		},
		{
			name:    "condition without input",
			opts:    StepOptions{ID: "s1", Kind: KindCondition, Condition: &ConditionSpec{}},
			wantErr: "condition input is required",
		},
		{
			name:    "loop without spec",
			opts:    StepOptions{ID: "s1", Kind: KindLoop},
			wantErr: "loop items input is required",
		},
		{
			name:    "loop without body",
			opts:    StepOptions{ID: "s1", Kind: KindLoop, Loop: &LoopSpec{Items: "rows"}},
			wantErr: "loop body is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStep(tt.opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewStepDefaults(t *testing.T) {
	step, err := NewStep(StepOptions{Kind: KindTransform, Code: "x = 1"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(step.ID(), "step-"), "id %q", step.ID())
	require.Equal(t, step.ID(), step.Name())
	require.Zero(t, step.Timeout())
}

func TestNewStepFields(t *testing.T) {
	step, err := NewStep(StepOptions{
		ID:        "fetch",
		Name:      "Fetch sales",
		Kind:      KindDataFetch,
		Source:    "sales.csv",
		Inputs:    map[string]any{"limit": 10},
		DependsOn: []string{"prep"},
		Timeout:   30 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "fetch", step.ID())
	require.Equal(t, "Fetch sales", step.Name())
	require.Equal(t, KindDataFetch, step.Kind())
	require.Equal(t, "sales.csv", step.Source())
	require.Equal(t, map[string]any{"limit": 10}, step.Inputs())
	require.Equal(t, []string{"prep"}, step.DependsOn())
	require.Equal(t, 30*time.Second, step.Timeout())
}

func TestKindValid(t *testing.T) {
	for _, kind := range []Kind{
		KindWorkflowCall, KindToolCall, KindDataFetch,
		KindTransform, KindVisualize, KindCondition, KindLoop,
	} {
		require.True(t, kind.Valid(), "kind %q", kind)
	}
	require.False(t, Kind("shell").Valid())
	require.False(t, Kind("").Valid())
}
