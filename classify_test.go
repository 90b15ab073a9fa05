package plunge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternClassifier(t *testing.T) {
	classifier := NewPatternClassifier()

	tests := []struct {
		name     string
		errMsg   string
		stderr   string
		expected ErrorCategory
	}{
		{
			name:     "missing file",
			stderr:   "FileNotFoundError: [Errno 2] No such file or directory: 'sales.csv'",
			expected: ErrorCategoryInput,
		},
		{
			name:     "missing import",
			stderr:   "ModuleNotFoundError: No module named 'pandas'",
			expected: ErrorCategoryLogic,
		},
		{
			name:     "undefined name",
			stderr:   "NameError: name 'df' is not defined",
			expected: ErrorCategoryLogic,
		},
		{
			name:     "syntax error",
			stderr:   "SyntaxError: invalid syntax",
			expected: ErrorCategoryLogic,
		},
		{
			name:     "timeout",
			errMsg:   "execution timed out after 30s",
			expected: ErrorCategoryExecution,
		},
		{
			name:     "out of memory",
			stderr:   "MemoryError",
			expected: ErrorCategoryExecution,
		},
		{
			name:     "backend down",
			errMsg:   "docker: Cannot connect to the Docker daemon",
			expected: ErrorCategorySystem,
		},
		{
			name:     "unrecognized",
			stderr:   "something inexplicable happened",
			expected: ErrorCategoryUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := classifier.Classify(tc.errMsg, tc.stderr, "")
			assert.Equal(t, tc.expected, result.Category)
			assert.NotEmpty(t, result.Severity)
		})
	}
}

func TestPatternClassifierSuggestions(t *testing.T) {
	classifier := NewPatternClassifier()

	result := classifier.Classify("", "ImportError: cannot import name 'plot'", "")
	assert.Equal(t, ErrorCategoryLogic, result.Category)
	assert.NotEmpty(t, result.Suggestion)

	result = classifier.Classify("", "who knows", "")
	assert.Equal(t, ErrorCategoryUnknown, result.Category)
	assert.Empty(t, result.Suggestion)
}
