package plunge

import "strings"

// ErrorCategory buckets execution failures for reporting and repair hints
type ErrorCategory string

const (
	ErrorCategoryInput     ErrorCategory = "input_error"
	ErrorCategoryExecution ErrorCategory = "execution_error"
	ErrorCategoryLogic     ErrorCategory = "logic_error"
	ErrorCategorySystem    ErrorCategory = "system_error"
	ErrorCategoryUnknown   ErrorCategory = "unknown_error"
)

// ErrorSeverity grades how actionable a failure is
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// Classification enriches a failure with a category and a suggestion.
type Classification struct {
	Category   ErrorCategory `json:"category"`
	Severity   ErrorSeverity `json:"severity"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// ErrorClassifier maps a failure's error message and captured output to a
// classification. Classifiers are advisory: their absence must not block
// retry logic.
type ErrorClassifier interface {
	Classify(errorMessage, stderr, stdout string) Classification
}

type classifierRule struct {
	markers    []string
	category   ErrorCategory
	severity   ErrorSeverity
	suggestion string
}

// PatternClassifier is the default ErrorClassifier. It matches known
// interpreter and infrastructure error markers against the combined error
// text and falls back to unknown_error.
type PatternClassifier struct {
	rules []classifierRule
}

// NewPatternClassifier returns a classifier with the default rule set.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{rules: []classifierRule{
		{
			markers:    []string{"docker", "podman", "daemon", "no isolation backend"},
			category:   ErrorCategorySystem,
			severity:   SeverityCritical,
			suggestion: "check that the isolation backend is installed and running",
		},
		{
			markers:    []string{"filenotfounderror", "no such file or directory", "is a directory", "parsererror", "unicodedecodeerror", "emptydataerror"},
			category:   ErrorCategoryInput,
			severity:   SeverityError,
			suggestion: "verify the referenced data files exist and are well formed",
		},
		{
			markers:    []string{"timed out", "timeout", "memoryerror", "killed", "oom", "no space left on device", "recursionerror"},
			category:   ErrorCategoryExecution,
			severity:   SeverityCritical,
			suggestion: "reduce the workload or raise the execution limits",
		},
		{
			markers:    []string{"nameerror", "importerror", "modulenotfounderror", "syntaxerror", "attributeerror", "typeerror", "keyerror", "indexerror", "indentationerror", "zerodivisionerror", "valueerror"},
			category:   ErrorCategoryLogic,
			severity:   SeverityError,
			suggestion: "the generated code has a defect; a repair attempt may fix it",
		},
	}}
}

// Classify implements ErrorClassifier.
func (c *PatternClassifier) Classify(errorMessage, stderr, stdout string) Classification {
	text := strings.ToLower(errorMessage + "\n" + stderr + "\n" + stdout)
	for _, rule := range c.rules {
		for _, marker := range rule.markers {
			if strings.Contains(text, marker) {
				return Classification{
					Category:   rule.category,
					Severity:   rule.severity,
					Suggestion: rule.suggestion,
				}
			}
		}
	}
	return Classification{
		Category: ErrorCategoryUnknown,
		Severity: SeverityError,
	}
}
