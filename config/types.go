// Package config parses the runtime configuration document and the
// chain/workflow definition documents consumed by the CLI, and builds
// them into engine inputs. Parsing is strict: unknown fields are
// rejected.
package config

// Config is the runtime configuration document.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"LogLevel,omitempty" json:"LogLevel,omitempty"`

	// DataRoot holds per-project data directories.
	DataRoot string `yaml:"DataRoot,omitempty" json:"DataRoot,omitempty"`

	// ContextDir holds per-project variable context snapshots.
	ContextDir string `yaml:"ContextDir,omitempty" json:"ContextDir,omitempty"`

	// StateDir holds execution event history and snapshots.
	StateDir string `yaml:"StateDir,omitempty" json:"StateDir,omitempty"`

	// Workers sizes the engine's submission pool.
	Workers int `yaml:"Workers,omitempty" json:"Workers,omitempty"`

	// MaxConcurrent bounds parallel workflow steps.
	MaxConcurrent int `yaml:"MaxConcurrent,omitempty" json:"MaxConcurrent,omitempty"`

	// MaxRetries is the per-step chain repair budget.
	MaxRetries int `yaml:"MaxRetries,omitempty" json:"MaxRetries,omitempty"`

	Sandbox *Sandbox `yaml:"Sandbox,omitempty" json:"Sandbox,omitempty"`
	Repair  *Repair  `yaml:"Repair,omitempty" json:"Repair,omitempty"`
}

// Sandbox configures execution isolation.
type Sandbox struct {
	// Backend is auto, docker, podman, or process. Empty means auto.
	Backend string `yaml:"Backend,omitempty" json:"Backend,omitempty"`

	Image       string `yaml:"Image,omitempty" json:"Image,omitempty"`
	Interpreter string `yaml:"Interpreter,omitempty" json:"Interpreter,omitempty"`

	// Memory caps container memory, e.g. "512m".
	Memory string `yaml:"Memory,omitempty" json:"Memory,omitempty"`

	// CPUs caps container CPU share, e.g. "1.0".
	CPUs string `yaml:"CPUs,omitempty" json:"CPUs,omitempty"`

	PidsLimit            int               `yaml:"PidsLimit,omitempty" json:"PidsLimit,omitempty"`
	AllowNetwork         bool              `yaml:"AllowNetwork,omitempty" json:"AllowNetwork,omitempty"`
	AllowProcessFallback bool              `yaml:"AllowProcessFallback,omitempty" json:"AllowProcessFallback,omitempty"`
	Environment          map[string]string `yaml:"Environment,omitempty" json:"Environment,omitempty"`
}

// Repair configures the code-repair collaborator.
type Repair struct {
	// Provider pins openai or google. Empty resolves by model name.
	Provider string `yaml:"Provider,omitempty" json:"Provider,omitempty"`

	Model     string `yaml:"Model,omitempty" json:"Model,omitempty"`
	Endpoint  string `yaml:"Endpoint,omitempty" json:"Endpoint,omitempty"`
	MaxTokens int    `yaml:"MaxTokens,omitempty" json:"MaxTokens,omitempty"`

	// Disabled turns repair off; failed steps retry their original code.
	Disabled bool `yaml:"Disabled,omitempty" json:"Disabled,omitempty"`
}

// Definition is a chain or workflow document.
type Definition struct {
	// Kind is chain or workflow. Empty is inferred from the steps:
	// documents whose steps all carry plain code form a chain, anything
	// with dependencies or typed steps forms a workflow.
	Kind string `yaml:"Kind,omitempty" json:"Kind,omitempty"`

	Name        string `yaml:"Name,omitempty" json:"Name,omitempty"`
	Description string `yaml:"Description,omitempty" json:"Description,omitempty"`
	Project     string `yaml:"Project" json:"Project"`
	Session     string `yaml:"Session,omitempty" json:"Session,omitempty"`
	Strategy    string `yaml:"Strategy,omitempty" json:"Strategy,omitempty"`

	Steps []Step `yaml:"Steps" json:"Steps"`
}

// Step is one definition step. Exactly one payload field group should
// be set; Kind may be omitted and inferred from the payload.
type Step struct {
	ID   string `yaml:"ID,omitempty" json:"ID,omitempty"`
	Name string `yaml:"Name,omitempty" json:"Name,omitempty"`
	Kind string `yaml:"Kind,omitempty" json:"Kind,omitempty"`

	Code      string         `yaml:"Code,omitempty" json:"Code,omitempty"`
	Tool      string         `yaml:"Tool,omitempty" json:"Tool,omitempty"`
	Source    string         `yaml:"Source,omitempty" json:"Source,omitempty"`
	Workflow  string         `yaml:"Workflow,omitempty" json:"Workflow,omitempty"`
	Condition *Condition     `yaml:"Condition,omitempty" json:"Condition,omitempty"`
	Loop      *Loop          `yaml:"Loop,omitempty" json:"Loop,omitempty"`
	Inputs    map[string]any `yaml:"Inputs,omitempty" json:"Inputs,omitempty"`
	DependsOn []string       `yaml:"DependsOn,omitempty" json:"DependsOn,omitempty"`

	// Timeout is a duration string, e.g. "90s".
	Timeout string `yaml:"Timeout,omitempty" json:"Timeout,omitempty"`
}

// Condition is a condition step payload.
type Condition struct {
	Input  string `yaml:"Input" json:"Input"`
	Equals any    `yaml:"Equals,omitempty" json:"Equals,omitempty"`
}

// Loop is a loop step payload.
type Loop struct {
	Items    string `yaml:"Items" json:"Items"`
	ItemVar  string `yaml:"ItemVar,omitempty" json:"ItemVar,omitempty"`
	Body     string `yaml:"Body" json:"Body"`
	MaxItems int    `yaml:"MaxItems,omitempty" json:"MaxItems,omitempty"`
}
