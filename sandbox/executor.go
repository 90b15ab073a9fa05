package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/log"
	"github.com/deepnoodle-ai/plunge/worker"
)

// DefaultTimeout bounds executions that do not request their own limit.
const DefaultTimeout = 2 * time.Minute

// ExecutorOptions configures a sandboxed executor.
type ExecutorOptions struct {
	// Config controls isolation. Nil uses defaults.
	Config *Config

	// Backend, when set, is used directly instead of auto-detection.
	Backend Backend

	// ContextStore persists variable snapshots between executions.
	ContextStore *ContextStore

	// DataRoot holds per-project input data directories, mounted
	// read-only into executions. Empty disables data mounts.
	DataRoot string

	// DefaultTimeout applies to requests without an explicit timeout.
	DefaultTimeout time.Duration

	Logger log.Logger
}

// Executor runs code units one at a time per project in an isolated
// scratch directory. Execute never returns an error: timeouts, launch
// failures, and script crashes all fold into the result.
type Executor struct {
	config         *Config
	manager        *Manager
	backend        Backend
	contextStore   *ContextStore
	dataRoot       string
	defaultTimeout time.Duration
	logger         log.Logger
	locks          *worker.KeyedMutex
}

// NewExecutor creates an executor. A context store is required; the
// backend is auto-detected on first use unless one is given.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.ContextStore == nil {
		return nil, fmt.Errorf("context store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		config:         cfg,
		manager:        NewManager(cfg),
		backend:        opts.Backend,
		contextStore:   opts.ContextStore,
		dataRoot:       opts.DataRoot,
		defaultTimeout: timeout,
		logger:         logger,
		locks:          worker.NewKeyedMutex(),
	}, nil
}

// Execute runs one code unit and always returns a result. Executions
// for the same project are serialized so their snapshots never
// interleave.
func (e *Executor) Execute(ctx context.Context, req plunge.ExecutionRequest) (result *plunge.ExecutionResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failureResult(started, fmt.Sprintf("executor panic: %v", r))
		}
	}()

	if err := validateProjectID(req.ProjectID); err != nil {
		return failureResult(started, err.Error())
	}

	unlock := e.locks.Lock(req.ProjectID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return failureResult(started, "execution canceled")
	}

	backend := e.backend
	if backend == nil {
		selected, err := e.manager.Select()
		if err != nil {
			return failureResult(started, err.Error())
		}
		backend = selected
	}

	scratchDir, err := os.MkdirTemp("", "plunge-exec-")
	if err != nil {
		return failureResult(started, fmt.Sprintf("failed to create scratch dir: %v", err))
	}
	defer os.RemoveAll(scratchDir)

	script := ComposeScript(req.Code, req.RestoreContext)
	if err := os.WriteFile(filepath.Join(scratchDir, ScriptFileName), []byte(script), 0644); err != nil {
		return failureResult(started, fmt.Sprintf("failed to write script: %v", err))
	}

	if req.Inputs != nil {
		data, err := json.Marshal(req.Inputs)
		if err != nil {
			return failureResult(started, fmt.Sprintf("failed to encode inputs: %v", err))
		}
		if err := os.WriteFile(filepath.Join(scratchDir, InputsFileName), data, 0644); err != nil {
			return failureResult(started, fmt.Sprintf("failed to write inputs: %v", err))
		}
	}

	if req.RestoreContext {
		if err := e.contextStore.Restore(req.ProjectID, scratchDir); err != nil {
			return failureResult(started, fmt.Sprintf("failed to restore context: %v", err))
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interpreter := e.config.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	var stdout, stderr bytes.Buffer
	base := exec.Command(interpreter, filepath.Join(scratchDir, ScriptFileName))
	base.Stdout = &stdout
	base.Stderr = &stderr

	cmd, cleanup, err := backend.WrapCommand(runCtx, base, WrapOptions{
		ScratchDir: scratchDir,
		DataDir:    e.projectDataDir(req.ProjectID),
		Config:     e.config,
	})
	if err != nil {
		return failureResult(started, fmt.Sprintf("failed to prepare sandbox: %v", err))
	}
	defer cleanup()
	cmd.WaitDelay = 5 * time.Second

	e.logger.Debug("executing script",
		"project_id", req.ProjectID,
		"backend", backend.Name(),
		"timeout", timeout,
		"restore_context", req.RestoreContext)

	runErr := cmd.Run()

	result = &plunge.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: commandExitCode(cmd),
		Duration: time.Since(started),
	}

	artifacts, err := plunge.CollectArtifacts(scratchDir, plunge.CollectOptions{
		Exclude: []string{ScriptFileName, SnapshotFileName, InputsFileName},
		Logger:  e.logger,
	})
	if err != nil {
		e.logger.Warn("artifact collection failed",
			"project_id", req.ProjectID, "error", err)
	}
	result.Artifacts = artifacts
	result.ContextSnapshot = readScratchSnapshot(scratchDir)

	switch {
	case runErr == nil:
		// Variables become visible to later executions only after a
		// clean exit, so a failed retry resumes from the prior state.
		if err := e.contextStore.Save(req.ProjectID, scratchDir); err != nil {
			result.Error = fmt.Sprintf("failed to persist context: %v", err)
			result.ExitCode = -1
			return result
		}
		result.Success = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		message := fmt.Sprintf("execution timed out after %s", timeout)
		result.Error = message
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += message
	case ctx.Err() != nil:
		result.Error = "execution canceled"
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			result.Error = fmt.Sprintf("failed to run script: %v", runErr)
		}
	}

	e.logger.Debug("execution finished",
		"project_id", req.ProjectID,
		"success", result.Success,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
		"artifacts", len(result.Artifacts))
	return result
}

func (e *Executor) projectDataDir(projectID string) string {
	if e.dataRoot == "" {
		return ""
	}
	dir := filepath.Join(e.dataRoot, projectID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

func commandExitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func failureResult(started time.Time, message string) *plunge.ExecutionResult {
	return &plunge.ExecutionResult{
		Success:  false,
		ExitCode: -1,
		Duration: time.Since(started),
		Error:    message,
	}
}

var _ plunge.Executor = (*Executor)(nil)
