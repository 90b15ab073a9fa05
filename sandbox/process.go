package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ProcessBackend runs executions as plain host processes. It offers no
// isolation beyond a scratch working directory and a scrubbed
// environment, and is intended for development machines without a
// container runtime.
type ProcessBackend struct{}

// NewProcessBackend creates a process backend.
func NewProcessBackend() *ProcessBackend {
	return &ProcessBackend{}
}

// Name returns the backend identifier
func (p *ProcessBackend) Name() string {
	return "process"
}

// Available always reports true.
func (p *ProcessBackend) Available() bool {
	return true
}

// WrapCommand returns cmd rooted in the scratch dir with a minimal
// environment. The cleanup function is a no-op.
func (p *ProcessBackend) WrapCommand(ctx context.Context, cmd *exec.Cmd, opts WrapOptions) (*exec.Cmd, func(), error) {
	if opts.ScratchDir == "" {
		return nil, nil, fmt.Errorf("scratch dir is required")
	}

	wrapped := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	wrapped.Dir = opts.ScratchDir
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr
	setProcessGroup(wrapped)
	wrapped.Cancel = func() error {
		return killProcessGroup(wrapped)
	}

	env := []string{
		"HOME=" + opts.ScratchDir,
		"PATH=" + os.Getenv("PATH"),
		"TMPDIR=" + opts.ScratchDir,
	}
	if opts.DataDir != "" {
		env = append(env, "PLUNGE_DATA_DIR="+opts.DataDir)
	}
	if cfg := opts.Config; cfg != nil {
		for key, value := range cfg.Environment {
			env = append(env, key+"="+value)
		}
	}
	wrapped.Env = env

	return wrapped, func() {}, nil
}
