// Package sandbox runs one code unit at a time in an isolated,
// resource-capped process. Isolation is provided by pluggable backends:
// a container backend (docker or podman) and a plain process backend
// used as a development fallback. Executions share variable state across
// sequential invocations for the same project through a context snapshot
// store.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// Default container image for executions.
const DefaultImage = "python:3.12-slim"

// DefaultInterpreter is the interpreter invoked inside the scratch dir.
const DefaultInterpreter = "python3"

// Config controls how executions are isolated.
type Config struct {
	// Backend selects "docker", "podman", or "process". Empty means
	// auto-detect: a container runtime when available, otherwise the
	// process backend when AllowProcessFallback is set.
	Backend string `json:"backend,omitempty"`

	// Image is the container image (default: python:3.12-slim).
	Image string `json:"image,omitempty"`

	// Interpreter is the script interpreter (default: python3).
	Interpreter string `json:"interpreter,omitempty"`

	// Memory caps container memory, e.g. "512m".
	Memory string `json:"memory,omitempty"`

	// CPUs caps container CPU share, e.g. "1.0".
	CPUs string `json:"cpus,omitempty"`

	// PidsLimit caps the number of processes in the container.
	PidsLimit int `json:"pids_limit,omitempty"`

	// AllowNetwork permits outbound network access. Off by default.
	AllowNetwork bool `json:"allow_network,omitempty"`

	// Environment variables passed to the executed process.
	Environment map[string]string `json:"environment,omitempty"`

	// AllowProcessFallback permits running without container isolation
	// when no container runtime is available.
	AllowProcessFallback bool `json:"allow_process_fallback,omitempty"`
}

// WrapOptions carries the per-invocation directories a backend mounts.
type WrapOptions struct {
	// ScratchDir is the ephemeral working directory, mounted writable.
	ScratchDir string

	// DataDir is the project's input data directory, mounted read-only.
	// Empty means no data mount.
	DataDir string

	Config *Config
}

// Backend is a sandboxing implementation.
type Backend interface {
	// Name returns the backend identifier
	Name() string

	// Available checks if this backend can be used
	Available() bool

	// WrapCommand wraps a command for isolated execution. The returned
	// cleanup function must be called after the command finishes.
	WrapCommand(ctx context.Context, cmd *exec.Cmd, opts WrapOptions) (*exec.Cmd, func(), error)
}

// Manager selects an isolation backend for a configuration.
type Manager struct {
	config   *Config
	backends []Backend

	mutex    sync.Mutex
	selected Backend
}

// NewManager creates a manager with the default backend set.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Manager{
		config: cfg,
		backends: []Backend{
			NewDockerBackend(),
			NewProcessBackend(),
		},
	}
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Select returns the backend to use, caching the first successful
// selection. An explicit Config.Backend must be available; otherwise the
// first available container runtime wins, with the process backend as a
// fallback only when the configuration allows it.
func (m *Manager) Select() (Backend, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.selected != nil {
		return m.selected, nil
	}

	if name := m.config.Backend; name != "" {
		for _, b := range m.backends {
			if !matchesBackendName(b, name) {
				continue
			}
			if !b.Available() {
				return nil, fmt.Errorf("isolation backend %q is not available", name)
			}
			m.selected = b
			return b, nil
		}
		return nil, fmt.Errorf("unknown isolation backend %q", name)
	}

	for _, b := range m.backends {
		if _, isProcess := b.(*ProcessBackend); isProcess && !m.config.AllowProcessFallback {
			continue
		}
		if b.Available() {
			m.selected = b
			return b, nil
		}
	}
	return nil, fmt.Errorf("no isolation backend available")
}

func matchesBackendName(b Backend, name string) bool {
	if b.Name() == name {
		return true
	}
	// A docker backend answers to both runtime names
	if d, ok := b.(*DockerBackend); ok {
		return name == "docker" || name == "podman" || name == d.command
	}
	return false
}
