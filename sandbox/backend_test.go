package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDockerBackendWrapCommand(t *testing.T) {
	backend := &DockerBackend{command: "docker"}
	scratch := t.TempDir()
	data := t.TempDir()

	base := exec.Command("python3", filepath.Join(scratch, ScriptFileName))
	wrapped, cleanup, err := backend.WrapCommand(context.Background(), base, WrapOptions{
		ScratchDir: scratch,
		DataDir:    data,
		Config: &Config{
			Memory:      "256m",
			CPUs:        "0.5",
			PidsLimit:   64,
			Environment: map[string]string{"SEED": "42"},
		},
	})
	require.NoError(t, err)
	defer cleanup()

	args := strings.Join(wrapped.Args, " ")
	require.Contains(t, args, "run --cidfile")
	require.Contains(t, args, "--rm -i --init")
	require.Contains(t, args, "--workdir /workspace")
	require.Contains(t, args, scratch+":/workspace:rw")
	require.Contains(t, args, data+":/data:ro")
	require.Contains(t, args, "--memory 256m")
	require.Contains(t, args, "--cpus 0.5")
	require.Contains(t, args, "--pids-limit 64")
	require.Contains(t, args, "--network none")
	require.Contains(t, args, "--env SEED=42")
	require.Contains(t, args, DefaultImage)

	// The script path is rebased onto the container mount
	require.Equal(t, "/workspace/script.py", wrapped.Args[len(wrapped.Args)-1])
}

func TestDockerBackendDefaults(t *testing.T) {
	backend := &DockerBackend{command: "docker"}
	scratch := t.TempDir()

	base := exec.Command("python3", filepath.Join(scratch, ScriptFileName))
	wrapped, cleanup, err := backend.WrapCommand(context.Background(), base, WrapOptions{
		ScratchDir: scratch,
		Config:     &Config{AllowNetwork: true},
	})
	require.NoError(t, err)
	defer cleanup()

	args := strings.Join(wrapped.Args, " ")
	require.Contains(t, args, "--memory 512m")
	require.Contains(t, args, "--cpus 1.0")
	require.Contains(t, args, "--pids-limit 128")
	require.NotContains(t, args, "--network none")
	require.NotContains(t, args, ":/data:")
}

func TestDockerBackendRejectsColonPaths(t *testing.T) {
	backend := &DockerBackend{command: "docker"}
	base := exec.Command("python3", "script.py")
	_, _, err := backend.WrapCommand(context.Background(), base, WrapOptions{
		ScratchDir: "/tmp/bad:dir",
		Config:     &Config{},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid character")
}

func TestDockerBackendRejectsBadEnvName(t *testing.T) {
	backend := &DockerBackend{command: "docker"}
	base := exec.Command("python3", "script.py")
	_, _, err := backend.WrapCommand(context.Background(), base, WrapOptions{
		ScratchDir: t.TempDir(),
		Config:     &Config{Environment: map[string]string{"A=B": "x"}},
	})
	require.Error(t, err)
}

func TestProcessBackendWrapCommand(t *testing.T) {
	backend := NewProcessBackend()
	scratch := t.TempDir()
	data := t.TempDir()

	base := exec.Command("python3", filepath.Join(scratch, ScriptFileName))
	wrapped, cleanup, err := backend.WrapCommand(context.Background(), base, WrapOptions{
		ScratchDir: scratch,
		DataDir:    data,
		Config:     &Config{Environment: map[string]string{"SEED": "42"}},
	})
	require.NoError(t, err)
	defer cleanup()

	require.Equal(t, scratch, wrapped.Dir)
	require.Contains(t, wrapped.Env, "HOME="+scratch)
	require.Contains(t, wrapped.Env, "TMPDIR="+scratch)
	require.Contains(t, wrapped.Env, "PLUNGE_DATA_DIR="+data)
	require.Contains(t, wrapped.Env, "SEED=42")
}

func TestRebasePath(t *testing.T) {
	tests := []struct {
		arg      string
		expected string
		ok       bool
	}{
		{"/scratch/a/script.py", "/workspace/script.py", true},
		{"/scratch/a", "/workspace", true},
		{"/scratch/a/sub/out.csv", "/workspace/sub/out.csv", true},
		{"/scratch/other/script.py", "", false},
		{"python3", "", false},
	}
	for _, tt := range tests {
		rebased, ok := rebasePath(tt.arg, "/scratch/a", "/workspace")
		require.Equal(t, tt.ok, ok, "arg %q", tt.arg)
		if tt.ok {
			require.Equal(t, tt.expected, rebased, "arg %q", tt.arg)
		}
	}
}

func TestManagerExplicitBackend(t *testing.T) {
	manager := NewManager(&Config{Backend: "process"})
	backend, err := manager.Select()
	require.NoError(t, err)
	require.Equal(t, "process", backend.Name())

	// Selection is cached
	again, err := manager.Select()
	require.NoError(t, err)
	require.Same(t, backend, again)
}

func TestManagerUnknownBackend(t *testing.T) {
	manager := NewManager(&Config{Backend: "chroot"})
	_, err := manager.Select()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown isolation backend")
}
