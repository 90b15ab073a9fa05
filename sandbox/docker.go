package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DockerBackend isolates executions in a container using docker or
// podman.
type DockerBackend struct {
	command string
}

// NewDockerBackend creates a container backend, preferring podman when
// both runtimes are installed.
func NewDockerBackend() *DockerBackend {
	command := "docker"
	if _, err := exec.LookPath("podman"); err == nil {
		command = "podman"
	}
	return &DockerBackend{command: command}
}

// Name returns the backend identifier
func (d *DockerBackend) Name() string {
	return d.command
}

// Available checks if the container runtime is installed and its daemon
// is responding.
func (d *DockerBackend) Available() bool {
	if _, err := exec.LookPath(d.command); err != nil {
		return false
	}
	cmd := exec.Command(d.command, "info")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// WrapCommand wraps cmd to run inside a container. The scratch dir is
// mounted writable as /workspace and used as the working directory; the
// data dir, when present, is mounted read-only at /data.
func (d *DockerBackend) WrapCommand(ctx context.Context, cmd *exec.Cmd, opts WrapOptions) (*exec.Cmd, func(), error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &Config{}
	}
	if opts.ScratchDir == "" {
		return nil, nil, fmt.Errorf("scratch dir is required")
	}

	image := cfg.Image
	if image == "" {
		image = DefaultImage
	}

	args := []string{
		"run", "--rm", "-i",
		"--init",
		"--read-only",
		"--tmpfs", "/tmp",
		"--workdir", "/workspace",
	}

	if err := appendVolume(&args, opts.ScratchDir, "/workspace", "rw"); err != nil {
		return nil, nil, err
	}
	if opts.DataDir != "" {
		if err := appendVolume(&args, opts.DataDir, "/data", "ro"); err != nil {
			return nil, nil, err
		}
	}

	memory := cfg.Memory
	if memory == "" {
		memory = "512m"
	}
	args = append(args, "--memory", memory)

	cpus := cfg.CPUs
	if cpus == "" {
		cpus = "1.0"
	}
	args = append(args, "--cpus", cpus)

	pids := cfg.PidsLimit
	if pids <= 0 {
		pids = 128
	}
	args = append(args, "--pids-limit", fmt.Sprintf("%d", pids))

	if !cfg.AllowNetwork {
		args = append(args, "--network", "none")
	}

	for key, value := range cfg.Environment {
		if strings.ContainsAny(key, "=\x00") {
			return nil, nil, fmt.Errorf("invalid environment variable name: %q", key)
		}
		args = append(args, "--env", fmt.Sprintf("%s=%s", key, value))
	}

	// Track the container id so an interrupted run can be torn down.
	cidFile, err := os.CreateTemp("", "plunge-cid-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cidfile: %w", err)
	}
	cidPath := cidFile.Name()
	cidFile.Close()
	os.Remove(cidPath) // docker requires the file to not exist

	withCid := make([]string, 0, len(args)+2)
	withCid = append(withCid, args[0], "--cidfile", cidPath)
	withCid = append(withCid, args[1:]...)
	args = withCid

	args = append(args, image)
	args = append(args, containerCommand(cmd, opts.ScratchDir)...)

	wrapped := exec.CommandContext(ctx, d.command, args...)
	wrapped.Stdin = cmd.Stdin
	wrapped.Stdout = cmd.Stdout
	wrapped.Stderr = cmd.Stderr

	cleanup := func() {
		defer os.Remove(cidPath)
		data, err := os.ReadFile(cidPath)
		if err != nil {
			return
		}
		cid := strings.TrimSpace(string(data))
		if cid == "" {
			return
		}
		rm := exec.Command(d.command, "rm", "-f", cid)
		rm.Stdout = nil
		rm.Stderr = nil
		rm.Run()
	}
	return wrapped, cleanup, nil
}

// containerCommand rewrites the host command path for the container
// mount. Arguments under the scratch dir are rebased onto /workspace.
func containerCommand(cmd *exec.Cmd, scratchDir string) []string {
	out := make([]string, 0, len(cmd.Args))
	for _, arg := range cmd.Args {
		if rebased, ok := rebasePath(arg, scratchDir, "/workspace"); ok {
			out = append(out, rebased)
			continue
		}
		out = append(out, arg)
	}
	return out
}

func rebasePath(arg, hostDir, containerDir string) (string, bool) {
	rel, err := filepath.Rel(hostDir, arg)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if rel == "." {
		return containerDir, true
	}
	return containerDir + "/" + filepath.ToSlash(rel), true
}

func appendVolume(args *[]string, hostPath, containerPath, mode string) error {
	if strings.Contains(hostPath, ":") {
		return fmt.Errorf("path contains invalid character ':' %q", hostPath)
	}
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path %q: %w", hostPath, err)
	}
	*args = append(*args, "--volume", fmt.Sprintf("%s:%s:%s", abs, containerPath, mode))
	return nil
}
