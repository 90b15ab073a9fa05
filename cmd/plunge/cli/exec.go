package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/config"
	"github.com/deepnoodle-ai/plunge/internal/tablewriter"
	"github.com/deepnoodle-ai/plunge/sandbox"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
)

// buildExecutor assembles a sandboxed executor from the loaded config.
func buildExecutor(cfg *config.Config) (*sandbox.Executor, error) {
	contextsDir, err := contextsDirectory(cfg)
	if err != nil {
		return nil, err
	}
	contextStore, err := sandbox.NewContextStore(contextsDir)
	if err != nil {
		return nil, err
	}
	return sandbox.NewExecutor(sandbox.ExecutorOptions{
		Config:       cfg.SandboxConfig(),
		ContextStore: contextStore,
		DataRoot:     effectiveDataRoot(cfg),
		Logger:       newLogger(),
	})
}

func registerExecCommand(app *wontoncli.App) {
	app.Command("exec").
		Description("Execute a code file in the sandbox").
		Args("file?").
		Flags(
			wontoncli.String("code", "").Help("Code to execute (alternative to a file argument or stdin)"),
			wontoncli.String("project", "p").Default("default").Help("Project id for data and variable context"),
			wontoncli.String("timeout", "t").Help("Execution timeout (e.g. 30s, 2m)"),
			wontoncli.Bool("restore", "r").Help("Restore the project's saved variable context first"),
			wontoncli.String("backend", "").Help("Sandbox backend (docker, podman, process)"),
			wontoncli.String("image", "").Help("Container image to run in"),
			wontoncli.Bool("network", "").Help("Allow network access inside the sandbox"),
			wontoncli.String("output-dir", "o").Help("Directory to write collected artifacts to"),
			wontoncli.Bool("json", "").Help("Print the raw result as JSON"),
		).
		Run(runExec)
}

func runExec(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	code, err := resolveCode(ctx)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	if backend := ctx.String("backend"); backend != "" {
		cfg.Sandbox.Backend = backend
	}
	if image := ctx.String("image"); image != "" {
		cfg.Sandbox.Image = image
	}
	if ctx.Bool("network") {
		cfg.Sandbox.AllowNetwork = true
	}

	var timeout time.Duration
	if value := ctx.String("timeout"); value != "" {
		timeout, err = time.ParseDuration(value)
		if err != nil {
			return wontoncli.Errorf("invalid timeout: %v", err)
		}
	}

	executor, err := buildExecutor(cfg)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	result := executor.Execute(context.Background(), plunge.ExecutionRequest{
		ProjectID:      ctx.String("project"),
		Code:           code,
		Timeout:        timeout,
		RestoreContext: ctx.Bool("restore"),
	})

	if ctx.Bool("json") {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		fmt.Println(string(data))
	} else {
		printResult(result)
	}

	if dir := ctx.String("output-dir"); dir != "" {
		if err := writeArtifacts(dir, result.Artifacts); err != nil {
			return wontoncli.Errorf("%v", err)
		}
	}

	if !result.Success {
		return wontoncli.Errorf("execution failed")
	}
	return nil
}

// resolveCode reads the code to run from the --code flag, a file
// argument, or stdin ("-" or no argument).
func resolveCode(ctx *wontoncli.Context) (string, error) {
	if code := ctx.String("code"); code != "" {
		return code, nil
	}
	if ctx.NArg() == 0 || ctx.Arg(0) == "-" {
		return readStdin()
	}
	data, err := os.ReadFile(ctx.Arg(0))
	if err != nil {
		return "", fmt.Errorf("failed to read code file: %v", err)
	}
	return string(data), nil
}

func printResult(result *plunge.ExecutionResult) {
	if result.Stdout != "" {
		fmt.Print(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			fmt.Println()
		}
	}
	if result.Success {
		fmt.Println(successStyle.Sprint(checkmark+" succeeded"),
			timeStyle.Sprintf("(%s)", result.Duration.Round(time.Millisecond)))
	} else {
		if result.Error != "" {
			fmt.Println(errorStyle.Sprint(xmark + " " + result.Error))
		} else {
			fmt.Println(errorStyle.Sprintf("%s exited with code %d", xmark, result.ExitCode))
		}
		if result.Stderr != "" {
			fmt.Print(mutedStyle.Sprint(result.Stderr))
			if !strings.HasSuffix(result.Stderr, "\n") {
				fmt.Println()
			}
		}
	}
	printArtifactsTable(result.Artifacts)
}

func printArtifactsTable(artifacts []plunge.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(headerStyle.Sprint("Artifacts"))
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "KIND", "SIZE"})
	for _, artifact := range artifacts {
		table.Append([]string{artifact.Name, string(artifact.Kind), formatSize(artifact.Size)})
	}
	table.Render()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// writeArtifacts decodes collected artifacts into dir, recreating
// their relative paths.
func writeArtifacts(dir string, artifacts []plunge.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	for _, artifact := range artifacts {
		data := []byte(artifact.Payload)
		switch artifact.Kind {
		case plunge.ArtifactKindImage, plunge.ArtifactKindPdf, plunge.ArtifactKindBinary:
			decoded, err := base64.StdEncoding.DecodeString(artifact.Payload)
			if err != nil {
				return fmt.Errorf("failed to decode artifact %s: %v", artifact.Name, err)
			}
			data = decoded
		}
		path := filepath.Join(dir, filepath.FromSlash(artifact.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write artifact %s: %v", artifact.Name, err)
		}
	}
	fmt.Printf("Wrote %d artifacts to %s\n", len(artifacts), dir)
	return nil
}
