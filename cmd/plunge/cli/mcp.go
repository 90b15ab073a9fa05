package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/sandbox"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerMCPCommand(app *wontoncli.App) {
	app.Command("mcp").
		Description("Serve sandbox execution as MCP tools over stdio").
		NoArgs().
		Run(runMCP)
}

func runMCP(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	executor, err := buildExecutor(cfg)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	contextsDir, err := contextsDirectory(cfg)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	contextStore, err := sandbox.NewContextStore(contextsDir)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	s := server.NewMCPServer("plunge", appVersion, server.WithToolCapabilities(false))

	runCode := mcp.NewTool("run_code",
		mcp.WithDescription("Execute Python code in a sandbox and return stdout, artifacts, and saved variables"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Python source to execute"),
		),
		mcp.WithString("project",
			mcp.Description("Project id whose data and variable context to use"),
		),
		mcp.WithBoolean("restore",
			mcp.Description("Restore the project's saved variable context before running"),
		),
		mcp.WithString("timeout",
			mcp.Description("Execution timeout such as 30s or 2m"),
		),
	)
	s.AddTool(runCode, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := request.RequireString("code")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var timeout time.Duration
		if value := request.GetString("timeout", ""); value != "" {
			timeout, err = time.ParseDuration(value)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid timeout: %v", err)), nil
			}
		}
		result := executor.Execute(ctx, plunge.ExecutionRequest{
			ProjectID:      request.GetString("project", "default"),
			Code:           code,
			Timeout:        timeout,
			RestoreContext: request.GetBool("restore", false),
		})
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})

	projectContext := mcp.NewTool("project_context",
		mcp.WithDescription("List a project's data files and saved context variables"),
		mcp.WithString("project",
			mcp.Description("Project id to inspect"),
		),
	)
	s.AddTool(projectContext, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID := request.GetString("project", "default")
		summary := map[string]any{"project": projectID}

		if root := effectiveDataRoot(cfg); root != "" {
			summary["data_files"] = listDataFiles(filepath.Join(root, projectID))
		}

		variables, err := contextStore.Load(projectID)
		if err == nil && len(variables) > 0 {
			names := make([]string, 0, len(variables))
			for name := range variables {
				names = append(names, name)
			}
			sort.Strings(names)
			summary["context_variables"] = names
		}

		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})

	if err := server.ServeStdio(s); err != nil {
		return wontoncli.Errorf("%v", err)
	}
	return nil
}

// listDataFiles lists a project data directory's entries with sizes.
func listDataFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			files = append(files, entry.Name()+"/")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			files = append(files, entry.Name())
			continue
		}
		files = append(files, fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size()))
	}
	sort.Strings(files)
	return files
}
