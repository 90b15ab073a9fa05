package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/deepnoodle-ai/plunge/events"
	"github.com/deepnoodle-ai/plunge/internal/tablewriter"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
)

// openEventStore opens the execution history store for the loaded config.
func openEventStore() (*events.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	stateDir, err := stateDirectory(cfg)
	if err != nil {
		return nil, err
	}
	return events.NewFileStore(stateDir), nil
}

func registerExecutionsCommand(app *wontoncli.App) {
	group := app.Group("executions").
		Description("Inspect chain and workflow execution history")

	group.Command("list").
		Description("List recorded executions").
		NoArgs().
		Flags(
			wontoncli.String("kind", "").Help("Filter by kind (chain, workflow)"),
			wontoncli.String("status", "").Help("Filter by status (running, completed, failed, deadlocked)"),
			wontoncli.String("project", "p").Help("Filter by project id"),
			wontoncli.Int("limit", "").Default(50).Help("Maximum number of executions to list"),
		).
		Run(runExecutionsList)

	group.Command("show").
		Description("Show one execution's state").
		Args("execution-id").
		Flags(
			wontoncli.Bool("events", "").Help("Include the execution's event history"),
			wontoncli.Bool("json", "").Help("Print the raw snapshot as JSON"),
		).
		Run(runExecutionsShow)

	group.Command("delete").
		Description("Delete one execution's history").
		Args("execution-id").
		Flags(
			wontoncli.Bool("force", "f").Help("Skip the confirmation prompt"),
		).
		Run(runExecutionsDelete)

	group.Command("cleanup").
		Description("Delete finished executions older than a cutoff").
		NoArgs().
		Flags(
			wontoncli.Int("older-than", "").Default(7).Help("Age cutoff in days"),
		).
		Run(runExecutionsCleanup)
}

func runExecutionsList(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	store, err := openEventStore()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	snapshots, err := store.ListExecutions(context.Background(), events.Filter{
		Kind:      ctx.String("kind"),
		Status:    ctx.String("status"),
		ProjectID: ctx.String("project"),
		Limit:     ctx.Int("limit"),
	})
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	if len(snapshots) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"EXECUTION ID", "KIND", "NAME", "STATUS", "STARTED", "DURATION"})
	for _, snapshot := range snapshots {
		table.Append([]string{
			snapshot.ID,
			snapshot.Kind,
			truncate(snapshot.Name, 30),
			snapshot.Status,
			snapshot.StartTime.Format("2006-01-02 15:04:05"),
			formatExecutionDuration(snapshot),
		})
	}
	table.Render()
	return nil
}

func formatExecutionDuration(snapshot *events.Snapshot) string {
	if snapshot.EndTime.IsZero() {
		if snapshot.Status == "running" {
			return time.Since(snapshot.StartTime).Round(time.Second).String() + " (running)"
		}
		return "-"
	}
	return snapshot.EndTime.Sub(snapshot.StartTime).Round(time.Millisecond).String()
}

func runExecutionsShow(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	store, err := openEventStore()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	executionID := ctx.Arg(0)
	snapshot, err := store.GetSnapshot(context.Background(), executionID)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	if ctx.Bool("json") {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		fmt.Println(string(data))
		return nil
	}

	name := snapshot.Name
	if name == "" {
		name = snapshot.ID
	}
	fmt.Println(headerStyle.Sprint(name))
	fmt.Printf("ID:       %s\n", snapshot.ID)
	fmt.Printf("Kind:     %s\n", snapshot.Kind)
	if snapshot.ProjectID != "" {
		fmt.Printf("Project:  %s\n", snapshot.ProjectID)
	}
	fmt.Printf("Status:   %s\n", styledStatus(snapshot.Status))
	fmt.Printf("Started:  %s\n", snapshot.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration: %s\n", formatExecutionDuration(snapshot))
	if snapshot.Error != "" {
		fmt.Printf("Error:    %s\n", errorStyle.Sprint(snapshot.Error))
	}

	if len(snapshot.Steps) > 0 {
		fmt.Println()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"STEP", "STATUS", "REPAIRS", "ERROR"})
		for _, step := range snapshot.Steps {
			name := step.Name
			if name == "" {
				name = step.ID
			}
			table.Append([]string{
				name,
				step.Status,
				strconv.Itoa(step.RetryCount),
				truncate(step.Error, 60),
			})
		}
		table.Render()
	}

	if ctx.Bool("events") {
		history, err := store.GetHistory(context.Background(), executionID)
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		fmt.Println()
		fmt.Println(headerStyle.Sprint("Events"))
		for _, event := range history {
			line := fmt.Sprintf("%s  %-28s %s",
				timeStyle.Sprint(event.Timestamp.Format("15:04:05.000")),
				event.Type, event.StepID)
			fmt.Println(line)
		}
	}
	return nil
}

func runExecutionsDelete(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	store, err := openEventStore()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	executionID := ctx.Arg(0)
	if _, err := store.GetSnapshot(context.Background(), executionID); err != nil {
		return wontoncli.Errorf("%v", err)
	}
	if !ctx.Bool("force") && !ConfirmAction("delete", "execution "+executionID) {
		fmt.Println("Canceled.")
		return nil
	}
	if err := store.DeleteExecution(context.Background(), executionID); err != nil {
		return wontoncli.Errorf("%v", err)
	}
	fmt.Println(successStyle.Sprintf("%s Deleted execution %s", checkmark, executionID))
	return nil
}

func runExecutionsCleanup(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	store, err := openEventStore()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	days := ctx.Int("older-than")
	if days < 0 {
		return wontoncli.Errorf("--older-than must not be negative")
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := store.CleanupCompleted(context.Background(), cutoff)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	fmt.Printf("Deleted %d finished executions older than %d days.\n", deleted, days)
	return nil
}
