package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/chain"
	"github.com/deepnoodle-ai/plunge/config"
	"github.com/deepnoodle-ai/plunge/engine"
	"github.com/deepnoodle-ai/plunge/events"
	"github.com/deepnoodle-ai/plunge/workflow"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
)

// buildEngine assembles an execution engine from the loaded config.
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	executor, err := buildExecutor(cfg)
	if err != nil {
		return nil, err
	}
	stateDir, err := stateDirectory(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Executor:      executor,
		Repairer:      cfg.BuildRepairer(),
		Classifier:    plunge.NewPatternClassifier(),
		Progress:      &printSink{},
		EventStore:    events.NewFileStore(stateDir),
		DataRoot:      effectiveDataRoot(cfg),
		Workers:       cfg.Workers,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxRetries:    cfg.MaxRetries,
		Logger:        newLogger(),
	})
}

func registerRunCommand(app *wontoncli.App) {
	app.Command("run").
		Description("Run a chain or workflow definition file").
		Args("file").
		Flags(
			wontoncli.String("project", "p").Help("Override the definition's project id"),
			wontoncli.Bool("no-repair", "").Help("Disable automatic repair of failed chain steps"),
			wontoncli.Int("max-retries", "").Default(-1).Help("Per-step repair budget (overrides config)"),
			wontoncli.Int("workers", "").Help("Submission pool size (overrides config)"),
		).
		Run(runRun)
}

func runRun(ctx *wontoncli.Context) error {
	parseGlobalFlags(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	if ctx.Bool("no-repair") {
		if cfg.Repair == nil {
			cfg.Repair = &config.Repair{}
		}
		cfg.Repair.Disabled = true
	}
	if retries := ctx.Int("max-retries"); retries >= 0 {
		cfg.MaxRetries = retries
	}
	if workers := ctx.Int("workers"); workers > 0 {
		cfg.Workers = workers
	}

	def, err := config.ParseDefinitionFile(ctx.Arg(0))
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	if project := ctx.String("project"); project != "" {
		def.Project = project
	}
	if def.Project == "" {
		def.Project = "default"
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}
	defer eng.Close(context.Background())

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return executeDefinition(runCtx, eng, def)
}

// executeDefinition submits the definition as a chain or workflow and
// renders the terminal state. Shared by run and watch.
func executeDefinition(ctx context.Context, eng *engine.Engine, def *config.Definition) error {
	kind, err := def.ResolvedKind()
	if err != nil {
		return wontoncli.Errorf("%v", err)
	}

	var execution *engine.Execution
	switch kind {
	case config.KindChain:
		c, err := def.BuildChain()
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		fmt.Println(headerStyle.Sprintf("Chain: %s", c.Name),
			timeStyle.Sprintf("(%d steps)", len(c.Steps)))
		execution, err = eng.SubmitChain(ctx, c)
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
	default:
		steps, err := def.BuildWorkflowSteps()
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		wf, err := eng.CreateWorkflow(ctx, engine.CreateWorkflowOptions{
			Name:        def.Name,
			Description: def.Description,
			ProjectID:   def.Project,
			Steps:       steps,
		})
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
		fmt.Println(headerStyle.Sprintf("Workflow: %s", wf.Name()),
			timeStyle.Sprintf("(%d steps)", len(wf.Steps())))
		execution, err = eng.SubmitWorkflow(ctx, wf.ID())
		if err != nil {
			return wontoncli.Errorf("%v", err)
		}
	}

	if err := execution.Wait(ctx); err != nil && ctx.Err() != nil {
		fmt.Println(warningStyle.Sprint("Interrupted, stopping..."))
		execution.Cancel()
		<-execution.Done()
	}
	if err := execution.Err(); err != nil {
		return wontoncli.Errorf("%v", err)
	}

	if execution.Kind() == "chain" {
		return renderChainResult(execution.Chain())
	}
	return renderWorkflowOutcome(execution.Outcome())
}

func renderChainResult(c *chain.Chain) error {
	fmt.Println()
	for _, step := range c.Steps {
		line := fmt.Sprintf("  %s  %s", styledStatus(string(step.Status)), stepStyle.Sprint(step.Name))
		if step.RetryCount > 0 {
			line += timeStyle.Sprintf(" (%d repairs)", step.RetryCount)
		}
		fmt.Println(line)
		if step.Status == plunge.StepStatusFailed && step.LastError != "" {
			fmt.Println("      " + errorStyle.Sprint(truncate(step.LastError, 200)))
		}
	}
	fmt.Println()
	if c.Status != plunge.ChainStatusCompleted {
		return wontoncli.Errorf("chain %s: %s", c.Status, c.LastError)
	}
	fmt.Println(successStyle.Sprint(checkmark + " Chain completed"))
	return nil
}

func renderWorkflowOutcome(outcome *workflow.Outcome) error {
	if outcome == nil {
		return wontoncli.Errorf("workflow produced no outcome")
	}
	fmt.Println()
	for _, step := range outcome.Steps {
		fmt.Printf("  %s  %s\n", styledStatus(string(step.Status)), stepStyle.Sprint(step.Name))
		if step.Error != "" {
			fmt.Println("      " + errorStyle.Sprint(truncate(step.Error, 200)))
		}
	}
	if len(outcome.Results) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Sprint("Results"))
		ids := make([]string, 0, len(outcome.Results))
		for id := range outcome.Results {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("  %s: %v\n", infoStyle.Sprint(id), outcome.Results[id])
		}
	}
	fmt.Println()
	if outcome.Status != plunge.WorkflowStatusCompleted {
		return wontoncli.Errorf("workflow %s", outcome.Status)
	}
	fmt.Println(successStyle.Sprint(checkmark + " Workflow completed"))
	return nil
}
