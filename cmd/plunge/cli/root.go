package cli

import (
	"os"

	"github.com/deepnoodle-ai/plunge/config"
	"github.com/deepnoodle-ai/plunge/log"
	wontoncli "github.com/deepnoodle-ai/wonton/cli"
)

const appVersion = "0.1.0"

var (
	configPath string
	logLevel   string
	dataRoot   string
	app        *wontoncli.App
)

func getLogLevel() log.Level {
	return log.LevelFromString(logLevel)
}

func newLogger() log.Logger {
	return log.New(getLogLevel())
}

func Execute() {
	app = wontoncli.New("plunge").
		Description("Plunge executes untrusted code in sandboxed chains and workflows").
		Version(appVersion).
		GlobalFlags(
			wontoncli.String("config", "c").
				Env("PLUNGE_CONFIG").
				Help("Path to a configuration file (YAML or JSON)"),
			wontoncli.String("log-level", "").
				Default("warn").
				Help("Log level to use (debug, info, warn, error)"),
			wontoncli.String("data-root", "").
				Env("PLUNGE_DATA_ROOT").
				Help("Directory holding per-project input data"),
		)

	registerExecCommand(app)
	registerRunCommand(app)
	registerExecutionsCommand(app)
	registerWatchCommand(app)
	registerMCPCommand(app)

	if err := app.Execute(); err != nil {
		if wontoncli.IsHelpRequested(err) {
			os.Exit(0)
		}
		os.Exit(wontoncli.GetExitCode(err))
	}
}

// parseGlobalFlags extracts global flag values from context
func parseGlobalFlags(ctx *wontoncli.Context) {
	configPath = ctx.String("config")
	logLevel = ctx.String("log-level")
	dataRoot = ctx.String("data-root")
}

// loadConfig parses the configured file, or returns validated defaults
// when no file was given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.ParseFile(configPath)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
