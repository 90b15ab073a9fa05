package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepnoodle-ai/plunge/config"
)

// readStdin reads all content from standard input
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("error reading from stdin: %v", err)
	}
	return string(data), nil
}

func plungeDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting user home directory: %v", err)
	}
	return filepath.Join(homeDir, ".plunge"), nil
}

// contextsDirectory is where variable snapshots live: the configured
// ContextDir, or ~/.plunge/contexts.
func contextsDirectory(cfg *config.Config) (string, error) {
	if cfg.ContextDir != "" {
		return cfg.ContextDir, nil
	}
	dir, err := plungeDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "contexts"), nil
}

// stateDirectory is where execution history lives: the configured
// StateDir, or ~/.plunge/executions.
func stateDirectory(cfg *config.Config) (string, error) {
	if cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	dir, err := plungeDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "executions"), nil
}

// effectiveDataRoot prefers the --data-root flag over the config file.
func effectiveDataRoot(cfg *config.Config) string {
	if dataRoot != "" {
		return dataRoot
	}
	return cfg.DataRoot
}

// ConfirmAction prompts the user for confirmation with a standardized message
func ConfirmAction(action, target string) bool {
	fmt.Printf("Are you sure you want to %s %s? [y/N]: ", action, target)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
