package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAML(t *testing.T) {
	config, err := ParseYAML([]byte(`
LogLevel: debug
DataRoot: /var/lib/plunge/data
Workers: 2
Sandbox:
  Backend: docker
  Image: python:3.12-slim
  Memory: 1g
  AllowNetwork: true
  Environment:
    PYTHONHASHSEED: "0"
Repair:
  Provider: google
  Model: gemini-2.0-flash
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "/var/lib/plunge/data", config.DataRoot)
	assert.Equal(t, 2, config.Workers)
	assert.Equal(t, "docker", config.Sandbox.Backend)
	assert.Equal(t, "1g", config.Sandbox.Memory)
	assert.True(t, config.Sandbox.AllowNetwork)
	assert.Equal(t, "0", config.Sandbox.Environment["PYTHONHASHSEED"])
	assert.Equal(t, "google", config.Repair.Provider)
}

func TestParseYAMLRejectsUnknownFields(t *testing.T) {
	_, err := ParseYAML([]byte("LogLevel: info\nColour: mauve\n"))
	require.Error(t, err)
}

func TestParseYAMLDefaults(t *testing.T) {
	config, err := ParseYAML([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "info", config.LogLevel)
	require.NotNil(t, config.Sandbox)
	assert.Equal(t, "auto", config.Sandbox.Backend)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "LogLevel: loud\n", "LogLevel"},
		{"negative workers", "Workers: -1\n", "Workers"},
		{"negative retries", "MaxRetries: -2\n", "MaxRetries"},
		{"bad backend", "Sandbox:\n  Backend: chroot\n", "Sandbox.Backend"},
		{"negative pids", "Sandbox:\n  PidsLimit: -1\n", "Sandbox.PidsLimit"},
		{"bad provider", "Repair:\n  Provider: anthropic\n", "Repair.Provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plunge.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("LogLevel: warn\n"), 0o644))
	config, err := ParseFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", config.LogLevel)

	jsonPath := filepath.Join(dir, "plunge.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"LogLevel":"error"}`), 0o644))
	config, err = ParseFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "error", config.LogLevel)

	tomlPath := filepath.Join(dir, "plunge.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1\n"), 0o644))
	_, err = ParseFile(tomlPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")

	_, err = ParseFile(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}

func TestParseDefinitionYAML(t *testing.T) {
	definition, err := ParseDefinitionYAML([]byte(`
Name: monthly-report
Project: proj-1
Steps:
  - ID: load
    Code: "df = read_sales()"
  - ID: plot
    Kind: visualize
    Code: "plot(df)"
    DependsOn: [load]
    Timeout: 90s
`))
	require.NoError(t, err)
	assert.Equal(t, "monthly-report", definition.Name)
	assert.Equal(t, "proj-1", definition.Project)
	require.Len(t, definition.Steps, 2)
	assert.Equal(t, []string{"load"}, definition.Steps[1].DependsOn)
	assert.Equal(t, "90s", definition.Steps[1].Timeout)
}

func TestParseDefinitionRejectsUnknownFields(t *testing.T) {
	_, err := ParseDefinitionYAML([]byte("Name: x\nStep: []\n"))
	require.Error(t, err)
}
