package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepnoodle-ai/plunge/log"
	"github.com/goccy/go-yaml"
)

// ParseFile loads a runtime Config from a file. The file extension
// selects the format (JSON or YAML). Defaults are applied and the
// result is validated.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(data)
	case ".yml", ".yaml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// ParseYAML loads a runtime Config from YAML.
func ParseYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict()); err != nil {
		return nil, err
	}
	return finishConfig(&config)
}

// ParseJSON loads a runtime Config from JSON.
func ParseJSON(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return finishConfig(&config)
}

func finishConfig(config *Config) (*Config, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults fills unset fields that have non-zero defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Sandbox == nil {
		c.Sandbox = &Sandbox{}
	}
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = "auto"
	}
}

// Validate reports the first invalid field by name.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("LogLevel: unknown level %q", c.LogLevel)
	}
	if c.Workers < 0 {
		return fmt.Errorf("Workers: must not be negative")
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("MaxConcurrent: must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries: must not be negative")
	}
	if c.Sandbox != nil {
		switch c.Sandbox.Backend {
		case "", "auto", "docker", "podman", "process":
		default:
			return fmt.Errorf("Sandbox.Backend: unknown backend %q", c.Sandbox.Backend)
		}
		if c.Sandbox.PidsLimit < 0 {
			return fmt.Errorf("Sandbox.PidsLimit: must not be negative")
		}
	}
	if c.Repair != nil {
		switch c.Repair.Provider {
		case "", "openai", "google":
		default:
			return fmt.Errorf("Repair.Provider: unknown provider %q", c.Repair.Provider)
		}
	}
	return nil
}

// ParseDefinitionFile loads a chain or workflow Definition from a file.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseDefinitionJSON(data)
	case ".yml", ".yaml":
		return ParseDefinitionYAML(data)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// ParseDefinitionYAML loads a Definition from YAML.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var definition Definition
	if err := yaml.UnmarshalWithOptions(data, &definition, yaml.Strict()); err != nil {
		return nil, err
	}
	return &definition, nil
}

// ParseDefinitionJSON loads a Definition from JSON.
func ParseDefinitionJSON(data []byte) (*Definition, error) {
	var definition Definition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, err
	}
	return &definition, nil
}
