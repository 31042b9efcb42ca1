// Package config loads brandforge configuration from
// .brandforge/config.json in the workspace, with environment overrides
// for secrets and CI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all brandforge configuration.
type Config struct {
	// Generator configuration
	Generator GeneratorConfig `json:"generator"`

	// Version store configuration
	Store StoreConfig `json:"store"`

	// Compliance scanner configuration
	Scanner ScannerConfig `json:"scanner"`

	// Guardrail settings file
	Guardrail GuardrailConfig `json:"guardrail"`

	// Logging
	Logging LoggingConfig `json:"logging"`
}

// GeneratorConfig configures the text-generation capability.
type GeneratorConfig struct {
	Provider string `json:"provider"` // openai, gemini, static
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	Timeout  string `json:"timeout"` // Go duration string, e.g. "90s"
}

// StoreConfig configures the artifact version store.
type StoreConfig struct {
	DatabasePath string `json:"database_path"`
}

// ScannerConfig configures the compliance scanner.
type ScannerConfig struct {
	// Score weights per risk level. The 10/4/1 default is a design
	// choice, not derived from data.
	HighWeight   int `json:"high_weight"`
	MediumWeight int `json:"medium_weight"`
	LowWeight    int `json:"low_weight"`

	// Optional YAML file overriding the embedded rule catalogue.
	RulesPath string `json:"rules_path"`
}

// GuardrailConfig locates the workspace guardrail settings.
type GuardrailConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"` // Reload on file change (future runs only)
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// Default returns the default configuration rooted at workspace.
func Default(workspace string) *Config {
	brandDir := filepath.Join(workspace, ".brandforge")
	return &Config{
		Generator: GeneratorConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "90s",
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(brandDir, "artifacts.db"),
		},
		Scanner: ScannerConfig{
			HighWeight:   10,
			MediumWeight: 4,
			LowWeight:    1,
		},
		Guardrail: GuardrailConfig{
			Path: filepath.Join(brandDir, "guardrail.json"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .brandforge/config.json, falling back to defaults when the
// file is absent, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".brandforge", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the config file.
// BRANDFORGE_API_KEY is the usual way to supply the provider key.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRANDFORGE_PROVIDER"); v != "" {
		c.Generator.Provider = v
	}
	if v := os.Getenv("BRANDFORGE_API_KEY"); v != "" {
		c.Generator.APIKey = v
	}
	if v := os.Getenv("BRANDFORGE_MODEL"); v != "" {
		c.Generator.Model = v
	}
	if v := os.Getenv("BRANDFORGE_BASE_URL"); v != "" {
		c.Generator.BaseURL = v
	}
	if v := os.Getenv("BRANDFORGE_TIMEOUT"); v != "" {
		c.Generator.Timeout = v
	}
	if v := os.Getenv("BRANDFORGE_DB_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("BRANDFORGE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Generator.Provider {
	case "openai", "gemini", "static":
	default:
		return fmt.Errorf("unknown generator provider %q", c.Generator.Provider)
	}
	if _, err := c.GeneratorTimeout(); err != nil {
		return fmt.Errorf("invalid generator timeout %q: %w", c.Generator.Timeout, err)
	}
	if c.Scanner.HighWeight < 0 || c.Scanner.MediumWeight < 0 || c.Scanner.LowWeight < 0 {
		return fmt.Errorf("scanner weights must be non-negative")
	}
	return nil
}

// GeneratorTimeout parses the configured generator call timeout.
func (c *Config) GeneratorTimeout() (time.Duration, error) {
	if c.Generator.Timeout == "" {
		return 90 * time.Second, nil
	}
	return time.ParseDuration(c.Generator.Timeout)
}

// Save writes the config back to .brandforge/config.json.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".brandforge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
