// Package agent – config.go defines the application configuration for an
// Eidos agent process: character, model endpoint, memory store, channels,
// scheduler and logging.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/provolt/eidos/pkg/eidos/channels/console"
	"github.com/provolt/eidos/pkg/eidos/channels/discord"
	"github.com/provolt/eidos/pkg/eidos/channels/telegram"
	"github.com/provolt/eidos/pkg/eidos/model"
	"github.com/provolt/eidos/pkg/eidos/runtime"
	"github.com/provolt/eidos/pkg/eidos/scheduler"
)

// Config holds all agent process configuration.
type Config struct {
	// CharacterPath points to the character definition file. Empty uses
	// the built-in default character.
	CharacterPath string `yaml:"character"`

	// Model configures the model provider endpoint.
	Model model.Config `yaml:"model"`

	// Memory configures the persistence layer.
	Memory MemoryConfig `yaml:"memory"`

	// Orchestrator configures the message-handling loop.
	Orchestrator runtime.OrchestratorConfig `yaml:"orchestrator"`

	// Channels configures the message connectors.
	Channels ChannelsConfig `yaml:"channels"`

	// Scheduler configures timed heartbeat tasks.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the SQLite memory store.
type MemoryConfig struct {
	// Path is the database file location.
	Path string `yaml:"path"`
}

// ChannelsConfig configures the message connectors.
type ChannelsConfig struct {
	Discord  discord.Config  `yaml:"discord"`
	Telegram telegram.Config `yaml:"telegram"`
	Console  console.Config  `yaml:"console"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: model.DefaultConfig(),
		Memory: MemoryConfig{
			Path: "./data/eidos.db",
		},
		Orchestrator: runtime.DefaultOrchestratorConfig(),
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Console:  console.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfigFromFile reads a YAML config, overlaying it onto defaults.
// ${VAR} references in the file are expanded from the environment.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		// Keep unknown references intact so a missing env var is visible
		// instead of silently emptied.
		return "${" + key + "}"
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfigFile writes the config as YAML, creating parent directories.
func SaveConfigFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// FindConfigFile looks for a config file in the conventional locations.
// Returns empty string when none exists.
func FindConfigFile() string {
	candidates := []string{
		"./eidos.yaml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "eidos", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}
