package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for the chatbot service.
type Config struct {
	// Version is the config file format version. Zero means current.
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Memory        MemoryConfig        `yaml:"memory"`
	Locks         LocksConfig         `yaml:"locks"`
	Tools         ToolsConfig         `yaml:"tools"`
	Commands      CommandsConfig      `yaml:"commands"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig configures the conversation pipeline.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	MaxMessageLength int           `yaml:"max_message_length"`
	SystemPrompt     string        `yaml:"system_prompt"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
}

// CommandsConfig configures the natural-language command interpreter.
type CommandsConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads, merges, and validates the configuration at path. An empty path
// yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	var cfg *Config
	if strings.TrimSpace(path) == "" {
		cfg = &Config{}
	} else {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg, lookupEnv)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config holding only default values.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// enabled reads an optional switch that defaults to on.
func enabled(v *bool) bool {
	return v == nil || *v
}

func boolPtr(v bool) *bool {
	return &v
}
