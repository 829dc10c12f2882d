package config

import "time"

type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type WebSearchConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxResultBytes int           `yaml:"max_result_bytes"`
	UserAgent      string        `yaml:"user_agent"`
}

type DashboardConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the web search tool is registered.
func (c WebSearchConfig) IsEnabled() bool { return enabled(c.Enabled) }

// IsEnabled reports whether the dashboard tool is registered.
func (c DashboardConfig) IsEnabled() bool { return enabled(c.Enabled) }

// IsEnabled reports whether the command interpreter route is served.
func (c CommandsConfig) IsEnabled() bool { return enabled(c.Enabled) }
