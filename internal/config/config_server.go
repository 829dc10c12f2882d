package config

import "time"

type ServerConfig struct {
	Host              string          `yaml:"host"`
	Port              int             `yaml:"port"`
	CORSOrigin        string          `yaml:"cors_origin"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles model-calling routes per client address.
// It is off unless enabled.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}
