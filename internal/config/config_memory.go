package config

import "time"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
)

// MemoryConfig selects where conversation history lives.
type MemoryConfig struct {
	// Backend is memory, postgres, or sqlite.
	Backend  string               `yaml:"backend"`
	Postgres PostgresMemoryConfig `yaml:"postgres"`
	SQLite   SQLiteMemoryConfig   `yaml:"sqlite"`

	// SessionTTL evicts sessions idle longer than this. Zero disables it.
	SessionTTL      time.Duration `yaml:"session_ttl"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
}

type PostgresMemoryConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type SQLiteMemoryConfig struct {
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`
}

// LocksConfig selects how turns of one session are serialized.
type LocksConfig struct {
	// Backend is local or postgres.
	Backend        string        `yaml:"backend"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	TTL            time.Duration `yaml:"ttl"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}
