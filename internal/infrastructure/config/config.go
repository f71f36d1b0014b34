package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Logging     LogConfig
	RateLimit   RateLimitConfig
	Terminal    TerminalConfig
	Credentials CredentialsConfig
	Providers   ProvidersConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// TerminalConfig holds session manager configuration.
// AllowedDirs are doublestar patterns; an empty list allows any directory.
type TerminalConfig struct {
	DefaultShell   string        `envconfig:"TERMINAL_DEFAULT_SHELL"`
	DefaultCwd     string        `envconfig:"TERMINAL_DEFAULT_CWD"`
	Cols           int           `envconfig:"TERMINAL_COLS" default:"80"`
	Rows           int           `envconfig:"TERMINAL_ROWS" default:"24"`
	MaxSessions    int           `envconfig:"TERMINAL_MAX_SESSIONS" default:"32"`
	KillGrace      time.Duration `envconfig:"TERMINAL_KILL_GRACE" default:"3s"`
	InstallTimeout time.Duration `envconfig:"TERMINAL_INSTALL_TIMEOUT" default:"5m"`
	AllowedDirs    []string      `envconfig:"TERMINAL_ALLOWED_DIRS"`
	Slots          int           `envconfig:"TERMINAL_SLOTS" default:"6"`
	BacklogBytes   int           `envconfig:"TERMINAL_BACKLOG_BYTES" default:"65536"`
}

// SlotIDs returns the default grid slot ids term-1..term-N.
func (t TerminalConfig) SlotIDs() []string {
	ids := make([]string, 0, t.Slots)
	for i := 1; i <= t.Slots; i++ {
		ids = append(ids, fmt.Sprintf("term-%d", i))
	}
	return ids
}

// CredentialsConfig holds the remote key store client configuration.
// An empty URL leaves only the environment store.
type CredentialsConfig struct {
	URL     string        `envconfig:"CREDENTIALS_URL"`
	Token   string        `envconfig:"CREDENTIALS_TOKEN"`
	Timeout time.Duration `envconfig:"CREDENTIALS_TIMEOUT" default:"5s"`
	Retries int           `envconfig:"CREDENTIALS_RETRIES" default:"2"`
}

// ProvidersConfig points at an optional provider override document.
type ProvidersConfig struct {
	File string `envconfig:"PROVIDERS_FILE"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Terminal: TerminalConfig{
			Cols:           80,
			Rows:           24,
			MaxSessions:    32,
			KillGrace:      3 * time.Second,
			InstallTimeout: 5 * time.Minute,
			Slots:          6,
			BacklogBytes:   64 * 1024,
		},
		Credentials: CredentialsConfig{
			Timeout: 5 * time.Second,
			Retries: 2,
		},
	}
}
