// Package config provides configuration management for Burrow.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for Burrow.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Actors   ActorsConfig   `mapstructure:"actors"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Allowed WebSocket origin patterns (use ["*"] for all)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Address returns the host:port string the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds per-actor SQLite settings.
type DatabaseConfig struct {
	// Dir is the root data directory; each actor instance gets its own
	// database file under <dir>/actors/<name>.db
	Dir string `mapstructure:"dir"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// SQLite cache size (negative = KB)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout for locked databases
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign key enforcement
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ActorsConfig holds actor runtime settings.
type ActorsConfig struct {
	// HangThreshold is how old a running schedule's execution start must be
	// before it is treated as abandoned and retried.
	HangThreshold time.Duration `mapstructure:"hang_threshold"`

	// MaxAttempts bounds scheduled callback retries.
	MaxAttempts int `mapstructure:"max_attempts"`

	// PollInterval is the wake-timer floor: due schedules are picked up at
	// least this often even if no alarm is armed.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// IdleTTL is how long an instance with no connections and no due work
	// stays resident before eviction.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`

	// HeartbeatInterval is the period of keep-alive schedules.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// OutboundDialTimeout bounds a single outbound connection attempt.
	OutboundDialTimeout time.Duration `mapstructure:"outbound_dial_timeout"`
}

// AuthConfig holds handshake token settings.
type AuthConfig struct {
	// Enabled requires a valid token on every WebSocket handshake.
	Enabled bool `mapstructure:"enabled"`

	// Secret is the HMAC signing secret for handshake tokens.
	Secret string `mapstructure:"secret"`

	// Issuer expected in token claims.
	Issuer string `mapstructure:"issuer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format: console or json
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`

	// Include timestamps
	Timestamp bool `mapstructure:"timestamp"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
