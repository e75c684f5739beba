package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8100
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second

	// Database defaults.
	DefaultDataDir      = "data"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Actor defaults.
	DefaultHangThreshold       = 5 * time.Minute
	DefaultMaxAttempts         = 3
	DefaultPollInterval        = time.Second
	DefaultIdleTTL             = 10 * time.Minute
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultOutboundDialTimeout = 10 * time.Second

	// Auth defaults.
	DefaultJWTIssuer = "burrow"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsPath = "/metrics"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			ReadTimeout:    DefaultReadTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			IdleTimeout:    DefaultIdleTimeout,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Dir:             DefaultDataDir,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Actors: ActorsConfig{
			HangThreshold:       DefaultHangThreshold,
			MaxAttempts:         DefaultMaxAttempts,
			PollInterval:        DefaultPollInterval,
			IdleTTL:             DefaultIdleTTL,
			HeartbeatInterval:   DefaultHeartbeatInterval,
			OutboundDialTimeout: DefaultOutboundDialTimeout,
		},
		Auth: AuthConfig{
			Enabled: false,
			Issuer:  DefaultJWTIssuer,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}
