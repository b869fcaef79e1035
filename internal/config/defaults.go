package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8095
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 5 * 1024 * 1024 // 5MB

	// Database defaults.
	DefaultDBPath       = "docwebhooks.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Auth defaults.
	DefaultTokenTTL  = 24 * time.Hour
	DefaultJWTIssuer = "docwebhooks"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Dispatch defaults.
	DefaultWorkers          = 4
	DefaultQueueSize        = 256
	DefaultPollInterval     = 2 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultMaxResponseBytes = 64 * 1024
	DefaultSignatureHeader  = "X-Webhook-Signature"
	DefaultJobRetention     = 24 * time.Hour
	DefaultUserAgent        = "docwebhooks/0.1"

	// Request log defaults.
	DefaultLogRetention    = 30 * 24 * time.Hour
	DefaultCleanupSchedule = "@daily"
	DefaultMaxBodyBytes    = 64 * 1024

	// Realtime defaults.
	DefaultMaxConnections = 500
	DefaultMaxRooms       = 50
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Required: false,
				TokenTTL: DefaultTokenTTL,
				Issuer:   DefaultJWTIssuer,
			},
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Timestamp: true,
		},
		Dispatch: DispatchConfig{
			Workers:          DefaultWorkers,
			QueueSize:        DefaultQueueSize,
			PollInterval:     DefaultPollInterval,
			RequestTimeout:   DefaultRequestTimeout,
			MaxResponseBytes: DefaultMaxResponseBytes,
			SignatureHeader:  DefaultSignatureHeader,
			JobRetention:     DefaultJobRetention,
			UserAgent:        DefaultUserAgent,
		},
		RequestLog: RequestLogConfig{
			Retention:       DefaultLogRetention,
			CleanupSchedule: DefaultCleanupSchedule,
			RedactHeaders:   []string{"authorization", "*token*", "*secret*", "cookie"},
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			Type:        "filesystem",
			Bucket:      "request-logs",
			Compression: "zstd",
			Filesystem:  &FilesystemConfig{Path: "archive"},
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			MaxConnections: DefaultMaxConnections,
			MaxRooms:       DefaultMaxRooms,
		},
		Webhooks: WebhooksConfig{
			Watch: true,
		},
	}
}
