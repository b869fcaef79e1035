// Package config provides configuration management for docwebhooks.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	RequestLog RequestLogConfig `mapstructure:"request_log"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	DocTypes   []DocTypeConfig  `mapstructure:"doctypes"`
	Webhooks   WebhooksConfig   `mapstructure:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	ForeignKeys bool `mapstructure:"foreign_keys"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig holds JWT settings.
type JWTConfig struct {
	// Require a bearer token on /api routes
	Required bool `mapstructure:"required"`

	// Secret key for signing tokens (min 32 chars when required)
	Secret string `mapstructure:"secret"`

	// Lifetime of tokens issued by the token command
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	Issuer   string   `mapstructure:"issuer"`
	Audience []string `mapstructure:"audience"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	Caller    bool `mapstructure:"caller"`
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`
}

// DispatchConfig controls the background send queue and the outbound HTTP client.
type DispatchConfig struct {
	// Number of worker goroutines executing sends
	Workers int `mapstructure:"workers"`

	// Buffered nudges between the trigger and the workers
	QueueSize int `mapstructure:"queue_size"`

	// How often queued jobs left over from a previous run are picked up
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Request timeout used when a webhook does not set its own
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Maximum response bytes kept in the request log
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`

	// Header carrying the HMAC signature for webhooks with security enabled
	SignatureHeader string `mapstructure:"signature_header"`

	// How long finished jobs are kept
	JobRetention time.Duration `mapstructure:"job_retention"`

	UserAgent string `mapstructure:"user_agent"`
}

// RequestLogConfig controls request log storage and retention.
type RequestLogConfig struct {
	// Logs older than this are pruned (0 disables pruning)
	Retention time.Duration `mapstructure:"retention"`

	// Cron expression for the retention job
	CleanupSchedule string `mapstructure:"cleanup_schedule"`

	// Header name globs stored as [REDACTED]
	RedactHeaders []string `mapstructure:"redact_headers"`

	// Maximum request body bytes kept per row
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// ArchiveConfig controls archiving of pruned request logs.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Backend type (filesystem or s3)
	Type string `mapstructure:"type"`

	// Bucket (s3) or directory name under Path (filesystem)
	Bucket string `mapstructure:"bucket"`

	// Compression (none, gzip, zstd)
	Compression string `mapstructure:"compression"`

	Filesystem *FilesystemConfig `mapstructure:"filesystem"`
	S3         *S3Config         `mapstructure:"s3"`
}

// FilesystemConfig holds filesystem archive settings.
type FilesystemConfig struct {
	Path string `mapstructure:"path"`
}

// S3Config holds S3-compatible archive settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketPrefix    string `mapstructure:"bucket_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// RealtimeConfig holds websocket feed settings.
type RealtimeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxConnections int  `mapstructure:"max_connections"`
	MaxRooms       int  `mapstructure:"max_rooms_per_client"`
}

// DocTypeConfig declares a document type known to the dispatcher.
type DocTypeConfig struct {
	Name        string `mapstructure:"name"`
	Submittable bool   `mapstructure:"submittable"`
}

// WebhooksConfig points at the declarative webhook seed file.
type WebhooksConfig struct {
	// YAML file with webhook definitions imported at startup
	SeedFile string `mapstructure:"seed_file"`

	// Re-import the seed file when it changes
	Watch bool `mapstructure:"watch"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}
