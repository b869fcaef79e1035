package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

const (
	defaultEnvPrefix  = "DOCWEBHOOKS"
	defaultConfigName = "docwebhooks"
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = defaultEnvPrefix
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/docwebhooks")
		v.AddConfigPath("/etc/docwebhooks")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", cfg.Server.MaxBodySize)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)

	v.SetDefault("auth.jwt.required", cfg.Auth.JWT.Required)
	v.SetDefault("auth.jwt.secret", cfg.Auth.JWT.Secret)
	v.SetDefault("auth.jwt.token_ttl", cfg.Auth.JWT.TokenTTL)
	v.SetDefault("auth.jwt.issuer", cfg.Auth.JWT.Issuer)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("dispatch.workers", cfg.Dispatch.Workers)
	v.SetDefault("dispatch.queue_size", cfg.Dispatch.QueueSize)
	v.SetDefault("dispatch.poll_interval", cfg.Dispatch.PollInterval)
	v.SetDefault("dispatch.request_timeout", cfg.Dispatch.RequestTimeout)
	v.SetDefault("dispatch.max_response_bytes", cfg.Dispatch.MaxResponseBytes)
	v.SetDefault("dispatch.signature_header", cfg.Dispatch.SignatureHeader)
	v.SetDefault("dispatch.job_retention", cfg.Dispatch.JobRetention)
	v.SetDefault("dispatch.user_agent", cfg.Dispatch.UserAgent)

	v.SetDefault("request_log.retention", cfg.RequestLog.Retention)
	v.SetDefault("request_log.cleanup_schedule", cfg.RequestLog.CleanupSchedule)
	v.SetDefault("request_log.redact_headers", cfg.RequestLog.RedactHeaders)
	v.SetDefault("request_log.max_body_bytes", cfg.RequestLog.MaxBodyBytes)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.type", cfg.Archive.Type)
	v.SetDefault("archive.bucket", cfg.Archive.Bucket)
	v.SetDefault("archive.compression", cfg.Archive.Compression)
	if cfg.Archive.Filesystem != nil {
		v.SetDefault("archive.filesystem.path", cfg.Archive.Filesystem.Path)
	}

	v.SetDefault("realtime.enabled", cfg.Realtime.Enabled)
	v.SetDefault("realtime.max_connections", cfg.Realtime.MaxConnections)
	v.SetDefault("realtime.max_rooms_per_client", cfg.Realtime.MaxRooms)

	v.SetDefault("webhooks.seed_file", cfg.Webhooks.SeedFile)
	v.SetDefault("webhooks.watch", cfg.Webhooks.Watch)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

// ConfigFilePath resolves the config file that Load would read.
func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"docwebhooks.yaml",
		"docwebhooks.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "docwebhooks", "docwebhooks.yaml"),
		"/etc/docwebhooks/docwebhooks.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
