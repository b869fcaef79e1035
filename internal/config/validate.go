package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateDispatch(&cfg.Dispatch)...)
	errs = append(errs, validateRequestLog(&cfg.RequestLog)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateRealtime(&cfg.Realtime)...)
	errs = append(errs, validateDocTypes(cfg.DocTypes)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateAuth(cfg *AuthConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.JWT.Required {
		if err := ValidateJWTSecret(cfg.JWT.Secret); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				errs = append(errs, *ve)
			}
		}
	}

	if cfg.JWT.TokenTTL < time.Second {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt.token_ttl",
			Message: "must be at least 1 second",
		})
	}

	if cfg.JWT.Issuer == "" {
		errs = append(errs, ValidationError{
			Field:   "auth.jwt.issuer",
			Message: "required",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateDispatch(cfg *DispatchConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.workers",
			Message: "must be at least 1",
		})
	}

	if cfg.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.queue_size",
			Message: "must be at least 1",
		})
	}

	if cfg.PollInterval < 100*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "dispatch.poll_interval",
			Message: "must be at least 100ms",
		})
	}

	if cfg.RequestTimeout < 100*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "dispatch.request_timeout",
			Message: "must be at least 100ms",
		})
	}

	if cfg.MaxResponseBytes < 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.max_response_bytes",
			Message: "must be non-negative",
		})
	}

	if cfg.SignatureHeader == "" {
		errs = append(errs, ValidationError{
			Field:   "dispatch.signature_header",
			Message: "required",
		})
	}

	return errs
}

func validateRequestLog(cfg *RequestLogConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Retention < 0 {
		errs = append(errs, ValidationError{
			Field:   "request_log.retention",
			Message: "must be non-negative",
		})
	}

	if cfg.Retention > 0 && cfg.Retention < time.Hour {
		errs = append(errs, ValidationError{
			Field:   "request_log.retention",
			Message: "must be at least 1 hour",
		})
	}

	if cfg.Retention > 0 {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.CleanupSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "request_log.cleanup_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, ValidationError{
			Field:   "request_log.max_body_bytes",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateArchive(cfg *ArchiveConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	validCompression := map[string]bool{"": true, "none": true, "gzip": true, "zstd": true}
	if !validCompression[cfg.Compression] {
		errs = append(errs, ValidationError{
			Field:   "archive.compression",
			Message: "must be one of: none, gzip, zstd",
		})
	}

	if cfg.Bucket == "" || strings.Contains(cfg.Bucket, "/") || strings.Contains(cfg.Bucket, "..") {
		errs = append(errs, ValidationError{
			Field:   "archive.bucket",
			Message: "required and must not contain path separators or traversal (..)",
		})
	}

	switch cfg.Type {
	case "filesystem":
		if cfg.Filesystem == nil || cfg.Filesystem.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.filesystem.path",
				Message: "required when type is 'filesystem'",
			})
		} else if strings.Contains(cfg.Filesystem.Path, "..") {
			errs = append(errs, ValidationError{
				Field:   "archive.filesystem.path",
				Message: "path traversal (..) not allowed",
			})
		}
	case "s3":
		if cfg.S3 == nil {
			errs = append(errs, ValidationError{
				Field:   "archive.s3",
				Message: "required when type is 's3'",
			})
			break
		}
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.region",
				Message: "required",
			})
		}
		if cfg.S3.AccessKeyID == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.access_key_id",
				Message: "required",
			})
		}
		if cfg.S3.SecretAccessKey == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.secret_access_key",
				Message: "required",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "archive.type",
			Message: "must be 'filesystem' or 's3'",
		})
	}

	return errs
}

func validateRealtime(cfg *RealtimeConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "realtime.max_connections",
			Message: "must be at least 1",
		})
	}

	if cfg.MaxRooms < 1 {
		errs = append(errs, ValidationError{
			Field:   "realtime.max_rooms_per_client",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateDocTypes(doctypes []DocTypeConfig) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(doctypes))
	for i, dt := range doctypes {
		if dt.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("doctypes[%d].name", i),
				Message: "required",
			})
			continue
		}
		if seen[dt.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("doctypes[%d].name", i),
				Message: fmt.Sprintf("duplicate doctype %q", dt.Name),
			})
		}
		seen[dt.Name] = true
	}

	return errs
}

func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return &ValidationError{
			Field:   "auth.jwt.secret",
			Message: "required when auth.jwt.required is true",
		}
	}
	if len(secret) < 32 {
		return &ValidationError{
			Field:   "auth.jwt.secret",
			Message: "must be at least 32 characters",
		}
	}
	return nil
}
