package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Dispatch.Workers != DefaultWorkers {
		t.Errorf("expected %d workers, got %d", DefaultWorkers, cfg.Dispatch.Workers)
	}

	if cfg.Dispatch.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("expected signature header %s, got %s", DefaultSignatureHeader, cfg.Dispatch.SignatureHeader)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for invalid port")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	found := false
	for _, e := range errs {
		if e.Field == "server.port" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error for server.port field")
	}
	require.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "invalid"

	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_Dispatch(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.Workers = 0
	cfg.Dispatch.RequestTimeout = time.Millisecond

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dispatch.workers")
	require.Contains(t, err.Error(), "dispatch.request_timeout")
}

func TestValidate_CleanupSchedule(t *testing.T) {
	cfg := Default()
	cfg.RequestLog.CleanupSchedule = "not a schedule"

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request_log.cleanup_schedule")

	cfg.RequestLog.Retention = 0
	require.NoError(t, Validate(cfg), "schedule is ignored when retention is disabled")
}

func TestValidate_Archive(t *testing.T) {
	cfg := Default()
	cfg.Archive.Enabled = true
	cfg.Archive.Type = "s3"
	cfg.Archive.S3 = &S3Config{Region: "us-east-1"}

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive.s3.access_key_id")

	cfg.Archive.Type = "filesystem"
	cfg.Archive.Compression = "lz4"
	err = Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive.compression")
}

func TestValidate_DuplicateDocType(t *testing.T) {
	cfg := Default()
	cfg.DocTypes = []DocTypeConfig{{Name: "Sales Invoice", Submittable: true}, {Name: "Sales Invoice"}}

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate doctype")
}

func TestValidate_RequiredJWT(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWT.Required = true

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.jwt.secret")

	cfg.Auth.JWT.Secret = "this-is-a-very-long-secret-key-for-jwt-signing"
	require.NoError(t, Validate(cfg))
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty", "", true},
		{"too short", "short", true},
		{"valid", "this-is-a-very-long-secret-key-for-jwt-signing", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJWTSecret(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJWTSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docwebhooks.yaml")

	content := `
server:
  port: 9000
  host: "0.0.0.0"
database:
  path: "test.db"
logging:
  level: "debug"
dispatch:
  workers: 2
doctypes:
  - name: User
  - name: Sales Invoice
    submittable: true
webhooks:
  seed_file: webhooks.yaml
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, "test.db", cfg.Database.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 2, cfg.Dispatch.Workers)
	require.Equal(t, DefaultRequestTimeout, cfg.Dispatch.RequestTimeout)
	require.Len(t, cfg.DocTypes, 2)
	require.True(t, cfg.DocTypes[1].Submittable)
	require.Equal(t, "webhooks.yaml", cfg.Webhooks.SeedFile)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("DOCWEBHOOKS_SERVER_PORT", "7777")
	t.Setenv("DOCWEBHOOKS_DATABASE_PATH", "env-test.db")
	t.Setenv("DOCWEBHOOKS_DISPATCH_WORKERS", "9")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}

	if cfg.Database.Path != "env-test.db" {
		t.Errorf("expected db path env-test.db from env, got %s", cfg.Database.Path)
	}

	if cfg.Dispatch.Workers != 9 {
		t.Errorf("expected 9 workers from env, got %d", cfg.Dispatch.Workers)
	}
}

func TestServerAddress(t *testing.T) {
	cfg := &ServerConfig{Host: "localhost", Port: 8095}
	if addr := cfg.Address(); addr != "localhost:8095" {
		t.Errorf("expected localhost:8095, got %s", addr)
	}
}
