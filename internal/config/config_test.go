// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen_addr: "0.0.0.0:9090"

database:
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  admin_token: "adm-secret"
  token_ttl: "720h"

relay:
  write_timeout: "5s"
  handshake_timeout: "15s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:9090")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.AdminToken != "adm-secret" {
		t.Errorf("Auth.AdminToken = %q, want %q", cfg.Auth.AdminToken, "adm-secret")
	}
	if cfg.Auth.TokenTTL != 720*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 720*time.Hour)
	}
	if cfg.Relay.WriteTimeout != 5*time.Second {
		t.Errorf("Relay.WriteTimeout = %v, want %v", cfg.Relay.WriteTimeout, 5*time.Second)
	}
	if cfg.Relay.HandshakeTimeout != 15*time.Second {
		t.Errorf("Relay.HandshakeTimeout = %v, want %v", cfg.Relay.HandshakeTimeout, 15*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want default %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Database.Path != "spawn-relay.db" {
		t.Errorf("Database.Path = %q, want default %q", cfg.Database.Path, "spawn-relay.db")
	}
	if cfg.Relay.WriteTimeout != 10*time.Second {
		t.Errorf("Relay.WriteTimeout = %v, want default %v", cfg.Relay.WriteTimeout, 10*time.Second)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_SECRET", "expanded-secret-0123456789abcdef")
	t.Setenv("TEST_RELAY_DB", "/tmp/relay-test.db")

	configPath := writeConfig(t, `
server:
  listen_addr: ":8080"

database:
  path: "${TEST_RELAY_DB}"

auth:
  jwt_secret: "${TEST_RELAY_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "expanded-secret-0123456789abcdef" {
		t.Errorf("Auth.JWTSecret = %q, env var was not expanded", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/relay-test.db" {
		t.Errorf("Database.Path = %q, env var was not expanded", cfg.Database.Path)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
auth:
  jwt_secret: "${DEFINITELY_NOT_SET_RELAY_VAR}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty jwt_secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error = %v, want mention of jwt_secret", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: "three days"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "token_ttl") {
		t.Errorf("error = %v, want mention of token_ttl", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate_MissingDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Database.Path = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing database path")
	}
}
