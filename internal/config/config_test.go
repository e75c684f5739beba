package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Database.Dir = ""
	cfg.Actors.MaxAttempts = 0
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	msg := err.Error()
	for _, field := range []string{"server.port", "database.dir", "actors.max_attempts", "logging.level"} {
		if !strings.Contains(msg, field) {
			t.Errorf("validation message missing %q: %s", field, msg)
		}
	}
}

func TestValidate_AuthSecretRequiredWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected auth.secret validation error")
	}

	cfg.Auth.Secret = "supersecret"
	if err := Validate(cfg); err != nil {
		t.Fatalf("validation failed with secret set: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burrow.yaml")

	content := `
server:
  port: 9200
actors:
  hang_threshold: 2m
  max_attempts: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9200 {
		t.Errorf("Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Actors.HangThreshold != 2*time.Minute {
		t.Errorf("HangThreshold = %v, want 2m", cfg.Actors.HangThreshold)
	}
	if cfg.Actors.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Actors.MaxAttempts)
	}

	// Untouched fields keep their defaults.
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
	if cfg.Actors.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want default", cfg.Actors.PollInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BURROW_SERVER_PORT", "9300")

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9300 {
		t.Errorf("Port = %d, want 9300 from env", cfg.Server.Port)
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burrow.yaml")

	if err := os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(LoadOptions{ConfigFile: path}); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8100}
	if got := cfg.Address(); got != "0.0.0.0:8100" {
		t.Errorf("Address = %q", got)
	}
}
