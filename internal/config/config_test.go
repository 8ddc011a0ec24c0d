package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "127.0.0.1"
  auth_token: "secret"
  allowed_origins:
    - "https://app.example.com"
stream:
  keepalive_interval: 10s
session:
  idle_timeout: 5m
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host %q", cfg.Server.Host)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("auth token %q", cfg.Server.AuthToken)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Stream.KeepaliveInterval != 10*time.Second {
		t.Errorf("keepalive %s", cfg.Stream.KeepaliveInterval)
	}
	if cfg.Session.IdleTimeout != 5*time.Minute {
		t.Errorf("idle timeout %s", cfg.Session.IdleTimeout)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Stream.SendBuffer != 64 {
		t.Errorf("send buffer %d, want default 64", cfg.Stream.SendBuffer)
	}
	if cfg.Session.RetentionGrace != 2*time.Minute {
		t.Errorf("retention grace %s, want default 2m", cfg.Session.RetentionGrace)
	}
	if cfg.Answer.GenerateTimeout != 30*time.Second {
		t.Errorf("generate timeout %s, want default 30s", cfg.Answer.GenerateTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	os.WriteFile(cfgPath, []byte("server: [not a map"), 0o644)

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("default port %d", cfg.Server.Port)
	}
	if cfg.Stream.KeepaliveInterval != 25*time.Second {
		t.Errorf("default keepalive %s", cfg.Stream.KeepaliveInterval)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("default idle timeout %s", cfg.Session.IdleTimeout)
	}
}
