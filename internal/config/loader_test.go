package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	if cfg.ReconnectInterval != Default().ReconnectInterval {
		t.Fatalf("unexpected reconnect interval %v", cfg.ReconnectInterval)
	}

	// Reading the written file back yields the same values.
	again, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again != cfg {
		t.Fatalf("reloaded config differs:\n%+v\n%+v", again, cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9000\"\nreconnect_interval: 7s\njwt_required: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("QUILL_ADDR", ":9100")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should win over file, got %q", cfg.Addr)
	}
	if cfg.ReconnectInterval != 7*time.Second {
		t.Fatalf("file should win over defaults, got %v", cfg.ReconnectInterval)
	}
	if !cfg.JWTRequired {
		t.Fatalf("expected jwt_required from file")
	}
	if cfg.AckTimeout != Default().AckTimeout {
		t.Fatalf("unset keys keep defaults, got %v", cfg.AckTimeout)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000"})
	if cfg.Addr != ":7000" {
		t.Fatalf("addr not overridden")
	}
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("zero value must not override database path")
	}
}
