package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate, got: %v", err)
	}
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"listen_addr": ":9999"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.RingSize != DefaultConfig().RingSize {
		t.Fatalf("RingSize = %d, want default %d to survive a partial override", cfg.RingSize, DefaultConfig().RingSize)
	}
}

func TestValidateRejectsBadEnvironment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = Environment("nonsense")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an invalid environment to fail validation")
	}
}

func TestValidateRejectsOutOfRangeFPS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.FPS = 500
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an out-of-range fps to fail validation")
	}
}
