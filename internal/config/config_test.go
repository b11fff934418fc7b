package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "PCIBEX_SESSION_TTL_SECONDS", "PCIBEX_EXPORT_TIMEOUT", "MINIO_USE_SSL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("SessionTTL = %s", cfg.SessionTTL)
	}
	if cfg.ExportTimeout != 30*time.Second {
		t.Fatalf("ExportTimeout = %s", cfg.ExportTimeout)
	}
	if cfg.MinioUseSSL {
		t.Fatal("MinioUseSSL defaulted to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("PCIBEX_SESSION_TTL_SECONDS", "60")
	t.Setenv("PCIBEX_EXPORT_TIMEOUT", "2m")
	t.Setenv("PCIBEX_SHUTDOWN_TIMEOUT", "not-a-duration")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SessionTTL != time.Minute {
		t.Fatalf("SessionTTL = %s", cfg.SessionTTL)
	}
	if cfg.ExportTimeout != 2*time.Minute {
		t.Fatalf("ExportTimeout = %s", cfg.ExportTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("invalid duration should fall back, got %s", cfg.ShutdownTimeout)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("MinioUseSSL = false")
	}
}
