package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Executor.Backend != "auto" {
		t.Errorf("Executor.Backend = %q, want auto", cfg.Executor.Backend)
	}
	if cfg.Executor.Workers != 8 {
		t.Errorf("Executor.Workers = %d, want 8", cfg.Executor.Workers)
	}
	if cfg.Executor.RunTimeout != 30*time.Second {
		t.Errorf("Executor.RunTimeout = %s, want 30s", cfg.Executor.RunTimeout)
	}
	if cfg.Executor.DefaultLimits.MemoryMB != 256 {
		t.Errorf("DefaultLimits.MemoryMB = %d, want 256", cfg.Executor.DefaultLimits.MemoryMB)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled = false, want true")
	}
	if cfg.Security.UserHeader != "X-User-ID" {
		t.Errorf("Security.UserHeader = %q", cfg.Security.UserHeader)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"run_timeout > max_timeout", func(c *Config) {
			c.Executor.RunTimeout = 10 * time.Minute
			c.Executor.MaxTimeout = 1 * time.Minute
		}, true},
		{"workers 0", func(c *Config) { c.Executor.Workers = 0 }, true},
		{"memory_mb < 16", func(c *Config) { c.Executor.DefaultLimits.MemoryMB = 8 }, true},
		{"unknown backend", func(c *Config) { c.Executor.Backend = "firecracker" }, true},
		{"process backend", func(c *Config) { c.Executor.Backend = "process" }, false},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
executor:
  backend: process
  workers: 2
  run_timeout: 15s
  max_timeout: 120s
  default_limits:
    memory_mb: 512
database:
  dsn: "postgres://scriptflow@localhost/scriptflow"
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Executor.Backend != "process" {
		t.Errorf("Executor.Backend = %q, want process", cfg.Executor.Backend)
	}
	if cfg.Executor.RunTimeout != 15*time.Second {
		t.Errorf("Executor.RunTimeout = %s, want 15s", cfg.Executor.RunTimeout)
	}
	if cfg.Executor.DefaultLimits.MemoryMB != 512 {
		t.Errorf("DefaultLimits.MemoryMB = %d, want 512", cfg.Executor.DefaultLimits.MemoryMB)
	}
	if cfg.Database.DSN == "" {
		t.Error("Database.DSN not loaded")
	}
	// Unset sections keep their defaults.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
