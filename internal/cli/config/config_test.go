package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoad(t *testing.T) {
	// Test loading with no config file (should use defaults)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Database.Dialect != "sqlite" {
		t.Errorf("expected default dialect 'sqlite', got %s", cfg.Database.Dialect)
	}
	if cfg.Manager.AsyncWorkers != 4 {
		t.Errorf("expected 4 async workers, got %d", cfg.Manager.AsyncWorkers)
	}
	if cfg.Manager.ObjectCache != CacheNone {
		t.Errorf("expected object cache 'none', got %s", cfg.Manager.ObjectCache)
	}
	if cfg.Manager.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %s", cfg.Manager.CacheTTL)
	}
	if cfg.Server.Addr != "localhost:8080" {
		t.Errorf("expected server addr 'localhost:8080', got %s", cfg.Server.Addr)
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Error("expected an error without a dsn")
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	configContent := `
database:
  driver: postgres
  dialect: postgres
  dsn: postgres://localhost/people
  enforce_transactions: true
metadata:
  files: [meta/people.yaml, /abs/other.yaml]
manager:
  async_workers: 8
  object_cache: memory
  cache_size: 50
  cache_ttl: 30s
log:
  level: debug
  format: json
`
	if err := os.WriteFile(FileName, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading config, got %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected driver 'postgres', got %s", cfg.Database.Driver)
	}
	if !cfg.Database.EnforceTransactions {
		t.Error("expected enforce_transactions to be true")
	}
	if cfg.Manager.AsyncWorkers != 8 {
		t.Errorf("expected 8 async workers, got %d", cfg.Manager.AsyncWorkers)
	}
	if cfg.Manager.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %s", cfg.Manager.CacheTTL)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("expected dsn to be set, got %v", err)
	}

	files := cfg.MetadataFiles(dir)
	if len(files) != 2 || files[0] != filepath.Join(dir, "meta/people.yaml") || files[1] != "/abs/other.yaml" {
		t.Errorf("unexpected metadata files %v", files)
	}
	if !Exists(dir) {
		t.Error("expected the config file to exist")
	}
}

func TestLoadExplicitPath(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := Load("missing.yaml"); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: :9999\n  write_timeout: 2m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected addr ':9999', got %s", cfg.Server.Addr)
	}
	if cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("expected write timeout 2m, got %s", cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected the default shutdown timeout, got %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("METAOBJECTS_DATABASE_DSN", "file:test.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Database.DSN != "file:test.db" {
		t.Errorf("expected dsn from the environment, got %q", cfg.Database.DSN)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg := Default()
	cfg.Database.Driver = "pgx"
	cfg.Database.Dialect = "postgres"
	cfg.Database.DSN = "postgres://localhost/people"
	cfg.Metadata.Files = []string{"metadata.yaml"}
	cfg.Manager.CacheTTL = 90 * time.Second

	if err := Save(path, cfg); err != nil {
		t.Fatalf("expected no error saving, got %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error loading, got %v", err)
	}
	if loaded.Database.Driver != "pgx" || loaded.Database.DSN != cfg.Database.DSN {
		t.Errorf("unexpected database config %+v", loaded.Database)
	}
	if loaded.Manager.CacheTTL != 90*time.Second {
		t.Errorf("expected cache ttl 1m30s, got %s", loaded.Manager.CacheTTL)
	}
	if len(loaded.Metadata.Files) != 1 || loaded.Metadata.Files[0] != "metadata.yaml" {
		t.Errorf("unexpected metadata files %v", loaded.Metadata.Files)
	}

	cfg.Log.Format = "xml"
	if err := Save(path, cfg); err == nil {
		t.Error("expected an invalid config to be rejected")
	}
}

func TestDefaultMatchesLoad(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.Database != def.Database || cfg.Manager != def.Manager || cfg.Log != def.Log || cfg.Server != def.Server || cfg.Redis != def.Redis {
		t.Errorf("Default() = %+v, Load(\"\") = %+v", def, cfg)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Dialect: "postgres"},
			Manager:  ManagerConfig{AsyncWorkers: 1, ObjectCache: CacheNone},
			Log:      LogConfig{Format: "console"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown dialect", func(c *Config) { c.Database.Dialect = "oracle" }, "database.dialect"},
		{"dialect case", func(c *Config) { c.Database.Dialect = "MySQL" }, ""},
		{"negative pool", func(c *Config) { c.Database.MaxOpenConns = -1 }, "max_open_conns"},
		{"unknown cache", func(c *Config) { c.Manager.ObjectCache = "disk" }, "object_cache"},
		{"no workers", func(c *Config) { c.Manager.AsyncWorkers = 0 }, "async_workers"},
		{"empty memory cache", func(c *Config) {
			c.Manager.ObjectCache = CacheMemory
		}, "cache_size"},
		{"redis without addr", func(c *Config) {
			c.Manager.ObjectCache = CacheRedis
		}, "redis.addr"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
