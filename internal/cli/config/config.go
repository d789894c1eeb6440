package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the metaobjects configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Manager  ManagerConfig  `mapstructure:"manager"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig selects the database/sql driver and the SQL dialect
type DatabaseConfig struct {
	Driver              string `mapstructure:"driver"`
	Dialect             string `mapstructure:"dialect"`
	DSN                 string `mapstructure:"dsn"`
	MaxOpenConns        int    `mapstructure:"max_open_conns"`
	EnforceTransactions bool   `mapstructure:"enforce_transactions"`
}

// MetadataConfig lists the metadata sources
type MetadataConfig struct {
	Files []string `mapstructure:"files"`
}

// ManagerConfig sizes the object manager
type ManagerConfig struct {
	AsyncWorkers   int           `mapstructure:"async_workers"`
	AsyncQueueSize int           `mapstructure:"async_queue_size"`
	ObjectCache    string        `mapstructure:"object_cache"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig is used when manager.object_cache is redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the introspection server. Zero timeouts keep the
// server defaults.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Object cache kinds
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// FileName is the config file written by init and searched by Load.
const FileName = "metaobjects.yaml"

// Dialects lists the dialect names accepted in database.dialect.
var Dialects = []string{"derby", "generic", "mssql", "mysql", "postgres", "sqlite"}

// Load loads the configuration from metaobjects.yaml in the working
// directory, or from path when it is not empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.enforce_transactions", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("manager.async_workers", 4)
	v.SetDefault("manager.async_queue_size", 100)
	v.SetDefault("manager.object_cache", CacheNone)
	v.SetDefault("manager.cache_size", 1000)
	v.SetDefault("manager.cache_ttl", 5*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("server.read_timeout", 0)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("metaobjects")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// METAOBJECTS_DATABASE_DSN overrides database.dsn. Only keys with a
	// default are bound.
	v.SetEnvPrefix("METAOBJECTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	v := viper.New()
	v.Set("database.driver", cfg.Database.Driver)
	v.Set("database.dialect", cfg.Database.Dialect)
	v.Set("database.dsn", cfg.Database.DSN)
	v.Set("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.Set("database.enforce_transactions", cfg.Database.EnforceTransactions)
	v.Set("metadata.files", cfg.Metadata.Files)
	v.Set("manager.async_workers", cfg.Manager.AsyncWorkers)
	v.Set("manager.async_queue_size", cfg.Manager.AsyncQueueSize)
	v.Set("manager.object_cache", cfg.Manager.ObjectCache)
	v.Set("manager.cache_size", cfg.Manager.CacheSize)
	v.Set("manager.cache_ttl", cfg.Manager.CacheTTL.String())
	if cfg.Manager.ObjectCache == CacheRedis {
		v.Set("redis.addr", cfg.Redis.Addr)
		v.Set("redis.db", cfg.Redis.DB)
	}
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.shutdown_timeout", cfg.Server.ShutdownTimeout.String())

	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Default returns the configuration Load produces without a file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite3", Dialect: "sqlite", MaxOpenConns: 10},
		Manager: ManagerConfig{
			AsyncWorkers:   4,
			AsyncQueueSize: 100,
			ObjectCache:    CacheNone,
			CacheSize:      1000,
			CacheTTL:       5 * time.Minute,
		},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Log:    LogConfig{Level: "info", Format: "console"},
		Server: ServerConfig{Addr: "localhost:8080", ShutdownTimeout: 30 * time.Second},
	}
}

// RequireDatabase fails when no dsn is configured. Commands that open a
// database call it after Load.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required (set it in %s or METAOBJECTS_DATABASE_DSN)", FileName)
	}
	return nil
}

// MetadataFiles resolves the configured metadata files relative to dir.
func (c *Config) MetadataFiles(dir string) []string {
	files := make([]string, len(c.Metadata.Files))
	for i, f := range c.Metadata.Files {
		if filepath.IsAbs(f) {
			files[i] = f
		} else {
			files[i] = filepath.Join(dir, f)
		}
	}
	return files
}

// Exists reports whether a config file exists in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if !contains(Dialects, strings.ToLower(cfg.Database.Dialect)) {
		return fmt.Errorf("database.dialect must be one of %s, got: %s", strings.Join(Dialects, ", "), cfg.Database.Dialect)
	}
	if cfg.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative, got: %d", cfg.Database.MaxOpenConns)
	}

	switch cfg.Manager.ObjectCache {
	case CacheNone, CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("manager.object_cache must be one of none, memory, redis, got: %s", cfg.Manager.ObjectCache)
	}
	if cfg.Manager.AsyncWorkers < 1 {
		return fmt.Errorf("manager.async_workers must be at least 1, got: %d", cfg.Manager.AsyncWorkers)
	}
	if cfg.Manager.ObjectCache == CacheMemory && cfg.Manager.CacheSize < 1 {
		return fmt.Errorf("manager.cache_size must be at least 1, got: %d", cfg.Manager.CacheSize)
	}
	if cfg.Manager.ObjectCache == CacheRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when manager.object_cache is redis")
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got: %s", cfg.Log.Format)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
