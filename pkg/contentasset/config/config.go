package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DatabaseDriver:        "pgx",
		AutoMigrate:           true,
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		LedgerType:         "memory",
		CacheTTL:           10 * time.Minute,
		ObjectKeyGenerator: "dated",
		AssetPrefix:        contentasset.DefaultAssetPrefix,
		MaxInlineBytes:     contentasset.DefaultMaxInlineBytes,
		SweepGrace:         contentasset.DefaultSweepGrace,
		ReclaimTimeout:     contentasset.DefaultReclaimTimeout,
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the content asset service and its server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL    string
	DatabaseType   string // "memory", "postgres", "sqlite"
	DatabaseDriver string // "pgx" or "gorm"; sqlite always uses gorm
	DBSchema       string // Postgres search_path, pgx driver only
	AutoMigrate    bool

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig
	ObjectKeyGenerator    string // "dated", "sharded", "flat"

	// Redis holds the leak ledger and the metadata cache when configured
	RedisURL      string
	LedgerType    string // "memory" or "redis"
	CacheMetadata bool
	CacheTTL      time.Duration

	// Asset policy
	AssetPrefix    string
	PublicBaseURLs []string
	MaxInlineBytes int

	// Reclamation
	SweepGrace         time.Duration
	ReclaimTimeout     time.Duration
	UploadConcurrency  int
	ReclaimConcurrency int
	BulkConcurrency    int

	// Server options
	EnableEventLogging   bool
	EnableMaintenanceAPI bool

	Logger *slog.Logger
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3", "gcs"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
		if c.DatabaseDriver != "pgx" && c.DatabaseDriver != "gorm" {
			return fmt.Errorf("database_driver must be 'pgx' or 'gorm', got %q", c.DatabaseDriver)
		}
	case "sqlite":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using sqlite")
		}
	default:
		return errors.New("database_type must be 'memory', 'postgres' or 'sqlite'")
	}

	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	switch c.LedgerType {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("redis_url is required for the redis ledger")
		}
	default:
		return fmt.Errorf("ledger must be 'memory' or 'redis', got %q", c.LedgerType)
	}
	if c.CacheMetadata && c.RedisURL == "" {
		return errors.New("redis_url is required for the metadata cache")
	}

	if _, err := keyGenerator(c.ObjectKeyGenerator); err != nil {
		return err
	}
	if c.MaxInlineBytes < 0 {
		return errors.New("max_inline_bytes cannot be negative")
	}
	if err := contentasset.CheckSweepGrace(c.SweepGrace); err != nil {
		return fmt.Errorf("sweep_grace: %w", err)
	}
	return nil
}

// ReferencePolicy returns the managed asset addressing convention.
func (c *ServerConfig) ReferencePolicy() contentasset.ReferencePolicy {
	return contentasset.ReferencePolicy{Prefix: c.AssetPrefix, PublicBaseURLs: c.PublicBaseURLs}
}

// PayloadPolicy returns the inline payload policy.
func (c *ServerConfig) PayloadPolicy() contentasset.PayloadPolicy {
	p := contentasset.DefaultPayloadPolicy()
	if c.MaxInlineBytes > 0 {
		p.MaxBytes = c.MaxInlineBytes
	}
	return p
}

func (c *ServerConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
