package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory":
			url = ""
		case "postgres", "sqlite":
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'sqlite', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseURL configures the database from a URL: "memory",
// "postgres://...", "postgresql://..." or "sqlite://<path>"
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		return applyDatabaseURL(url, c)
	}
}

// WithDatabaseDriver selects the Postgres driver: "pgx" or "gorm"
func WithDatabaseDriver(driver string) Option {
	return func(c *ServerConfig) error {
		if driver != "pgx" && driver != "gorm" {
			return fmt.Errorf("database driver must be 'pgx' or 'gorm', got: %s", driver)
		}
		c.DatabaseDriver = driver
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate controls whether the schema is applied at startup
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithMemoryStorage adds a memory storage backend (for testing)
// If name is empty, defaults to "memory"
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "memory"
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: name, Type: "memory"})
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   name,
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": baseDir},
		})
		return nil
	}
}

// WithS3Storage adds an S3 storage backend
// If name is empty, defaults to "s3"
func WithS3Storage(name, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		backend := StorageBackendConfig{
			Name:   name,
			Type:   "s3",
			Config: map[string]interface{}{"bucket": bucket, "region": region},
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithS3Credentials sets AWS credentials for S3 storage
func WithS3Credentials(name, accessKeyID, secretAccessKey string) Option {
	return s3Setting(name, map[string]interface{}{
		"access_key_id":     accessKeyID,
		"secret_access_key": secretAccessKey,
	})
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(name, endpoint string, usePathStyle bool) Option {
	return s3Setting(name, map[string]interface{}{
		"endpoint":       endpoint,
		"use_path_style": usePathStyle,
	})
}

// WithS3ConditionalWrites makes uploads fail instead of overwriting an existing key
func WithS3ConditionalWrites(name string, enabled bool) Option {
	return s3Setting(name, map[string]interface{}{"conditional_writes": enabled})
}

func s3Setting(name string, values map[string]interface{}) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		for i := range c.StorageBackends {
			if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == "s3" {
				for k, v := range values {
					c.StorageBackends[i].Config[k] = v
				}
				return nil
			}
		}
		return fmt.Errorf("s3 backend %q must be added before it is configured", name)
	}
}

// WithGCSStorage adds a Google Cloud Storage backend
// If name is empty, defaults to "gcs"
func WithGCSStorage(name, bucket, prefix string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "gcs"
		}
		if bucket == "" {
			return fmt.Errorf("GCS bucket cannot be empty")
		}
		backend := StorageBackendConfig{
			Name:   name,
			Type:   "gcs",
			Config: map[string]interface{}{"bucket": bucket},
		}
		if prefix != "" {
			backend.Config["prefix"] = prefix
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithStorageURL adds the backend described by the URL ("memory://",
// "file:///dir", "s3://bucket?region=...", "gs://bucket?prefix=...") and
// makes it the default
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		return applyStorageURL(url, c)
	}
}

// WithObjectKeyGenerator sets the object key layout: "dated", "sharded" or "flat"
func WithObjectKeyGenerator(generator string) Option {
	return func(c *ServerConfig) error {
		if _, err := keyGenerator(generator); err != nil {
			return err
		}
		c.ObjectKeyGenerator = generator
		return nil
	}
}

// WithRedis keeps the leak ledger in Redis and optionally caches object metadata there
func WithRedis(url string, cacheMetadata bool) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("redis URL cannot be empty")
		}
		c.RedisURL = url
		c.LedgerType = "redis"
		c.CacheMetadata = cacheMetadata
		return nil
	}
}

// WithAssetPrefix sets the path managed references live under
func WithAssetPrefix(prefix string) Option {
	return func(c *ServerConfig) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" || prefix == "/" {
			return fmt.Errorf("asset prefix cannot be empty")
		}
		c.AssetPrefix = prefix
		return nil
	}
}

// WithPublicBaseURLs sets origins under which managed references may also be written
func WithPublicBaseURLs(urls ...string) Option {
	return func(c *ServerConfig) error {
		c.PublicBaseURLs = nil
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				c.PublicBaseURLs = append(c.PublicBaseURLs, u)
			}
		}
		return nil
	}
}

// WithMaxInlineBytes caps the decoded size of one inline payload
func WithMaxInlineBytes(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max inline bytes must be positive, got: %d", n)
		}
		c.MaxInlineBytes = n
		return nil
	}
}

// WithSweepGrace sets how old an unreferenced asset must be before a sweep deletes it
func WithSweepGrace(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if err := contentasset.CheckSweepGrace(d); err != nil {
			return err
		}
		c.SweepGrace = d
		return nil
	}
}

// WithReclaimTimeout bounds rollback and reclaim work after a request finishes
func WithReclaimTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("reclaim timeout must be positive")
		}
		c.ReclaimTimeout = d
		return nil
	}
}

// WithConcurrency bounds parallel uploads, reclaim deletes and bulk items
func WithConcurrency(upload, reclaim, bulk int) Option {
	return func(c *ServerConfig) error {
		if upload < 0 || reclaim < 0 || bulk < 0 {
			return fmt.Errorf("concurrency limits cannot be negative")
		}
		c.UploadConcurrency, c.ReclaimConcurrency, c.BulkConcurrency = upload, reclaim, bulk
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithMaintenanceAPI enables or disables the maintenance endpoints
func WithMaintenanceAPI(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMaintenanceAPI = enabled
		return nil
	}
}

// WithLogger sets the logger handed to the service and sweeper
func WithLogger(logger *slog.Logger) Option {
	return func(c *ServerConfig) error {
		c.Logger = logger
		return nil
	}
}

// WithDefaults is a convenience option that resets to the library defaults
func WithDefaults() Option {
	return func(c *ServerConfig) error {
		*c = defaults()
		return nil
	}
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	if backend.Config == nil {
		backend.Config = map[string]interface{}{}
	}
	for i := range backends {
		if backends[i].Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}
