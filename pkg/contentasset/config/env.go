package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Server:
//
//	PORT, ENVIRONMENT
//
// Database:
//
//	DATABASE_URL    - "memory" (default), "postgres://...", "postgresql://..." or "sqlite://<path>"
//	DATABASE_DRIVER - "pgx" (default) or "gorm" for Postgres
//	DB_SCHEMA       - Postgres search_path
//
// Storage:
//
//	STORAGE_URL - "memory://" (default), "file:///path/to/uploads",
//	              "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true&prefix=uploads/",
//	              "gs://bucket?prefix=uploads/&emulator=http://localhost:4443"
//	OBJECT_KEYS - "dated" (default), "sharded" or "flat"
//
// Reclamation:
//
//	REDIS_URL, CACHE_METADATA, ASSET_PREFIX, PUBLIC_BASE_URLS (comma separated),
//	MAX_INLINE_BYTES, SWEEP_GRACE, RECLAIM_TIMEOUT, ENABLE_MAINTENANCE_API
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		return applyReclaimEnv(prefix, c)
	}
}

// applyDatabaseEnv applies database configuration from environment
func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "DATABASE_DRIVER"); ok && v != "" {
		c.DatabaseDriver = v
	}
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok {
		c.DBSchema = v
	}

	if dbURL, ok := lookupEnv(prefix, "DATABASE_URL"); ok && dbURL != "" {
		return applyDatabaseURL(dbURL, c)
	}
	return nil
}

// applyDatabaseURL picks the database type from the URL scheme
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	case strings.HasPrefix(dbURL, "sqlite://"):
		c.DatabaseType = "sqlite"
		c.DatabaseDriver = "gorm"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgresql://...' or 'sqlite://...')", dbURL)
	}
	return nil
}

// applyStorageEnv applies storage configuration from environment
func applyStorageEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "OBJECT_KEYS"); ok && v != "" {
		c.ObjectKeyGenerator = v
	}

	if storageURL, ok := lookupEnv(prefix, "STORAGE_URL"); ok && storageURL != "" {
		return applyStorageURL(storageURL, c)
	}
	return nil
}

// applyStorageURL adds the backend described by the URL and makes it the default
func applyStorageURL(storageURL string, c *ServerConfig) error {
	switch {
	case storageURL == "" || storageURL == "memory" || storageURL == "memory://":
		c.DefaultStorageBackend = "memory"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: "memory", Type: "memory"})
		return nil
	case strings.HasPrefix(storageURL, "file://"):
		return applyFilesystemStorage(storageURL, c)
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	case strings.HasPrefix(storageURL, "gs://"):
		return applyGCSStorage(storageURL, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'gs://...')", storageURL)
}

// applyFilesystemStorage configures filesystem storage from URL
// Format: file:///path/to/uploads
func applyFilesystemStorage(raw string, c *ServerConfig) error {
	path := strings.TrimPrefix(raw, "file://")
	if path == "" {
		return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
	}
	c.DefaultStorageBackend = "fs"
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
		Name:   "fs",
		Type:   "fs",
		Config: map[string]interface{}{"base_dir": path},
	})
	return nil
}

// applyS3Storage configures S3 storage from URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}
	q := u.Query()

	backend := StorageBackendConfig{
		Name: "s3",
		Type: "s3",
		Config: map[string]interface{}{
			"bucket": u.Host,
			"region": "us-east-1",
		},
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" {
		backend.Config["region"] = region
	}
	if region := q.Get("region"); region != "" {
		backend.Config["region"] = region
	}
	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		backend.Config["access_key_id"] = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		backend.Config["secret_access_key"] = secretKey
	}
	for param, key := range map[string]string{
		"endpoint":      "endpoint",
		"prefix":        "prefix",
		"path_style":    "use_path_style",
		"create_bucket": "create_bucket_if_not_exist",
		"if_none_match": "conditional_writes",
		"sse":           "sse_algorithm",
	} {
		if v := q.Get(param); v != "" {
			backend.Config[key] = v
		}
	}
	if _, ok := backend.Config["sse_algorithm"]; ok {
		backend.Config["enable_sse"] = true
	}

	c.DefaultStorageBackend = "s3"
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	return nil
}

// applyGCSStorage configures Google Cloud Storage from URL
// Format: gs://bucket?prefix=uploads/&emulator=http://localhost:4443
func applyGCSStorage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("GCS bucket name cannot be empty in STORAGE_URL")
	}
	q := u.Query()

	backend := StorageBackendConfig{
		Name:   "gcs",
		Type:   "gcs",
		Config: map[string]interface{}{"bucket": u.Host},
	}
	if v := q.Get("prefix"); v != "" {
		backend.Config["prefix"] = v
	}
	if v := q.Get("emulator"); v != "" {
		backend.Config["emulator_host"] = v
	}
	if v, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok && v != "" {
		backend.Config["credentials_file"] = v
	}

	c.DefaultStorageBackend = "gcs"
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	return nil
}

// applyReclaimEnv applies the asset policy and reclamation settings
func applyReclaimEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "REDIS_URL"); ok && v != "" {
		c.RedisURL = v
		c.LedgerType = "redis"
	}
	if v, ok, err := parseBoolEnv(prefix, "CACHE_METADATA"); err != nil {
		return err
	} else if ok {
		c.CacheMetadata = v
	}
	if v, ok := lookupEnv(prefix, "ASSET_PREFIX"); ok && v != "" {
		c.AssetPrefix = v
	}
	if v, ok := lookupEnv(prefix, "PUBLIC_BASE_URLS"); ok {
		c.PublicBaseURLs = nil
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				c.PublicBaseURLs = append(c.PublicBaseURLs, part)
			}
		}
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_INLINE_BYTES"); err != nil {
		return err
	} else if ok {
		c.MaxInlineBytes = v
	}
	if v, ok, err := parseDurationEnv(prefix, "SWEEP_GRACE"); err != nil {
		return err
	} else if ok {
		c.SweepGrace = v
	}
	if v, ok, err := parseDurationEnv(prefix, "RECLAIM_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.ReclaimTimeout = v
	}
	if v, ok, err := parseBoolEnv(prefix, "ENABLE_MAINTENANCE_API"); err != nil {
		return err
	} else if ok {
		c.EnableMaintenanceAPI = v
	}
	if v, ok, err := parseBoolEnv(prefix, "ENABLE_EVENT_LOGGING"); err != nil {
		return err
	} else if ok {
		c.EnableEventLogging = v
	}
	return nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseDurationEnv(prefix, key string) (time.Duration, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid duration for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
