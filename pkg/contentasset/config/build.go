package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pdisakar/content-assets/pkg/contentasset"
	ledgermemory "github.com/pdisakar/content-assets/pkg/contentasset/ledger/memory"
	ledgerredis "github.com/pdisakar/content-assets/pkg/contentasset/ledger/redis"
	"github.com/pdisakar/content-assets/pkg/contentasset/objectkey"
	"github.com/pdisakar/content-assets/pkg/contentasset/repo/gormdb"
	"github.com/pdisakar/content-assets/pkg/contentasset/repo/memory"
	repopg "github.com/pdisakar/content-assets/pkg/contentasset/repo/postgres"
	"github.com/pdisakar/content-assets/pkg/contentasset/storage/cache"
	fsstorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/fs"
	gcsstorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/gcs"
	memorystorage "github.com/pdisakar/content-assets/pkg/contentasset/storage/memory"
	s3storage "github.com/pdisakar/content-assets/pkg/contentasset/storage/s3"
)

// Runtime is everything built from a ServerConfig.
type Runtime struct {
	Service    contentasset.Service
	Sweeper    *contentasset.Sweeper
	Repository contentasset.Repository
	Store      *contentasset.BlobAssetStore
	Ledger     contentasset.LeakLedger

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context) (contentasset.Service, error) {
	rt, err := c.Build(ctx)
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// Build connects every configured backend and wires the service and sweeper.
// On error everything opened so far is closed.
func (c *ServerConfig) Build(ctx context.Context, extra ...contentasset.Option) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Repository, err = c.buildRepository(ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	var client *redis.Client
	if c.RedisURL != "" && (c.LedgerType == "redis" || c.CacheMetadata) {
		client, err = connectRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
	}

	rt.Store, err = c.buildAssetStore(ctx, rt, client)
	if err != nil {
		return nil, err
	}

	if c.LedgerType == "redis" {
		rt.Ledger = ledgerredis.NewWithClient(client, "")
	} else {
		rt.Ledger = ledgermemory.New()
	}

	logger := c.logger()
	options := []contentasset.Option{
		contentasset.WithRepository(rt.Repository),
		contentasset.WithAssetStore(rt.Store),
		contentasset.WithLeakLedger(rt.Ledger),
		contentasset.WithLogger(logger),
		contentasset.WithReferencePolicy(c.ReferencePolicy()),
		contentasset.WithPayloadPolicy(c.PayloadPolicy()),
		contentasset.WithConcurrency(c.UploadConcurrency, c.ReclaimConcurrency, c.BulkConcurrency),
		contentasset.WithReclaimTimeout(c.ReclaimTimeout),
	}
	if c.EnableEventLogging {
		options = append(options, contentasset.WithEventSink(contentasset.NewLoggingEventSink(logger)))
	}
	options = append(options, extra...)

	rt.Service, err = contentasset.New(options...)
	if err != nil {
		return nil, err
	}
	rt.Sweeper = contentasset.NewSweeper(rt.Repository, rt.Store, rt.Ledger, contentasset.WithSweeperLogger(logger))
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (contentasset.Repository, error) {
	switch {
	case c.DatabaseType == "memory":
		return memory.New(), nil

	case c.DatabaseType == "sqlite" || c.DatabaseDriver == "gorm":
		db, err := gormdb.Open(ctx, gormdb.Config{DSN: c.DatabaseURL})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, sqlDB.Close)
		return gormdb.New(db), nil

	case c.DatabaseType == "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if c.AutoMigrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		return repopg.NewWithPool(pool), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and that the schema, when
// given, can be selected.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *ServerConfig) buildAssetStore(ctx context.Context, rt *Runtime, client *redis.Client) (*contentasset.BlobAssetStore, error) {
	var backend StorageBackendConfig
	for _, b := range c.StorageBackends {
		if b.Name == c.DefaultStorageBackend {
			backend = b
		}
	}

	blobs, err := c.buildStorageBackend(ctx, rt, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", backend.Name, err)
	}
	if c.CacheMetadata && client != nil {
		blobs = cache.NewWithClient(blobs, client, c.CacheTTL, "")
	}

	gen, err := keyGenerator(c.ObjectKeyGenerator)
	if err != nil {
		return nil, err
	}
	policy := c.PayloadPolicy()
	return contentasset.NewBlobAssetStore(backend.Name, blobs, c.ReferencePolicy(),
		contentasset.WithKeyGenerator(gen),
		contentasset.WithExtensions(policy.Extension),
	), nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context, rt *Runtime, config StorageBackendConfig) (contentasset.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/uploads"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			ConditionalWrites:      getBool(config.Config, "conditional_writes", false),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	case "gcs":
		backend, err := gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          getString(config.Config, "bucket", ""),
			Prefix:          getString(config.Config, "prefix", ""),
			EmulatorHost:    getString(config.Config, "emulator_host", ""),
			CredentialsFile: getString(config.Config, "credentials_file", ""),
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, backend.Close)
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func keyGenerator(name string) (objectkey.Generator, error) {
	switch name {
	case "", "dated":
		return objectkey.NewDatedGenerator(), nil
	case "sharded":
		return objectkey.NewShardedGenerator(), nil
	case "flat":
		return objectkey.NewFlatGenerator(), nil
	default:
		return nil, fmt.Errorf("invalid object key generator: %s (valid: dated, sharded, flat)", name)
	}
}
