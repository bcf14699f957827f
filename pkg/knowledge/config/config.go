package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/events"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/cache"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/memory"
	repopg "github.com/tendant/simple-knowledge/pkg/knowledge/repo/postgres"
	reposqlite "github.com/tendant/simple-knowledge/pkg/knowledge/repo/sqlite"
	fsstorage "github.com/tendant/simple-knowledge/pkg/knowledge/storage/fs"
	memorystorage "github.com/tendant/simple-knowledge/pkg/knowledge/storage/memory"
	s3storage "github.com/tendant/simple-knowledge/pkg/knowledge/storage/s3"
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
		Port:             "8080",
		Environment:      "development",
		DatabaseType:     "memory",
		SQLitePath:       "data/knowledge.db",
		RunMigrations:    true,
		StorageType:      "memory",
		StorageDir:       "storage/knowledge",
		S3Region:         "us-east-1",
		S3SSEAlgorithm:   "AES256",
		MaxUploadBytes:   knowledge.DefaultMaxUploadSize,
		CacheSize:        cache.DefaultSize,
		CacheTTL:         cache.DefaultTTL,
		EventSource:      events.DefaultSource,
		ReconcileOnStart: true,
		MetricsEnabled:   true,
	}
}

// ServerConfig represents server configuration for the knowledge service.
// Field tags drive cleanenv for both environment variables and config files.
type ServerConfig struct {
	Port        string `yaml:"port" env:"KNOWLEDGE_PORT" env-default:"8080"`
	Environment string `yaml:"environment" env:"KNOWLEDGE_ENVIRONMENT" env-default:"development"` // development, production, testing

	// Database configuration
	DatabaseType  string `yaml:"database_type" env:"KNOWLEDGE_DATABASE_TYPE" env-default:"memory"` // "memory", "sqlite", "postgres"
	DatabaseURL   string `yaml:"database_url" env:"KNOWLEDGE_DATABASE_URL"`
	DBSchema      string `yaml:"db_schema" env:"KNOWLEDGE_DB_SCHEMA"`
	SQLitePath    string `yaml:"sqlite_path" env:"KNOWLEDGE_SQLITE_PATH" env-default:"data/knowledge.db"`
	RunMigrations bool   `yaml:"run_migrations" env:"KNOWLEDGE_RUN_MIGRATIONS" env-default:"true"`

	// Storage configuration
	StorageType       string `yaml:"storage_type" env:"KNOWLEDGE_STORAGE_TYPE" env-default:"memory"` // "memory", "fs", "s3"
	StorageDir        string `yaml:"storage_dir" env:"KNOWLEDGE_STORAGE_DIR" env-default:"storage/knowledge"`
	S3Bucket          string `yaml:"s3_bucket" env:"KNOWLEDGE_S3_BUCKET"`
	S3Region          string `yaml:"s3_region" env:"KNOWLEDGE_S3_REGION" env-default:"us-east-1"`
	S3Prefix          string `yaml:"s3_prefix" env:"KNOWLEDGE_S3_PREFIX"`
	S3Endpoint        string `yaml:"s3_endpoint" env:"KNOWLEDGE_S3_ENDPOINT"`
	S3AccessKeyID     string `yaml:"s3_access_key_id" env:"KNOWLEDGE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" env:"KNOWLEDGE_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `yaml:"s3_use_path_style" env:"KNOWLEDGE_S3_USE_PATH_STYLE"`
	S3CreateBucket    bool   `yaml:"s3_create_bucket" env:"KNOWLEDGE_S3_CREATE_BUCKET"`
	S3EnableSSE       bool   `yaml:"s3_enable_sse" env:"KNOWLEDGE_S3_ENABLE_SSE"`
	S3SSEAlgorithm    string `yaml:"s3_sse_algorithm" env:"KNOWLEDGE_S3_SSE_ALGORITHM" env-default:"AES256"`
	S3SSEKMSKeyID     string `yaml:"s3_sse_kms_key_id" env:"KNOWLEDGE_S3_SSE_KMS_KEY_ID"`

	// Limits and caching
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"KNOWLEDGE_MAX_UPLOAD_BYTES" env-default:"104857600"`
	CacheSize      int           `yaml:"cache_size" env:"KNOWLEDGE_CACHE_SIZE" env-default:"512"` // 0 disables the metadata cache
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"KNOWLEDGE_CACHE_TTL" env-default:"30s"`

	// Events
	EventAuditURL string `yaml:"event_audit_url" env:"KNOWLEDGE_EVENT_AUDIT_URL"`
	EventSource   string `yaml:"event_source" env:"KNOWLEDGE_EVENT_SOURCE" env-default:"/simple-knowledge"`

	// Moderator guard; both empty leaves the review routes open
	ModeratorAPIKeySHA256 string `yaml:"moderator_api_key_sha256" env:"KNOWLEDGE_MODERATOR_API_KEY_SHA256"`
	ModeratorJWTSecret    string `yaml:"moderator_jwt_secret" env:"KNOWLEDGE_MODERATOR_JWT_SECRET"`

	// Server options
	ReconcileOnStart bool `yaml:"reconcile_on_start" env:"KNOWLEDGE_RECONCILE_ON_START" env-default:"true"`
	MetricsEnabled   bool `yaml:"metrics_enabled" env:"KNOWLEDGE_METRICS_ENABLED" env-default:"true"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required when using sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
	default:
		return fmt.Errorf("database_type must be 'memory', 'sqlite' or 'postgres', got %q", c.DatabaseType)
	}

	switch c.StorageType {
	case "memory":
	case "fs":
		if c.StorageDir == "" {
			return errors.New("storage_dir is required when using fs storage")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("s3_bucket is required when using s3 storage")
		}
	default:
		return fmt.Errorf("storage_type must be 'memory', 'fs' or 's3', got %q", c.StorageType)
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("cache_size must not be negative")
	}
	return nil
}

// Moderated reports whether the review surface requires credentials.
func (c *ServerConfig) Moderated() bool {
	return c.ModeratorAPIKeySHA256 != "" || c.ModeratorJWTSecret != ""
}

// BuildService assembles the repository, blob store, event sinks and service.
// Metrics are registered on reg when enabled and reg is non-nil. The returned
// cleanup releases database handles.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer) (knowledge.Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	repo, cleanup, err := c.buildRepository(ctx, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if c.CacheSize > 0 {
		repo = cache.New(repo, c.CacheSize, c.CacheTTL)
	}

	store, err := c.buildStorageBackend()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build storage backend %s: %w", c.StorageType, err)
	}

	sink, err := c.buildEventSink(logger, reg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc, err := knowledge.New(
		knowledge.WithRepository(repo),
		knowledge.WithBlobStore(store),
		knowledge.WithEventSink(sink),
		knowledge.WithMaxUploadSize(c.MaxUploadBytes),
		knowledge.WithLogger(logger),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, logger *slog.Logger) (knowledge.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), func() {}, nil

	case "sqlite":
		repo, err := reposqlite.Open(c.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil

	case "postgres":
		if c.RunMigrations {
			if err := repopg.Migrate(c.DatabaseURL, c.DBSchema, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := c.newPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		return repopg.NewWithPool(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *ServerConfig) newPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
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

// buildStorageBackend creates a BlobStore based on the configuration
func (c *ServerConfig) buildStorageBackend() (knowledge.BlobStore, error) {
	switch c.StorageType {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: c.StorageDir})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3Region,
			Bucket:                 c.S3Bucket,
			Prefix:                 c.S3Prefix,
			AccessKeyID:            c.S3AccessKeyID,
			SecretAccessKey:        c.S3SecretAccessKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			EnableSSE:              c.S3EnableSSE,
			SSEAlgorithm:           c.S3SSEAlgorithm,
			SSEKMSKeyID:            c.S3SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.StorageType)
	}
}

func (c *ServerConfig) buildEventSink(logger *slog.Logger, reg prometheus.Registerer) (knowledge.EventSink, error) {
	sinks := []knowledge.EventSink{events.NewLogSink(logger)}
	if c.MetricsEnabled && reg != nil {
		sinks = append(sinks, events.NewMetricsSink(reg))
	}
	if c.EventAuditURL != "" {
		ce, err := events.NewCloudEventsSink(c.EventAuditURL, c.EventSource)
		if err != nil {
			return nil, fmt.Errorf("failed to build audit event sink: %w", err)
		}
		sinks = append(sinks, ce)
	}
	return events.NewMulti(sinks...), nil
}

// PingPostgres verifies connectivity to Postgres using the configured schema.
func (c *ServerConfig) PingPostgres(ctx context.Context) error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := c.newPool(ctx)
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
