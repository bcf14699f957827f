package config

import (
	"errors"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the runtime environment
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		c.Environment = env
		return nil
	}
}

// WithDatabase sets the database type and, for postgres, its URL
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the postgres schema
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithSQLite selects the SQLite repository stored at path
func WithSQLite(path string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = "sqlite"
		c.SQLitePath = path
		return nil
	}
}

// WithMemoryStorage keeps archives in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.StorageType = "memory"
		return nil
	}
}

// WithFilesystemStorage stores archives under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		c.StorageType = "fs"
		c.StorageDir = baseDir
		return nil
	}
}

// WithS3Storage stores archives in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		c.StorageType = "s3"
		c.S3Bucket = bucket
		if region != "" {
			c.S3Region = region
		}
		return nil
	}
}

// WithS3Endpoint points the S3 backend at a compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3Endpoint = endpoint
		c.S3UsePathStyle = usePathStyle
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3AccessKeyID = accessKeyID
		c.S3SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithMaxUploadSize sets the archive size limit in bytes
func WithMaxUploadSize(n int64) Option {
	return func(c *ServerConfig) error {
		c.MaxUploadBytes = n
		return nil
	}
}

// WithCache sizes the metadata cache; size 0 disables it
func WithCache(size int, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.CacheSize = size
		c.CacheTTL = ttl
		return nil
	}
}

// WithAuditURL enables CloudEvents delivery to url
func WithAuditURL(url string) Option {
	return func(c *ServerConfig) error {
		c.EventAuditURL = url
		return nil
	}
}

// WithModeratorAPIKey guards the review routes with an API key given by its sha256 hex digest
func WithModeratorAPIKey(sha256Hex string) Option {
	return func(c *ServerConfig) error {
		c.ModeratorAPIKeySHA256 = sha256Hex
		return nil
	}
}

// WithModeratorJWTSecret guards the review routes with HS256 bearer tokens
func WithModeratorJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.ModeratorJWTSecret = secret
		return nil
	}
}

// WithReconcileOnStart toggles the startup storage reconciliation
func WithReconcileOnStart(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.ReconcileOnStart = enabled
		return nil
	}
}

// WithMetrics toggles Prometheus metrics
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.MetricsEnabled = enabled
		return nil
	}
}
