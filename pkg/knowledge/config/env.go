package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies KNOWLEDGE_* environment variables through cleanenv.
//
// Apply it before programmatic options: unset variables fill zero-valued
// fields from their env-default tag, which would undo an earlier false or
// empty override.
//
// Server:
//
//	KNOWLEDGE_PORT, KNOWLEDGE_ENVIRONMENT
//
// Database:
//
//	KNOWLEDGE_DATABASE_TYPE   memory | sqlite | postgres
//	KNOWLEDGE_DATABASE_URL    postgres connection string
//	KNOWLEDGE_DB_SCHEMA       postgres search_path
//	KNOWLEDGE_SQLITE_PATH     database file (default data/knowledge.db)
//	KNOWLEDGE_RUN_MIGRATIONS  apply embedded postgres migrations at start
//
// Storage:
//
//	KNOWLEDGE_STORAGE_TYPE    memory | fs | s3
//	KNOWLEDGE_STORAGE_DIR     fs base directory
//	KNOWLEDGE_S3_*            bucket, region, prefix, endpoint, credentials
//
// See ServerConfig for the complete list.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML or .env file, then the environment on top of it.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// Usage returns the environment variable reference generated from the struct tags.
func Usage() string {
	var cfg ServerConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
