package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.StorageType)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 512, cfg.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.ReconcileOnStart)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.Moderated())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{name: "postgres without url", opts: []Option{WithDatabase("postgres", "")}, wantErr: "database_url"},
		{name: "unknown database", opts: []Option{WithDatabase("mysql", "")}, wantErr: "database_type"},
		{name: "sqlite without path", opts: []Option{WithSQLite("")}, wantErr: "sqlite_path"},
		{name: "s3 without bucket", opts: []Option{WithS3Storage("", "")}, wantErr: "s3_bucket"},
		{name: "fs without dir", opts: []Option{WithFilesystemStorage("")}, wantErr: "storage_dir"},
		{name: "zero upload size", opts: []Option{WithMaxUploadSize(0)}, wantErr: "max_upload_bytes"},
		{name: "negative cache", opts: []Option{WithCache(-1, 0)}, wantErr: "cache_size"},
		{name: "empty port", opts: []Option{WithPort("")}, wantErr: "port"},
		{name: "valid sqlite and fs", opts: []Option{WithSQLite("k.db"), WithFilesystemStorage("/tmp/k")}},
		{name: "valid postgres and s3", opts: []Option{WithDatabase("postgres", "postgres://localhost/k"), WithS3Storage("bucket", "eu-west-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opts...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("KNOWLEDGE_PORT", "9090")
	t.Setenv("KNOWLEDGE_DATABASE_TYPE", "sqlite")
	t.Setenv("KNOWLEDGE_SQLITE_PATH", "/var/lib/knowledge.db")
	t.Setenv("KNOWLEDGE_STORAGE_TYPE", "fs")
	t.Setenv("KNOWLEDGE_STORAGE_DIR", "/srv/knowledge")
	t.Setenv("KNOWLEDGE_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("KNOWLEDGE_CACHE_TTL", "2m")
	t.Setenv("KNOWLEDGE_RECONCILE_ON_START", "false")
	t.Setenv("KNOWLEDGE_MODERATOR_JWT_SECRET", "secret")

	cfg, err := Load(WithEnv())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, "/var/lib/knowledge.db", cfg.SQLitePath)
	assert.Equal(t, "fs", cfg.StorageType)
	assert.Equal(t, "/srv/knowledge", cfg.StorageDir)
	assert.Equal(t, int64(1<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.ReconcileOnStart)
	assert.True(t, cfg.Moderated())
}

func TestWithEnv_ProgrammaticOverride(t *testing.T) {
	t.Setenv("KNOWLEDGE_PORT", "9090")

	cfg, err := Load(WithEnv(), WithPort("7070"))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
}

func TestWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.yml")
	content := "port: \"8181\"\nstorage_type: fs\nstorage_dir: " + filepath.Join(dir, "blobs") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, "8181", cfg.Port)
	assert.Equal(t, "fs", cfg.StorageType)
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.StorageDir)

	_, err = Load(WithFile(filepath.Join(dir, "missing.yml")))
	assert.Error(t, err)
}

func TestBuildService(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithSQLite(filepath.Join(dir, "knowledge.db")),
		WithFilesystemStorage(filepath.Join(dir, "blobs")),
	)
	require.NoError(t, err)

	svc, cleanup, err := cfg.BuildService(context.Background(), nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer cleanup()

	health := svc.Health(context.Background())
	assert.True(t, health.Healthy())
	assert.Equal(t, "healthy", health.Status)
}

func TestBuildService_Memory(t *testing.T) {
	cfg, err := Load(WithCache(0, 0), WithMetrics(false))
	require.NoError(t, err)

	svc, cleanup, err := cfg.BuildService(context.Background(), nil, nil)
	require.NoError(t, err)
	defer cleanup()

	stats, err := svc.ReviewStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestUsage(t *testing.T) {
	assert.Contains(t, Usage(), "KNOWLEDGE_DATABASE_TYPE")
}
