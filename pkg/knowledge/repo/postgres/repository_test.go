package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/repotest"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		schema  string
		want    string
		wantErr bool
	}{
		{name: "postgres scheme", in: "postgres://u:p@localhost:5432/db?sslmode=disable", want: "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{name: "postgresql scheme", in: "postgresql://localhost/db", want: "pgx5://localhost/db"},
		{name: "with schema", in: "postgres://localhost/db", schema: "knowledge", want: "pgx5://localhost/db?search_path=knowledge"},
		{name: "mysql rejected", in: "mysql://localhost/db", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrateURL(tt.in, tt.schema)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// setupRepository starts PostgreSQL in a container and applies migrations.
func setupRepository(t *testing.T) *Repository {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("knowledge_test"),
		tcpostgres.WithUsername("knowledge"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(dsn, "", nil))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewWithPool(pool)
}

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) knowledge.Repository { return setupRepository(t) })
}

func TestRepository_MissingTable(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	_, err := repo.db.Exec(ctx, "DROP TABLE knowledge")
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, 1)
	assert.True(t, errors.Is(err, knowledge.ErrStorageFailure))
	assert.Contains(t, err.Error(), "migration required")
}
