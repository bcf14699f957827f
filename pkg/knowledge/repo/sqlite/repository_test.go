package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/repotest"
)

var _ knowledge.Repository = (*Repository)(nil)

func openTemp(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "data", "knowledge.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) knowledge.Repository { return openTemp(t) })
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.db")
	ctx := context.Background()

	repo, err := Open(path, nil)
	require.NoError(t, err)
	pkg := repotest.NewPackage("react", "a1", knowledge.StatusPending)
	require.NoError(t, repo.Create(ctx, pkg))
	require.NoError(t, repo.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByName(ctx, "react")
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, got.ID)
}

func TestTimeLayoutOrdersLexically(t *testing.T) {
	a := time.Date(2025, 1, 1, 9, 0, 0, 5, time.UTC)
	b := time.Date(2025, 1, 1, 11, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Less(t, formatTime(a), formatTime(b))
	assert.Len(t, formatTime(a), len(formatTime(b)))

	parsed, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(b))
}
