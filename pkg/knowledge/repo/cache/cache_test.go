package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/memory"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/repotest"
)

var _ knowledge.Repository = (*Repository)(nil)

// countingRepo counts reads reaching the wrapped repository.
type countingRepo struct {
	knowledge.Repository
	gets  int
	scans int
}

func (c *countingRepo) GetByID(ctx context.Context, id int64) (*knowledge.Package, error) {
	c.gets++
	return c.Repository.GetByID(ctx, id)
}

func (c *countingRepo) Scan(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, error) {
	c.scans++
	return c.Repository.Scan(ctx, f)
}

func TestRepository_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) knowledge.Repository {
		return New(memory.New(), 16, time.Minute)
	})
}

func TestRepository_CachesReads(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{Repository: memory.New()}
	repo := New(inner, 16, time.Minute)

	pkg := repotest.NewPackage("react", "a1", knowledge.StatusApproved)
	require.NoError(t, repo.Create(ctx, pkg))

	for i := 0; i < 3; i++ {
		got, err := repo.GetByID(ctx, pkg.ID)
		require.NoError(t, err)
		assert.Equal(t, "react", got.Name)
		_, err = repo.Scan(ctx, knowledge.ListFilter{Status: knowledge.StatusApproved})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, 1, inner.scans)
	assert.Equal(t, "1", repo.Stats()["packages"])
}

func TestRepository_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{Repository: memory.New()}
	repo := New(inner, 16, time.Minute)

	pkg := repotest.NewPackage("react", "a1", knowledge.StatusApproved)
	require.NoError(t, repo.Create(ctx, pkg))

	_, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)

	_, err = repo.UpdateRating(ctx, pkg.ID, knowledge.RatingDelta{Upvotes: 1})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Upvotes)
	assert.Equal(t, 2, inner.gets)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := New(memory.New(), 16, time.Minute)

	pkg := repotest.NewPackage("react", "a1", knowledge.StatusApproved)
	require.NoError(t, repo.Create(ctx, pkg))

	first, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, "REACT", second.Title)
}
