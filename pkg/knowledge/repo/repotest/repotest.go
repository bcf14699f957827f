// Package repotest holds the behaviour every knowledge.Repository must share.
// Backend packages call Run from their own tests.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// Factory returns an empty repository.
type Factory func(t *testing.T) knowledge.Repository

// NewPackage builds a valid row. hash is repeated to the 64 characters of a sha256 digest.
func NewPackage(name, hash string, status knowledge.Status) *knowledge.Package {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return &knowledge.Package{
		Name:        name,
		Title:       strings.ToUpper(name),
		Description: "docs for " + name,
		Category:    knowledge.CategoryWebFramework,
		Framework:   "React",
		Tags:        []string{"ui", "hooks"},
		FilePath:    "staging/web-framework/" + name + ".zip",
		FileSize:    42,
		FileHash:    strings.Repeat(hash, 64)[:64],
		Status:      status,
		UploadDate:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Run exercises the repository contract against fresh repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("CreateConflicts", func(t *testing.T) { testCreateConflicts(t, newRepo(t)) })
	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) { testConcurrentCreate(t, newRepo(t)) })
	t.Run("ListAndFacets", func(t *testing.T) { testListAndFacets(t, newRepo(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, newRepo(t)) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, newRepo(t)) })
}

func testCreateAndGet(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()

	pkg := NewPackage("react", "a1", knowledge.StatusPending)
	pkg.Config = []byte(`{"depth":2}`)
	pages := 12
	pkg.PageCount = &pages
	require.NoError(t, repo.Create(ctx, pkg))
	assert.NotZero(t, pkg.ID)

	got, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, "react", got.Name)
	assert.Equal(t, []string{"ui", "hooks"}, got.Tags)
	assert.JSONEq(t, `{"depth":2}`, string(got.Config))
	require.NotNil(t, got.PageCount)
	assert.Equal(t, 12, *got.PageCount)
	assert.Equal(t, knowledge.StatusPending, got.Status)
	assert.True(t, pkg.UploadDate.Equal(got.UploadDate))
	assert.Nil(t, got.ReviewedAt)

	byName, err := repo.GetByName(ctx, "react")
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, byName.ID)

	byHash, err := repo.GetByHash(ctx, pkg.FileHash)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, byHash.ID)

	_, err = repo.GetByID(ctx, pkg.ID+1000)
	assert.True(t, errors.Is(err, knowledge.ErrNotFound))
	_, err = repo.GetByName(ctx, "missing")
	assert.True(t, errors.Is(err, knowledge.ErrNotFound))

	// returned rows are copies
	got.Tags[0] = "changed"
	again, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, "ui", again.Tags[0])

	assert.NoError(t, repo.Ping(ctx))
}

func testCreateConflicts(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, NewPackage("react", "a1", knowledge.StatusPending)))

	err := repo.Create(ctx, NewPackage("react", "b2", knowledge.StatusPending))
	var conflict *knowledge.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, "name", conflict.Field)

	err = repo.Create(ctx, NewPackage("vue", "a1", knowledge.StatusPending))
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, "file_hash", conflict.Field)
	assert.True(t, errors.Is(err, knowledge.ErrConflict))

	_, err = repo.GetByName(ctx, "vue")
	assert.True(t, errors.Is(err, knowledge.ErrNotFound))
}

func testConcurrentCreate(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, NewPackage("react", fmt.Sprintf("%x", i+1), knowledge.StatusPending))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, knowledge.ErrConflict), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func testListAndFacets(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()

	for i, name := range []string{"react", "vue", "godot"} {
		pkg := NewPackage(name, fmt.Sprintf("%d", i), knowledge.StatusApproved)
		pkg.UploadDate = pkg.UploadDate.Add(time.Duration(i) * time.Minute)
		if name == "godot" {
			pkg.Category = knowledge.CategoryGameEngine
			pkg.Framework = "Godot"
		}
		require.NoError(t, repo.Create(ctx, pkg))
	}
	require.NoError(t, repo.Create(ctx, NewPackage("pending", "p", knowledge.StatusPending)))

	items, total, err := repo.List(ctx, knowledge.ListFilter{Status: knowledge.StatusApproved, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "godot", items[0].Name)
	assert.Equal(t, "vue", items[1].Name)

	items, total, err = repo.List(ctx, knowledge.ListFilter{Status: knowledge.StatusApproved, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "react", items[0].Name)

	items, total, err = repo.List(ctx, knowledge.ListFilter{Status: knowledge.StatusApproved, Framework: "react"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, _, err = repo.List(ctx, knowledge.ListFilter{Category: knowledge.CategoryGameEngine})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "godot", items[0].Name)

	scanned, err := repo.Scan(ctx, knowledge.ListFilter{})
	require.NoError(t, err)
	require.Len(t, scanned, 4)
	assert.Equal(t, "react", scanned[0].Name)
	assert.Equal(t, "pending", scanned[3].Name)

	categories, err := repo.Facets(ctx, "category")
	require.NoError(t, err)
	assert.Equal(t, []knowledge.FacetCount{
		{Value: knowledge.CategoryWebFramework, Count: 2},
		{Value: knowledge.CategoryGameEngine, Count: 1},
	}, categories)

	frameworks, err := repo.Facets(ctx, "framework")
	require.NoError(t, err)
	assert.Equal(t, []knowledge.FacetCount{
		{Value: "React", Count: 2},
		{Value: "Godot", Count: 1},
	}, frameworks)

	_, err = repo.Facets(ctx, "name")
	assert.Error(t, err)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[knowledge.StatusApproved])
	assert.Equal(t, 1, counts[knowledge.StatusPending])
	assert.Equal(t, 0, counts[knowledge.StatusRejected])
}

func testCounters(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()

	pkg := NewPackage("react", "a1", knowledge.StatusApproved)
	require.NoError(t, repo.Create(ctx, pkg))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := knowledge.RatingDelta{Upvotes: 1}
			if i%4 == 0 {
				delta = knowledge.RatingDelta{Downvotes: 1}
			}
			_, err := repo.UpdateRating(ctx, pkg.ID, delta)
			assert.NoError(t, err)
			_, err = repo.IncrementDownloads(ctx, pkg.ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Upvotes)
	assert.Equal(t, int64(5), got.Downvotes)
	assert.Equal(t, int64(n), got.Downloads)

	_, err = repo.UpdateRating(ctx, pkg.ID, knowledge.RatingDelta{Downvotes: -1})
	assert.True(t, errors.Is(err, knowledge.ErrValidation))

	_, err = repo.IncrementDownloads(ctx, pkg.ID+1000)
	assert.True(t, errors.Is(err, knowledge.ErrNotFound))
}

func testUpdateStatus(t *testing.T, repo knowledge.Repository) {
	ctx := context.Background()

	pkg := NewPackage("react", "a1", knowledge.StatusPending)
	require.NoError(t, repo.Create(ctx, pkg))

	reviewed := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
	got, err := repo.UpdateStatus(ctx, knowledge.StatusUpdate{
		ID: pkg.ID, From: knowledge.StatusPending, To: knowledge.StatusApproved,
		FilePath: "web-framework/react.zip", Note: "lgtm", ReviewedAt: reviewed,
	})
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusApproved, got.Status)
	assert.Equal(t, "web-framework/react.zip", got.FilePath)
	assert.Equal(t, "lgtm", got.ReviewNote)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, reviewed.Equal(*got.ReviewedAt))

	_, err = repo.UpdateStatus(ctx, knowledge.StatusUpdate{
		ID: pkg.ID, From: knowledge.StatusPending, To: knowledge.StatusRejected, ReviewedAt: reviewed,
	})
	assert.True(t, errors.Is(err, knowledge.ErrInvalidTransition), "got %v", err)

	stored, err := repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusApproved, stored.Status)

	_, err = repo.UpdateStatus(ctx, knowledge.StatusUpdate{
		ID: pkg.ID + 1000, From: knowledge.StatusPending, To: knowledge.StatusRejected, ReviewedAt: reviewed,
	})
	assert.True(t, errors.Is(err, knowledge.ErrNotFound))

	require.NoError(t, repo.UpdateFilePath(ctx, pkg.ID, "web-framework/other.zip"))
	stored, err = repo.GetByID(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, "web-framework/other.zip", stored.FilePath)
	assert.True(t, errors.Is(repo.UpdateFilePath(ctx, pkg.ID+1000, "x"), knowledge.ErrNotFound))

	// an empty path keeps the stored one
	other := NewPackage("vue", "b2", knowledge.StatusPending)
	require.NoError(t, repo.Create(ctx, other))
	rejected, err := repo.UpdateStatus(ctx, knowledge.StatusUpdate{
		ID: other.ID, From: knowledge.StatusPending, To: knowledge.StatusRejected, Note: "spam", ReviewedAt: reviewed,
	})
	require.NoError(t, err)
	assert.Equal(t, other.FilePath, rejected.FilePath)
}
