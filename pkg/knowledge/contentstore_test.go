package knowledge_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	memorystorage "github.com/tendant/simple-knowledge/pkg/knowledge/storage/memory"
)

var uploadDay = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func TestPaths(t *testing.T) {
	hash := "abcdef0123456789"
	assert.Equal(t, "react_20250115_abcdef.zip", knowledge.ObjectName("react", uploadDay, hash))
	assert.Equal(t, "web-framework/react_20250115_abcdef.zip", knowledge.CanonicalPath("web-framework", "react", uploadDay, hash))

	staged := knowledge.StagingPath("web-framework", "react", uploadDay, hash)
	assert.Equal(t, "staging/web-framework/react_20250115_abcdef.zip", staged)
	assert.True(t, knowledge.IsStaged(staged))
	assert.False(t, knowledge.IsStaged("web-framework/react_20250115_abcdef.zip"))

	local := time.Date(2025, 1, 16, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, "x_20250115_abcdef.zip", knowledge.ObjectName("x", local, hash))
}

func readAll(t *testing.T, store *knowledge.ContentStore, ref knowledge.ContentRef) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestContentStore_PutDedup(t *testing.T) {
	ctx := context.Background()
	blobs := memorystorage.New()
	store := knowledge.NewContentStore(blobs, nil)
	data := []byte("archive bytes")

	ref, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "first", UploadDate: uploadDay})
	require.NoError(t, err)
	assert.False(t, ref.Existing)
	assert.Equal(t, knowledge.HashBytes(data), ref.Hash)
	assert.Equal(t, int64(len(data)), ref.Size)
	assert.Equal(t, knowledge.StagingPath("api", "first", uploadDay, ref.Hash), ref.Path)
	assert.Equal(t, data, readAll(t, store, ref))

	again, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "library", Name: "second", UploadDate: uploadDay})
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, ref.Path, again.Path)

	second := knowledge.StagingPath("library", "second", uploadDay, ref.Hash)
	ok, err := blobs.Exists(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate bytes must not be written twice")
}

func TestContentStore_ConcurrentPutSingleObject(t *testing.T) {
	ctx := context.Background()
	blobs := memorystorage.New()
	store := knowledge.NewContentStore(blobs, nil)
	data := []byte("same bytes from many uploaders")

	const n = 8
	refs := make([]knowledge.ContentRef, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := store.Put(ctx, knowledge.PutRequest{
				Data:       data,
				Category:   "api",
				Name:       "pkg" + string(rune('a'+i)),
				UploadDate: uploadDay,
			})
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	fresh := 0
	paths := map[string]bool{}
	for _, ref := range refs {
		if !ref.Existing {
			fresh++
		}
		paths[ref.Path] = true
	}
	assert.Equal(t, 1, fresh)
	assert.Len(t, paths, 1)
}

func TestContentStore_MoveAndUnstage(t *testing.T) {
	ctx := context.Background()
	blobs := memorystorage.New()
	store := knowledge.NewContentStore(blobs, nil)
	data := []byte("movable")

	ref, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "mv", UploadDate: uploadDay})
	require.NoError(t, err)

	moved, err := store.Move(ctx, ref, "api")
	require.NoError(t, err)
	assert.Equal(t, knowledge.CanonicalPath("api", "mv", uploadDay, ref.Hash), moved.Path)
	assert.Equal(t, data, readAll(t, store, moved))

	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	// The hash index follows the object.
	dup, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "other", UploadDate: uploadDay})
	require.NoError(t, err)
	assert.True(t, dup.Existing)
	assert.Equal(t, moved.Path, dup.Path)

	back, err := store.Unstage(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, ref.Path, back.Path)
	assert.Equal(t, data, readAll(t, store, back))
}

func TestContentStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewContentStore(memorystorage.New(), nil)
	data := []byte("short lived")

	ref, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "tmp", UploadDate: uploadDay})
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, ref))

	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	// With the index entry gone the same bytes are accepted again.
	again, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "tmp2", UploadDate: uploadDay})
	require.NoError(t, err)
	assert.False(t, again.Existing)
}

func TestContentStore_StaleIndex(t *testing.T) {
	ctx := context.Background()
	blobs := memorystorage.New()
	store := knowledge.NewContentStore(blobs, nil)
	data := []byte("orphaned index")

	ref, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "gone", UploadDate: uploadDay})
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(ctx, ref.Path))

	fresh, err := store.Put(ctx, knowledge.PutRequest{Data: data, Category: "api", Name: "fresh", UploadDate: uploadDay})
	require.NoError(t, err)
	assert.False(t, fresh.Existing)
	assert.Equal(t, data, readAll(t, store, fresh))
}

func TestContentStore_IdenticalPutSameKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gate := newIndexGate()
	store := knowledge.NewContentStore(gate, nil)
	data := []byte("two uploaders, one key")
	req := knowledge.PutRequest{Data: data, Category: "api", Name: "twin", UploadDate: uploadDay}

	refs := make([]knowledge.ContentRef, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := store.Put(ctx, req)
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	assert.NotEqual(t, refs[0].Existing, refs[1].Existing, "exactly one put must own the object")
	assert.Equal(t, refs[0].Path, refs[1].Path)
	assert.Equal(t, data, readAll(t, store, refs[0]))
}

func TestContentStore_HashesAndDiscard(t *testing.T) {
	ctx := context.Background()
	blobs := memorystorage.New()
	store := knowledge.NewContentStore(blobs, nil)

	first, err := store.Put(ctx, knowledge.PutRequest{Data: []byte("one"), Category: "api", Name: "one", UploadDate: uploadDay})
	require.NoError(t, err)
	second, err := store.Put(ctx, knowledge.PutRequest{Data: []byte("two"), Category: "api", Name: "two", UploadDate: uploadDay})
	require.NoError(t, err)

	hashes, err := store.Hashes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.Hash, second.Hash}, hashes)

	require.NoError(t, store.Discard(ctx, first.Hash))
	ok, err := store.Exists(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok)

	hashes, err = store.Hashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second.Hash}, hashes)
	assert.Equal(t, 2, blobs.Len())
}
