package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

var _ knowledge.BlobStore = (*Backend)(nil)

func TestBackend_RoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "a/b.zip", strings.NewReader("hello")))
	rc, err := b.Get(ctx, "a/b.zip")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestBackend_PutIfAbsentAndMove(t *testing.T) {
	b := New()
	ctx := context.Background()

	ok, err := b.PutIfAbsent(ctx, "k", []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.PutIfAbsent(ctx, "k", []byte("2"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Move(ctx, "k", "j"))
	exists, _ := b.Exists(ctx, "k")
	assert.False(t, exists)
	exists, _ = b.Exists(ctx, "j")
	assert.True(t, exists)

	assert.ErrorIs(t, b.Move(ctx, "k", "x"), knowledge.ErrNotFound)
	require.NoError(t, b.Delete(ctx, "j"))
	assert.Equal(t, 0, b.Len())
}

func TestBackend_List(t *testing.T) {
	b := New()
	ctx := context.Background()
	for _, k := range []string{".index/sha256/aa", ".index/sha256/bb", "api/x.zip"} {
		require.NoError(t, b.Put(ctx, k, strings.NewReader(k)))
	}

	keys, err := b.List(ctx, ".index/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".index/sha256/aa", ".index/sha256/bb"}, keys)

	keys, err = b.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
