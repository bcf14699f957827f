package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	dir := t.TempDir()
	b, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	return b, dir
}

func readAll(t *testing.T, b *Backend, key string) string {
	rc, err := b.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}

func TestBackend_PutGet(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "web-framework/react_20250101_abcdef.zip", strings.NewReader("archive")))
	assert.Equal(t, "archive", readAll(t, b, "web-framework/react_20250101_abcdef.zip"))

	_, err := os.Stat(filepath.Join(dir, "web-framework", "react_20250101_abcdef.zip"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, tmpDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must not be left behind")
}

func TestBackend_GetMissing(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Get(context.Background(), "nope.zip")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestBackend_RejectsEscapingKeys(t *testing.T) {
	b, _ := newTestBackend(t)
	err := b.Put(context.Background(), "../outside.zip", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBackend_PutIfAbsent(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	ok, err := b.PutIfAbsent(ctx, ".index/sha256/abc", []byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.PutIfAbsent(ctx, ".index/sha256/abc", []byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "first", readAll(t, b, ".index/sha256/abc"))
}

func TestBackend_PutIfAbsentConcurrent(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.PutIfAbsent(ctx, "claim", []byte("x"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestBackend_MoveAndDelete(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "staging/api/pkg.zip", strings.NewReader("data")))
	require.NoError(t, b.Move(ctx, "staging/api/pkg.zip", "api/pkg.zip"))

	ok, err := b.Exists(ctx, "staging/api/pkg.zip")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "data", readAll(t, b, "api/pkg.zip"))

	_, err = os.Stat(filepath.Join(dir, "staging"))
	assert.True(t, os.IsNotExist(err), "empty staging directories are removed")

	err = b.Move(ctx, "staging/api/pkg.zip", "api/other.zip")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	require.NoError(t, b.Delete(ctx, "api/pkg.zip"))
	require.NoError(t, b.Delete(ctx, "api/pkg.zip"))
	ok, err = b.Exists(ctx, "api/pkg.zip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_Ping(t *testing.T) {
	b, dir := newTestBackend(t)
	require.NoError(t, b.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(dir))
	assert.ErrorIs(t, b.Ping(context.Background()), knowledge.ErrStorageFailure)
}

func TestBackend_List(t *testing.T) {
	b, dir := newTestBackend(t)
	ctx := context.Background()

	keys, err := b.List(ctx, ".index/sha256/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{".index/sha256/aa", ".index/sha256/bb", "api/x.zip", "staging/api/y.zip"} {
		require.NoError(t, b.Put(ctx, k, strings.NewReader(k)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, tmpDirName, "put-123"), []byte("partial"), 0644))

	keys, err = b.List(ctx, ".index/sha256/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".index/sha256/aa", ".index/sha256/bb"}, keys)

	keys, err = b.List(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".index/sha256/aa", ".index/sha256/bb", "api/x.zip", "staging/api/y.zip"}, keys)
}
