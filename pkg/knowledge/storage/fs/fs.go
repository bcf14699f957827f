package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

const tmpDirName = ".tmp"

// Backend is a filesystem implementation of the knowledge.BlobStore interface.
// Writes go to a temp file inside the base directory, are fsynced and then
// renamed into place, so readers only ever see complete files.
type Backend struct {
	baseDir string
	tmpDir  string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	base, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	tmp := filepath.Join(base, tmpDirName)
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: base, tmpDir: tmp}, nil
}

// path maps a key to a file inside the base directory
func (b *Backend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.baseDir, clean), nil
}

func (b *Backend) storageErr(op, key string, err error) error {
	return &knowledge.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}

// writeTemp copies r into a synced temp file and returns its path
func (b *Backend) writeTemp(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(b.tmpDir, "put-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Put writes the object with temp-then-rename semantics
func (b *Backend) Put(ctx context.Context, key string, r io.Reader) error {
	dst, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return b.storageErr("put", key, err)
	}
	tmp, err := b.writeTemp(r)
	if err != nil {
		return b.storageErr("put", key, err)
	}
	if err := renameInto(tmp, dst); err != nil {
		os.Remove(tmp)
		return b.storageErr("put", key, err)
	}
	return nil
}

// renameInto renames src to dst, recreating dst's directory once if a
// concurrent cleanup removed it.
func renameInto(src, dst string) error {
	err := os.Rename(src, dst)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(dst), 0755); mkErr != nil {
			return mkErr
		}
		err = os.Rename(src, dst)
	}
	return err
}

// PutIfAbsent links a complete temp file into place; the link fails if the
// key already exists.
func (b *Backend) PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	dst, err := b.path(key)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, b.storageErr("put_if_absent", key, err)
	}
	tmp, err := b.writeTemp(strings.NewReader(string(data)))
	if err != nil {
		return false, b.storageErr("put_if_absent", key, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, b.storageErr("put_if_absent", key, err)
	}
	return true, nil
}

// Get opens the object for reading
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, knowledge.ErrNotFound)
	} else if err != nil {
		return nil, b.storageErr("get", key, err)
	}
	return file, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, b.storageErr("stat", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Move renames the file, which is atomic within one filesystem
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	from, err := b.path(src)
	if err != nil {
		return err
	}
	to, err := b.path(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("object %s: %w", src, knowledge.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return b.storageErr("move", dst, err)
	}
	if err := renameInto(from, to); err != nil {
		return b.storageErr("move", src, err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(from))
	return nil
}

// Delete removes the file; a missing file is not an error
func (b *Backend) Delete(ctx context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return b.storageErr("delete", key, err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(p))
	return nil
}

// List walks the directory holding prefix and returns matching keys. Temp
// files are never listed.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	root := b.baseDir
	if dir := path.Dir(prefix); dir != "." && dir != "/" {
		p, err := b.path(dir)
		if err != nil {
			return nil, err
		}
		root = p
	}

	var keys []string
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p == b.tmpDir {
				return filepath.SkipDir
			}
			return ctx.Err()
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, b.storageErr("list", prefix, err)
	}
	return keys, nil
}

// Ping checks that the base directory is still present
func (b *Backend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.baseDir)
	if err != nil {
		return b.storageErr("ping", "", err)
	}
	if !info.IsDir() {
		return b.storageErr("ping", "", fmt.Errorf("%s is not a directory", b.baseDir))
	}
	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || dir == b.tmpDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
