package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	stagingPrefix = "staging/"
	indexPrefix   = ".index/sha256/"
	hashPrefixLen = 6
)

// ObjectName returns {name}_{YYYYMMDD}_{hash6}.zip.
func ObjectName(name string, uploadDate time.Time, hash string) string {
	short := hash
	if len(short) > hashPrefixLen {
		short = short[:hashPrefixLen]
	}
	return fmt.Sprintf("%s_%s_%s%s", name, uploadDate.UTC().Format("20060102"), short, archiveExtension)
}

// CanonicalPath is the location of an approved package archive.
func CanonicalPath(category, name string, uploadDate time.Time, hash string) string {
	return path.Join(category, ObjectName(name, uploadDate, hash))
}

// StagingPath is the location of an archive awaiting review.
func StagingPath(category, name string, uploadDate time.Time, hash string) string {
	return stagingPrefix + CanonicalPath(category, name, uploadDate, hash)
}

// IsStaged reports whether a path points into the staging area.
func IsStaged(p string) bool {
	return strings.HasPrefix(p, stagingPrefix)
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutRequest describes an archive to store in the staging area.
type PutRequest struct {
	Data       []byte
	Category   string
	Name       string
	UploadDate time.Time
}

// ContentStore is content-addressed storage over a BlobStore. It knows
// nothing about package metadata beyond what is needed to build a key.
type ContentStore struct {
	blobs  BlobStore
	logger *slog.Logger
}

// NewContentStore wraps a blob store.
func NewContentStore(blobs BlobStore, logger *slog.Logger) *ContentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentStore{blobs: blobs, logger: logger.With("component", "content_store")}
}

func indexKey(hash string) string {
	return indexPrefix + hash
}

// readIndex returns the key recorded for hash, or "" when there is no entry.
func (c *ContentStore) readIndex(ctx context.Context, hash string) (string, error) {
	rc, err := c.blobs.Get(ctx, indexKey(hash))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", &StorageError{Backend: "index", Key: indexKey(hash), Op: "read", Err: err}
	}
	return strings.TrimSpace(string(raw)), nil
}

// lookup returns the key currently indexed for hash when the object exists.
func (c *ContentStore) lookup(ctx context.Context, hash string) (string, bool, error) {
	key, err := c.readIndex(ctx, hash)
	if err != nil || key == "" {
		return "", false, err
	}
	ok, err := c.blobs.Exists(ctx, key)
	if err != nil {
		return "", false, err
	}
	return key, ok, nil
}

// Put stores the archive under the staging area. When an object with the
// same hash is already stored its reference is returned with Existing set
// and nothing is written.
func (c *ContentStore) Put(ctx context.Context, req PutRequest) (ContentRef, error) {
	hash := HashBytes(req.Data)
	size := int64(len(req.Data))

	if key, ok, err := c.lookup(ctx, hash); err != nil {
		return ContentRef{}, err
	} else if ok {
		return ContentRef{Hash: hash, Path: key, Size: size, Existing: true}, nil
	}

	key := StagingPath(req.Category, req.Name, req.UploadDate, hash)
	if err := c.blobs.Put(ctx, key, bytes.NewReader(req.Data)); err != nil {
		return ContentRef{}, err
	}

	claimed, err := c.blobs.PutIfAbsent(ctx, indexKey(hash), []byte(key))
	if err != nil {
		_ = c.blobs.Delete(ctx, key)
		return ContentRef{}, err
	}
	if !claimed {
		existing, ok, err := c.lookup(ctx, hash)
		if err != nil {
			// The key may be shared with the upload that holds the index.
			c.logger.Warn("Hash lookup failed after lost claim; leaving object", "key", key, "hash", hash, "error", err)
			return ContentRef{}, err
		}
		if ok {
			// Lost a race with an identical upload. When both computed the
			// same key the object is the winner's and must stay.
			if existing != key {
				_ = c.blobs.Delete(ctx, key)
			}
			return ContentRef{Hash: hash, Path: existing, Size: size, Existing: true}, nil
		}
		// Stale index entry pointing at a missing object.
		if err := c.blobs.Put(ctx, indexKey(hash), strings.NewReader(key)); err != nil {
			_ = c.blobs.Delete(ctx, key)
			return ContentRef{}, err
		}
	}

	c.logger.Debug("Object stored", "key", key, "hash", hash, "size", size)
	return ContentRef{Hash: hash, Path: key, Size: size}, nil
}

// Get opens the archive. It never changes any counters.
func (c *ContentStore) Get(ctx context.Context, ref ContentRef) (io.ReadCloser, error) {
	return c.blobs.Get(ctx, ref.Path)
}

// Exists reports whether the object behind ref is present.
func (c *ContentStore) Exists(ctx context.Context, ref ContentRef) (bool, error) {
	return c.blobs.Exists(ctx, ref.Path)
}

// Move relocates the archive into category, outside the staging area, and
// returns the new reference.
func (c *ContentStore) Move(ctx context.Context, ref ContentRef, category string) (ContentRef, error) {
	return c.moveTo(ctx, ref, path.Join(category, path.Base(ref.Path)))
}

// Unstage moves an archive back into the staging area.
func (c *ContentStore) Unstage(ctx context.Context, ref ContentRef) (ContentRef, error) {
	return c.moveTo(ctx, ref, stagingPrefix+strings.TrimPrefix(ref.Path, stagingPrefix))
}

func (c *ContentStore) moveTo(ctx context.Context, ref ContentRef, dst string) (ContentRef, error) {
	if dst == ref.Path {
		return ref, nil
	}
	if err := c.blobs.Move(ctx, ref.Path, dst); err != nil {
		return ContentRef{}, err
	}
	moved := ContentRef{Hash: ref.Hash, Path: dst, Size: ref.Size}
	if ref.Hash != "" {
		if err := c.blobs.Put(ctx, indexKey(ref.Hash), strings.NewReader(dst)); err != nil {
			// The object itself is consistent; a stale index only costs a rewrite on the next Put.
			c.logger.Warn("Failed to update hash index", "hash", ref.Hash, "key", dst, "error", err)
		}
	}
	return moved, nil
}

// Remove deletes the object and its index entry when the entry still points at it.
func (c *ContentStore) Remove(ctx context.Context, ref ContentRef) error {
	if err := c.blobs.Delete(ctx, ref.Path); err != nil {
		return err
	}
	if ref.Hash == "" {
		return nil
	}
	key, err := c.readIndex(ctx, ref.Hash)
	if err != nil {
		return err
	}
	if key == ref.Path {
		return c.blobs.Delete(ctx, indexKey(ref.Hash))
	}
	return nil
}

// Hashes lists every hash that has an index entry.
func (c *ContentStore) Hashes(ctx context.Context) ([]string, error) {
	keys, err := c.blobs.List(ctx, indexPrefix)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		if hash := strings.TrimPrefix(k, indexPrefix); hash != "" && !strings.Contains(hash, "/") {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Discard removes the object indexed for hash together with the entry.
func (c *ContentStore) Discard(ctx context.Context, hash string) error {
	key, err := c.readIndex(ctx, hash)
	if err != nil {
		return err
	}
	if key != "" {
		if err := c.blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	return c.blobs.Delete(ctx, indexKey(hash))
}

// Ping checks the underlying blob store.
func (c *ContentStore) Ping(ctx context.Context) error {
	return c.blobs.Ping(ctx)
}
