package knowledge

import (
	"context"
	"io"
)

// BlobStore defines the interface for storage backends. Keys are slash
// separated relative paths.
type BlobStore interface {
	// Put writes the object atomically; readers never see a partial object
	Put(ctx context.Context, key string, r io.Reader) error

	// PutIfAbsent writes data only when key does not exist yet and reports whether it did
	PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error)

	// Get opens the object for reading; ErrNotFound when missing
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Move relocates an object; readers see it at src or dst, never half moved
	Move(ctx context.Context, src, dst string) error

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error

	// List returns every key that starts with prefix, in no particular order
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
}

// Repository defines the interface for package metadata persistence.
//
// Create must enforce name and file_hash uniqueness atomically with the
// insert. UpdateRating, IncrementDownloads and UpdateStatus must each be a
// single atomic row update.
type Repository interface {
	Create(ctx context.Context, pkg *Package) error
	GetByID(ctx context.Context, id int64) (*Package, error)
	GetByName(ctx context.Context, name string) (*Package, error)
	GetByHash(ctx context.Context, hash string) (*Package, error)

	// List returns one page ordered by upload date (newest first) and the total match count
	List(ctx context.Context, filter ListFilter) ([]*Package, int, error)

	// Scan returns every package matching the filter ordered by id, ignoring pagination
	Scan(ctx context.Context, filter ListFilter) ([]*Package, error)

	UpdateRating(ctx context.Context, id int64, delta RatingDelta) (*Package, error)
	IncrementDownloads(ctx context.Context, id int64) (*Package, error)

	// UpdateStatus applies the transition only if the row is still in update.From;
	// otherwise it returns ErrInvalidTransition
	UpdateStatus(ctx context.Context, update StatusUpdate) (*Package, error)

	// UpdateFilePath repairs the stored location during reconciliation
	UpdateFilePath(ctx context.Context, id int64, path string) error

	CountByStatus(ctx context.Context) (map[Status]int, error)

	// Facets counts approved packages grouped by "category" or "framework"
	Facets(ctx context.Context, field string) ([]FacetCount, error)

	Ping(ctx context.Context) error
}

// EventSink receives notifications after successful operations.
type EventSink interface {
	PackageUploaded(ctx context.Context, pkg *Package) error
	PackageApproved(ctx context.Context, pkg *Package) error
	PackageRejected(ctx context.Context, pkg *Package) error
	PackageDownloaded(ctx context.Context, pkg *Package) error
	VoteRecorded(ctx context.Context, pkg *Package, dir VoteDirection) error
}

// SubmissionPolicy decides whether anonymous uploads and votes are accepted.
// Returning an error rejects the request before any state changes.
type SubmissionPolicy interface {
	AllowUpload(ctx context.Context, req UploadRequest) error
	AllowVote(ctx context.Context, id int64, dir VoteDirection) error
}
