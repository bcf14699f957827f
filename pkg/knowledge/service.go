package knowledge

import (
	"context"
	"io"
)

// Service is the main interface of the knowledge repository.
type Service interface {
	// Submissions
	Upload(ctx context.Context, req UploadRequest) (*Package, error)

	// Metadata
	Get(ctx context.Context, id int64) (*Package, error)
	GetByName(ctx context.Context, name string) (*Package, error)
	// Resolve accepts a numeric id or a package name
	Resolve(ctx context.Context, ref string) (*Package, error)
	List(ctx context.Context, req ListRequest) (*ListResult, error)
	Categories(ctx context.Context) ([]FacetCount, error)
	Frameworks(ctx context.Context) ([]FacetCount, error)

	// Content
	Download(ctx context.Context, req DownloadRequest) (*Package, io.ReadCloser, error)
	Preview(ctx context.Context, req PreviewRequest) (*Preview, error)

	// Discovery
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Related(ctx context.Context, id int64, limit int) ([]*RelatedItem, error)
	SuggestTags(ctx context.Context, id int64) ([]string, error)

	// Ratings
	Vote(ctx context.Context, id int64, dir VoteDirection) (*Rating, error)
	TopRated(ctx context.Context, limit int) ([]*Package, error)

	// Review workflow
	Approve(ctx context.Context, req ReviewRequest) (*Package, error)
	Reject(ctx context.Context, req ReviewRequest) (*Package, error)
	PendingReviews(ctx context.Context) ([]*Package, error)
	ReviewStats(ctx context.Context) (*ReviewStats, error)
	Reconcile(ctx context.Context) (*ReconcileReport, error)

	Health(ctx context.Context) HealthStatus
}
