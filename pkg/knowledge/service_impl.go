package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// service implements the Service interface
type service struct {
	repository Repository
	store      *ContentStore
	blobs      BlobStore
	eventSink  EventSink
	policy     SubmissionPolicy
	validator  *Validator
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyedMutex

	// Held shared by uploads between storing an archive and inserting its
	// row, and exclusively while reconcile discards orphaned archives.
	sweepMu sync.RWMutex
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob storage backend holding package archives
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithSubmissionPolicy sets the policy consulted before uploads and votes
func WithSubmissionPolicy(policy SubmissionPolicy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithMaxUploadSize sets the archive size limit in bytes
func WithMaxUploadSize(n int64) Option {
	return func(s *service) {
		s.validator = NewValidator(n)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink: NewNoopEventSink(),
		policy:    OpenPolicy{},
		validator: NewValidator(DefaultMaxUploadSize),
		logger:    slog.Default(),
		now:       time.Now,
		locks:     newKeyedMutex(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}

	s.logger = s.logger.With("component", "knowledge")
	s.store = NewContentStore(s.blobs, s.logger)
	return s, nil
}

// Submissions

func (s *service) Upload(ctx context.Context, req UploadRequest) (*Package, error) {
	if err := s.validator.CheckFileName(req.FileName); err != nil {
		return nil, err
	}
	clean, tags, err := req.normalize()
	if err != nil {
		return nil, err
	}
	if err := s.policy.AllowUpload(ctx, clean); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req.Data); err != nil {
		return nil, err
	}

	if existing, err := s.repository.GetByName(ctx, clean.Name); err == nil {
		return nil, &ConflictError{Field: "name", Value: clean.Name, Existing: existing.Name}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	s.sweepMu.RLock()
	defer s.sweepMu.RUnlock()

	now := s.now().UTC()
	ref, err := s.store.Put(ctx, PutRequest{
		Data:       req.Data,
		Category:   clean.Category,
		Name:       clean.Name,
		UploadDate: now,
	})
	if err != nil {
		s.logger.Error("Failed to store archive", "name", clean.Name, "error", err)
		return nil, err
	}
	if ref.Existing {
		conflict := &ConflictError{Field: "file_hash", Value: ref.Hash}
		if existing, err := s.repository.GetByHash(ctx, ref.Hash); err == nil {
			conflict.Existing = existing.Name
		}
		return nil, conflict
	}

	pkg := &Package{
		Name:          clean.Name,
		Title:         clean.Title,
		Description:   clean.Description,
		Category:      clean.Category,
		Framework:     clean.Framework,
		Version:       clean.Version,
		Tags:          tags,
		SourceURL:     clean.SourceURL,
		UploaderName:  clean.UploaderName,
		UploaderEmail: clean.UploaderEmail,
		FilePath:      ref.Path,
		FileSize:      ref.Size,
		FileHash:      ref.Hash,
		PageCount:     clean.PageCount,
		Status:        StatusPending,
		UploadDate:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if clean.ConfigJSON != "" {
		pkg.Config = json.RawMessage(clean.ConfigJSON)
	}

	if err := s.repository.Create(ctx, pkg); err != nil {
		s.discardUnowned(ctx, ref)
		return nil, err
	}

	s.logger.Info("Package uploaded", "package_id", pkg.ID, "name", pkg.Name, "hash", pkg.FileHash, "size", pkg.FileSize)
	if err := s.eventSink.PackageUploaded(ctx, pkg); err != nil {
		s.logger.Warn("Event sink failed", "event", "uploaded", "package_id", pkg.ID, "error", err)
	}
	return pkg, nil
}

// discardUnowned removes an archive whose insert was rejected, unless a
// committed package already points at the same object.
func (s *service) discardUnowned(ctx context.Context, ref ContentRef) {
	if owner, err := s.repository.GetByHash(ctx, ref.Hash); err == nil && owner.FilePath == ref.Path {
		s.logger.Debug("Keeping archive owned by another package", "key", ref.Path, "package_id", owner.ID)
		return
	}
	if err := s.store.Remove(ctx, ref); err != nil {
		s.logger.Error("Failed to remove archive after rejected insert; run reconcile", "key", ref.Path, "error", err)
	}
}

// Metadata

func (s *service) Get(ctx context.Context, id int64) (*Package, error) {
	pkg, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, &PackageError{ID: id, Op: "get", Err: err}
	}
	return pkg, nil
}

func (s *service) GetByName(ctx context.Context, name string) (*Package, error) {
	return s.repository.GetByName(ctx, name)
}

func (s *service) Resolve(ctx context.Context, ref string) (*Package, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, newValidationError(ReasonMissingField, "id", "package reference is required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		pkg, err := s.repository.GetByID(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return pkg, err
		}
	}
	return s.repository.GetByName(ctx, ref)
}

func (s *service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	status, err := resolveStatus(req.Status)
	if err != nil {
		return nil, err
	}
	limit, offset := clampPage(req.Limit, req.Offset)
	items, total, err := s.repository.List(ctx, ListFilter{
		Category:  strings.TrimSpace(req.Category),
		Framework: strings.TrimSpace(req.Framework),
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: items, Count: len(items), Total: total, Limit: limit, Offset: offset}, nil
}

func (s *service) Categories(ctx context.Context) ([]FacetCount, error) {
	return s.repository.Facets(ctx, "category")
}

func (s *service) Frameworks(ctx context.Context) ([]FacetCount, error) {
	return s.repository.Facets(ctx, "framework")
}

// Content

// visible loads a package and hides it unless approved or overridden.
func (s *service) visible(ctx context.Context, id int64, includeUnapproved bool) (*Package, error) {
	pkg, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg.Status != StatusApproved && !includeUnapproved {
		return nil, &PackageError{ID: id, Op: "download", Err: ErrNotFound}
	}
	return pkg, nil
}

func (s *service) Download(ctx context.Context, req DownloadRequest) (*Package, io.ReadCloser, error) {
	pkg, err := s.visible(ctx, req.ID, req.IncludeUnapproved)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.store.Get(ctx, pkg.Ref())
	if err != nil {
		s.logger.Error("Failed to open archive", "package_id", pkg.ID, "key", pkg.FilePath, "error", err)
		return nil, nil, err
	}

	updated, err := s.repository.IncrementDownloads(ctx, pkg.ID)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}

	if err := s.eventSink.PackageDownloaded(ctx, updated); err != nil {
		s.logger.Warn("Event sink failed", "event", "downloaded", "package_id", pkg.ID, "error", err)
	}
	return updated, rc, nil
}

// readArchive loads the whole archive of pkg into memory.
func (s *service) readArchive(ctx context.Context, pkg *Package) ([]byte, error) {
	rc, err := s.store.Get(ctx, pkg.Ref())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{Backend: "blob", Key: pkg.FilePath, Op: "read", Err: err}
	}
	return data, nil
}

func (s *service) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	pkg, err := s.visible(ctx, req.ID, req.IncludeUnapproved)
	if err != nil {
		return nil, err
	}
	data, err := s.readArchive(ctx, pkg)
	if err != nil {
		return nil, err
	}
	m, err := readManifest(data)
	if err != nil {
		return nil, err
	}
	return buildPreview(pkg, m, req.Lines, req.Full), nil
}

// Discovery

func (s *service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, newValidationError(ReasonMissingField, "q", "search query is required")
	}
	sortBy := strings.ToLower(strings.TrimSpace(req.Sort))
	if sortBy == "" {
		sortBy = SortRelevance
	}
	if !ValidSort(sortBy) {
		return nil, newValidationError(ReasonInvalidField, "sort", "unknown sort %q", req.Sort)
	}
	status, err := resolveStatus(req.Status)
	if err != nil {
		return nil, err
	}
	limit, offset := clampPage(req.Limit, req.Offset)

	candidates, err := s.repository.Scan(ctx, ListFilter{
		Category:  strings.TrimSpace(req.Category),
		Framework: strings.TrimSpace(req.Framework),
		Status:    status,
	})
	if err != nil {
		return nil, err
	}

	hits := Rank(candidates, query, sortBy)
	total := len(hits)
	page := []*SearchHit{}
	if offset < total {
		end := min(offset+limit, total)
		page = hits[offset:end]
	}
	return &SearchResult{
		Query:   query,
		Items:   page,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(page) < total,
	}, nil
}

func (s *service) Related(ctx context.Context, id int64, limit int) ([]*RelatedItem, error) {
	source, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRelated
	}
	if limit > MaxRelated {
		limit = MaxRelated
	}
	candidates, err := s.repository.Scan(ctx, ListFilter{Status: StatusApproved})
	if err != nil {
		return nil, err
	}
	return RelatedTo(source, candidates, limit), nil
}

func (s *service) SuggestTags(ctx context.Context, id int64) ([]string, error) {
	pkg, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	text := pkg.Title + "\n" + pkg.Description
	if data, err := s.readArchive(ctx, pkg); err == nil {
		if m, err := readManifest(data); err == nil {
			text += "\n" + m.text
		}
	} else {
		s.logger.Warn("Suggesting tags without manifest", "package_id", id, "error", err)
	}
	return SuggestTags(text, pkg.Tags), nil
}

// Ratings

func (s *service) Vote(ctx context.Context, id int64, dir VoteDirection) (*Rating, error) {
	var delta RatingDelta
	switch dir {
	case VoteUp:
		delta.Upvotes = 1
	case VoteDown:
		delta.Downvotes = 1
	default:
		return nil, newValidationError(ReasonInvalidField, "direction", "vote direction must be up or down")
	}
	if err := s.policy.AllowVote(ctx, id, dir); err != nil {
		return nil, err
	}

	pkg, err := s.repository.UpdateRating(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	if err := s.eventSink.VoteRecorded(ctx, pkg, dir); err != nil {
		s.logger.Warn("Event sink failed", "event", "vote", "package_id", id, "error", err)
	}
	rating := pkg.Rating()
	return &rating, nil
}

func (s *service) TopRated(ctx context.Context, limit int) ([]*Package, error) {
	if limit <= 0 {
		limit = DefaultTopN
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	pkgs, err := s.repository.Scan(ctx, ListFilter{Status: StatusApproved})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := pkgs[i].Rating(), pkgs[j].Rating()
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalVotes != b.TotalVotes {
			return a.TotalVotes > b.TotalVotes
		}
		return pkgs[i].ID < pkgs[j].ID
	})
	if len(pkgs) > limit {
		pkgs = pkgs[:limit]
	}
	return pkgs, nil
}

func (s *service) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	h := HealthStatus{Timestamp: s.now().UTC()}
	if err := s.repository.Ping(ctx); err != nil {
		s.logger.Warn("Database health check failed", "error", err)
	} else {
		h.Database = true
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Storage health check failed", "error", err)
	} else {
		h.Storage = true
	}
	h.Status = "healthy"
	if !h.Healthy() {
		h.Status = "degraded"
	}
	return h
}
