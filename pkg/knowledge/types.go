package knowledge

import (
	"encoding/json"
	"sort"
	"time"
)

// Status is the review state of a package.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is one of the known review states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Category values accepted for packages. Unknown categories are stored as CategoryOther.
const (
	CategoryWebFramework        = "web-framework"
	CategoryGameEngine          = "game-engine"
	CategoryCSSFramework        = "css-framework"
	CategoryCloudPlatform       = "cloud-platform"
	CategoryProgrammingLanguage = "programming-language"
	CategoryDatabase            = "database"
	CategoryLibrary             = "library"
	CategoryAPI                 = "api"
	CategoryOther               = "other"
)

// Categories lists the accepted categories in display order.
var Categories = []string{
	CategoryWebFramework,
	CategoryGameEngine,
	CategoryCSSFramework,
	CategoryCloudPlatform,
	CategoryProgrammingLanguage,
	CategoryDatabase,
	CategoryLibrary,
	CategoryAPI,
	CategoryOther,
}

// VoteDirection is the direction of a single vote.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// Package is the metadata record of a knowledge package.
type Package struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Framework   string   `json:"framework,omitempty"`
	Version     string   `json:"version,omitempty"`
	Tags        []string `json:"tags"`
	SourceURL   string   `json:"source_url,omitempty"`

	UploaderName  string          `json:"uploader_name,omitempty"`
	UploaderEmail string          `json:"uploader_email,omitempty"`
	Config        json.RawMessage `json:"config_used,omitempty"`

	FilePath  string `json:"file_path"`
	FileSize  int64  `json:"file_size"`
	FileHash  string `json:"file_hash"`
	PageCount *int   `json:"page_count,omitempty"`

	Downloads int64 `json:"downloads"`
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`

	Status     Status     `json:"status"`
	ReviewNote string     `json:"review_note,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	UploadDate time.Time  `json:"upload_date"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the package.
func (p *Package) Clone() *Package {
	c := *p
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	if p.Config != nil {
		c.Config = append(json.RawMessage(nil), p.Config...)
	}
	if p.PageCount != nil {
		n := *p.PageCount
		c.PageCount = &n
	}
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// Rating returns the rating snapshot derived from the vote counters.
func (p *Package) Rating() Rating {
	return NewRating(p.Upvotes, p.Downvotes)
}

// Ref returns the content reference of the package archive.
func (p *Package) Ref() ContentRef {
	return ContentRef{Hash: p.FileHash, Path: p.FilePath, Size: p.FileSize}
}

// Rating is the aggregate of votes on a package.
type Rating struct {
	Upvotes     int64    `json:"upvotes"`
	Downvotes   int64    `json:"downvotes"`
	Score       int64    `json:"score"`
	TotalVotes  int64    `json:"total_votes"`
	RatingSum   int64    `json:"rating_sum"`
	RatingCount int64    `json:"rating_count"`
	RatingAvg   *float64 `json:"rating_avg"`
}

// NewRating derives a rating snapshot from raw counters. The average is the
// share of upvotes and is nil until the first vote.
func NewRating(up, down int64) Rating {
	r := Rating{
		Upvotes:     up,
		Downvotes:   down,
		Score:       up - down,
		TotalVotes:  up + down,
		RatingSum:   up,
		RatingCount: up + down,
	}
	if r.RatingCount > 0 {
		avg := float64(r.RatingSum) / float64(r.RatingCount)
		r.RatingAvg = &avg
	}
	return r
}

// RatingDelta is a non-negative increment applied to the vote counters.
type RatingDelta struct {
	Upvotes   int64
	Downvotes int64
}

// ContentRef locates a stored archive.
type ContentRef struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	// Existing is set by Put when the bytes were already stored.
	Existing bool `json:"-"`
}

// ListFilter selects packages. Empty fields match everything.
type ListFilter struct {
	Category  string
	Framework string
	Status    Status
	Limit     int
	Offset    int
}

// StatusUpdate is a conditional review transition.
type StatusUpdate struct {
	ID         int64
	From       Status
	To         Status
	FilePath   string
	Note       string
	ReviewedAt time.Time
}

// FacetCount is the number of approved packages sharing a value.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// SortFacets orders counts by count descending, then value.
func SortFacets(counts map[string]int) []FacetCount {
	facets := make([]FacetCount, 0, len(counts))
	for v, n := range counts {
		facets = append(facets, FacetCount{Value: v, Count: n})
	}
	sort.Slice(facets, func(i, j int) bool {
		if facets[i].Count != facets[j].Count {
			return facets[i].Count > facets[j].Count
		}
		return facets[i].Value < facets[j].Value
	})
	return facets
}

// ReviewStats counts packages per review state.
type ReviewStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	Status    string    `json:"status"`
	Database  bool      `json:"database"`
	Storage   bool      `json:"storage"`
	Timestamp time.Time `json:"timestamp"`
}

// Healthy reports whether every backend responded.
func (h HealthStatus) Healthy() bool {
	return h.Database && h.Storage
}
