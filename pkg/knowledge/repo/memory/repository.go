package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// Repository implements knowledge.Repository using in-memory storage.
// A single mutex guards every map, which serialises row updates and makes
// the uniqueness check part of the insert.
type Repository struct {
	mu       sync.RWMutex
	nextID   int64
	packages map[int64]*knowledge.Package
	byName   map[string]int64
	byHash   map[string]int64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		nextID:   1,
		packages: make(map[int64]*knowledge.Package),
		byName:   make(map[string]int64),
		byHash:   make(map[string]int64),
	}
}

func (r *Repository) Create(ctx context.Context, pkg *knowledge.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.byName[pkg.Name]; exists {
		return &knowledge.ConflictError{Field: "name", Value: pkg.Name, Existing: r.packages[id].Name}
	}
	if id, exists := r.byHash[pkg.FileHash]; exists {
		return &knowledge.ConflictError{Field: "file_hash", Value: pkg.FileHash, Existing: r.packages[id].Name}
	}

	pkg.ID = r.nextID
	r.nextID++
	r.packages[pkg.ID] = pkg.Clone()
	r.byName[pkg.Name] = pkg.ID
	r.byHash[pkg.FileHash] = pkg.ID
	return nil
}

func notFound(what string, v any) error {
	return fmt.Errorf("package %s %v: %w", what, v, knowledge.ErrNotFound)
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*knowledge.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, exists := r.packages[id]
	if !exists {
		return nil, notFound("id", id)
	}
	return pkg.Clone(), nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (*knowledge.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byName[name]
	if !exists {
		return nil, notFound("name", name)
	}
	return r.packages[id].Clone(), nil
}

func (r *Repository) GetByHash(ctx context.Context, hash string) (*knowledge.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byHash[hash]
	if !exists {
		return nil, notFound("hash", hash)
	}
	return r.packages[id].Clone(), nil
}

func matches(pkg *knowledge.Package, f knowledge.ListFilter) bool {
	if f.Status != "" && pkg.Status != f.Status {
		return false
	}
	if f.Category != "" && pkg.Category != f.Category {
		return false
	}
	if f.Framework != "" && !strings.EqualFold(pkg.Framework, f.Framework) {
		return false
	}
	return true
}

// filtered returns copies of matching packages ordered by id
func (r *Repository) filtered(f knowledge.ListFilter) []*knowledge.Package {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*knowledge.Package
	for _, pkg := range r.packages {
		if matches(pkg, f) {
			result = append(result, pkg.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *Repository) List(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, int, error) {
	all := r.filtered(f)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].UploadDate.Equal(all[j].UploadDate) {
			return all[i].UploadDate.After(all[j].UploadDate)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return all[start:end], total, nil
}

func (r *Repository) Scan(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, error) {
	return r.filtered(f), nil
}

// update applies fn to the stored row under the write lock
func (r *Repository) update(id int64, fn func(*knowledge.Package) error) (*knowledge.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg, exists := r.packages[id]
	if !exists {
		return nil, notFound("id", id)
	}
	next := pkg.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.packages[id] = next
	return next.Clone(), nil
}

func (r *Repository) UpdateRating(ctx context.Context, id int64, delta knowledge.RatingDelta) (*knowledge.Package, error) {
	if delta.Upvotes < 0 || delta.Downvotes < 0 {
		return nil, &knowledge.ValidationError{Reason: knowledge.ReasonInvalidField, Field: "delta", Message: "rating counters only increase"}
	}
	return r.update(id, func(p *knowledge.Package) error {
		p.Upvotes += delta.Upvotes
		p.Downvotes += delta.Downvotes
		return nil
	})
}

func (r *Repository) IncrementDownloads(ctx context.Context, id int64) (*knowledge.Package, error) {
	return r.update(id, func(p *knowledge.Package) error {
		p.Downloads++
		return nil
	})
}

func (r *Repository) UpdateStatus(ctx context.Context, u knowledge.StatusUpdate) (*knowledge.Package, error) {
	return r.update(u.ID, func(p *knowledge.Package) error {
		if p.Status != u.From {
			return fmt.Errorf("package %d is %s: %w", u.ID, p.Status, knowledge.ErrInvalidTransition)
		}
		reviewed := u.ReviewedAt
		p.Status = u.To
		p.ReviewNote = u.Note
		p.ReviewedAt = &reviewed
		p.UpdatedAt = reviewed
		if u.FilePath != "" {
			p.FilePath = u.FilePath
		}
		return nil
	})
}

func (r *Repository) UpdateFilePath(ctx context.Context, id int64, path string) error {
	_, err := r.update(id, func(p *knowledge.Package) error {
		p.FilePath = path
		return nil
	})
	return err
}

func (r *Repository) CountByStatus(ctx context.Context) (map[knowledge.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[knowledge.Status]int)
	for _, pkg := range r.packages {
		counts[pkg.Status]++
	}
	return counts, nil
}

func (r *Repository) Facets(ctx context.Context, field string) ([]knowledge.FacetCount, error) {
	var value func(*knowledge.Package) string
	switch field {
	case "category":
		value = func(p *knowledge.Package) string { return p.Category }
	case "framework":
		value = func(p *knowledge.Package) string { return p.Framework }
	default:
		return nil, fmt.Errorf("unsupported facet %q", field)
	}

	counts := make(map[string]int)
	for _, pkg := range r.filtered(knowledge.ListFilter{Status: knowledge.StatusApproved}) {
		if v := value(pkg); v != "" {
			counts[v]++
		}
	}
	return knowledge.SortFacets(counts), nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return nil
}
