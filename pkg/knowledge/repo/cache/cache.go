// Package cache wraps a knowledge.Repository with a per-instance LRU for the
// read paths hit by search and detail pages.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_repository_cache_hits_total",
		Help: "Repository cache hits by lookup kind.",
	}, []string{"kind"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_repository_cache_misses_total",
		Help: "Repository cache misses by lookup kind.",
	}, []string{"kind"})
)

const (
	DefaultSize = 512
	DefaultTTL  = 30 * time.Second
)

// Repository caches GetByID and Scan results. Every write purges the cache;
// TTL bounds staleness across instances sharing one database.
type Repository struct {
	knowledge.Repository

	packages *expirable.LRU[int64, *knowledge.Package]
	scans    *expirable.LRU[string, []*knowledge.Package]

	// mu orders cache fills against invalidation. A fill started before a
	// write is dropped if the generation moved while it was loading.
	mu  sync.Mutex
	gen uint64
}

// New wraps next. Non-positive size or ttl fall back to the defaults.
func New(next knowledge.Repository, size int, ttl time.Duration) *Repository {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{
		Repository: next,
		packages:   expirable.NewLRU[int64, *knowledge.Package](size, nil, ttl),
		scans:      expirable.NewLRU[string, []*knowledge.Package](64, nil, ttl),
	}
}

func (r *Repository) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Repository) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.packages.Purge()
	r.scans.Purge()
}

func scanKey(f knowledge.ListFilter) string {
	return fmt.Sprintf("%s|%s|%s", f.Status, f.Category, f.Framework)
}

func cloneAll(pkgs []*knowledge.Package) []*knowledge.Package {
	out := make([]*knowledge.Package, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Clone()
	}
	return out
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*knowledge.Package, error) {
	if pkg, ok := r.packages.Get(id); ok {
		cacheHitsTotal.WithLabelValues("id").Inc()
		return pkg.Clone(), nil
	}
	cacheMissesTotal.WithLabelValues("id").Inc()

	gen := r.generation()
	pkg, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.packages.Add(id, pkg.Clone())
	}
	r.mu.Unlock()
	return pkg, nil
}

func (r *Repository) Scan(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, error) {
	key := scanKey(f)
	if pkgs, ok := r.scans.Get(key); ok {
		cacheHitsTotal.WithLabelValues("scan").Inc()
		return cloneAll(pkgs), nil
	}
	cacheMissesTotal.WithLabelValues("scan").Inc()

	gen := r.generation()
	pkgs, err := r.Repository.Scan(ctx, f)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.scans.Add(key, cloneAll(pkgs))
	}
	r.mu.Unlock()
	return pkgs, nil
}

func (r *Repository) Create(ctx context.Context, pkg *knowledge.Package) error {
	err := r.Repository.Create(ctx, pkg)
	if err == nil {
		r.invalidate()
	}
	return err
}

func (r *Repository) UpdateRating(ctx context.Context, id int64, delta knowledge.RatingDelta) (*knowledge.Package, error) {
	pkg, err := r.Repository.UpdateRating(ctx, id, delta)
	if err == nil {
		r.invalidate()
	}
	return pkg, err
}

func (r *Repository) IncrementDownloads(ctx context.Context, id int64) (*knowledge.Package, error) {
	pkg, err := r.Repository.IncrementDownloads(ctx, id)
	if err == nil {
		r.invalidate()
	}
	return pkg, err
}

func (r *Repository) UpdateStatus(ctx context.Context, u knowledge.StatusUpdate) (*knowledge.Package, error) {
	pkg, err := r.Repository.UpdateStatus(ctx, u)
	// a lost transition means another writer changed the row
	r.invalidate()
	return pkg, err
}

func (r *Repository) UpdateFilePath(ctx context.Context, id int64, path string) error {
	err := r.Repository.UpdateFilePath(ctx, id, path)
	r.invalidate()
	return err
}

// Stats reports the number of cached entries.
func (r *Repository) Stats() map[string]string {
	return map[string]string{
		"packages": strconv.Itoa(r.packages.Len()),
		"scans":    strconv.Itoa(r.scans.Len()),
	}
}
