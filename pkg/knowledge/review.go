package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Valid review transitions. Approved and rejected are terminal.
var reviewTransitions = map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected},
}

// CanTransition reports whether a package may move from one review state to another.
func CanTransition(from, to Status) bool {
	for _, s := range reviewTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(pkg *Package, to Status) error {
	return &PackageError{
		ID:  pkg.ID,
		Op:  string(to),
		Err: fmt.Errorf("%w: package is %s", ErrInvalidTransition, pkg.Status),
	}
}

// keyedMutex serialises work per package id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedEntry)}
}

func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// Approve moves the staged archive into its category and marks the package
// approved. If the status update fails the archive is moved back so a
// pending package never points at a moved object.
func (s *service) Approve(ctx context.Context, req ReviewRequest) (*Package, error) {
	unlock := s.locks.Lock(req.ID)
	defer unlock()

	pkg, err := s.repository.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(pkg.Status, StatusApproved) {
		return nil, transitionError(pkg, StatusApproved)
	}

	staged := pkg.Ref()
	moved, err := s.store.Move(ctx, staged, pkg.Category)
	if err != nil {
		s.logger.Error("Failed to move archive for approval", "package_id", pkg.ID, "key", staged.Path, "error", err)
		return nil, &PackageError{ID: pkg.ID, Op: "approve", Err: err}
	}

	updated, err := s.repository.UpdateStatus(ctx, StatusUpdate{
		ID:         pkg.ID,
		From:       StatusPending,
		To:         StatusApproved,
		FilePath:   moved.Path,
		Note:       strings.TrimSpace(req.Note),
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		if _, undoErr := s.store.Unstage(ctx, moved); undoErr != nil {
			s.logger.Error("Approval left archive outside staging; run reconcile",
				"package_id", pkg.ID, "key", moved.Path, "error", undoErr)
		}
		return nil, &PackageError{ID: pkg.ID, Op: "approve", Err: err}
	}

	s.logger.Info("Package approved", "package_id", updated.ID, "name", updated.Name, "key", updated.FilePath)
	if err := s.eventSink.PackageApproved(ctx, updated); err != nil {
		s.logger.Warn("Event sink failed", "event", "approved", "package_id", updated.ID, "error", err)
	}
	return updated, nil
}

// Reject marks a pending package rejected. The archive stays in staging.
func (s *service) Reject(ctx context.Context, req ReviewRequest) (*Package, error) {
	unlock := s.locks.Lock(req.ID)
	defer unlock()

	pkg, err := s.repository.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(pkg.Status, StatusRejected) {
		return nil, transitionError(pkg, StatusRejected)
	}

	updated, err := s.repository.UpdateStatus(ctx, StatusUpdate{
		ID:         pkg.ID,
		From:       StatusPending,
		To:         StatusRejected,
		FilePath:   pkg.FilePath,
		Note:       strings.TrimSpace(req.Note),
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, &PackageError{ID: pkg.ID, Op: "reject", Err: err}
	}

	s.logger.Info("Package rejected", "package_id", updated.ID, "name", updated.Name)
	if err := s.eventSink.PackageRejected(ctx, updated); err != nil {
		s.logger.Warn("Event sink failed", "event", "rejected", "package_id", updated.ID, "error", err)
	}
	return updated, nil
}

// PendingReviews lists packages awaiting review, newest upload first.
func (s *service) PendingReviews(ctx context.Context) ([]*Package, error) {
	pkgs, err := s.repository.Scan(ctx, ListFilter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pkgs, func(i, j int) bool {
		if !pkgs[i].UploadDate.Equal(pkgs[j].UploadDate) {
			return pkgs[i].UploadDate.After(pkgs[j].UploadDate)
		}
		return pkgs[i].ID > pkgs[j].ID
	})
	return pkgs, nil
}

func (s *service) ReviewStats(ctx context.Context) (*ReviewStats, error) {
	counts, err := s.repository.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ReviewStats{
		Pending:  counts[StatusPending],
		Approved: counts[StatusApproved],
		Rejected: counts[StatusRejected],
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected
	return stats, nil
}

// ReconcileReport lists the repairs made by Reconcile.
type ReconcileReport struct {
	Checked  int      `json:"checked"`
	Unstaged []string `json:"unstaged"`
	Promoted []string `json:"promoted"`
	Missing  []string `json:"missing"`
	Orphaned []string `json:"orphaned"`
}

// Reconcile repairs packages whose archive location disagrees with their
// status. A pending or rejected package whose archive sits outside staging
// is moved back; an approved package whose archive is still staged is moved
// forward. Packages with no archive in either place are reported as missing.
// Archives indexed by hash with no package row are deleted and reported as
// orphaned.
func (s *service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	pkgs, err := s.repository.Scan(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Unstaged: []string{}, Promoted: []string{}, Missing: []string{}, Orphaned: []string{}}
	for _, pkg := range pkgs {
		report.Checked++
		if err := s.reconcileOne(ctx, pkg, report); err != nil {
			return report, err
		}
	}
	if err := s.sweepOrphans(ctx, report); err != nil {
		return report, err
	}
	if n := len(report.Unstaged) + len(report.Promoted) + len(report.Missing) + len(report.Orphaned); n > 0 {
		s.logger.Warn("Reconcile repaired packages",
			"unstaged", len(report.Unstaged), "promoted", len(report.Promoted),
			"missing", len(report.Missing), "orphaned", len(report.Orphaned))
	}
	return report, nil
}

// sweepOrphans deletes indexed archives that no package references. These
// are left behind when an upload fails to clean up after a rejected insert,
// and would otherwise turn every later upload of the same bytes into a
// file_hash conflict with no existing package.
func (s *service) sweepOrphans(ctx context.Context, report *ReconcileReport) error {
	hashes, err := s.store.Hashes(ctx)
	if err != nil {
		return err
	}
	var candidates []string
	for _, hash := range hashes {
		owned, err := s.hashOwned(ctx, hash)
		if err != nil {
			return err
		}
		if !owned {
			candidates = append(candidates, hash)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Uploads in flight hold the read side until their row is committed.
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	for _, hash := range candidates {
		owned, err := s.hashOwned(ctx, hash)
		if err != nil {
			return err
		}
		if owned {
			continue
		}
		if err := s.store.Discard(ctx, hash); err != nil {
			return err
		}
		s.logger.Warn("Discarded orphaned archive", "hash", hash)
		report.Orphaned = append(report.Orphaned, hash)
	}
	return nil
}

func (s *service) hashOwned(ctx context.Context, hash string) (bool, error) {
	_, err := s.repository.GetByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *service) reconcileOne(ctx context.Context, pkg *Package, report *ReconcileReport) error {
	unlock := s.locks.Lock(pkg.ID)
	defer unlock()

	// Re-read under the lock; the scan may be stale.
	current, err := s.repository.GetByID(ctx, pkg.ID)
	if err != nil {
		return err
	}

	staged := StagingPath(current.Category, current.Name, current.UploadDate, current.FileHash)
	canonical := CanonicalPath(current.Category, current.Name, current.UploadDate, current.FileHash)
	want, other := staged, canonical
	if current.Status == StatusApproved {
		want, other = canonical, staged
	}

	ok, err := s.blobs.Exists(ctx, want)
	if err != nil {
		return err
	}
	if !ok {
		found, err := s.blobs.Exists(ctx, other)
		if err != nil {
			return err
		}
		if !found {
			report.Missing = append(report.Missing, current.Name)
			return nil
		}
		if _, err := s.store.moveTo(ctx, ContentRef{Hash: current.FileHash, Path: other, Size: current.FileSize}, want); err != nil {
			return err
		}
		if current.Status == StatusApproved {
			report.Promoted = append(report.Promoted, current.Name)
		} else {
			report.Unstaged = append(report.Unstaged, current.Name)
		}
	}

	if current.FilePath != want {
		if err := s.repository.UpdateFilePath(ctx, current.ID, want); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
