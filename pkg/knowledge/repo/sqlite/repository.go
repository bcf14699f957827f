// Package sqlite implements knowledge.Repository on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const table = "knowledge"

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const columns = `id, name, title, description, category, framework, version, tags,
	source_url, uploader_name, uploader_email, config_json,
	file_path, file_size, file_hash, page_count,
	downloads, upvotes, downvotes,
	status, review_note, reviewed_at, upload_date, created_at, updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS knowledge (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL,
	category       TEXT NOT NULL,
	framework      TEXT NOT NULL DEFAULT '',
	version        TEXT NOT NULL DEFAULT '',
	tags           TEXT NOT NULL DEFAULT '[]',
	source_url     TEXT NOT NULL DEFAULT '',
	uploader_name  TEXT NOT NULL DEFAULT '',
	uploader_email TEXT NOT NULL DEFAULT '',
	config_json    TEXT,
	file_path      TEXT NOT NULL,
	file_size      INTEGER NOT NULL CHECK (file_size >= 0),
	file_hash      TEXT NOT NULL UNIQUE,
	page_count     INTEGER,
	downloads      INTEGER NOT NULL DEFAULT 0 CHECK (downloads >= 0),
	upvotes        INTEGER NOT NULL DEFAULT 0 CHECK (upvotes >= 0),
	downvotes      INTEGER NOT NULL DEFAULT 0 CHECK (downvotes >= 0),
	status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	review_note    TEXT NOT NULL DEFAULT '',
	reviewed_at    TEXT,
	upload_date    TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_status ON knowledge(status);
CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge(category);
CREATE INDEX IF NOT EXISTS idx_knowledge_upload_date ON knowledge(upload_date);
`

// Repository implements knowledge.Repository using SQLite
type Repository struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

// Open opens (creating if needed) the database file at path and ensures the schema exists.
func Open(path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite would otherwise return SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	repo := New(db)
	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("SQLite repository initialized", "db_path", path)
	return repo, nil
}

// New wraps an already opened database. The schema must exist.
func New(db *sql.DB) *Repository {
	return &Repository{db: db, psql: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (r *Repository) handleError(operation string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, knowledge.ErrNotFound)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return uniqueConflict(sqliteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return &knowledge.ValidationError{Reason: knowledge.ReasonInvalidField, Message: sqliteErr.Error()}
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return &knowledge.ValidationError{Reason: knowledge.ReasonMissingField, Message: sqliteErr.Error()}
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return uniqueConflict(err.Error())
	}
	return &knowledge.StorageError{Backend: "sqlite", Op: operation, Err: err}
}

func uniqueConflict(msg string) error {
	if strings.Contains(msg, "file_hash") {
		return &knowledge.ConflictError{Field: "file_hash"}
	}
	return &knowledge.ConflictError{Field: "name"}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*knowledge.Package, error) {
	var (
		p                                knowledge.Package
		status, tags                     string
		config, reviewedAt               sql.NullString
		pageCount                        sql.NullInt64
		uploadDate, createdAt, updatedAt string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Title, &p.Description, &p.Category, &p.Framework, &p.Version, &tags,
		&p.SourceURL, &p.UploaderName, &p.UploaderEmail, &config,
		&p.FilePath, &p.FileSize, &p.FileHash, &pageCount,
		&p.Downloads, &p.Upvotes, &p.Downvotes,
		&status, &p.ReviewNote, &reviewedAt, &uploadDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = knowledge.Status(status)
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of package %d: %w", p.ID, err)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if config.Valid && config.String != "" {
		p.Config = json.RawMessage(config.String)
	}
	if pageCount.Valid {
		n := int(pageCount.Int64)
		p.PageCount = &n
	}
	if reviewedAt.Valid {
		t, err := parseTime(reviewedAt.String)
		if err != nil {
			return nil, err
		}
		p.ReviewedAt = &t
	}
	if p.UploadDate, err = parseTime(uploadDate); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Create(ctx context.Context, pkg *knowledge.Package) error {
	tags := pkg.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	var config any
	if len(pkg.Config) > 0 {
		config = string(pkg.Config)
	}
	var pageCount any
	if pkg.PageCount != nil {
		pageCount = *pkg.PageCount
	}

	query := `
		INSERT INTO knowledge (
			name, title, description, category, framework, version, tags,
			source_url, uploader_name, uploader_email, config_json,
			file_path, file_size, file_hash, page_count,
			status, upload_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pkg.Name, pkg.Title, pkg.Description, pkg.Category, pkg.Framework, pkg.Version, string(encodedTags),
		pkg.SourceURL, pkg.UploaderName, pkg.UploaderEmail, config,
		pkg.FilePath, pkg.FileSize, pkg.FileHash, pageCount,
		string(pkg.Status), formatTime(pkg.UploadDate), formatTime(pkg.CreatedAt), formatTime(pkg.UpdatedAt),
	)
	if err != nil {
		return r.handleError("create package", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	pkg.ID = id
	return nil
}

func (r *Repository) getBy(ctx context.Context, column string, value any) (*knowledge.Package, error) {
	query := fmt.Sprintf("SELECT %s FROM knowledge WHERE %s = ?", columns, column)
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, r.handleError("get package by "+column, err)
	}
	return pkg, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*knowledge.Package, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Repository) GetByName(ctx context.Context, name string) (*knowledge.Package, error) {
	return r.getBy(ctx, "name", name)
}

func (r *Repository) GetByHash(ctx context.Context, hash string) (*knowledge.Package, error) {
	return r.getBy(ctx, "file_hash", hash)
}

func where(f knowledge.ListFilter) sq.And {
	conds := sq.And{}
	if f.Status != "" {
		conds = append(conds, sq.Eq{"status": string(f.Status)})
	}
	if f.Category != "" {
		conds = append(conds, sq.Eq{"category": f.Category})
	}
	if f.Framework != "" {
		conds = append(conds, sq.Expr("lower(framework) = lower(?)", f.Framework))
	}
	return conds
}

func (r *Repository) queryPackages(ctx context.Context, op string, b sq.SelectBuilder) ([]*knowledge.Package, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", op, err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.handleError(op, err)
	}
	defer rows.Close()

	result := []*knowledge.Package{}
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, r.handleError(op, err)
		}
		result = append(result, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleError(op, err)
	}
	return result, nil
}

func (r *Repository) List(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, int, error) {
	conds := where(f)

	countQuery, countArgs, err := r.psql.Select("COUNT(*)").From(table).Where(conds).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, r.handleError("count packages", err)
	}

	b := r.psql.Select(columns).From(table).Where(conds).OrderBy("upload_date DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	} else if f.Offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT.
		b = b.Limit(uint64(1<<62))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	items, err := r.queryPackages(ctx, "list packages", b)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) Scan(ctx context.Context, f knowledge.ListFilter) ([]*knowledge.Package, error) {
	b := r.psql.Select(columns).From(table).Where(where(f)).OrderBy("id ASC")
	return r.queryPackages(ctx, "scan packages", b)
}

func (r *Repository) updateReturning(ctx context.Context, op, set string, args ...any) (*knowledge.Package, error) {
	query := "UPDATE knowledge SET " + set + " WHERE id = ? RETURNING " + columns
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, r.handleError(op, err)
	}
	return pkg, nil
}

func (r *Repository) UpdateRating(ctx context.Context, id int64, delta knowledge.RatingDelta) (*knowledge.Package, error) {
	if delta.Upvotes < 0 || delta.Downvotes < 0 {
		return nil, &knowledge.ValidationError{Reason: knowledge.ReasonInvalidField, Field: "delta", Message: "rating counters only increase"}
	}
	return r.updateReturning(ctx, "update rating",
		"upvotes = upvotes + ?, downvotes = downvotes + ?, updated_at = ?",
		delta.Upvotes, delta.Downvotes, formatTime(time.Now()), id)
}

func (r *Repository) IncrementDownloads(ctx context.Context, id int64) (*knowledge.Package, error) {
	return r.updateReturning(ctx, "increment downloads", "downloads = downloads + 1", id)
}

func (r *Repository) UpdateStatus(ctx context.Context, u knowledge.StatusUpdate) (*knowledge.Package, error) {
	reviewed := formatTime(u.ReviewedAt)
	query := `
		UPDATE knowledge SET
			status = ?,
			file_path = COALESCE(NULLIF(?, ''), file_path),
			review_note = ?,
			reviewed_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + columns
	pkg, err := scanPackage(r.db.QueryRowContext(ctx, query,
		string(u.To), u.FilePath, u.Note, reviewed, reviewed, u.ID, string(u.From)))
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, r.handleError("update status", err)
	}
	current, getErr := r.GetByID(ctx, u.ID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("package %d is %s: %w", u.ID, current.Status, knowledge.ErrInvalidTransition)
}

func (r *Repository) UpdateFilePath(ctx context.Context, id int64, path string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE knowledge SET file_path = ?, updated_at = ? WHERE id = ?`,
		path, formatTime(time.Now()), id)
	if err != nil {
		return r.handleError("update file path", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return r.handleError("update file path", err)
	}
	if n == 0 {
		return fmt.Errorf("package %d: %w", id, knowledge.ErrNotFound)
	}
	return nil
}

func (r *Repository) CountByStatus(ctx context.Context) (map[knowledge.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM knowledge GROUP BY status`)
	if err != nil {
		return nil, r.handleError("count by status", err)
	}
	defer rows.Close()

	counts := make(map[knowledge.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, r.handleError("count by status", err)
		}
		counts[knowledge.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) Facets(ctx context.Context, field string) ([]knowledge.FacetCount, error) {
	if field != "category" && field != "framework" {
		return nil, fmt.Errorf("unsupported facet %q", field)
	}
	query, args, err := r.psql.
		Select(field, "COUNT(*) AS count").
		From(table).
		Where(sq.Eq{"status": string(knowledge.StatusApproved)}).
		Where(sq.NotEq{field: ""}).
		GroupBy(field).
		OrderBy("count DESC", field+" ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build facet query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.handleError("facets", err)
	}
	defer rows.Close()

	facets := []knowledge.FacetCount{}
	for rows.Next() {
		var fc knowledge.FacetCount
		if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
			return nil, r.handleError("facets", err)
		}
		facets = append(facets, fc)
	}
	return facets, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return &knowledge.StorageError{Backend: "sqlite", Op: "ping", Err: err}
	}
	return nil
}
