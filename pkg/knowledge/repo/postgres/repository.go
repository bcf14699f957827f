package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

const table = "knowledge"

const columns = `id, name, title, description, category, framework, version, tags,
	source_url, uploader_name, uploader_email, config_json,
	file_path, file_size, file_hash, page_count,
	downloads, upvotes, downvotes,
	status, review_note, reviewed_at, upload_date, created_at, updated_at`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements knowledge.Repository using PostgreSQL
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	r := New(pool)
	r.pool = pool
	return r
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "file_hash") {
				return &knowledge.ConflictError{Field: "file_hash", Value: pgErr.Detail}
			}
			return &knowledge.ConflictError{Field: "name", Value: pgErr.Detail}
		case "23514": // check_violation
			return &knowledge.ValidationError{Reason: knowledge.ReasonInvalidField, Field: pgErr.ConstraintName, Message: pgErr.Message}
		case "23502": // not_null_violation
			return &knowledge.ValidationError{Reason: knowledge.ReasonMissingField, Field: pgErr.ColumnName, Message: fmt.Sprintf("required field %s is missing", pgErr.ColumnName)}
		case "42P01": // undefined_table
			return &knowledge.StorageError{Backend: "postgres", Op: operation, Err: errors.New("table does not exist - database migration required")}
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, knowledge.ErrNotFound)
	}
	return &knowledge.StorageError{Backend: "postgres", Op: operation, Err: err}
}

func scanPackage(row pgx.Row) (*knowledge.Package, error) {
	var p knowledge.Package
	var status string
	var config []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Title, &p.Description, &p.Category, &p.Framework, &p.Version, &p.Tags,
		&p.SourceURL, &p.UploaderName, &p.UploaderEmail, &config,
		&p.FilePath, &p.FileSize, &p.FileHash, &p.PageCount,
		&p.Downloads, &p.Upvotes, &p.Downvotes,
		&status, &p.ReviewNote, &p.ReviewedAt, &p.UploadDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = knowledge.Status(status)
	if len(config) > 0 {
		p.Config = config
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

func (r *Repository) Create(ctx context.Context, pkg *knowledge.Package) error {
	query := `
		INSERT INTO knowledge (
			name, title, description, category, framework, version, tags,
			source_url, uploader_name, uploader_email, config_json,
			file_path, file_size, file_hash, page_count,
			status, upload_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`

	var config any
	if len(pkg.Config) > 0 {
		config = string(pkg.Config)
	}
	tags := pkg.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		pkg.Name, pkg.Title, pkg.Description, pkg.Category, pkg.Framework, pkg.Version, tags,
		pkg.SourceURL, pkg.UploaderName, pkg.UploaderEmail, config,
		pkg.FilePath, pkg.FileSize, pkg.FileHash, pkg.PageCount,
		string(pkg.Status), pkg.UploadDate, pkg.CreatedAt, pkg.UpdatedAt,
	).Scan(&pkg.ID)
	if err != nil {
		return r.handlePostgresError("create package", err)
	}
	return nil
}

func (r *Repository) getBy(ctx context.Context, column string, value any) (*knowledge.Package, error) {
	query := fmt.Sprintf("SELECT %s FROM knowledge WHERE %s = $1", columns, column)
	pkg, err := scanPackage(r.db.QueryRow(ctx, query, value))
	if err != nil {
		return nil, r.handlePostgresError("get package by "+column, err)
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

// where builds the conjunctive filter predicates
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
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	defer rows.Close()

	result := []*knowledge.Package{}
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, r.handlePostgresError(op, err)
		}
		result = append(result, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(op, err)
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
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, r.handlePostgresError("count packages", err)
	}

	b := r.psql.Select(columns).From(table).Where(conds).OrderBy("upload_date DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
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

func (r *Repository) UpdateRating(ctx context.Context, id int64, delta knowledge.RatingDelta) (*knowledge.Package, error) {
	if delta.Upvotes < 0 || delta.Downvotes < 0 {
		return nil, &knowledge.ValidationError{Reason: knowledge.ReasonInvalidField, Field: "delta", Message: "rating counters only increase"}
	}
	query := `
		UPDATE knowledge SET upvotes = upvotes + $2, downvotes = downvotes + $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + columns
	pkg, err := scanPackage(r.db.QueryRow(ctx, query, id, delta.Upvotes, delta.Downvotes))
	if err != nil {
		return nil, r.handlePostgresError("update rating", err)
	}
	return pkg, nil
}

func (r *Repository) IncrementDownloads(ctx context.Context, id int64) (*knowledge.Package, error) {
	query := `UPDATE knowledge SET downloads = downloads + 1 WHERE id = $1 RETURNING ` + columns
	pkg, err := scanPackage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("increment downloads", err)
	}
	return pkg, nil
}

// UpdateStatus is a compare-and-set on status; the WHERE clause makes
// concurrent moderation of one row resolve to a single winner.
func (r *Repository) UpdateStatus(ctx context.Context, u knowledge.StatusUpdate) (*knowledge.Package, error) {
	query := `
		UPDATE knowledge SET
			status = $3,
			file_path = COALESCE(NULLIF($4::text, ''), file_path),
			review_note = $5::text,
			reviewed_at = $6,
			updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING ` + columns
	pkg, err := scanPackage(r.db.QueryRow(ctx, query, u.ID, string(u.From), string(u.To), u.FilePath, u.Note, u.ReviewedAt))
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.handlePostgresError("update status", err)
	}
	current, getErr := r.GetByID(ctx, u.ID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("package %d is %s: %w", u.ID, current.Status, knowledge.ErrInvalidTransition)
}

func (r *Repository) UpdateFilePath(ctx context.Context, id int64, path string) error {
	tag, err := r.db.Exec(ctx, `UPDATE knowledge SET file_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	if err != nil {
		return r.handlePostgresError("update file path", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("package %d: %w", id, knowledge.ErrNotFound)
	}
	return nil
}

func (r *Repository) CountByStatus(ctx context.Context) (map[knowledge.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM knowledge GROUP BY status`)
	if err != nil {
		return nil, r.handlePostgresError("count by status", err)
	}
	defer rows.Close()

	counts := make(map[knowledge.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, r.handlePostgresError("count by status", err)
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
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("facets", err)
	}
	defer rows.Close()

	facets := []knowledge.FacetCount{}
	for rows.Next() {
		var fc knowledge.FacetCount
		if err := rows.Scan(&fc.Value, &fc.Count); err != nil {
			return nil, r.handlePostgresError("facets", err)
		}
		facets = append(facets, fc)
	}
	return facets, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	if r.pool != nil {
		return r.pool.Ping(ctx)
	}
	var one int
	return r.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
