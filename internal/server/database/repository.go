package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrFileNotFound = errors.New("file not found")

	// ErrDuplicateContent is returned when inserting an original row
	// whose hash already has a committed original (the partial unique
	// index on files). The caller re-runs the transaction and records
	// a reference instead.
	ErrDuplicateContent = errors.New("an original with this content hash already exists")
)

// Querier is the query surface available inside a Transact callback.
// The locking methods pin rows for the rest of the transaction:
// an original found by FindOriginalByHash cannot be deleted, and a
// user's stats row cannot be concurrently updated, until commit.
//
// Lock acquisition order is files rows before the user_stats row;
// both engines follow it so upload and delete cannot deadlock.
type Querier interface {
	FindOriginalByHash(ctx context.Context, hash string) (*File, error)
	LockFileForUser(ctx context.Context, id uuid.UUID, userID string) (*File, error)
	HasReferences(ctx context.Context, id uuid.UUID) (bool, error)
	InsertFile(ctx context.Context, f *File) error
	DeleteFile(ctx context.Context, id uuid.UUID) error
	LockStats(ctx context.Context, userID string) (*UserStats, error)
	SaveStats(ctx context.Context, stats *UserStats) error
}

// Store is the persistence surface the vault service depends on.
// *Repository implements it against Postgres; tests supply an
// in-memory implementation.
type Store interface {
	Transact(ctx context.Context, fn func(Querier) error) error
	GetFileForUser(ctx context.Context, id uuid.UUID, userID string) (*File, error)
	GetOrCreateStats(ctx context.Context, userID string) (*UserStats, error)
	ListFiles(ctx context.Context, userID string, filter FileFilter) ([]*File, error)
	DistinctFileTypes(ctx context.Context, userID string) ([]string, error)
}

const fileColumns = `id, original_filename, file_type, size, user_id, file_hash, is_reference, original_file_id, uploaded_at`

// Repository provides storage for file records and user stats.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Transact runs fn inside a single transaction. Any error from fn
// rolls the whole transaction back and is returned unchanged, so
// sentinel errors survive for the caller to inspect.
func (r *Repository) Transact(ctx context.Context, fn func(Querier) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txQuerier{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetFileForUser retrieves a file by id scoped to its owner. A row
// owned by someone else is indistinguishable from a missing one.
func (r *Repository) GetFileForUser(ctx context.Context, id uuid.UUID, userID string) (*File, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2
	`, id, userID)
	return scanFile(row)
}

// GetOrCreateStats returns the stats row for a user, creating a zeroed
// one on first touch.
func (r *Repository) GetOrCreateStats(ctx context.Context, userID string) (*UserStats, error) {
	if _, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to create stats row: %w", err)
	}

	stats := &UserStats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT user_id, total_storage_used, original_storage_used, updated_at
		FROM user_stats WHERE user_id = $1
	`, userID).Scan(&stats.UserID, &stats.TotalStorageUsed, &stats.OriginalStorageUsed, &stats.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// ListFiles returns the user's files matching filter, newest first,
// each annotated with its live reference count.
func (r *Repository) ListFiles(ctx context.Context, userID string, filter FileFilter) ([]*File, error) {
	query := `
		SELECT f.id, f.original_filename, f.file_type, f.size, f.user_id, f.file_hash,
			   f.is_reference, f.original_file_id, f.uploaded_at,
			   (SELECT COUNT(*) FROM files r WHERE r.original_file_id = f.id) AS reference_count
		FROM files f WHERE f.user_id = $1`
	args := []any{userID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND f.original_filename ILIKE $%d", len(args))
	}
	if filter.FileType != "" {
		args = append(args, filter.FileType)
		query += fmt.Sprintf(" AND LOWER(f.file_type) = LOWER($%d)", len(args))
	}
	if filter.MinSize != nil {
		args = append(args, *filter.MinSize)
		query += fmt.Sprintf(" AND f.size >= $%d", len(args))
	}
	if filter.MaxSize != nil {
		args = append(args, *filter.MaxSize)
		query += fmt.Sprintf(" AND f.size <= $%d", len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += fmt.Sprintf(" AND f.uploaded_at >= $%d", len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += fmt.Sprintf(" AND f.uploaded_at <= $%d", len(args))
	}
	query += " ORDER BY f.uploaded_at DESC"

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{}
		if err := rows.Scan(
			&f.ID, &f.OriginalFilename, &f.FileType, &f.Size, &f.UserID,
			&f.FileHash, &f.IsReference, &f.OriginalFileID, &f.UploadedAt,
			&f.ReferenceCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DistinctFileTypes returns the sorted distinct MIME types of a user's files.
func (r *Repository) DistinctFileTypes(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT file_type FROM files WHERE user_id = $1 ORDER BY file_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan file type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// OriginalExists reports whether an original row with the given id
// exists. The storage sweeper uses it to tell orphaned blobs apart
// from live content.
func (r *Repository) OriginalExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM files WHERE id = $1 AND NOT is_reference)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check original: %w", err)
	}
	return exists, nil
}

// txQuerier implements Querier against an open transaction.
type txQuerier struct {
	tx pgx.Tx
}

// FindOriginalByHash looks up the original row for a content hash
// across all owners. The FOR SHARE lock keeps a concurrent delete of
// that original blocked until this transaction commits, so a reference
// can never be created against a row that is going away.
// Returns (nil, nil) when no original exists.
func (q *txQuerier) FindOriginalByHash(ctx context.Context, hash string) (*File, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE file_hash = $1 AND NOT is_reference
		LIMIT 1 FOR SHARE
	`, hash)
	f, err := scanFile(row)
	if errors.Is(err, ErrFileNotFound) {
		return nil, nil
	}
	return f, err
}

// LockFileForUser loads a file scoped to its owner and locks the row
// FOR UPDATE for the rest of the transaction.
func (q *txQuerier) LockFileForUser(ctx context.Context, id uuid.UUID, userID string) (*File, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, id, userID)
	return scanFile(row)
}

// HasReferences reports whether any row, regardless of owner, points
// at the given original.
func (q *txQuerier) HasReferences(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM files WHERE original_file_id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check references: %w", err)
	}
	return exists, nil
}

// InsertFile inserts a new file row.
func (q *txQuerier) InsertFile(ctx context.Context, f *File) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		f.ID, f.OriginalFilename, f.FileType, f.Size, f.UserID,
		f.FileHash, f.IsReference, f.OriginalFileID, f.UploadedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateContent
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// DeleteFile removes a file row by id.
func (q *txQuerier) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := q.tx.Exec(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// LockStats returns the user's stats row locked FOR UPDATE, creating a
// zeroed row first if the user has never uploaded. The row lock makes
// quota-check-then-increment atomic per user.
func (q *txQuerier) LockStats(ctx context.Context, userID string) (*UserStats, error) {
	if _, err := q.tx.Exec(ctx, `
		INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to create stats row: %w", err)
	}

	stats := &UserStats{}
	err := q.tx.QueryRow(ctx, `
		SELECT user_id, total_storage_used, original_storage_used, updated_at
		FROM user_stats WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&stats.UserID, &stats.TotalStorageUsed, &stats.OriginalStorageUsed, &stats.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stats: %w", err)
	}
	return stats, nil
}

// SaveStats persists the counters of a previously locked stats row.
func (q *txQuerier) SaveStats(ctx context.Context, stats *UserStats) error {
	_, err := q.tx.Exec(ctx, `
		UPDATE user_stats
		SET total_storage_used = $2, original_storage_used = $3, updated_at = NOW()
		WHERE user_id = $1
	`, stats.UserID, stats.TotalStorageUsed, stats.OriginalStorageUsed)
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

func scanFile(row pgx.Row) (*File, error) {
	f := &File{}
	err := row.Scan(
		&f.ID, &f.OriginalFilename, &f.FileType, &f.Size, &f.UserID,
		&f.FileHash, &f.IsReference, &f.OriginalFileID, &f.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	return f, nil
}
