package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
// Each migration has a version key and SQL to execute.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_files",
		SQL: `
			CREATE TABLE IF NOT EXISTS files (
				id                UUID         PRIMARY KEY,
				original_filename VARCHAR(255) NOT NULL,
				file_type         VARCHAR(100) NOT NULL DEFAULT '',
				size              BIGINT       NOT NULL CHECK (size >= 0),
				user_id           VARCHAR(255) NOT NULL,
				file_hash         VARCHAR(64)  NOT NULL,
				is_reference      BOOLEAN      NOT NULL DEFAULT FALSE,
				original_file_id  UUID         REFERENCES files(id),
				uploaded_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_files_user_id ON files(user_id);
			CREATE INDEX IF NOT EXISTS idx_files_hash_is_reference ON files(file_hash, is_reference);
			CREATE INDEX IF NOT EXISTS idx_files_user_uploaded ON files(user_id, uploaded_at);
			CREATE INDEX IF NOT EXISTS idx_files_user_file_type ON files(user_id, file_type);
			CREATE INDEX IF NOT EXISTS idx_files_original_file ON files(original_file_id);
			-- At most one original row per content hash; concurrent
			-- identical uploads cannot both become originals.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_files_unique_original
				ON files(file_hash) WHERE NOT is_reference;
		`,
	},
	{
		Version: "000002_create_user_stats",
		SQL: `
			CREATE TABLE IF NOT EXISTS user_stats (
				user_id               VARCHAR(255) PRIMARY KEY,
				total_storage_used    BIGINT      NOT NULL DEFAULT 0 CHECK (total_storage_used >= 0),
				original_storage_used BIGINT      NOT NULL DEFAULT 0 CHECK (original_storage_used >= 0),
				updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
}

// Pool is the subset of pgxpool.Pool the repository uses.
// pgxmock's pool satisfies it in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB wraps a pgx connection pool and provides health checks and migrations.
type DB struct {
	Pool Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies all pending database migrations in order.
func (db *DB) RunMigrations(ctx context.Context) error {
	// Create migrations tracking table
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		// Check if already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		// Execute migration in a transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
