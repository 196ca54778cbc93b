package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revpub/internal/database/migrations"
	"revpub/internal/model"
	"revpub/internal/pub"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the pub.Database interface using SQLite.
type SQLiteDatabase struct {
	db           *sql.DB
	tagAuthority string
	path         string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for an in-memory database.
// tagAuthority is the authority part of minted tag: URIs.
func NewSQLiteDatabase(path, tagAuthority string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:           db,
		tagAuthority: tagAuthority,
		path:         path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, tagAuthority string) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:           db,
		tagAuthority: tagAuthority,
		path:         "",
	}
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. This is exported for use in tools and tests that
// need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// InTransaction runs fn inside a single transaction. Any error from fn
// rolls the transaction back in full.
func (s *SQLiteDatabase) InTransaction(ctx context.Context, fn func(pub.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&store{q: tx, tagAuthority: s.tagAuthority}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Read-only queries

func (s *SQLiteDatabase) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.QueryRowContext(ctx,
		`SELECT id, start_rev, end_rev, created_at FROM job WHERE id = ?`, id,
	).Scan(&job.ID, &job.StartRev, &job.EndRev, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding job: %w", err)
	}
	return &job, nil
}

func (s *SQLiteDatabase) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_rev, end_rev, created_at FROM job ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var job model.Job
		if err := rows.Scan(&job.ID, &job.StartRev, &job.EndRev, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteDatabase) JobFiles(ctx context.Context, jobID string) ([]*model.JobFile, error) {
	return (&store{q: s.db}).jobFiles(ctx, `SELECT job_id, guid_id, action, path_changed FROM job_file WHERE job_id = ? ORDER BY guid_id`, jobID)
}

func (s *SQLiteDatabase) JobProperties(ctx context.Context, jobID string) ([]*model.JobProperty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, guid_id, name, action FROM job_property WHERE job_id = ? ORDER BY guid_id, name`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing job properties: %w", err)
	}
	defer rows.Close()

	var props []*model.JobProperty
	for rows.Next() {
		var jp model.JobProperty
		if err := rows.Scan(&jp.JobID, &jp.GUIDID, &jp.Name, &jp.Action); err != nil {
			return nil, fmt.Errorf("scanning job property: %w", err)
		}
		props = append(props, &jp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing job properties: %w", err)
	}
	return props, nil
}

func (s *SQLiteDatabase) ListURLs(ctx context.Context, workingCopyID string) ([]*model.URL, error) {
	return (&store{q: s.db}).queryURLs(ctx,
		`SELECT id, working_copy_id, url, guid_id, generator, method, argument, content_type, status, redirect_to_id
		 FROM url WHERE working_copy_id = ? ORDER BY id`, workingCopyID)
}

func (s *SQLiteDatabase) LastPublishedRev(ctx context.Context, workingCopyID string) (int64, error) {
	return (&store{q: s.db}).LastPublishedRev(ctx, workingCopyID)
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate runs all pending migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements pub.Database
var _ pub.Database = (*SQLiteDatabase)(nil)
