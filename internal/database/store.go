package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revpub/internal/model"
	"revpub/internal/pub"
)

// queryer is the subset of *sql.DB / *sql.Tx the store needs, so the
// same query code serves both transactional and plain reads.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store implements pub.Store against a transaction (or, for read-only
// helpers, directly against the connection).
type store struct {
	q            queryer
	tagAuthority string
}

// Job operations

func (s *store) InsertJob(ctx context.Context, job *model.Job) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO job (id, start_rev, end_rev, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.StartRev, job.EndRev, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *store) GetJobFile(ctx context.Context, jobID, guidID string) (*model.JobFile, error) {
	var jf model.JobFile
	err := s.q.QueryRowContext(ctx,
		`SELECT job_id, guid_id, action, path_changed FROM job_file WHERE job_id = ? AND guid_id = ?`,
		jobID, guidID,
	).Scan(&jf.JobID, &jf.GUIDID, &jf.Action, &jf.PathChanged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding job file: %w", err)
	}
	return &jf, nil
}

func (s *store) InsertJobFile(ctx context.Context, jf *model.JobFile) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO job_file (job_id, guid_id, action, path_changed) VALUES (?, ?, ?, ?)`,
		jf.JobID, jf.GUIDID, string(jf.Action), jf.PathChanged,
	)
	if err != nil {
		return fmt.Errorf("inserting job file: %w", err)
	}
	return nil
}

func (s *store) MarkJobFileUncertain(ctx context.Context, jobID, guidID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE job_file SET action = ?, path_changed = 1 WHERE job_id = ? AND guid_id = ?`,
		string(model.ActionUncertain), jobID, guidID,
	)
	if err != nil {
		return fmt.Errorf("marking job file uncertain: %w", err)
	}
	return nil
}

func (s *store) SetJobFileAction(ctx context.Context, jobID, guidID string, action model.FileAction) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE job_file SET action = ? WHERE job_id = ? AND guid_id = ?`,
		string(action), jobID, guidID,
	)
	if err != nil {
		return fmt.Errorf("setting job file action: %w", err)
	}
	return nil
}

func (s *store) JobFilesWithPathChanged(ctx context.Context, jobID string) ([]*model.JobFile, error) {
	return s.jobFiles(ctx,
		`SELECT job_id, guid_id, action, path_changed FROM job_file WHERE job_id = ? AND path_changed = 1 ORDER BY guid_id`,
		jobID)
}

func (s *store) jobFiles(ctx context.Context, query string, args ...any) ([]*model.JobFile, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing job files: %w", err)
	}
	defer rows.Close()

	var files []*model.JobFile
	for rows.Next() {
		var jf model.JobFile
		if err := rows.Scan(&jf.JobID, &jf.GUIDID, &jf.Action, &jf.PathChanged); err != nil {
			return nil, fmt.Errorf("scanning job file: %w", err)
		}
		files = append(files, &jf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing job files: %w", err)
	}
	return files, nil
}

func (s *store) UpsertJobProperty(ctx context.Context, jp *model.JobProperty) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO job_property (job_id, guid_id, name, action) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id, guid_id, name) DO UPDATE SET action = excluded.action`,
		jp.JobID, jp.GUIDID, jp.Name, string(jp.Action),
	)
	if err != nil {
		return fmt.Errorf("recording job property: %w", err)
	}
	return nil
}

func (s *store) DeleteJobProperties(ctx context.Context, jobID, guidID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM job_property WHERE job_id = ? AND guid_id = ?`, jobID, guidID,
	)
	if err != nil {
		return fmt.Errorf("deleting job properties: %w", err)
	}
	return nil
}

// Last-published marker

func (s *store) LastPublishedRev(ctx context.Context, workingCopyID string) (int64, error) {
	var rev int64
	err := s.q.QueryRowContext(ctx,
		`SELECT last_published_rev FROM publish_marker WHERE working_copy_id = ?`, workingCopyID,
	).Scan(&rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil // Nothing published yet
		}
		return 0, fmt.Errorf("reading publish marker: %w", err)
	}
	return rev, nil
}

func (s *store) SetLastPublishedRev(ctx context.Context, workingCopyID string, rev int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO publish_marker (working_copy_id, last_published_rev) VALUES (?, ?)
		 ON CONFLICT (working_copy_id) DO UPDATE SET last_published_rev = excluded.last_published_rev`,
		workingCopyID, rev,
	)
	if err != nil {
		return fmt.Errorf("updating publish marker: %w", err)
	}
	return nil
}

// Compile-time check that store implements pub.Store
var _ pub.Store = (*store)(nil)
