package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revpub/internal/model"
)

// URL table operations.

const urlColumns = `id, working_copy_id, url, guid_id, generator, method, argument, content_type, status, redirect_to_id`

func (s *store) URLsForEntity(ctx context.Context, workingCopyID, guidID string) ([]*model.URL, error) {
	return s.queryURLs(ctx,
		`SELECT `+urlColumns+` FROM url WHERE working_copy_id = ? AND guid_id = ? ORDER BY id`,
		workingCopyID, guidID)
}

func (s *store) FindURL(ctx context.Context, workingCopyID, url string) (*model.URL, error) {
	u, err := s.scanURL(s.q.QueryRowContext(ctx,
		`SELECT `+urlColumns+` FROM url WHERE working_copy_id = ? AND url = ?`,
		workingCopyID, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding url: %w", err)
	}
	return u, nil
}

func (s *store) InsertURL(ctx context.Context, u *model.URL) error {
	if err := s.checkRedirectTarget(ctx, u); err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO url (working_copy_id, url, guid_id, generator, method, argument, content_type, status, redirect_to_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.WorkingCopyID, u.URL, u.GUIDID, u.Generator, u.Method, u.Argument, u.ContentType, string(u.Status), u.RedirectToID,
	)
	if err != nil {
		return fmt.Errorf("inserting url: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted url id: %w", err)
	}
	u.ID = id
	return nil
}

func (s *store) UpdateURL(ctx context.Context, u *model.URL) error {
	if err := s.checkRedirectTarget(ctx, u); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx,
		`UPDATE url SET working_copy_id = ?, url = ?, guid_id = ?, generator = ?, method = ?,
		 argument = ?, content_type = ?, status = ?, redirect_to_id = ? WHERE id = ?`,
		u.WorkingCopyID, u.URL, u.GUIDID, u.Generator, u.Method, u.Argument, u.ContentType, string(u.Status), u.RedirectToID, u.ID,
	)
	if err != nil {
		return fmt.Errorf("updating url: %w", err)
	}
	return nil
}

func (s *store) URLsRedirectingTo(ctx context.Context, workingCopyID string, id int64) ([]*model.URL, error) {
	return s.queryURLs(ctx,
		`SELECT `+urlColumns+` FROM url WHERE working_copy_id = ? AND redirect_to_id = ? ORDER BY id`,
		workingCopyID, id)
}

// checkRedirectTarget enforces the redirect invariants on every write:
// a redirect row must point at an active row, and non-redirect rows may
// not carry a target.
func (s *store) checkRedirectTarget(ctx context.Context, u *model.URL) error {
	if u.Status != model.URLRedirect {
		if u.RedirectToID != nil {
			return fmt.Errorf("url %s has status %s but a redirect target", u.URL, u.Status)
		}
		return nil
	}

	if u.RedirectToID == nil {
		return fmt.Errorf("redirect url %s has no target", u.URL)
	}

	var status string
	err := s.q.QueryRowContext(ctx, `SELECT status FROM url WHERE id = ?`, *u.RedirectToID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("redirect url %s points at missing row %d", u.URL, *u.RedirectToID)
		}
		return fmt.Errorf("checking redirect target of %s: %w", u.URL, err)
	}
	if model.URLStatus(status) != model.URLActive {
		return fmt.Errorf("redirect url %s points at %s row %d", u.URL, status, *u.RedirectToID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *store) scanURL(row rowScanner) (*model.URL, error) {
	var u model.URL
	var redirectTo sql.NullInt64
	err := row.Scan(&u.ID, &u.WorkingCopyID, &u.URL, &u.GUIDID, &u.Generator, &u.Method,
		&u.Argument, &u.ContentType, &u.Status, &redirectTo)
	if err != nil {
		return nil, err
	}
	if redirectTo.Valid {
		u.RedirectToID = &redirectTo.Int64
	}
	return &u, nil
}

func (s *store) queryURLs(ctx context.Context, query string, args ...any) ([]*model.URL, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing urls: %w", err)
	}
	defer rows.Close()

	var urls []*model.URL
	for rows.Next() {
		u, err := s.scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing urls: %w", err)
	}
	return urls, nil
}
