package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"revpub/internal/model"
)

// Identity store operations. GUID rows and path-history intervals are
// owned by these methods; the rest of the engine reads them.

func (s *store) GUIDForPath(ctx context.Context, branch, path string, rev int64, isDir bool) (*model.GUID, error) {
	var g model.GUID
	err := s.q.QueryRowContext(ctx,
		`SELECT g.id, g.uri, g.is_dir, g.first_revnum, g.last_changed_revnum
		 FROM guid g
		 JOIN path_history ph ON ph.guid_id = g.id
		 WHERE ph.branch = ? AND ph.path = ?
		   AND ph.first_revnum <= ? AND (ph.last_revnum IS NULL OR ph.last_revnum >= ?)`,
		branch, path, rev, rev,
	).Scan(&g.ID, &g.URI, &g.IsDir, &g.FirstRev, &g.LastChangedRev)
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding entity for %s@%d: %w", path, rev, err)
	}

	// First sight of this path: mint a new entity with a permanent tag
	// URI and an open path interval starting at rev.
	g = model.GUID{
		ID:             uuid.New().String(),
		IsDir:          isDir,
		FirstRev:       rev,
		LastChangedRev: rev,
	}
	g.URI = fmt.Sprintf("tag:%s,%s:%s", s.tagAuthority, time.Now().UTC().Format("2006-01-02"), g.ID)

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO guid (id, uri, is_dir, first_revnum, last_changed_revnum) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.URI, g.IsDir, g.FirstRev, g.LastChangedRev,
	)
	if err != nil {
		return nil, fmt.Errorf("minting entity for %s: %w", path, err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO path_history (guid_id, branch, path, first_revnum, last_revnum) VALUES (?, ?, ?, ?, NULL)`,
		g.ID, branch, path, rev,
	)
	if err != nil {
		return nil, fmt.Errorf("recording path history for %s: %w", path, err)
	}

	return &g, nil
}

func (s *store) GetGUID(ctx context.Context, id string) (*model.GUID, error) {
	var g model.GUID
	err := s.q.QueryRowContext(ctx,
		`SELECT id, uri, is_dir, first_revnum, last_changed_revnum FROM guid WHERE id = ?`, id,
	).Scan(&g.ID, &g.URI, &g.IsDir, &g.FirstRev, &g.LastChangedRev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding entity: %w", err)
	}
	return &g, nil
}

func (s *store) PathHistory(ctx context.Context, guidID, branch string) ([]model.PathInterval, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT path, first_revnum, COALESCE(last_revnum, 0)
		 FROM path_history WHERE guid_id = ? AND branch = ? ORDER BY first_revnum`,
		guidID, branch,
	)
	if err != nil {
		return nil, fmt.Errorf("listing path history: %w", err)
	}
	defer rows.Close()

	var intervals []model.PathInterval
	for rows.Next() {
		var iv model.PathInterval
		if err := rows.Scan(&iv.Path, &iv.FirstRev, &iv.LastRev); err != nil {
			return nil, fmt.Errorf("scanning path interval: %w", err)
		}
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing path history: %w", err)
	}
	return intervals, nil
}

func (s *store) MovePath(ctx context.Context, guidID, branch, newPath string, rev int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE path_history SET last_revnum = ? WHERE guid_id = ? AND branch = ? AND last_revnum IS NULL`,
		rev-1, guidID, branch,
	)
	if err != nil {
		return fmt.Errorf("closing path interval: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO path_history (guid_id, branch, path, first_revnum, last_revnum) VALUES (?, ?, ?, ?, NULL)`,
		guidID, branch, newPath, rev,
	)
	if err != nil {
		return fmt.Errorf("opening path interval: %w", err)
	}
	return nil
}

func (s *store) TouchGUID(ctx context.Context, id string, rev int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE guid SET last_changed_revnum = ? WHERE id = ? AND last_changed_revnum < ?`,
		rev, id, rev,
	)
	if err != nil {
		return fmt.Errorf("touching entity: %w", err)
	}
	return nil
}

// Property mirror operations

func (s *store) EntityProperties(ctx context.Context, guidID string) (map[string]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT name, value FROM entity_property WHERE guid_id = ?`, guidID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entity properties: %w", err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning entity property: %w", err)
		}
		props[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entity properties: %w", err)
	}
	return props, nil
}

func (s *store) SetEntityProperty(ctx context.Context, guidID, name, value string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO entity_property (guid_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT (guid_id, name) DO UPDATE SET value = excluded.value`,
		guidID, name, value,
	)
	if err != nil {
		return fmt.Errorf("setting entity property: %w", err)
	}
	return nil
}

func (s *store) DeleteEntityProperty(ctx context.Context, guidID, name string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM entity_property WHERE guid_id = ? AND name = ?`, guidID, name,
	)
	if err != nil {
		return fmt.Errorf("deleting entity property: %w", err)
	}
	return nil
}
