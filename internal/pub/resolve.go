package pub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"revpub/internal/model"
)

// resolvePathChanges runs once the walk completes and settles every
// job-file row the recorder collapsed to uncertain. The entity's content
// at its old path (bounded by the job's start revision) is compared
// against its content at the current path: differing hashes mean
// Modified, identical hashes mean a pure rename and the action is
// cleared. Properties are re-diffed between the two fetched revisions
// either way, and the live mirror is resynced to the current side.
func (s *PublishService) resolvePathChanges(ctx context.Context, tx Store, job *model.Job) error {
	files, err := tx.JobFilesWithPathChanged(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("listing path-changed job files: %w", err)
	}

	for _, jf := range files {
		if err := s.resolveOne(ctx, tx, job, jf); err != nil {
			return err
		}
	}
	return nil
}

func (s *PublishService) resolveOne(ctx context.Context, tx Store, job *model.Job, jf *model.JobFile) error {
	guid, err := tx.GetGUID(ctx, jf.GUIDID)
	if err != nil {
		return fmt.Errorf("loading entity %s: %w", jf.GUIDID, err)
	}
	if guid == nil {
		return fmt.Errorf("job file references unknown entity %s", jf.GUIDID)
	}

	history, err := tx.PathHistory(ctx, jf.GUIDID, s.branch)
	if err != nil {
		return fmt.Errorf("loading path history for %s: %w", jf.GUIDID, err)
	}

	oldPath := pathAt(history, job.StartRev)
	curPath := currentPath(history)
	if oldPath == "" || curPath == "" {
		return fmt.Errorf("incomplete path history for entity %s (old=%q, current=%q)", jf.GUIDID, oldPath, curPath)
	}

	oldContent, oldProps, err := s.source.EntryAt(ctx, oldPath, job.StartRev)
	if err != nil {
		return fmt.Errorf("fetching %s@%d: %w", oldPath, job.StartRev, err)
	}
	curContent, curProps, err := s.source.EntryAt(ctx, curPath, job.EndRev)
	if err != nil {
		return fmt.Errorf("fetching %s@%d: %w", curPath, job.EndRev, err)
	}

	action := model.ActionNone
	if !guid.IsDir && !bytes.Equal(hash(oldContent), hash(curContent)) {
		action = model.ActionModified
	}
	if err := tx.SetJobFileAction(ctx, job.ID, jf.GUIDID, action); err != nil {
		return fmt.Errorf("resolving action for %s: %w", jf.GUIDID, err)
	}
	s.logger.Debug("path change resolved", "entity", jf.GUIDID, "old_path", oldPath, "path", curPath, "action", string(action))

	// The walk only reported properties the new path carried, so values
	// set at the old path can linger in the mirror. Resync it to the
	// fetched state before re-diffing.
	if err := s.syncMirror(ctx, tx, jf.GUIDID, curProps); err != nil {
		return err
	}

	// Property rows recorded during the walk predate the comparison; the
	// diff below is authoritative for a path-changed entity.
	if err := tx.DeleteJobProperties(ctx, job.ID, jf.GUIDID); err != nil {
		return fmt.Errorf("clearing job properties for %s: %w", jf.GUIDID, err)
	}
	for _, d := range diffProps(oldProps, curProps) {
		jp := &model.JobProperty{
			JobID:  job.ID,
			GUIDID: jf.GUIDID,
			Name:   d.name,
			Action: d.action,
		}
		if err := tx.UpsertJobProperty(ctx, jp); err != nil {
			return fmt.Errorf("recording property %s for %s: %w", d.name, jf.GUIDID, err)
		}
	}
	return nil
}

// syncMirror makes the entity's mirror rows match want, dropping names
// absent from it and writing the rest. Reserved names never enter the
// mirror.
func (s *PublishService) syncMirror(ctx context.Context, tx Store, guidID string, want map[string]string) error {
	have, err := tx.EntityProperties(ctx, guidID)
	if err != nil {
		return fmt.Errorf("loading mirrored properties for %s: %w", guidID, err)
	}
	for name := range have {
		if _, ok := want[name]; ok {
			continue
		}
		if err := tx.DeleteEntityProperty(ctx, guidID, name); err != nil {
			return fmt.Errorf("dropping mirrored property %s for %s: %w", name, guidID, err)
		}
	}
	for name, value := range want {
		if isReservedProp(name) {
			continue
		}
		if v, ok := have[name]; ok && v == value {
			continue
		}
		if err := tx.SetEntityProperty(ctx, guidID, name, value); err != nil {
			return fmt.Errorf("mirroring property %s for %s: %w", name, guidID, err)
		}
	}
	return nil
}

func hash(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

// pathAt returns the entity's path in effect at rev, or "" if unknown.
func pathAt(history []model.PathInterval, rev int64) string {
	for _, iv := range history {
		if iv.FirstRev <= rev && (iv.LastRev == 0 || rev <= iv.LastRev) {
			return iv.Path
		}
	}
	return ""
}

// currentPath returns the path of the open interval, or "" if the entity
// has no current path.
func currentPath(history []model.PathInterval) string {
	for _, iv := range history {
		if iv.LastRev == 0 {
			return iv.Path
		}
	}
	return ""
}
