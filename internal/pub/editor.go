package pub

import (
	"context"
	"fmt"

	"revpub/internal/model"
)

// Editor receives the tree-delta callback stream from a RevisionSource.
// Callbacks arrive in depth-first, parent-before-child order. A baton
// identifies one entry between its add/open and its close.
type Editor interface {
	// DeleteEntry reports that the subtree rooted at path (in the old
	// revision) no longer exists at the new revision.
	DeleteEntry(ctx context.Context, path string) error

	AddFile(ctx context.Context, path string) (*Baton, error)
	AddDirectory(ctx context.Context, path string) (*Baton, error)
	OpenFile(ctx context.Context, path string) (*Baton, error)
	OpenDirectory(ctx context.Context, path string) (*Baton, error)

	// ApplyTextDelta reports that the entry's content bytes changed.
	ApplyTextDelta(ctx context.Context, b *Baton) error

	// ChangeProp reports a property change on the entry. A nil value
	// means the property was deleted.
	ChangeProp(ctx context.Context, b *Baton, name string, value *string) error

	// AbsentEntry reports a path the source could not resolve. It is
	// logged and skipped; no job row is produced.
	AbsentEntry(ctx context.Context, path string) error

	// Close finishes an entry. Any recorded action or property change is
	// persisted here.
	Close(ctx context.Context, b *Baton) error

	// Abort reports that the walk failed before completion. The
	// surrounding transaction must be rolled back in full.
	Abort(ctx context.Context) error
}

type propChange struct {
	name  string
	value *string // nil = deleted
}

// Baton carries the accumulated state of one entry during the walk.
type Baton struct {
	path   string
	guid   *model.GUID
	action model.FileAction
	props  []propChange
}

// jobEditor builds job-file and job-property rows from the delta stream.
// It runs entirely inside the job's transaction.
type jobEditor struct {
	store  Store
	source RevisionSource
	job    *model.Job
	branch string
	logger Logger
}

func newJobEditor(store Store, source RevisionSource, job *model.Job, branch string, logger Logger) *jobEditor {
	return &jobEditor{
		store:  store,
		source: source,
		job:    job,
		branch: branch,
		logger: logger,
	}
}

func (e *jobEditor) DeleteEntry(ctx context.Context, path string) error {
	// The deleted subtree exists only in the old revision, so entities
	// are resolved against the tree at the start of the range.
	entries, err := e.source.ListTree(ctx, path, e.job.StartRev)
	if err != nil {
		return fmt.Errorf("listing deleted subtree %s: %w", path, err)
	}

	for _, entry := range entries {
		guid, err := e.store.GUIDForPath(ctx, e.branch, entry.Path, e.job.StartRev, entry.IsDir)
		if err != nil {
			return fmt.Errorf("resolving deleted entry %s: %w", entry.Path, err)
		}
		if err := e.record(ctx, guid, model.ActionDeleted); err != nil {
			return err
		}
	}

	e.logger.Debug("subtree deleted", "path", path, "entries", len(entries))
	return nil
}

func (e *jobEditor) AddFile(ctx context.Context, path string) (*Baton, error) {
	return e.add(ctx, path, false)
}

func (e *jobEditor) AddDirectory(ctx context.Context, path string) (*Baton, error) {
	return e.add(ctx, path, true)
}

func (e *jobEditor) add(ctx context.Context, path string, isDir bool) (*Baton, error) {
	guid, err := e.store.GUIDForPath(ctx, e.branch, path, e.job.EndRev, isDir)
	if err != nil {
		return nil, fmt.Errorf("resolving added entry %s: %w", path, err)
	}
	return &Baton{path: path, guid: guid, action: model.ActionAdded}, nil
}

func (e *jobEditor) OpenFile(ctx context.Context, path string) (*Baton, error) {
	return e.open(ctx, path, false)
}

func (e *jobEditor) OpenDirectory(ctx context.Context, path string) (*Baton, error) {
	return e.open(ctx, path, true)
}

func (e *jobEditor) open(ctx context.Context, path string, isDir bool) (*Baton, error) {
	guid, err := e.store.GUIDForPath(ctx, e.branch, path, e.job.EndRev, isDir)
	if err != nil {
		return nil, fmt.Errorf("resolving entry %s: %w", path, err)
	}
	// No action yet: an opened entry only produces a job row if a
	// content or property change follows.
	return &Baton{path: path, guid: guid}, nil
}

func (e *jobEditor) ApplyTextDelta(_ context.Context, b *Baton) error {
	if b.action != model.ActionAdded {
		b.action = model.ActionModified
	}
	return nil
}

func (e *jobEditor) ChangeProp(_ context.Context, b *Baton, name string, value *string) error {
	if isReservedProp(name) {
		return nil
	}
	b.props = append(b.props, propChange{name: name, value: value})
	return nil
}

func (e *jobEditor) AbsentEntry(_ context.Context, path string) error {
	e.logger.Warn("source could not resolve entry, skipping", "path", path)
	return nil
}

func (e *jobEditor) Close(ctx context.Context, b *Baton) error {
	if b.action == model.ActionNone && len(b.props) == 0 {
		return nil
	}

	action := b.action
	if action == model.ActionNone {
		action = model.ActionPropertyOnly
	}
	if err := e.record(ctx, b.guid, action); err != nil {
		return err
	}

	for _, pc := range b.props {
		jp := &model.JobProperty{
			JobID:  e.job.ID,
			GUIDID: b.guid.ID,
			Name:   pc.name,
			Action: model.PropModified,
		}
		if pc.value == nil {
			jp.Action = model.PropDeleted
		}
		if err := e.store.UpsertJobProperty(ctx, jp); err != nil {
			return fmt.Errorf("recording property %s on %s: %w", pc.name, b.path, err)
		}

		// Keep the live property mirror in step with the reported change.
		var err error
		if pc.value == nil {
			err = e.store.DeleteEntityProperty(ctx, b.guid.ID, pc.name)
		} else {
			err = e.store.SetEntityProperty(ctx, b.guid.ID, pc.name, *pc.value)
		}
		if err != nil {
			return fmt.Errorf("updating property mirror for %s: %w", b.path, err)
		}
	}

	return nil
}

func (e *jobEditor) Abort(_ context.Context) error {
	e.logger.Error("tree-delta walk aborted", "job", e.job.ID)
	return nil
}

// record persists a job-file row for the entity. If a row already exists
// the entity was touched at two different paths within this job (it was
// deleted at one path and re-added at another). Whether its content
// actually changed cannot be known until both endpoints are compared, so
// the row collapses to uncertain with path_changed set and is resolved
// by the deferred pass.
func (e *jobEditor) record(ctx context.Context, guid *model.GUID, action model.FileAction) error {
	existing, err := e.store.GetJobFile(ctx, e.job.ID, guid.ID)
	if err != nil {
		return fmt.Errorf("checking for existing job file: %w", err)
	}

	if existing == nil {
		jf := &model.JobFile{JobID: e.job.ID, GUIDID: guid.ID, Action: action}
		if err := e.store.InsertJobFile(ctx, jf); err != nil {
			return fmt.Errorf("recording job file: %w", err)
		}
	} else if err := e.store.MarkJobFileUncertain(ctx, e.job.ID, guid.ID); err != nil {
		return fmt.Errorf("collapsing job file: %w", err)
	}

	if err := e.store.TouchGUID(ctx, guid.ID, e.job.EndRev); err != nil {
		return fmt.Errorf("touching entity: %w", err)
	}
	return nil
}
