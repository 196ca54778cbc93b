package pub

import (
	"context"

	"revpub/internal/model"
)

// IdentityStore maps stable entity identifiers (GUIDs) to their path
// history per branch. A GUID is minted the first time a path is seen and
// never deleted; only the identity store mutates GUID rows.
type IdentityStore interface {
	// GUIDForPath returns the entity that lives at path on the branch as
	// of rev, creating it on first sight. isDir is only consulted when a
	// new entity is minted.
	GUIDForPath(ctx context.Context, branch, path string, rev int64, isDir bool) (*model.GUID, error)

	// GetGUID returns an entity by its id, or (nil, nil) if unknown.
	GetGUID(ctx context.Context, id string) (*model.GUID, error)

	// PathHistory returns the ordered path intervals for an entity on a
	// branch. Exactly one interval per branch is open (LastRev == 0).
	PathHistory(ctx context.Context, guidID, branch string) ([]model.PathInterval, error)

	// MovePath closes the entity's open interval at rev-1 and opens a new
	// interval at newPath starting at rev.
	MovePath(ctx context.Context, guidID, branch, newPath string, rev int64) error

	// TouchGUID advances the entity's last-changed revision.
	TouchGUID(ctx context.Context, id string, rev int64) error
}

// PropertyStore serves the current property values of an entity. The
// values mirror the property state at the last published revision.
type PropertyStore interface {
	EntityProperties(ctx context.Context, guidID string) (map[string]string, error)
	SetEntityProperty(ctx context.Context, guidID, name, value string) error
	DeleteEntityProperty(ctx context.Context, guidID, name string) error
}

// TreeEntry is one path in a revision tree listing.
type TreeEntry struct {
	Path  string
	IsDir bool
}

// Move declares that a path was renamed or moved in a revision. The
// identity store applies moves before the delta walk so that both the old
// and the new path resolve to the same entity.
type Move struct {
	From  string
	To    string
	Rev   int64
	IsDir bool
}

// RevisionSource is the revision-control backend the engine publishes
// from. It describes the change between two revisions as a tree-delta
// callback stream and serves point-in-time content and property fetches.
type RevisionSource interface {
	// LatestRevision returns the newest committed revision number.
	LatestRevision(ctx context.Context) (int64, error)

	// Moves returns the renames recorded in the half-open range
	// (startRev, endRev], oldest first.
	Moves(ctx context.Context, startRev, endRev int64) ([]Move, error)

	// DriveDelta walks the cumulative change between startRev and endRev
	// and calls the editor in depth-first, parent-before-child order.
	// A non-nil return means the walk failed; the caller must roll back
	// everything recorded so far.
	DriveDelta(ctx context.Context, startRev, endRev int64, ed Editor) error

	// ListTree lists the subtree rooted at path as of rev, including the
	// root entry itself.
	ListTree(ctx context.Context, path string, rev int64) ([]TreeEntry, error)

	// EntryAt returns the content and properties of the entry at path as
	// of rev. Content is nil for directories.
	EntryAt(ctx context.Context, path string, rev int64) ([]byte, map[string]string, error)
}
