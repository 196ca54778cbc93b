package model

import "time"

// FileAction summarizes what happened to an entity within one publish job.
type FileAction string

const (
	// ActionNone marks a resolved pure rename: the path changed but the
	// content did not, so nothing needs republishing.
	ActionNone         FileAction = ""
	ActionAdded        FileAction = "added"
	ActionModified     FileAction = "modified"
	ActionDeleted      FileAction = "deleted"
	ActionPropertyOnly FileAction = "property-only"
	// ActionUncertain marks an entity touched at more than one path in the
	// same job. It is resolved by the deferred comparison pass.
	ActionUncertain FileAction = "uncertain"
)

// PropAction describes how a single property changed.
type PropAction string

const (
	PropModified PropAction = "modified"
	PropDeleted  PropAction = "deleted"
)

// URLStatus is the lifecycle state of a published URL.
type URLStatus string

const (
	URLActive   URLStatus = "active"
	URLRedirect URLStatus = "redirect"
	URLGone     URLStatus = "gone"
)

// GUID is the permanent identity of a file or directory, stable across
// renames and moves. The URI is a tag-style identifier minted once and
// never changed.
type GUID struct {
	ID             string // UUID
	URI            string // Permanent tag: URI
	IsDir          bool
	FirstRev       int64 // Revision the entity first appeared in
	LastChangedRev int64 // Last revision that touched the entity
}

// PathInterval is one segment of an entity's path history on a branch.
// LastRev == 0 means the interval is still open (the entity currently
// lives at Path).
type PathInterval struct {
	Path     string
	FirstRev int64
	LastRev  int64
}

// Job identifies one reconciliation pass over the half-open revision
// range (StartRev, EndRev].
type Job struct {
	ID        string // UUID
	StartRev  int64
	EndRev    int64
	CreatedAt time.Time
}

// JobFile records that an entity changed within a job. At most one row
// exists per (JobID, GUIDID).
type JobFile struct {
	JobID       string
	GUIDID      string
	Action      FileAction
	PathChanged bool
}

// JobProperty records a single property change on an entity within a job.
type JobProperty struct {
	JobID  string
	GUIDID string
	Name   string
	Action PropAction
}

// URL is one row of the durable URL table. A row is created the first
// time an entity publishes the URL string and persists indefinitely,
// cycling through Active, Redirect and Gone as content moves.
type URL struct {
	ID            int64
	WorkingCopyID string
	URL           string
	GUIDID        string
	Generator     string
	Method        string
	Argument      string
	ContentType   string
	Status        URLStatus
	RedirectToID  *int64 // Set only when Status == URLRedirect
}

// DesiredURL is one URL an entity currently wants to publish. The
// (Generator, Method, Argument) triple identifies the logical resource
// the URL serves and is the key used to match a retiring URL to its
// replacement.
type DesiredURL struct {
	URL         string
	Generator   string
	Method      string
	Argument    string
	ContentType string
}
