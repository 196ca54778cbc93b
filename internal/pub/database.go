package pub

import (
	"context"

	"revpub/internal/model"
)

// Store is the transactional view of the publish database. All methods
// run inside the transaction opened by Database.InTransaction; an error
// from any of them aborts the whole transaction.
type Store interface {
	IdentityStore
	PropertyStore

	// Job operations

	// InsertJob creates the job row for one reconciliation pass.
	InsertJob(ctx context.Context, job *model.Job) error

	// GetJobFile returns the job-file row for (jobID, guidID), or
	// (nil, nil) if none exists yet.
	GetJobFile(ctx context.Context, jobID, guidID string) (*model.JobFile, error)

	// InsertJobFile creates a job-file row.
	InsertJobFile(ctx context.Context, jf *model.JobFile) error

	// MarkJobFileUncertain collapses an existing job-file row after a
	// second event for the same entity: action becomes uncertain and
	// path_changed is set.
	MarkJobFileUncertain(ctx context.Context, jobID, guidID string) error

	// SetJobFileAction overwrites the action of an existing job-file row.
	SetJobFileAction(ctx context.Context, jobID, guidID string, action model.FileAction) error

	// JobFilesWithPathChanged returns the job-file rows awaiting deferred
	// resolution.
	JobFilesWithPathChanged(ctx context.Context, jobID string) ([]*model.JobFile, error)

	// UpsertJobProperty records a property change, replacing any earlier
	// record for the same property in the same job.
	UpsertJobProperty(ctx context.Context, jp *model.JobProperty) error

	// DeleteJobProperties removes all property records for (jobID, guidID).
	DeleteJobProperties(ctx context.Context, jobID, guidID string) error

	// URL operations

	// URLsForEntity returns every URL row owned by the entity in the
	// working copy, in insertion order.
	URLsForEntity(ctx context.Context, workingCopyID, guidID string) ([]*model.URL, error)

	// FindURL returns the row holding the URL string in the working copy
	// regardless of owner, or (nil, nil).
	FindURL(ctx context.Context, workingCopyID, url string) (*model.URL, error)

	// InsertURL creates a URL row and fills in its assigned ID.
	InsertURL(ctx context.Context, u *model.URL) error

	// UpdateURL writes back a URL row. The store rejects writes that
	// would leave a redirect pointing at a non-active row.
	UpdateURL(ctx context.Context, u *model.URL) error

	// URLsRedirectingTo returns the rows whose redirect target is the
	// given row.
	URLsRedirectingTo(ctx context.Context, workingCopyID string, id int64) ([]*model.URL, error)

	// Last-published marker

	// LastPublishedRev returns the last successfully published revision
	// for the working copy, or 0 if nothing was ever published.
	LastPublishedRev(ctx context.Context, workingCopyID string) (int64, error)

	// SetLastPublishedRev records the last successfully published revision.
	SetLastPublishedRev(ctx context.Context, workingCopyID string, rev int64) error
}

// Database provides transactional access to the publish store plus the
// read-only queries the CLI needs.
type Database interface {
	// InTransaction runs fn inside a single transaction. If fn returns an
	// error the transaction is rolled back in full and the error is
	// returned; otherwise the transaction commits.
	InTransaction(ctx context.Context, fn func(Store) error) error

	// Read-only queries (each runs on its own implicit transaction).

	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*model.Job, error)
	JobFiles(ctx context.Context, jobID string) ([]*model.JobFile, error)
	JobProperties(ctx context.Context, jobID string) ([]*model.JobProperty, error)
	ListURLs(ctx context.Context, workingCopyID string) ([]*model.URL, error)
	LastPublishedRev(ctx context.Context, workingCopyID string) (int64, error)

	// Close closes the underlying connection.
	Close() error
}
