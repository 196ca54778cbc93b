package pub

import (
	"context"
	"errors"
	"fmt"

	"revpub/internal/model"
)

// errCaughtUp aborts the job transaction when there is nothing to publish.
var errCaughtUp = errors.New("already caught up")

// PublishService is the orchestration layer of the reconciliation engine.
// It drives the tree-delta walk that builds publish jobs and reconciles
// the URL table per entity. One publish job runs at a time against one
// working copy; working copies with disjoint state may run concurrently.
type PublishService struct {
	db            Database
	source        RevisionSource
	branch        string
	workingCopyID string
	logger        Logger
	clock         Clock
	idgen         IDGenerator
}

// NewPublishService creates a PublishService with the provided dependencies.
func NewPublishService(db Database, source RevisionSource, branch, workingCopyID string, logger Logger, clock Clock, idgen IDGenerator) *PublishService {
	return &PublishService{
		db:            db,
		source:        source,
		branch:        branch,
		workingCopyID: workingCopyID,
		logger:        logger,
		clock:         clock,
		idgen:         idgen,
	}
}

// CreateJob publishes everything since the last published revision.
// It returns (nil, nil) when the working copy is already caught up to the
// latest revision; no empty job is created. Re-invoking after a failure
// retries the same range from scratch.
func (s *PublishService) CreateJob(ctx context.Context) (*model.Job, error) {
	return s.createJob(ctx, 0, false)
}

// CreateJobFrom publishes the explicit half-open range (startRev, latest].
func (s *PublishService) CreateJobFrom(ctx context.Context, startRev int64) (*model.Job, error) {
	return s.createJob(ctx, startRev, true)
}

// createJob runs the whole pass inside one transaction: the delta walk,
// the deferred resolution of path changes, and the last-published marker
// update. Any error rolls back all of it, so a retry sees the store
// exactly as before.
func (s *PublishService) createJob(ctx context.Context, startRev int64, explicit bool) (*model.Job, error) {
	latest, err := s.source.LatestRevision(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking latest revision: %w", err)
	}

	var job *model.Job
	err = s.db.InTransaction(ctx, func(tx Store) error {
		start := startRev
		if !explicit {
			published, err := tx.LastPublishedRev(ctx, s.workingCopyID)
			if err != nil {
				return fmt.Errorf("reading last published revision: %w", err)
			}
			if published >= latest {
				return errCaughtUp
			}
			start = published
		}

		j := &model.Job{
			ID:        s.idgen.New(),
			StartRev:  start,
			EndRev:    latest,
			CreatedAt: s.clock.Now(),
		}
		if err := tx.InsertJob(ctx, j); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}

		if err := s.applyMoves(ctx, tx, start, latest); err != nil {
			return err
		}

		ed := newJobEditor(tx, s.source, j, s.branch, s.logger)
		if err := s.source.DriveDelta(ctx, start, latest, ed); err != nil {
			return fmt.Errorf("walking tree delta (%d, %d]: %w", start, latest, err)
		}

		if err := s.resolvePathChanges(ctx, tx, j); err != nil {
			return err
		}

		if err := tx.SetLastPublishedRev(ctx, s.workingCopyID, latest); err != nil {
			return fmt.Errorf("updating last published revision: %w", err)
		}

		job = j
		return nil
	})
	if errors.Is(err, errCaughtUp) {
		s.logger.Info("nothing to publish", "revision", latest)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("publish job created", "job", job.ID, "start_rev", job.StartRev, "end_rev", job.EndRev)
	return job, nil
}

// applyMoves feeds the renames declared by the revision source into the
// identity store before the walk, so a path that was deleted at one place
// and re-added at another resolves to the same entity on both sides.
func (s *PublishService) applyMoves(ctx context.Context, tx Store, startRev, endRev int64) error {
	moves, err := s.source.Moves(ctx, startRev, endRev)
	if err != nil {
		return fmt.Errorf("reading moves (%d, %d]: %w", startRev, endRev, err)
	}

	for _, mv := range moves {
		guid, err := tx.GUIDForPath(ctx, s.branch, mv.From, mv.Rev-1, mv.IsDir)
		if err != nil {
			return fmt.Errorf("resolving moved path %s: %w", mv.From, err)
		}
		if err := tx.MovePath(ctx, guid.ID, s.branch, mv.To, mv.Rev); err != nil {
			return fmt.Errorf("moving %s to %s: %w", mv.From, mv.To, err)
		}
		s.logger.Debug("path moved", "from", mv.From, "to", mv.To, "rev", mv.Rev)
	}
	return nil
}

// ListJobs returns the most recent publish jobs, newest first.
func (s *PublishService) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.db.ListJobs(ctx, limit)
}

// JobDetail returns a job together with its file and property rows.
func (s *PublishService) JobDetail(ctx context.Context, jobID string) (*model.Job, []*model.JobFile, []*model.JobProperty, error) {
	job, err := s.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("finding job: %w", err)
	}
	if job == nil {
		return nil, nil, nil, fmt.Errorf("no such job: %s", jobID)
	}
	files, err := s.db.JobFiles(ctx, jobID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing job files: %w", err)
	}
	props, err := s.db.JobProperties(ctx, jobID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing job properties: %w", err)
	}
	return job, files, props, nil
}

// ListURLs returns every URL row in the working copy.
func (s *PublishService) ListURLs(ctx context.Context) ([]*model.URL, error) {
	return s.db.ListURLs(ctx, s.workingCopyID)
}
