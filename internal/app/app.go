package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"revpub/internal/config"
	"revpub/internal/database"
	"revpub/internal/model"
	"revpub/internal/pub"
	"revpub/internal/revfs"
)

// PublishApp is the application layer between the CLI and PublishService.
// It constructs all dependencies from config and manages the DB lifecycle
// on Close.
type PublishApp struct {
	cfg     *config.Config
	db      pub.Database
	source  pub.RevisionSource
	service *pub.PublishService
	logFile *os.File
}

// NewPublishApp creates a fully wired PublishApp from the given config.
// operation identifies the CLI command being run (e.g. "Publish").
// The caller must call Close when done.
func NewPublishApp(cfg *config.Config, operation string) (*PublishApp, error) {
	source, err := newSourceFromConfig(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("creating revision source: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.WorkingCopyID, cfg.TagAuthority)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if sq, ok := db.(*database.SQLiteDatabase); ok && cfg.Database.Type == "sqlite" {
		if err := sq.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := pub.NewPublishService(db, source, cfg.Repository.Branch, cfg.WorkingCopyID,
		&slogAdapter{l: logger}, pub.RealClock{}, pub.UUIDGenerator{})

	return &PublishApp{
		cfg:     cfg,
		db:      db,
		source:  source,
		service: svc,
		logFile: logFile,
	}, nil
}

func newSourceFromConfig(cfg config.RepositoryConfig) (pub.RevisionSource, error) {
	switch cfg.Type {
	case "revfs":
		if cfg.Root == "" {
			return nil, fmt.Errorf("root required for revfs repository")
		}
		return revfs.New(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown repository type: %s", cfg.Type)
	}
}

// MigrateDatabase brings the configured database schema up to the latest
// version, creating it if necessary.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.WorkingCopyID, cfg.TagAuthority)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	sq, ok := db.(*database.SQLiteDatabase)
	if !ok {
		return nil // already migrated by the factory
	}
	if err := sq.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// Publish creates a publish job for everything since the last published
// revision. Returns nil when already caught up.
func (a *PublishApp) Publish(ctx context.Context) (*model.Job, error) {
	return a.service.CreateJob(ctx)
}

// PublishFrom creates a publish job for the explicit range (startRev, latest].
func (a *PublishApp) PublishFrom(ctx context.Context, startRev int64) (*model.Job, error) {
	return a.service.CreateJobFrom(ctx, startRev)
}

// ListJobs returns the most recent publish jobs.
func (a *PublishApp) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	return a.service.ListJobs(ctx, limit)
}

// JobDetail returns a job with its file and property rows.
func (a *PublishApp) JobDetail(ctx context.Context, jobID string) (*model.Job, []*model.JobFile, []*model.JobProperty, error) {
	return a.service.JobDetail(ctx, jobID)
}

// ListURLs returns the URL table of the working copy.
func (a *PublishApp) ListURLs(ctx context.Context) ([]*model.URL, error) {
	return a.service.ListURLs(ctx)
}

// LastPublishedRev returns the last published revision of the working copy.
func (a *PublishApp) LastPublishedRev(ctx context.Context) (int64, error) {
	return a.db.LastPublishedRev(ctx, a.cfg.WorkingCopyID)
}

// Close closes all resources.
func (a *PublishApp) Close() error {
	var firstErr error

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
