package pub_test

import (
	"context"
	"errors"
	"testing"

	"revpub/internal/model"
	"revpub/internal/pub"
)

func strptr(s string) *string { return &s }

func TestPublishService_CreateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("records added files", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.AddFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			if err := ed.ApplyTextDelta(ctx, b); err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		if job == nil {
			t.Fatal("CreateJob() returned no job")
		}
		if job.StartRev != 0 || job.EndRev != 1 {
			t.Errorf("job range = (%d, %d], want (0, 1]", job.StartRev, job.EndRev)
		}

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("JobFiles() count = %d, want 1", len(files))
		}
		if files[0].Action != model.ActionAdded {
			t.Errorf("action = %s, want added", files[0].Action)
		}
		if files[0].PathChanged {
			t.Error("path_changed set for a plain add")
		}

		rev, err := db.LastPublishedRev(ctx, "wc-test")
		if err != nil {
			t.Fatalf("LastPublishedRev() error = %v", err)
		}
		if rev != 1 {
			t.Errorf("last published rev = %d, want 1", rev)
		}
	})

	t.Run("returns nothing when caught up", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.AddFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("first CreateJob() error = %v", err)
		}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("second CreateJob() error = %v", err)
		}
		if job != nil {
			t.Errorf("second CreateJob() = %v, want nil (caught up)", job)
		}

		jobs, err := db.ListJobs(ctx, 10)
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 1 {
			t.Errorf("ListJobs() count = %d, want 1", len(jobs))
		}
	})

	t.Run("records deleted subtrees entry by entry", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddDirectory(1, "docs", nil)
		source.AddFile(1, "docs/a.md", []byte("a"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			if endRev == 1 {
				d, err := ed.AddDirectory(ctx, "docs")
				if err != nil {
					return err
				}
				if err := ed.Close(ctx, d); err != nil {
					return err
				}
				f, err := ed.AddFile(ctx, "docs/a.md")
				if err != nil {
					return err
				}
				return ed.Close(ctx, f)
			}
			// (1, 2]: the whole subtree is gone.
			return ed.DeleteEntry(ctx, "docs")
		}

		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("first CreateJob() error = %v", err)
		}

		source.Latest = 2
		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("second CreateJob() error = %v", err)
		}

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("JobFiles() count = %d, want 2", len(files))
		}
		for _, f := range files {
			if f.Action != model.ActionDeleted {
				t.Errorf("action = %s, want deleted", f.Action)
			}
		}
	})

	t.Run("skips absent entries", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			if err := ed.AbsentEntry(ctx, "posts/ghost.md"); err != nil {
				return err
			}
			b, err := ed.AddFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Errorf("JobFiles() count = %d, want 1", len(files))
		}
	})

	t.Run("rolls back everything when the walk fails", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		walkErr := errors.New("source unavailable")
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.AddFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			if err := ed.Close(ctx, b); err != nil {
				return err
			}
			return walkErr
		}

		if _, err := svc.CreateJob(ctx); !errors.Is(err, walkErr) {
			t.Fatalf("CreateJob() error = %v, want %v", err, walkErr)
		}

		jobs, err := db.ListJobs(ctx, 10)
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("ListJobs() count = %d, want 0 after rollback", len(jobs))
		}
		rev, err := db.LastPublishedRev(ctx, "wc-test")
		if err != nil {
			t.Fatalf("LastPublishedRev() error = %v", err)
		}
		if rev != 0 {
			t.Errorf("last published rev = %d, want 0 after rollback", rev)
		}
	})

	t.Run("explicit range ignores the published marker", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.AddFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}
		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("setup CreateJob() error = %v", err)
		}

		job, err := svc.CreateJobFrom(ctx, 0)
		if err != nil {
			t.Fatalf("CreateJobFrom() error = %v", err)
		}
		if job == nil {
			t.Fatal("CreateJobFrom() returned no job despite explicit range")
		}
		if job.StartRev != 0 || job.EndRev != 1 {
			t.Errorf("job range = (%d, %d], want (0, 1]", job.StartRev, job.EndRev)
		}

		jobs, err := db.ListJobs(ctx, 10)
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 2 {
			t.Errorf("ListJobs() count = %d, want 2", len(jobs))
		}
	})
}

func TestPublishService_Properties(t *testing.T) {
	ctx := context.Background()

	t.Run("records property-only changes", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.OpenFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			if err := ed.ChangeProp(ctx, b, "title", strptr("Hello World")); err != nil {
				return err
			}
			if err := ed.ChangeProp(ctx, b, "draft", nil); err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 || files[0].Action != model.ActionPropertyOnly {
			t.Fatalf("JobFiles() = %+v, want one property-only row", files)
		}

		props, err := db.JobProperties(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobProperties() error = %v", err)
		}
		if len(props) != 2 {
			t.Fatalf("JobProperties() count = %d, want 2", len(props))
		}
		actions := make(map[string]model.PropAction)
		for _, p := range props {
			actions[p.Name] = p.Action
		}
		if actions["title"] != model.PropModified {
			t.Errorf("title action = %s, want modified", actions["title"])
		}
		if actions["draft"] != model.PropDeleted {
			t.Errorf("draft action = %s, want deleted", actions["draft"])
		}
	})

	t.Run("ignores reserved properties", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/hello.md", []byte("hello"), nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			b, err := ed.OpenFile(ctx, "posts/hello.md")
			if err != nil {
				return err
			}
			if err := ed.ChangeProp(ctx, b, "revpub:checksum", strptr("abc")); err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		// The only change was reserved, so the entry produced no row at all.
		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 0 {
			t.Errorf("JobFiles() count = %d, want 0", len(files))
		}
	})
}

func TestPublishService_Renames(t *testing.T) {
	ctx := context.Background()

	// setup publishes rev 1 with one file, then declares a move to newPath
	// in rev 2 with the given content, and runs the second job.
	setup := func(t *testing.T, content1, content2 []byte) (*model.Job, pub.Database) {
		t.Helper()
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/old.md", content1, nil)
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			if endRev == 1 {
				b, err := ed.AddFile(ctx, "posts/old.md")
				if err != nil {
					return err
				}
				return ed.Close(ctx, b)
			}
			// (1, 2]: the file vanished at one path and appeared at another.
			if err := ed.DeleteEntry(ctx, "posts/old.md"); err != nil {
				return err
			}
			b, err := ed.AddFile(ctx, "posts/new.md")
			if err != nil {
				return err
			}
			if err := ed.ApplyTextDelta(ctx, b); err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("first CreateJob() error = %v", err)
		}

		source.AddFile(2, "posts/new.md", content2, nil)
		source.MoveList = []pub.Move{{From: "posts/old.md", To: "posts/new.md", Rev: 2}}

		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("second CreateJob() error = %v", err)
		}
		return job, db
	}

	t.Run("pure rename collapses to no action", func(t *testing.T) {
		job, db := setup(t, []byte("same content"), []byte("same content"))

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("JobFiles() count = %d, want 1 (delete and add collapsed)", len(files))
		}
		if files[0].Action != model.ActionNone {
			t.Errorf("action = %q, want none", files[0].Action)
		}
		if !files[0].PathChanged {
			t.Error("path_changed not set for a rename")
		}
	})

	t.Run("rename with edit resolves to modified", func(t *testing.T) {
		job, db := setup(t, []byte("before"), []byte("after"))

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("JobFiles() count = %d, want 1", len(files))
		}
		if files[0].Action != model.ActionModified {
			t.Errorf("action = %s, want modified", files[0].Action)
		}
		if !files[0].PathChanged {
			t.Error("path_changed not set for a rename")
		}
	})

	t.Run("rename re-diffs properties against the old revision", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/old.md", []byte("same"), map[string]string{"title": "Old", "keep": "Same"})
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			if endRev == 1 {
				b, err := ed.AddFile(ctx, "posts/old.md")
				if err != nil {
					return err
				}
				if err := ed.ChangeProp(ctx, b, "title", strptr("Old")); err != nil {
					return err
				}
				if err := ed.ChangeProp(ctx, b, "keep", strptr("Same")); err != nil {
					return err
				}
				return ed.Close(ctx, b)
			}
			if err := ed.DeleteEntry(ctx, "posts/old.md"); err != nil {
				return err
			}
			b, err := ed.AddFile(ctx, "posts/new.md")
			if err != nil {
				return err
			}
			// The walk reports every property of the re-added file, changed
			// or not. The deferred pass must reduce this to the real diff.
			if err := ed.ChangeProp(ctx, b, "title", strptr("New")); err != nil {
				return err
			}
			if err := ed.ChangeProp(ctx, b, "keep", strptr("Same")); err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("first CreateJob() error = %v", err)
		}
		source.AddFile(2, "posts/new.md", []byte("same"), map[string]string{"title": "New", "keep": "Same"})
		source.MoveList = []pub.Move{{From: "posts/old.md", To: "posts/new.md", Rev: 2}}
		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("second CreateJob() error = %v", err)
		}

		props, err := db.JobProperties(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobProperties() error = %v", err)
		}
		if len(props) != 1 {
			t.Fatalf("JobProperties() = %+v, want only the changed property", props)
		}
		if props[0].Name != "title" || props[0].Action != model.PropModified {
			t.Errorf("property = %+v, want title modified", props[0])
		}
	})

	t.Run("rename drops properties absent at the new path", func(t *testing.T) {
		svc, db, source := newTestService(t)
		source.AddFile(1, "posts/old.md", []byte("same"), map[string]string{"draft": "yes"})
		source.Script = func(ctx context.Context, startRev, endRev int64, ed pub.Editor) error {
			if endRev == 1 {
				b, err := ed.AddFile(ctx, "posts/old.md")
				if err != nil {
					return err
				}
				if err := ed.ChangeProp(ctx, b, "draft", strptr("yes")); err != nil {
					return err
				}
				return ed.Close(ctx, b)
			}
			// (1, 2]: the add at the new path carries no properties, so the
			// walk never reports a deletion for the one set at the old path.
			if err := ed.DeleteEntry(ctx, "posts/old.md"); err != nil {
				return err
			}
			b, err := ed.AddFile(ctx, "posts/new.md")
			if err != nil {
				return err
			}
			return ed.Close(ctx, b)
		}

		if _, err := svc.CreateJob(ctx); err != nil {
			t.Fatalf("first CreateJob() error = %v", err)
		}
		source.AddFile(2, "posts/new.md", []byte("same"), nil)
		source.MoveList = []pub.Move{{From: "posts/old.md", To: "posts/new.md", Rev: 2}}
		job, err := svc.CreateJob(ctx)
		if err != nil {
			t.Fatalf("second CreateJob() error = %v", err)
		}

		props, err := db.JobProperties(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobProperties() error = %v", err)
		}
		if len(props) != 1 {
			t.Fatalf("JobProperties() = %+v, want one deleted row", props)
		}
		if props[0].Name != "draft" || props[0].Action != model.PropDeleted {
			t.Errorf("property = %+v, want draft deleted", props[0])
		}

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("JobFiles() count = %d, want 1", len(files))
		}
		var mirror map[string]string
		err = db.InTransaction(ctx, func(tx pub.Store) error {
			var err error
			mirror, err = tx.EntityProperties(ctx, files[0].GUIDID)
			return err
		})
		if err != nil {
			t.Fatalf("EntityProperties() error = %v", err)
		}
		if len(mirror) != 0 {
			t.Errorf("mirrored properties = %v, want none after the rename", mirror)
		}
	})

	t.Run("rename keeps the entity identity", func(t *testing.T) {
		job, db := setup(t, []byte("same"), []byte("same"))

		files, err := db.JobFiles(ctx, job.ID)
		if err != nil {
			t.Fatalf("JobFiles() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("JobFiles() count = %d, want 1", len(files))
		}

		var history []model.PathInterval
		err = db.InTransaction(ctx, func(tx pub.Store) error {
			var err error
			history, err = tx.PathHistory(ctx, files[0].GUIDID, "trunk")
			return err
		})
		if err != nil {
			t.Fatalf("PathHistory() error = %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("PathHistory() count = %d, want 2", len(history))
		}
		if history[0].Path != "posts/old.md" || history[0].LastRev != 1 {
			t.Errorf("first interval = %+v, want posts/old.md closed at 1", history[0])
		}
		if history[1].Path != "posts/new.md" || history[1].LastRev != 0 {
			t.Errorf("second interval = %+v, want posts/new.md open", history[1])
		}
	})
}
