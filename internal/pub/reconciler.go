package pub

import (
	"context"
	"fmt"

	"revpub/internal/model"
)

// ReconcileURLs reconciles the URL set an entity currently wants to
// publish against the rows previously recorded for it. URLs no longer
// asserted become redirects to their replacement when one can be matched,
// or gone otherwise. The returned flags report whether the derived
// redirect and gone artifacts need rebuilding.
//
// The whole reconciliation runs in one transaction. Claiming a URL that
// is active for a different entity fails the entity's reconciliation
// wholesale with ErrURLConflict.
func (s *PublishService) ReconcileURLs(ctx context.Context, entity *model.GUID, desired []model.DesiredURL) (redirectsChanged, goneChanged bool, err error) {
	err = s.db.InTransaction(ctx, func(tx Store) error {
		var txErr error
		redirectsChanged, goneChanged, txErr = s.reconcile(ctx, tx, entity, desired)
		return txErr
	})
	if err != nil {
		return false, false, err
	}
	return redirectsChanged, goneChanged, nil
}

func (s *PublishService) reconcile(ctx context.Context, tx Store, entity *model.GUID, desired []model.DesiredURL) (bool, bool, error) {
	rows, err := tx.URLsForEntity(ctx, s.workingCopyID, entity.ID)
	if err != nil {
		return false, false, fmt.Errorf("loading urls for entity %s: %w", entity.ID, err)
	}

	// Partition the entity's existing rows by current status.
	oldActive := make(map[string]*model.URL)
	oldRedirect := make(map[string]*model.URL)
	oldGone := make(map[string]*model.URL)
	for _, r := range rows {
		switch r.Status {
		case model.URLActive:
			oldActive[r.URL] = r
		case model.URLRedirect:
			oldRedirect[r.URL] = r
		case model.URLGone:
			oldGone[r.URL] = r
		}
	}

	var redirectsChanged, goneChanged bool

	// Apply the desired URLs one at a time. resolved[i] is the row now
	// backing desired[i]; retiring rows redirect to these.
	resolved := make([]*model.URL, len(desired))
	for i, d := range desired {
		switch {
		case oldActive[d.URL] != nil:
			r := oldActive[d.URL]
			applyDesired(r, d)
			if err := tx.UpdateURL(ctx, r); err != nil {
				return false, false, fmt.Errorf("updating url %s: %w", d.URL, err)
			}
			delete(oldActive, d.URL)
			resolved[i] = r

		case oldRedirect[d.URL] != nil:
			r := oldRedirect[d.URL]
			r.Status = model.URLActive
			r.RedirectToID = nil
			applyDesired(r, d)
			if err := tx.UpdateURL(ctx, r); err != nil {
				return false, false, fmt.Errorf("reactivating url %s: %w", d.URL, err)
			}
			redirectsChanged = true
			delete(oldRedirect, d.URL)
			resolved[i] = r

		case oldGone[d.URL] != nil:
			r := oldGone[d.URL]
			r.Status = model.URLActive
			applyDesired(r, d)
			if err := tx.UpdateURL(ctx, r); err != nil {
				return false, false, fmt.Errorf("reactivating url %s: %w", d.URL, err)
			}
			goneChanged = true
			delete(oldGone, d.URL)
			resolved[i] = r

		default:
			// A URL string this entity never held. It may still exist in
			// the working copy under another entity.
			r, err := tx.FindURL(ctx, s.workingCopyID, d.URL)
			if err != nil {
				return false, false, fmt.Errorf("looking up url %s: %w", d.URL, err)
			}
			switch {
			case r == nil:
				r = &model.URL{
					WorkingCopyID: s.workingCopyID,
					URL:           d.URL,
					GUIDID:        entity.ID,
					Status:        model.URLActive,
				}
				applyDesired(r, d)
				if err := tx.InsertURL(ctx, r); err != nil {
					return false, false, fmt.Errorf("inserting url %s: %w", d.URL, err)
				}

			case r.Status == model.URLActive && r.GUIDID != entity.ID:
				return false, false, fmt.Errorf("url %q held by entity %s: %w", d.URL, r.GUIDID, ErrURLConflict)

			case r.Status == model.URLActive:
				// Already active for this entity (duplicate desired entry).
				applyDesired(r, d)
				if err := tx.UpdateURL(ctx, r); err != nil {
					return false, false, fmt.Errorf("updating url %s: %w", d.URL, err)
				}

			default:
				// Redirect or gone row, possibly minted by another entity
				// historically: take it over.
				s.logger.Info("url taken over", "url", d.URL, "from_entity", r.GUIDID, "entity", entity.ID, "prior_status", string(r.Status))
				if r.Status == model.URLRedirect {
					redirectsChanged = true
				} else {
					goneChanged = true
				}
				r.GUIDID = entity.ID
				r.Status = model.URLActive
				r.RedirectToID = nil
				applyDesired(r, d)
				if err := tx.UpdateURL(ctx, r); err != nil {
					return false, false, fmt.Errorf("taking over url %s: %w", d.URL, err)
				}
			}
			resolved[i] = r
		}
	}

	// Retire previously active URLs that were not reasserted. Iterate the
	// original row order so the outcome is deterministic.
	for _, r := range rows {
		if oldActive[r.URL] != r {
			continue
		}

		if len(desired) == 0 {
			// The entity stopped publishing entirely.
			rc, err := s.retireToGone(ctx, tx, r)
			if err != nil {
				return false, false, err
			}
			goneChanged = true
			redirectsChanged = redirectsChanged || rc
			continue
		}

		target := bestMatch(r, desired, resolved)
		if target == nil {
			if _, err := s.retireToGone(ctx, tx, r); err != nil {
				return false, false, err
			}
			goneChanged = true
			continue
		}

		// Flatten: anything that redirected to the retiring row now
		// points one hop directly at the replacement.
		deps, err := tx.URLsRedirectingTo(ctx, s.workingCopyID, r.ID)
		if err != nil {
			return false, false, fmt.Errorf("finding redirects to %s: %w", r.URL, err)
		}
		for _, dep := range deps {
			dep.RedirectToID = &target.ID
			if err := tx.UpdateURL(ctx, dep); err != nil {
				return false, false, fmt.Errorf("repointing redirect %s: %w", dep.URL, err)
			}
		}

		r.Status = model.URLRedirect
		r.RedirectToID = &target.ID
		r.ContentType = target.ContentType
		if err := tx.UpdateURL(ctx, r); err != nil {
			return false, false, fmt.Errorf("retiring url %s: %w", r.URL, err)
		}
		redirectsChanged = true
		s.logger.Debug("url retired to redirect", "url", r.URL, "target", target.URL)
	}

	return redirectsChanged, goneChanged, nil
}

// retireToGone marks a row gone and cascades to rows that redirected to
// it, which are orphaned and become gone as well. It reports whether any
// redirect row changed.
func (s *PublishService) retireToGone(ctx context.Context, tx Store, r *model.URL) (bool, error) {
	deps, err := tx.URLsRedirectingTo(ctx, s.workingCopyID, r.ID)
	if err != nil {
		return false, fmt.Errorf("finding redirects to %s: %w", r.URL, err)
	}
	for _, dep := range deps {
		dep.Status = model.URLGone
		dep.RedirectToID = nil
		if err := tx.UpdateURL(ctx, dep); err != nil {
			return false, fmt.Errorf("orphaning redirect %s: %w", dep.URL, err)
		}
	}

	r.Status = model.URLGone
	r.RedirectToID = nil
	if err := tx.UpdateURL(ctx, r); err != nil {
		return false, fmt.Errorf("retiring url %s: %w", r.URL, err)
	}
	s.logger.Debug("url retired to gone", "url", r.URL, "orphaned", len(deps))
	return len(deps) > 0, nil
}

// bestMatch picks the replacement for a retiring active URL: candidates
// must serve the same logical resource, meaning an identical
// (generator, method, argument) triple. A candidate with the retiring
// row's content type wins; otherwise the first candidate in list order.
func bestMatch(retiring *model.URL, desired []model.DesiredURL, resolved []*model.URL) *model.URL {
	var first *model.URL
	for i, d := range desired {
		if d.Generator != retiring.Generator || d.Method != retiring.Method || d.Argument != retiring.Argument {
			continue
		}
		if d.ContentType == retiring.ContentType {
			return resolved[i]
		}
		if first == nil {
			first = resolved[i]
		}
	}
	return first
}

func applyDesired(r *model.URL, d model.DesiredURL) {
	r.Generator = d.Generator
	r.Method = d.Method
	r.Argument = d.Argument
	r.ContentType = d.ContentType
}
