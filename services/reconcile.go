package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dealerscan/models"
)

// MaterialField is one comparator of the update predicate. A stored listing
// counts as updated when any comparator reports a change.
type MaterialField struct {
	Name    string
	Changed func(stored, candidate *models.Listing) bool
}

// MaterialFields is the update predicate. Cosmetic fields are left out so a
// reworded description does not count as an update.
var MaterialFields = []MaterialField{
	{Name: "price", Changed: func(s, c *models.Listing) bool { return s.Price != c.Price }},
	{Name: "title", Changed: func(s, c *models.Listing) bool { return s.Title != c.Title }},
}

func materiallyChanged(stored, candidate *models.Listing) (string, bool) {
	for _, f := range MaterialFields {
		if f.Changed(stored, candidate) {
			return f.Name, true
		}
	}
	return "", false
}

// Reconciliation is the outcome of one reconcile pass.
type Reconciliation struct {
	Result models.ScrapeResult
	// Emitted holds the post-reconcile entry for every processed candidate,
	// in snapshot order. Unchanged candidates emit the stored entry.
	Emitted []models.Listing
	// Changed holds every entry written to the store (new, updated, sold).
	Changed []models.Listing
}

// Reconciler diffs snapshots against a ListingStore. It is the only writer of
// listing status and internal timestamps.
type Reconciler struct {
	store  *ListingStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewReconciler(store *ListingStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Reconcile applies a snapshot to the store. maxListings caps the candidates
// processed (0 = no cap); every key in the snapshot still counts as seen, so
// listings past the cap are never marked sold. The store is written once at
// the end; a cancelled context leaves it untouched.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot []models.Listing, maxListings int) (*Reconciliation, error) {
	now := r.now()
	rec := &Reconciliation{
		Result: models.ScrapeResult{TotalFound: len(snapshot), Timestamp: now},
	}

	seen := make(map[string]bool, len(snapshot))
	for i := range snapshot {
		seen[snapshot[i].Key] = true
	}

	candidates := snapshot
	if maxListings > 0 && len(candidates) > maxListings {
		candidates = candidates[:maxListings]
	}

	pending := make(map[string]models.Listing)
	processed := make(map[string]bool, len(candidates))

	// 1. Classify each candidate against the store
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand := &candidates[i]
		if processed[cand.Key] {
			r.logger.Debug("duplicate key in snapshot", zap.String("key", cand.Key))
			continue
		}
		processed[cand.Key] = true

		stored, ok := r.store.Get(cand.Key)
		switch {
		case !ok:
			l := cand.Clone()
			l.ID = r.newID()
			l.Status = models.StatusNew
			l.FirstSeenAt = now
			l.UpdatedAt = now
			l.Publish = nil
			pending[l.Key] = l
			rec.Emitted = append(rec.Emitted, l)
			rec.Result.New++

		default:
			// A sold listing seen again stays sold until it changes.
			field, changed := materiallyChanged(&stored, cand)
			if !changed {
				rec.Emitted = append(rec.Emitted, stored)
				rec.Result.Unchanged++
				continue
			}
			l := merge(stored, cand, now)
			pending[l.Key] = l
			rec.Emitted = append(rec.Emitted, l)
			rec.Result.Updated++
			if stored.Status == models.StatusSold {
				r.logger.Info("sold listing reappeared with changes", zap.String("key", l.Key), zap.String("field", field))
			} else {
				r.logger.Debug("listing updated", zap.String("key", l.Key), zap.String("field", field))
			}
		}
	}

	// 2. Anything stored but not seen is sold
	for _, l := range r.store.All() {
		if seen[l.Key] || l.Status == models.StatusSold {
			continue
		}
		l.Status = models.StatusSold
		l.UpdatedAt = now
		pending[l.Key] = l
		rec.Result.Sold++
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. Commit in one pass
	r.store.commit(pending)
	for _, l := range pending {
		rec.Changed = append(rec.Changed, l)
	}

	r.logger.Info("reconciled snapshot",
		zap.Int("found", rec.Result.TotalFound),
		zap.Int("new", rec.Result.New),
		zap.Int("updated", rec.Result.Updated),
		zap.Int("sold", rec.Result.Sold),
		zap.Int("unchanged", rec.Result.Unchanged),
	)
	return rec, nil
}

// merge replaces the mutable fields of stored with the candidate's while
// keeping identity, first-seen time and any publish reference.
func merge(stored models.Listing, cand *models.Listing, now time.Time) models.Listing {
	l := cand.Clone()
	l.ID = stored.ID
	l.Key = stored.Key
	l.FirstSeenAt = stored.FirstSeenAt
	l.Publish = stored.Publish
	l.Status = models.StatusActive
	l.UpdatedAt = now
	return l
}
