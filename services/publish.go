package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dealerscan/models"
)

// Publisher pushes one listing to the external marketplace.
type Publisher interface {
	Publish(ctx context.Context, listing models.Listing) (models.PublishRef, error)
}

// AuthStatus reports whether the marketplace session is usable.
type AuthStatus interface {
	IsAuthenticated() bool
}

// RecordSaver persists publish records as they change.
type RecordSaver interface {
	SavePublishRecord(ctx context.Context, rec models.PublishRecord) error
}

// PublishSummary is the outcome of one publish phase.
type PublishSummary struct {
	Selected    int
	Published   int
	Failed      int
	Skipped     int
	AuthExpired bool
	Errors      []error

	// Listings holds the published listings with their new reference.
	Listings []models.Listing
}

// Coordinator decides what gets published and guarantees each listing key is
// submitted at most once across its lifetime. It owns the publish records.
type Coordinator struct {
	store     *ListingStore
	publisher Publisher
	auth      AuthStatus
	saver     RecordSaver
	logger    *zap.Logger
	workers   int
	now       func() time.Time

	mu       sync.Mutex
	records  map[string]models.PublishRecord
	inflight map[string]bool
}

func NewCoordinator(store *ListingStore, publisher Publisher, auth AuthStatus, saver RecordSaver, records []models.PublishRecord, workers int, logger *zap.Logger) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		store:     store,
		publisher: publisher,
		auth:      auth,
		saver:     saver,
		logger:    logger,
		workers:   workers,
		now:       time.Now,
		records:   make(map[string]models.PublishRecord, len(records)),
		inflight:  make(map[string]bool),
	}
	for _, r := range records {
		c.records[r.Key] = r
	}
	return c
}

// Select returns the listings eligible for publishing: new ones, or updated
// (active) ones when auto-publish is on, that were never published.
func (c *Coordinator) Select(listings []models.Listing, autoPublish bool) []models.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Listing
	for _, l := range listings {
		switch l.Status {
		case models.StatusNew:
		case models.StatusActive:
			if !autoPublish {
				continue
			}
		default:
			continue
		}
		if l.IsPublished() || c.publishedLocked(l.Key) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (c *Coordinator) publishedLocked(key string) bool {
	rec, ok := c.records[key]
	return ok && rec.Published()
}

// PublishAll publishes the eligible listings with bounded concurrency. It
// fails with ErrNotAuthenticated before any call when there is no session.
// An AuthExpired failure stops new calls; calls already in flight finish and
// their results are kept. The returned error wraps ErrAuthExpired then.
func (c *Coordinator) PublishAll(ctx context.Context, listings []models.Listing, autoPublish bool) (*PublishSummary, error) {
	if c.auth != nil && !c.auth.IsAuthenticated() {
		return &PublishSummary{}, models.ErrNotAuthenticated
	}

	selected := c.Select(listings, autoPublish)
	summary := &PublishSummary{Selected: len(selected)}
	if len(selected) == 0 {
		return summary, nil
	}

	var (
		stop atomic.Bool
		smu  sync.Mutex
		g    errgroup.Group
	)
	g.SetLimit(c.workers)

	for _, l := range selected {
		if stop.Load() || ctx.Err() != nil {
			smu.Lock()
			summary.Skipped++
			smu.Unlock()
			continue
		}
		g.Go(func() error {
			if stop.Load() || ctx.Err() != nil {
				smu.Lock()
				summary.Skipped++
				smu.Unlock()
				return nil
			}

			published, err := c.publishOne(ctx, l)

			smu.Lock()
			defer smu.Unlock()
			switch {
			case err == nil:
				summary.Published++
				summary.Listings = append(summary.Listings, published)
			case errors.Is(err, models.ErrAlreadyPublished):
				summary.Skipped++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("publish %s: %w", l.Key, err))
				if models.PublishErrorKindOf(err) == models.PublishAuthExpired {
					summary.AuthExpired = true
					stop.Store(true)
				}
			}
			return nil
		})
	}
	g.Wait()

	c.logger.Info("publish phase finished",
		zap.Int("selected", summary.Selected),
		zap.Int("published", summary.Published),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)

	if summary.AuthExpired {
		return summary, fmt.Errorf("publish phase stopped: %w", models.ErrAuthExpired)
	}
	return summary, nil
}

// PublishOne publishes a single listing on demand, under the same
// at-most-once and authentication rules as PublishAll. Sold listings are
// refused.
func (c *Coordinator) PublishOne(ctx context.Context, key string) (models.Listing, error) {
	l, ok := c.store.Get(key)
	if !ok {
		return models.Listing{}, fmt.Errorf("%w: %s", models.ErrListingNotFound, key)
	}
	if l.IsPublished() {
		return l, models.ErrAlreadyPublished
	}
	if l.Status == models.StatusSold {
		return l, models.ErrListingSold
	}
	if c.auth != nil && !c.auth.IsAuthenticated() {
		return l, models.ErrNotAuthenticated
	}
	return c.publishOne(ctx, l)
}

// publishOne claims the key, calls the adapter once and records the outcome.
func (c *Coordinator) publishOne(ctx context.Context, l models.Listing) (models.Listing, error) {
	if !c.claim(l.Key) {
		return l, models.ErrAlreadyPublished
	}
	defer c.release(l.Key)

	ref, err := c.publisher.Publish(ctx, l)
	now := c.now()

	c.mu.Lock()
	rec := c.records[l.Key]
	rec.Key = l.Key
	rec.Attempts++
	rec.LastAttemptAt = now
	if err != nil {
		rec.State = models.PublishStateFailed
		rec.LastError = err.Error()
	} else {
		if ref.PublishedAt.IsZero() {
			ref.PublishedAt = now
		}
		rec.State = models.PublishStatePublished
		rec.ExternalID = ref.ExternalID
		rec.ExternalURL = ref.ExternalURL
		rec.LastError = ""
	}
	c.records[l.Key] = rec
	c.mu.Unlock()

	c.save(ctx, rec)

	if err != nil {
		c.logger.Warn("publish failed",
			zap.String("key", l.Key),
			zap.String("kind", string(models.PublishErrorKindOf(err))),
			zap.Error(err),
		)
		return l, err
	}

	updated, attachErr := c.store.attachPublishRef(l.Key, ref)
	if attachErr != nil {
		c.logger.Warn("published listing missing from store", zap.String("key", l.Key), zap.Error(attachErr))
		l.Publish = &ref
		return l, nil
	}
	c.logger.Info("listing published", zap.String("key", l.Key), zap.String("external_id", ref.ExternalID))
	return updated, nil
}

func (c *Coordinator) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] || c.publishedLocked(key) {
		return false
	}
	c.inflight[key] = true
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func (c *Coordinator) save(ctx context.Context, rec models.PublishRecord) {
	if c.saver == nil {
		return
	}
	if err := c.saver.SavePublishRecord(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("failed to save publish record", zap.String("key", rec.Key), zap.Error(err))
	}
}

// Record returns the publish record for key, if any.
func (c *Coordinator) Record(key string) (models.PublishRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return rec, ok
}

// Records returns a copy of every publish record.
func (c *Coordinator) Records() []models.PublishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PublishRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}
