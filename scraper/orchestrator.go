package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/metrics"
	"dealerscan/models"
	"dealerscan/scheduler"
	"dealerscan/services"
)

// SheetSyncer mirrors the listing set to a spreadsheet.
type SheetSyncer interface {
	Sync(ctx context.Context, sheetID string, listings []models.Listing) error
}

// ListingSaver persists listings written by a cycle.
type ListingSaver interface {
	SaveListings(ctx context.Context, listings []models.Listing) error
}

// RunRecorder keeps run history and run-level log lines.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.ScanRun) error
	UpdateRun(ctx context.Context, run *models.ScanRun) error
	Log(ctx context.Context, runID string, level models.LogLevel, message string) error
}

// Archiver stores a copy of each finished cycle.
type Archiver interface {
	Archive(ctx context.Context, run *models.ScanRun, res *models.ScrapeResult, listings []models.Listing) error
}

// Deps are the collaborators of a scan cycle. Handler, Store and Reconciler
// are required; the rest may be nil.
type Deps struct {
	Handler     Handler
	Store       *services.ListingStore
	Reconciler  *services.Reconciler
	Coordinator *services.Coordinator
	Sheets      SheetSyncer
	Listings    ListingSaver
	Runs        RunRecorder
	Archiver    Archiver
}

// Schedule is the timer that fires scheduled cycles.
type Schedule interface {
	Reschedule(freq config.Frequency)
	NextRun() (time.Time, bool)
}

// Orchestrator runs scan cycles, one at a time.
type Orchestrator struct {
	cfg    atomic.Pointer[config.ScraperConfig]
	deps   Deps
	logger *zap.Logger

	normalizeWorkers int
	nextRun          func(freq config.Frequency, now time.Time) (time.Time, bool)
	now              func() time.Time
	schedule         atomic.Pointer[scheduleRef]
	scheduleMu       sync.Mutex

	running atomic.Bool
	paused  atomic.Bool

	mu     sync.RWMutex
	status models.ScraperStatus
}

func NewOrchestrator(cfg config.ScraperConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		deps:             deps,
		logger:           logger,
		normalizeWorkers: 4,
		nextRun:          scheduler.NextRunTime,
		now:              time.Now,
	}
	o.cfg.Store(&cfg)
	return o
}

type scheduleRef struct{ Schedule }

// SetSchedule hands the orchestrator the running scheduler. Every finished
// cycle and every config change then restarts its wait from now, and status
// reports the scheduler's own next fire time.
func (o *Orchestrator) SetSchedule(s Schedule) {
	o.scheduleMu.Lock()
	defer o.scheduleMu.Unlock()
	o.schedule.Store(&scheduleRef{s})
	var next *time.Time
	if t, ok := s.NextRun(); ok {
		next = &t
	}
	o.mu.Lock()
	o.status.NextScheduled = next
	o.mu.Unlock()
}

// Config returns a copy of the current scraper config.
func (o *Orchestrator) Config() config.ScraperConfig {
	return *o.cfg.Load()
}

// UpdateConfig validates and swaps the config. A running cycle keeps the
// copy it started with.
func (o *Orchestrator) UpdateConfig(cfg config.ScraperConfig) error {
	freq, err := config.ParseFrequency(string(cfg.Frequency))
	if err != nil {
		return err
	}
	cfg.Frequency = freq
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg.Store(&cfg)
	o.reschedule(cfg.Frequency)
	o.logger.Info("scraper config updated",
		zap.String("url", cfg.SourceURL),
		zap.String("frequency", string(cfg.Frequency)),
		zap.Bool("auto_publish", cfg.AutoPublish),
	)
	return nil
}

func (o *Orchestrator) SetFrequency(f config.Frequency) error {
	cfg := o.Config()
	cfg.Frequency = f
	return o.UpdateConfig(cfg)
}

func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	o.logger.Info("scraper paused")
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
	o.logger.Info("scraper resumed")
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

// Status reports the scan loop state.
func (o *Orchestrator) Status() models.ScraperStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := o.status
	st.Active = o.running.Load()
	st.Paused = o.paused.Load()
	return st
}

// RunScheduled runs a cycle unless paused.
func (o *Orchestrator) RunScheduled(ctx context.Context) error {
	if o.paused.Load() {
		o.logger.Info("scraper is paused, skipping run")
		return nil
	}
	_, err := o.RunCycle(ctx)
	return err
}

// RunNow runs a cycle regardless of pause state.
func (o *Orchestrator) RunNow(ctx context.Context) (*models.ScrapeResult, error) {
	return o.RunCycle(ctx)
}

// RunCycle runs scrape, normalize, reconcile, sheet sync, publish and
// reschedule once. It returns no tally for an invalid config or when another
// cycle is running; otherwise the tally is returned even on failure.
func (o *Orchestrator) RunCycle(ctx context.Context) (*models.ScrapeResult, error) {
	cfg, err := o.acquire()
	if err != nil {
		return nil, err
	}
	defer o.running.Store(false)
	return o.cycle(ctx, cfg)
}

// StartCycle takes the cycle guard and runs the cycle in the background. It
// fails synchronously with the same errors RunCycle would return first.
func (o *Orchestrator) StartCycle(ctx context.Context) error {
	cfg, err := o.acquire()
	if err != nil {
		return err
	}
	go func() {
		defer o.running.Store(false)
		if _, err := o.cycle(ctx, cfg); err != nil {
			o.logger.Warn("background scan finished with error", zap.Error(err))
		}
	}()
	return nil
}

func (o *Orchestrator) acquire() (config.ScraperConfig, error) {
	cfg := o.Config()
	if err := cfg.Validate(); err != nil {
		metrics.ObserveCycle(metrics.OutcomeRejected, 0)
		return cfg, err
	}
	if !o.running.CompareAndSwap(false, true) {
		metrics.ObserveCycle(metrics.OutcomeRejected, 0)
		return cfg, models.ErrCycleAlreadyRunning
	}
	return cfg, nil
}

func (o *Orchestrator) cycle(ctx context.Context, cfg config.ScraperConfig) (*models.ScrapeResult, error) {
	start := o.now()
	res := &models.ScrapeResult{Timestamp: start}
	run := &models.ScanRun{
		ID:        uuid.New().String(),
		SourceURL: cfg.SourceURL,
		StartedAt: start,
		Status:    models.RunStatusRunning,
	}
	if o.deps.Runs != nil {
		if err := o.deps.Runs.CreateRun(ctx, run); err != nil {
			o.logger.Warn("failed to create run record", zap.Error(err))
		}
	}
	o.log(ctx, run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scan of %s", cfg.SourceURL))

	// 1. Scrape
	raws, err := o.deps.Handler.Scrape(ctx, cfg.SourceURL, cfg.MaxListings, cfg.IncludeImages)
	if err != nil {
		scrapeErr := fmt.Errorf("%w: %v", models.ErrScrape, err)
		res.AddError(scrapeErr)
		o.log(ctx, run.ID, models.LogLevelError, scrapeErr.Error())
		o.finish(ctx, run, res, models.RunStatusFailed, start)
		return res, scrapeErr
	}

	// 2. Normalize
	snapshot, failures := services.NormalizeAll(ctx, raws, services.NormalizeOptions{
		SourceURL:     cfg.SourceURL,
		IncludeImages: cfg.IncludeImages,
		Now:           start,
	}, o.normalizeWorkers)
	for _, f := range failures {
		res.AddError(f)
		o.log(ctx, run.ID, models.LogLevelWarn, f.Error())
	}
	metrics.AddMalformed(len(failures))

	// 3. Reconcile
	rec, err := o.deps.Reconciler.Reconcile(ctx, snapshot, cfg.MaxListings)
	if err != nil {
		res.AddError(err)
		o.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("Reconcile error: %v", err))
		o.finish(ctx, run, res, models.RunStatusFailed, start)
		return res, err
	}
	res.TotalFound = rec.Result.TotalFound
	res.New = rec.Result.New
	res.Updated = rec.Result.Updated
	res.Sold = rec.Result.Sold
	res.Unchanged = rec.Result.Unchanged

	if o.deps.Listings != nil && len(rec.Changed) > 0 {
		if err := o.deps.Listings.SaveListings(ctx, rec.Changed); err != nil {
			res.AddError(fmt.Errorf("persist listings: %w", err))
			o.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("Persist error: %v", err))
		}
	}

	// 4. Sheet sync, reported but never fatal
	if cfg.SheetID != "" && o.deps.Sheets != nil {
		err := o.deps.Sheets.Sync(ctx, cfg.SheetID, o.deps.Store.All())
		metrics.ObserveSheetSync(err)
		if err != nil {
			syncErr := err
			if !errors.Is(err, models.ErrSyncFailure) {
				syncErr = fmt.Errorf("%w: %v", models.ErrSyncFailure, err)
			}
			res.AddError(syncErr)
			o.log(ctx, run.ID, models.LogLevelWarn, syncErr.Error())
		}
	}

	// 5. Publish
	var cycleErr error
	if cfg.AutoPublish && o.deps.Coordinator != nil {
		summary, err := o.deps.Coordinator.PublishAll(ctx, rec.Emitted, cfg.AutoPublish)
		res.Published = summary.Published
		res.PublishFailed = summary.Failed
		for _, e := range summary.Errors {
			res.AddError(e)
		}
		if o.deps.Listings != nil && len(summary.Listings) > 0 {
			if err := o.deps.Listings.SaveListings(ctx, summary.Listings); err != nil {
				res.AddError(fmt.Errorf("persist published listings: %w", err))
			}
		}
		if err != nil {
			res.AddError(err)
			o.log(ctx, run.ID, models.LogLevelError, fmt.Sprintf("Publish phase: %v", err))
			cycleErr = err
		}
	}

	o.log(ctx, run.ID, models.LogLevelInfo, fmt.Sprintf(
		"Completed: %d found, %d new, %d updated, %d sold, %d unchanged, %d published",
		res.TotalFound, res.New, res.Updated, res.Sold, res.Unchanged, res.Published))

	// 6. Reschedule
	o.finish(ctx, run, res, models.RunStatusCompleted, start)
	return res, cycleErr
}

// PublishOne publishes a single listing on demand. It takes the cycle guard
// so it never overlaps a scan.
func (o *Orchestrator) PublishOne(ctx context.Context, key string) (models.Listing, error) {
	if o.deps.Coordinator == nil {
		return models.Listing{}, models.ErrNotAuthenticated
	}
	if !o.running.CompareAndSwap(false, true) {
		return models.Listing{}, models.ErrCycleAlreadyRunning
	}
	defer o.running.Store(false)

	l, err := o.deps.Coordinator.PublishOne(ctx, key)
	if errors.Is(err, models.ErrListingNotFound) || errors.Is(err, models.ErrAlreadyPublished) ||
		errors.Is(err, models.ErrListingSold) || errors.Is(err, models.ErrNotAuthenticated) {
		return l, err
	}
	metrics.ObservePublish(err)
	if err != nil {
		return l, err
	}
	if o.deps.Listings != nil {
		if err := o.deps.Listings.SaveListings(ctx, []models.Listing{l}); err != nil {
			o.logger.Error("failed to persist published listing", zap.String("key", key), zap.Error(err))
		}
	}
	return l, nil
}

func (o *Orchestrator) finish(ctx context.Context, run *models.ScanRun, res *models.ScrapeResult, status models.RunStatus, start time.Time) {
	run.Finish(res, status)
	if o.deps.Runs != nil {
		if err := o.deps.Runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			o.logger.Warn("failed to update run record", zap.Error(err))
		}
	}

	finished := o.now()
	last := *res
	last.Errors = append([]string(nil), res.Errors...)
	o.mu.Lock()
	o.status.LastScanned = &finished
	o.status.LastResult = &last
	o.mu.Unlock()

	o.reschedule(o.Config().Frequency)

	if status == models.RunStatusCompleted {
		if o.deps.Archiver != nil {
			if err := o.deps.Archiver.Archive(context.WithoutCancel(ctx), run, res, o.deps.Store.All()); err != nil {
				o.logger.Warn("failed to archive run", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
		metrics.ObserveCycle(metrics.OutcomeCompleted, finished.Sub(start))
		metrics.ObserveResult(res)
		metrics.SetListingCounts(o.deps.Store.CountByStatus())
	} else {
		metrics.ObserveCycle(metrics.OutcomeFailed, finished.Sub(start))
	}
}

// reschedule restarts the wait for the next scheduled cycle from now and
// records when it will fire.
func (o *Orchestrator) reschedule(freq config.Frequency) {
	o.scheduleMu.Lock()
	defer o.scheduleMu.Unlock()
	var next *time.Time
	if ref := o.schedule.Load(); ref != nil {
		ref.Reschedule(freq)
		if t, ok := ref.NextRun(); ok {
			next = &t
		}
	} else if t, ok := o.nextRun(freq, o.now()); ok {
		next = &t
	}
	o.mu.Lock()
	o.status.NextScheduled = next
	o.mu.Unlock()
}

func (o *Orchestrator) log(ctx context.Context, runID string, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		o.logger.Error(message, zap.String("run_id", runID))
	case models.LogLevelWarn:
		o.logger.Warn(message, zap.String("run_id", runID))
	default:
		o.logger.Info(message, zap.String("run_id", runID))
	}
	if o.deps.Runs != nil {
		if err := o.deps.Runs.Log(context.WithoutCancel(ctx), runID, level, message); err != nil {
			o.logger.Debug("failed to persist log line", zap.Error(err))
		}
	}
}
