package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dealerscan/config"
	"dealerscan/models"
	"dealerscan/scheduler"
	"dealerscan/services"
)

type fakeHandler struct {
	records []models.RawRecord
	err     error
	block   chan struct{}
	started chan struct{}
}

func (h *fakeHandler) ID() string { return "fake" }

func (h *fakeHandler) Scrape(ctx context.Context, sourceURL string, maxListings int, includeImages bool) ([]models.RawRecord, error) {
	if h.started != nil {
		h.started <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	return h.records, h.err
}

type fakeSheets struct {
	calls int
	got   int
	err   error
}

func (s *fakeSheets) Sync(ctx context.Context, sheetID string, listings []models.Listing) error {
	s.calls++
	s.got = len(listings)
	return s.err
}

type countingPublisher struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (p *countingPublisher) Publish(ctx context.Context, l models.Listing) (models.PublishRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[l.Key]++
	if p.err != nil {
		return models.PublishRef{}, p.err
	}
	return models.PublishRef{ExternalID: "X"}, nil
}

type authOK struct{}

func (authOK) IsAuthenticated() bool { return true }

type memRuns struct {
	mu   sync.Mutex
	runs map[string]models.ScanRun
	logs int
}

func (m *memRuns) CreateRun(ctx context.Context, run *models.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]models.ScanRun{}
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) UpdateRun(ctx context.Context, run *models.ScanRun) error {
	return m.CreateRun(ctx, run)
}

func (m *memRuns) Log(ctx context.Context, runID string, level models.LogLevel, message string) error {
	m.mu.Lock()
	m.logs++
	m.mu.Unlock()
	return nil
}

const source = "https://dealer.example.com/inventory"

func testConfig() config.ScraperConfig {
	cfg := config.DefaultScraperConfig()
	cfg.SourceURL = source
	return cfg
}

type harness struct {
	orch      *Orchestrator
	store     *services.ListingStore
	handler   *fakeHandler
	publisher *countingPublisher
	sheets    *fakeSheets
	runs      *memRuns
}

func newHarness(cfg config.ScraperConfig, records ...models.RawRecord) *harness {
	store := services.NewListingStore(nil)
	h := &harness{
		store:     store,
		handler:   &fakeHandler{records: records},
		publisher: &countingPublisher{},
		sheets:    &fakeSheets{},
		runs:      &memRuns{},
	}
	h.orch = NewOrchestrator(cfg, Deps{
		Handler:     h.handler,
		Store:       store,
		Reconciler:  services.NewReconciler(store, nil),
		Coordinator: services.NewCoordinator(store, h.publisher, authOK{}, nil, nil, 2, nil),
		Sheets:      h.sheets,
		Runs:        h.runs,
	}, nil)
	return h
}

func civic(price string) models.RawRecord {
	return models.RawRecord{Title: "2020 Honda Civic", Price: price, URL: "/inventory/a"}
}

func TestRunCycle_InvalidConfigHasNoSideEffects(t *testing.T) {
	cfg := testConfig()
	cfg.SourceURL = ""
	h := newHarness(cfg, civic("10000"))

	res, err := h.orch.RunCycle(context.Background())
	if !errors.Is(err, models.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no tally, got %+v", res)
	}
	if h.store.Len() != 0 || len(h.runs.runs) != 0 {
		t.Fatalf("invalid config caused side effects")
	}
}

func TestRunCycle_NewListingPublishedOnce(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))

	res, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if res.New != 1 || res.TotalFound != 1 || res.Published != 1 {
		t.Fatalf("unexpected tally %+v", res)
	}

	key := "https://dealer.example.com/inventory/a"
	l, ok := h.store.Get(key)
	if !ok || l.Publish == nil || l.Publish.ExternalID != "X" {
		t.Fatalf("expected published listing, got %+v", l)
	}

	res, err = h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	if res.Unchanged != 1 || res.Published != 0 {
		t.Fatalf("unexpected second tally %+v", res)
	}
	if h.publisher.calls[key] != 1 {
		t.Fatalf("expected one publish call, got %d", h.publisher.calls[key])
	}
}

func TestRunCycle_ScrapeErrorLeavesStore(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))
	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	h.handler.err = errors.New("connection refused")
	res, err := h.orch.RunCycle(context.Background())
	if !errors.Is(err, models.ErrScrape) {
		t.Fatalf("expected ErrScrape, got %v", err)
	}
	if res == nil || len(res.Errors) != 1 || res.New != 0 || res.Sold != 0 {
		t.Fatalf("expected empty tally with one error, got %+v", res)
	}
	l, _ := h.store.Get("https://dealer.example.com/inventory/a")
	if l.Status == models.StatusSold {
		t.Fatalf("scrape failure marked listing sold")
	}
}

func TestRunCycle_MalformedRecordsAreSkipped(t *testing.T) {
	h := newHarness(testConfig(),
		civic("10000"),
		models.RawRecord{Title: "", Price: "1", URL: "/inventory/b"},
	)

	res, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if res.New != 1 || res.TotalFound != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected tally %+v", res)
	}
}

func TestRunCycle_SheetFailureDoesNotBlockPublish(t *testing.T) {
	cfg := testConfig()
	cfg.SheetID = "sheet-1"
	h := newHarness(cfg, civic("10000"))
	h.sheets.err = errors.New("404")

	res, err := h.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if h.sheets.calls != 1 || h.sheets.got != 1 {
		t.Fatalf("expected one sync with 1 listing, got %d/%d", h.sheets.calls, h.sheets.got)
	}
	if res.Published != 1 {
		t.Fatalf("expected publish after failed sync, got %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected the sync failure in errors, got %v", res.Errors)
	}
}

func TestRunCycle_AutoPublishOffSkipsPublish(t *testing.T) {
	cfg := testConfig()
	cfg.AutoPublish = false
	h := newHarness(cfg, civic("10000"))

	if _, err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(h.publisher.calls) != 0 {
		t.Fatalf("publisher called with auto publish off")
	}
}

func TestRunCycle_AuthExpiredSurfaced(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))
	h.publisher.err = &models.PublishError{Kind: models.PublishAuthExpired, StatusCode: 401, Err: errors.New("expired")}

	res, err := h.orch.RunCycle(context.Background())
	if !errors.Is(err, models.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if res == nil || res.New != 1 || res.PublishFailed != 1 {
		t.Fatalf("expected tally despite auth failure, got %+v", res)
	}
}

func TestRunCycle_RejectsConcurrentCycle(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))
	h.handler.block = make(chan struct{})
	h.handler.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.RunCycle(context.Background())
		done <- err
	}()
	<-h.handler.started

	if !h.orch.Status().Active {
		t.Fatalf("expected status to report an active cycle")
	}
	res, err := h.orch.RunCycle(context.Background())
	if !errors.Is(err, models.ErrCycleAlreadyRunning) || res != nil {
		t.Fatalf("expected ErrCycleAlreadyRunning and no tally, got %v %+v", err, res)
	}
	if _, err := h.orch.PublishOne(context.Background(), "anything"); !errors.Is(err, models.ErrCycleAlreadyRunning) {
		t.Fatalf("expected publish to be rejected during a cycle, got %v", err)
	}

	close(h.handler.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
}

func TestRunScheduled_SkipsWhenPaused(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))
	h.orch.Pause()

	if err := h.orch.RunScheduled(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.store.Len() != 0 {
		t.Fatalf("paused scraper ran a scheduled cycle")
	}

	if _, err := h.orch.RunNow(context.Background()); err != nil {
		t.Fatalf("manual run failed: %v", err)
	}
	if h.store.Len() != 1 {
		t.Fatalf("manual run should ignore pause")
	}
	st := h.orch.Status()
	if !st.Paused || st.LastResult == nil || st.NextScheduled == nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(testConfig())

	cfg := testConfig()
	cfg.Frequency = "Manual"
	if err := h.orch.UpdateConfig(cfg); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if h.orch.Config().Frequency != config.Manual {
		t.Fatalf("expected manual frequency, got %q", h.orch.Config().Frequency)
	}
	if h.orch.Status().NextScheduled != nil {
		t.Fatalf("manual frequency must clear the next scheduled time")
	}

	cfg.SourceURL = "ftp://nope"
	if err := h.orch.UpdateConfig(cfg); !errors.Is(err, models.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

type fakeSchedule struct {
	mu    sync.Mutex
	freqs []config.Frequency
	next  time.Time
}

func (f *fakeSchedule) Reschedule(freq config.Frequency) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freqs = append(f.freqs, freq)
	f.next = f.next.Add(time.Minute)
}

func (f *fakeSchedule) NextRun() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, true
}

func TestUpdateConfig_Reschedules(t *testing.T) {
	h := newHarness(testConfig())
	sched := &fakeSchedule{next: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.orch.SetSchedule(sched)

	cfg := testConfig()
	cfg.Frequency = config.Weekly
	if err := h.orch.UpdateConfig(cfg); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(sched.freqs) != 1 || sched.freqs[0] != config.Weekly {
		t.Fatalf("expected one reschedule to weekly, got %v", sched.freqs)
	}
	want, _ := sched.NextRun()
	if got := h.orch.Status().NextScheduled; got == nil || !got.Equal(want) {
		t.Fatalf("status next run %v, scheduler next run %v", got, want)
	}

	cfg.SourceURL = ""
	if err := h.orch.UpdateConfig(cfg); err == nil {
		t.Fatalf("expected invalid config error")
	}
	if len(sched.freqs) != 1 {
		t.Fatalf("invalid config must not reschedule, got %v", sched.freqs)
	}
}

func TestRunNow_RestartsHourlySchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Frequency = config.Hourly
	h := newHarness(cfg, civic("10000"))

	sched := scheduler.New(h.orch, nil, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sched.Stop()
	})
	if err := sched.Start(ctx, config.Hourly); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.orch.SetSchedule(sched)

	before, ok := sched.NextRun()
	if !ok {
		t.Fatalf("expected an hourly run to be scheduled")
	}
	time.Sleep(20 * time.Millisecond)

	scanStart := time.Now()
	if _, err := h.orch.RunNow(ctx); err != nil {
		t.Fatalf("manual run failed: %v", err)
	}
	scanEnd := time.Now()

	after, ok := sched.NextRun()
	if !ok {
		t.Fatalf("manual run dropped the hourly schedule")
	}
	if !after.After(before) {
		t.Fatalf("next run %v not moved past %v", after, before)
	}
	if after.Before(scanStart.Add(time.Hour)) || after.After(scanEnd.Add(time.Hour)) {
		t.Fatalf("next run %v not one hour after the manual scan [%v, %v]", after, scanStart, scanEnd)
	}
	got := h.orch.Status().NextScheduled
	if got == nil || !got.Equal(after) {
		t.Fatalf("status next run %v, scheduler next run %v", got, after)
	}
}

func TestStartCycle_RunsInBackground(t *testing.T) {
	h := newHarness(testConfig(), civic("10000"))
	h.handler.block = make(chan struct{})
	h.handler.started = make(chan struct{}, 1)

	if err := h.orch.StartCycle(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-h.handler.started

	if err := h.orch.StartCycle(context.Background()); !errors.Is(err, models.ErrCycleAlreadyRunning) {
		t.Fatalf("expected ErrCycleAlreadyRunning while first cycle runs, got %v", err)
	}
	if !h.orch.Status().Active {
		t.Fatalf("expected status to report an active cycle")
	}

	close(h.handler.block)
	deadline := time.Now().Add(5 * time.Second)
	for h.orch.Status().Active {
		if time.Now().After(deadline) {
			t.Fatalf("background cycle did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if h.store.Len() != 1 {
		t.Fatalf("expected 1 listing after background cycle, got %d", h.store.Len())
	}
}
