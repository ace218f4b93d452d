package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/models"
	"dealerscan/services"
)

type fakeScanner struct {
	cfg        config.ScraperConfig
	startErr   error
	publishErr error
	started    int
	published  []string
	paused     bool
}

func (f *fakeScanner) Status() models.ScraperStatus {
	return models.ScraperStatus{Paused: f.paused}
}

func (f *fakeScanner) Config() config.ScraperConfig { return f.cfg }

func (f *fakeScanner) UpdateConfig(cfg config.ScraperConfig) error {
	freq, err := config.ParseFrequency(string(cfg.Frequency))
	if err != nil {
		return err
	}
	cfg.Frequency = freq
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

func (f *fakeScanner) StartCycle(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeScanner) PublishOne(ctx context.Context, key string) (models.Listing, error) {
	if f.publishErr != nil {
		return models.Listing{}, f.publishErr
	}
	f.published = append(f.published, key)
	return models.Listing{Key: key, Publish: &models.PublishRef{ExternalID: "X"}}, nil
}

func (f *fakeScanner) Pause()  { f.paused = true }
func (f *fakeScanner) Resume() { f.paused = false }

type fakeRuns struct{ limit int }

func (f *fakeRuns) RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	f.limit = limit
	return []models.ScanRun{{ID: "r1", Status: models.RunStatusCompleted}}, nil
}

type testEnv struct {
	router  http.Handler
	scanner *fakeScanner
	runs    *fakeRuns
}

func newTestEnv() *testEnv {
	cfg := config.DefaultScraperConfig()
	cfg.SourceURL = "https://dealer.example.com/inventory"

	store := services.NewListingStore([]models.Listing{
		{ID: "id-a", Key: "https://dealer.example.com/a", Status: models.StatusNew},
		{ID: "id-b", Key: "https://dealer.example.com/b", Status: models.StatusSold},
	})
	env := &testEnv{
		scanner: &fakeScanner{cfg: cfg},
		runs:    &fakeRuns{},
	}
	env.router = NewRouter(Deps{
		Scanner: env.scanner,
		Store:   store,
		Runs:    env.runs,
	}, zap.NewNop())
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newTestEnv().do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"already running", models.ErrCycleAlreadyRunning, http.StatusConflict},
		{"invalid config", models.ErrConfigInvalid, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.scanner.startErr = tt.err
			rec := env.do(http.MethodPost, "/api/scan", "")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPutConfig_MergesPartialBody(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPut, "/api/config", `{"frequency":"Weekly","max_listings":25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.scanner.cfg.Frequency != config.Weekly || env.scanner.cfg.MaxListings != 25 {
		t.Fatalf("config not applied: %+v", env.scanner.cfg)
	}
	if env.scanner.cfg.SourceURL == "" {
		t.Fatalf("omitted fields must keep their current values")
	}
}

func TestPutConfig_InvalidLeavesConfig(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPut, "/api/config", `{"frequency":"fortnightly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.scanner.cfg.Frequency != config.DefaultScraperConfig().Frequency {
		t.Fatalf("invalid config must not be applied, got %q", env.scanner.cfg.Frequency)
	}
}

func TestListListings_FilterByStatus(t *testing.T) {
	rec := newTestEnv().do(http.MethodGet, "/api/listings?status=sold", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data []models.Listing `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Meta.Total != 1 || len(body.Data) != 1 || body.Data[0].ID != "id-b" {
		t.Fatalf("unexpected listings %+v", body)
	}
}

func TestPublishListing(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/listings/id-a/publish", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.scanner.published) != 1 || env.scanner.published[0] != "https://dealer.example.com/a" {
		t.Fatalf("expected publish by key, got %v", env.scanner.published)
	}

	if rec := env.do(http.MethodPost, "/api/listings/missing/publish", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}

	env.scanner.publishErr = models.ErrAlreadyPublished
	if rec := env.do(http.MethodPost, "/api/listings/id-a/publish", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for already published, got %d", rec.Code)
	}

	env.scanner.publishErr = models.ErrListingSold
	rec = env.do(http.MethodPost, "/api/listings/id-b/publish", "")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), `"listing_sold"`) {
		t.Fatalf("expected 409 listing_sold for a sold listing, got %d: %s", rec.Code, rec.Body.String())
	}

	env.scanner.publishErr = models.ErrNotAuthenticated
	if rec := env.do(http.MethodPost, "/api/listings/id-a/publish", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
}

func TestRuns_LimitDefaults(t *testing.T) {
	env := newTestEnv()
	if rec := env.do(http.MethodGet, "/api/runs?limit=5000", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.runs.limit != 20 {
		t.Fatalf("expected default limit 20, got %d", env.runs.limit)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv()
	env.do(http.MethodPost, "/api/pause", "")
	if !env.scanner.paused {
		t.Fatalf("expected paused")
	}
	env.do(http.MethodPost, "/api/resume", "")
	if env.scanner.paused {
		t.Fatalf("expected resumed")
	}
}
