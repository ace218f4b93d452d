package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dealerscan/config"
	"dealerscan/models"
	"dealerscan/services"
)

// Scanner is the control surface of the scan loop.
type Scanner interface {
	Status() models.ScraperStatus
	Config() config.ScraperConfig
	UpdateConfig(cfg config.ScraperConfig) error
	StartCycle(ctx context.Context) error
	PublishOne(ctx context.Context, key string) (models.Listing, error)
	Pause()
	Resume()
}

type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error)
}

type Deps struct {
	Scanner Scanner
	Store   *services.ListingStore
	Runs    RunLister
}

// NewRouter wires the dashboard API.
func NewRouter(deps Deps, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &handler{deps: deps, logger: logger}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Get("/status", h.status)
		r.Post("/scan", h.scan)
		r.Post("/pause", h.pause)
		r.Post("/resume", h.resume)

		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)

		r.Get("/runs", h.runs)

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", h.listListings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getListing)
				r.Post("/publish", h.publishListing)
			})
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
