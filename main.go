package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dealerscan/api"
	"dealerscan/auth"
	"dealerscan/config"
	"dealerscan/httputil"
	"dealerscan/logging"
	"dealerscan/marketplace"
	"dealerscan/models"
	"dealerscan/report"
	"dealerscan/scheduler"
	"dealerscan/scraper"
	"dealerscan/services"
	"dealerscan/sheets"
	"dealerscan/storage"
	"dealerscan/workers"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Run one scan cycle, print a summary and exit")
	command   = flag.String("command", "", "Queue a command for the running daemon (scan_now, pause, resume, set_frequency)")
	frequency = flag.String("frequency", "", "Frequency for -command set_frequency")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if *scrapeNow || *command != "" {
		logFile = ""
	}
	logger, rw, err := logging.Setup(cfg.LogLevel, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if rw != nil {
		defer rw.Close()
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Exiting with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// SQLite always holds operational data: runs, logs, commands, media.
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer sqliteStore.Close()
	logger.Info("SQLite database", zap.String("path", cfg.DBPath))

	if *command != "" {
		return enqueue(ctx, sqliteStore, logger)
	}

	var repo storage.ListingRepository = sqliteStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		repo = pgStore
		logger.Info("Connected to Postgres", zap.String("url", maskConnectionString(cfg.DatabaseURL)))
	}

	listings, err := repo.LoadListings(ctx)
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	records, err := repo.LoadPublishRecords(ctx)
	if err != nil {
		return fmt.Errorf("load publish records: %w", err)
	}
	store := services.NewListingStore(listings)
	logger.Info("Listing store loaded", zap.Int("listings", store.Len()), zap.Int("publish_records", len(records)))

	clients := httputil.NewClients(cfg.Proxy, cfg.Fetch.Timeout)

	fbTokens, err := auth.NewTokenStore(cfg.Marketplace.TokenFile, nil)
	if err != nil {
		return fmt.Errorf("load marketplace token: %w", err)
	}
	googleTokens, err := auth.NewTokenStore(cfg.Google.TokenFile, auth.GoogleOAuthConfig(cfg.Google))
	if err != nil {
		return fmt.Errorf("load google token: %w", err)
	}

	publisher := marketplace.NewPublisher(cfg.Marketplace, fbTokens.Client(clients.API), fbTokens, logger.Named("marketplace"))
	coordinator := services.NewCoordinator(store, publisher, fbTokens, repo, records, cfg.PublishWorkers, logger.Named("publish"))

	handler := scraper.NewHandler(cfg.Fetch, clients, logger.Named("scraper"))
	if c, ok := handler.(interface{ Close() }); ok {
		defer c.Close()
	}

	deps := scraper.Deps{
		Handler:     handler,
		Store:       store,
		Reconciler:  services.NewReconciler(store, logger.Named("reconcile")),
		Coordinator: coordinator,
		Sheets:      sheets.NewClient(cfg.Google.SheetsURL, googleTokens.Client(clients.API), googleTokens, logger.Named("sheets")),
		Listings:    repo,
		Runs:        sqliteStore,
	}

	var archiver *storage.S3Archiver
	if cfg.S3.Enabled() {
		archiver, err = storage.NewS3Archiver(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		deps.Archiver = archiver
		logger.Info("S3 archive enabled", zap.String("bucket", cfg.S3.Bucket))
	}

	orchestrator := scraper.NewOrchestrator(cfg.Scraper, deps, logger.Named("cycle"))

	if *scrapeNow {
		logger.Info("Running one scan", zap.String("url", cfg.Scraper.SourceURL))
		res, err := orchestrator.RunNow(ctx)
		if res != nil {
			report.WriteCycle(os.Stdout, res, store.All())
		}
		return err
	}

	// Daemon mode
	sched := scheduler.New(orchestrator, sqliteStore, cfg.Scheduler.Cron, logger.Named("scheduler"))
	if err := sched.Start(ctx, cfg.Scraper.Frequency); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	orchestrator.SetSchedule(sched)

	if archiver != nil {
		mediaWorker := workers.NewMediaWorker(store, sqliteStore, archiver, clients.Scraping, logger.Named("media"))
		go mediaWorker.Run(ctx, 20, 2*time.Minute)
		logger.Info("Media worker started")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(api.Deps{
			Scanner: orchestrator,
			Store:   store,
			Runs:    sqliteStore,
		}, logger.Named("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	logger.Info("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown", zap.Error(err))
	}
	return nil
}

// enqueue hands a command to the running daemon through the SQLite queue.
func enqueue(ctx context.Context, q *storage.SQLiteStore, logger *zap.Logger) error {
	cmd := models.CommandType(*command)
	var params *models.CommandParams

	switch cmd {
	case models.CmdScanNow, models.CmdPause, models.CmdResume:
	case models.CmdSetFrequency:
		f, err := config.ParseFrequency(*frequency)
		if err != nil {
			return err
		}
		params = &models.CommandParams{Frequency: string(f)}
	default:
		return fmt.Errorf("unknown command %q", *command)
	}

	if err := q.EnqueueCommand(ctx, cmd, params); err != nil {
		return fmt.Errorf("enqueue %s: %w", cmd, err)
	}
	logger.Info("Command queued", zap.String("command", string(cmd)))
	return nil
}

// maskConnectionString hides the password in a connection URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
