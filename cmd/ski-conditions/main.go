package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/i474232898/ski-conditions/internal/alerts"
	httpapi "github.com/i474232898/ski-conditions/internal/api/http"
	"github.com/i474232898/ski-conditions/internal/cache"
	"github.com/i474232898/ski-conditions/internal/config"
	"github.com/i474232898/ski-conditions/internal/logging"
	"github.com/i474232898/ski-conditions/internal/metrics"
	"github.com/i474232898/ski-conditions/internal/resort"
	"github.com/i474232898/ski-conditions/internal/resort/sources"
	"github.com/i474232898/ski-conditions/internal/scheduler"
	"github.com/i474232898/ski-conditions/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.New(logging.Config{})
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// Persistence: SQLite by default, Postgres when DATABASE_URL says so.
	if err := ensureSQLiteDir(cfg.Database.URL); err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Database.URL,
		storage.WithLogger(logging.Component(log, "storage")),
		storage.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mode, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("driver", string(store.Driver())).Stringer("schema", mode).Msg("database ready")

	var tier cache.Tier = cache.NewMemory(nil)
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, "ski")
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		tier = rc
		log.Info().Msg("using redis cache tier")
	}

	// Shared HTTP client for outbound source calls.
	httpClient := &http.Client{Timeout: cfg.Server.Timeout}

	var srcs []resort.Source
	var scraper *sources.Scraper
	if cfg.Sources.ScraperEnabled {
		scraper = sources.NewScraper(httpClient, cfg.Sources.ScraperBaseURL)
		srcs = append(srcs, scraper)
	}
	if cfg.Sources.AIAPIKey != "" {
		srcs = append(srcs, sources.NewAIGenerator(httpClient, sources.AIConfig{
			BaseURL:           cfg.Sources.AIBaseURL,
			APIKey:            cfg.Sources.AIAPIKey,
			Model:             cfg.Sources.AIModel,
			RequestsPerMinute: cfg.Sources.AIRequestsPerMinute,
		}))
	}
	chain := resort.NewChain(srcs, cfg.Sources.Timeout, logging.Component(log, "sources")).WithObserver(m)

	svc := resort.NewService(store, chain, tier, resort.Config{
		ResortTTL:   cfg.Cache.ResortTTL,
		ForecastTTL: cfg.Cache.ForecastTTL,
		MemoryTTL:   cfg.Cache.MemoryTTL,
	},
		resort.WithLogger(logging.Component(log, "resorts")),
		resort.WithMetrics(m),
	)

	var mailer alerts.Mailer = alerts.NopMailer{}
	smtpCfg := alerts.SMTPConfig{
		Host:     cfg.Alerts.SMTPHost,
		Port:     cfg.Alerts.SMTPPort,
		Username: cfg.Alerts.SMTPUsername,
		Password: cfg.Alerts.SMTPPassword,
		From:     cfg.Alerts.SMTPFrom,
	}
	if smtpCfg.Enabled() {
		mailer = alerts.NewSMTPMailer(smtpCfg)
	}
	engine := alerts.NewEngine(store, mailer,
		alerts.WithLogger(logging.Component(log, "alerts")),
		alerts.WithMetrics(m),
	)
	svc.SetAlertChecker(engine)

	orchOpts := []scheduler.OrchestratorOption{
		scheduler.WithCatalogs(chain.Catalogs()),
		scheduler.WithLogger(logging.Component(log, "refresh")),
		scheduler.WithMetrics(m),
	}
	if geo := sources.NewGeocoder(cfg.Sources.GeocoderAPIKey); geo != nil {
		orchOpts = append(orchOpts, scheduler.WithLocator(geo))
	}
	orch := scheduler.NewOrchestrator(svc, orchOpts...)

	sched := scheduler.New(orch, engine, scheduler.Config{
		RefreshEnabled:   cfg.Refresh.Enabled,
		RefreshOnStartup: cfg.Refresh.OnStartup,
		StartupDelay:     cfg.Refresh.StartupDelay,
		RefreshInterval:  cfg.Refresh.Interval,
		MaxResorts:       cfg.Refresh.MaxResorts,
		Delay:            cfg.Refresh.Delay,
		AlertInterval:    cfg.Alerts.CheckInterval,
		DiscoveryRegions: cfg.Refresh.DiscoveryRegions,
	}, logging.Component(log, "scheduler"), m)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := httpapi.NewApp(logging.Component(log, "http"), reg)
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Resorts: svc,
		Alerts:  engine,
		Jobs:    sched,
		Regions: cfg.Refresh.DiscoveryRegions,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("http server listening")
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

// ensureSQLiteDir creates the directory of a file-backed SQLite database.
func ensureSQLiteDir(dsn string) error {
	driver, source, err := storage.ParseDSN(dsn)
	if err != nil || driver != storage.DriverSQLite || source == ":memory:" || strings.HasPrefix(source, "file:") {
		return err
	}
	dir := filepath.Dir(source)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
