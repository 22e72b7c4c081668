package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"spadesk/internal/api"
	"spadesk/internal/collab"
	"spadesk/internal/config"
	"spadesk/internal/database"
	"spadesk/internal/events"
	"spadesk/internal/locks"
	"spadesk/internal/metrics"
	"spadesk/internal/report"
	"spadesk/internal/service"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SPADESK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		logger = logger.Level(level)
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = config.WatchLocations(ctx, cfg.Locations.Path, cfg.LocationsWatchInterval(), &logger, func(lc *config.LocationsConfig) {
		if err := syncLocations(ctx, db, lc); err != nil {
			logger.Error().Err(err).Msg("failed to sync locations")
			return
		}
		logger.Info().Int("locations", len(lc.Locations)).Int("resources", len(lc.Resources)).Msg("locations synced")
	})
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn().Str("path", cfg.Locations.Path).Msg("locations file not found, starting without locations")
	case err != nil:
		logger.Fatal().Err(err).Msg("failed to load locations")
	}

	var rdb *redis.Client
	var locker locks.Locker = locks.NewLocalLocker(cfg.LockTimeout())
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		primary := locks.NewRedisLocker(rdb, locks.RedisOptions{TTL: cfg.LockTTL(), Timeout: cfg.LockTimeout()})
		locker = locks.NewFailoverLocker(primary, locker, &logger)
	}

	bus := events.NewEventBus()
	var invoicer collab.Invoicer
	var housekeeper collab.Housekeeper
	if cfg.Collaborators.BaseURL != "" {
		client := collab.NewWebhookClient(cfg.Collaborators.BaseURL, cfg.Collaborators.APIKey)
		if rdb != nil {
			client.UseRedisDedup(rdb, cfg.CollaboratorDedupTTL())
		}
		invoicer, housekeeper = client, client
	} else {
		lc := collab.NewLogCollaborator(&logger)
		invoicer, housekeeper = lc, lc
	}
	collab.Subscribe(bus, invoicer, housekeeper, cfg.CollaboratorTimeout(), &logger)

	svc := service.NewBookingService(db, locker, bus, nil, service.Config{
		MinAdvance:  cfg.BookingMinAdvance(),
		MaxAdvance:  cfg.BookingMaxAdvance(),
		Cleanup:     cfg.CleanupBuffer(),
		SlotMinutes: cfg.Booking.SlotMinutes,
		Location:    loc,
	}, &logger)

	backups := database.NewBackupService(db, cfg.Backup, &logger)
	go backups.Start(ctx)

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, svc, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	exporter := report.NewExporter(db, loc, &logger)
	if cfg.Reports.ArchiveEnabled {
		go report.NewArchiver(exporter, cfg.Reports.ArchivePath, &logger).Start(ctx)
	}

	httpServer := api.NewHTTPServer(svc, exporter, api.Options{
		APIKeys:        cfg.Server.APIKeys,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		TrustedProxies: cfg.Server.TrustedProxies,
		Location:       loc,
	}, &logger)
	if len(cfg.Server.APIKeys) == 0 {
		logger.Warn().Msg("server.api_keys is empty, API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Str("timezone", loc.String()).Msg("spadesk API started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("api server error")
	}
	logger.Info().Msg("spadesk stopped")
}

// syncLocations upserts configured rooms and the standing shift rules of configured resources.
func syncLocations(ctx context.Context, db *database.DB, lc *config.LocationsConfig) error {
	if err := db.SyncLocations(ctx, lc.LocationModels()); err != nil {
		return fmt.Errorf("sync locations: %w", err)
	}
	for _, rule := range lc.StandingRules() {
		if err := db.UpsertShiftRule(ctx, rule); err != nil {
			return fmt.Errorf("upsert shift rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func startHealthServer(ctx context.Context, port int, svc *service.BookingService, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := svc.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
