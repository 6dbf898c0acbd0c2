package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/cargo-dispatch/internal/config"
	"github.com/example/cargo-dispatch/internal/dashboard"
	httpapi "github.com/example/cargo-dispatch/internal/http"
	"github.com/example/cargo-dispatch/internal/ingest"
	"github.com/example/cargo-dispatch/internal/lifecycle"
	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/logging"
	"github.com/example/cargo-dispatch/internal/payments"
	"github.com/example/cargo-dispatch/internal/routing"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := migrate(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	// The backend strategy is decided exactly once, here.
	var (
		store   tripstore.Store
		channel location.Channel
	)
	switch cfg.Backend {
	case config.BackendCentral:
		ps, err := tripstore.NewPostgresStore(cfg.PGDSN, logger)
		if err != nil {
			logger.Error("postgres store unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		if cfg.RedisAddr != "" {
			channel = location.NewRedisChannel(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
		} else {
			lc, err := location.NewLocalChannel(cfg.DataDir, logger)
			if err != nil {
				logger.Error("local channel unavailable", "error", err)
				os.Exit(1)
			}
			channel = lc
			logger.Warn("central backend without REDIS_ADDR, worker locations stay device-local")
		}
	case config.BackendLocal:
		ls, err := tripstore.NewLocalStore(cfg.DataDir, logger)
		if err != nil {
			logger.Error("local store unavailable", "error", err)
			os.Exit(1)
		}
		store = ls
		lc, err := location.NewLocalChannel(cfg.DataDir, logger)
		if err != nil {
			logger.Error("local channel unavailable", "error", err)
			os.Exit(1)
		}
		channel = lc
	}
	defer store.Close()
	defer channel.Close()

	var pay lifecycle.Payments
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	resolver := routing.NewResolver(routing.Config{
		RoutingEndpoint:  cfg.RoutingEndpoint,
		GeocodeEndpoint:  cfg.GeocodeEndpoint,
		Region:           cfg.GeocodeRegion,
		FallbackPoints:   cfg.FallbackPoints,
		FallbackSpeedKmh: cfg.FallbackSpeedKmh,
	}, nil, logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Store:     store,
		Channel:   channel,
		Lifecycle: lifecycle.NewManager(store, pay, logger),
		Resolver:  resolver,
		Stats:     dashboard.NewAggregator(store, channel, logger),
		Kafka:     kp,
		Logger:    logger,
		Ready: func(r *http.Request) error {
			_, err := store.Snapshot(r.Context())
			return err
		},
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("cargo-dispatch listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

func migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_bookings.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
