// The presence daemon runs one worker's presence session: it goes online,
// follows a position source and publishes every fix into the location
// channel, optionally mirroring fixes onto Kafka. With no real device feed
// attached it follows the synthetic route between the configured endpoints.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/cargo-dispatch/internal/config"
	"github.com/example/cargo-dispatch/internal/ingest"
	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/logging"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/presence"
	"github.com/example/cargo-dispatch/internal/routing"
)

func main() {
	var (
		workerID = flag.String("worker", "worker-1", "worker identity to publish as")
		startLat = flag.Float64("start-lat", 15.3694, "simulated route start latitude")
		startLng = flag.Float64("start-lng", 44.1910, "simulated route start longitude")
		endLat   = flag.Float64("end-lat", 15.4000, "simulated route end latitude")
		endLng   = flag.Float64("end-lng", 44.2200, "simulated route end longitude")
		interval = flag.Duration("interval", time.Second, "fix interval")
	)
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var channel location.Channel
	if cfg.Backend == config.BackendCentral && cfg.RedisAddr != "" {
		channel = location.NewRedisChannel(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
	} else {
		lc, err := location.NewLocalChannel(cfg.DataDir, logger)
		if err != nil {
			logger.Error("local channel unavailable", "error", err)
			os.Exit(1)
		}
		channel = lc
	}
	defer channel.Close()

	// mirror published fixes to kafka for downstream consumers
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		unsub, err := channel.Subscribe(*workerID, func(rec models.WorkerLocation) {
			if err := kp.PublishFix(rec); err != nil {
				logger.Warn("kafka mirror failed", "error", err)
			}
		})
		if err != nil {
			logger.Warn("kafka mirror subscription failed", "error", err)
		} else {
			defer unsub()
		}
	}

	resolver := routing.NewResolver(routing.Config{
		RoutingEndpoint:  cfg.RoutingEndpoint,
		GeocodeEndpoint:  cfg.GeocodeEndpoint,
		FallbackPoints:   cfg.FallbackPoints,
		FallbackSpeedKmh: cfg.FallbackSpeedKmh,
	}, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := models.Coord{Lat: *startLat, Lng: *startLng}
	end := models.Coord{Lat: *endLat, Lng: *endLng}
	info := resolver.FetchRoute(ctx, start, end, models.PrefFastest)
	source := presence.NewRouteSource(info.Route, *interval)

	p := presence.New(*workerID, channel, source, logger)
	p.OnNotice = func(msg string) { logger.Warn("notice", "message", msg) }

	if err := p.Resume(ctx); err != nil {
		logger.Warn("resume failed", "error", err)
	}
	if !p.Online() {
		if err := p.GoOnline(ctx); err != nil {
			logger.Error("go online failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("presence online", "worker", *workerID, "route_points", len(info.Route))

	<-ctx.Done()
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.GoOffline(offCtx); err != nil {
		logger.Warn("go offline failed", "error", err)
	}
}
