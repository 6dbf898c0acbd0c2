// The tracker consumes mirrored worker position fixes from Kafka and
// upserts them into the central location channel with bounded retries, so
// the live map stays current even when fixes arrive through the ingest
// topic rather than the API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/logging"
	"github.com/example/cargo-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_messages_consumed_total",
		Help: "Total worker location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	channelUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_channel_updates_total",
		Help: "Total successful location channel updates",
	})
	channelErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_channel_errors_total",
		Help: "Total location channel errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, channelUpdates, channelErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "worker-locations"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "cargo-dispatch-tracker"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	geoKey := os.Getenv("REDIS_GEO_KEY")
	if geoKey == "" {
		geoKey = "workers_geo"
	}
	channel := location.NewRedisChannel(redisAddr, os.Getenv("REDIS_PASSWORD"), geoKey, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if _, err := channel.OnlineCount(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = channel.Close()
	}()

	logger.Info("tracker listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down tracker")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var rec models.WorkerLocation
		if err := json.Unmarshal(m.Value, &rec); err != nil || rec.WorkerID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}

		if err := updateChannelWithRetry(ctx, channel, rec, 3, 200*time.Millisecond); err != nil {
			channelErrors.Inc()
			logger.Warn("channel update failed", "worker", rec.WorkerID, "error", err)
			continue
		}
		channelUpdates.Inc()
	}
}

// Publisher is the small subset of the location channel needed here and in
// tests.
type Publisher interface {
	Publish(ctx context.Context, u location.Update) error
}

// updateChannelWithRetry upserts the record with retry and doubling backoff.
func updateChannelWithRetry(ctx context.Context, ch Publisher, rec models.WorkerLocation, attempts int, delay time.Duration) error {
	u := location.Update{
		WorkerID: rec.WorkerID,
		Lat:      location.Float(rec.Lat),
		Lng:      location.Float(rec.Lng),
		IsOnline: location.Bool(rec.IsOnline),
		Status:   location.Str(rec.Status),
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = ch.Publish(ctx, u); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
