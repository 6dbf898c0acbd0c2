package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend strategy names. The strategy is selected once at startup and
// never re-checked per call.
const (
	BackendCentral = "central"
	BackendLocal   = "local"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Backend selects the shared-state strategy: "central" (Postgres +
	// Redis) or "local" (single-device file fallback).
	Backend string
	PGDSN   string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	// DataDir holds the serialized booking list and worker location
	// records when the local backend is selected.
	DataDir string

	RoutingEndpoint  string
	GeocodeEndpoint  string
	GeocodeRegion    string
	FallbackPoints   int
	FallbackSpeedKmh float64

	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		Backend:          BackendLocal,
		RedisGeoKey:      "workers_geo",
		KafkaTopic:       "worker-locations",
		DataDir:          "data",
		RoutingEndpoint:  "https://routing.openstreetmap.de/routed-car",
		GeocodeEndpoint:  "https://nominatim.openstreetmap.org",
		GeocodeRegion:    "ye",
		FallbackPoints:   40,
		FallbackSpeedKmh: 40,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BACKEND"))); v != "" {
		cfg.Backend = v
	}
	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.DataDir, "DATA_DIR")
	setStringFromEnv(&cfg.RoutingEndpoint, "ROUTING_ENDPOINT")
	setStringFromEnv(&cfg.GeocodeEndpoint, "GEOCODE_ENDPOINT")
	setStringFromEnv(&cfg.GeocodeRegion, "GEOCODE_REGION")
	setIntFromEnv(&cfg.FallbackPoints, "ROUTE_FALLBACK_POINTS", &errs)
	setFloatFromEnv(&cfg.FallbackSpeedKmh, "ROUTE_FALLBACK_SPEED_KMH", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.Backend {
	case BackendCentral, BackendLocal:
	default:
		errs = append(errs, fmt.Errorf("BACKEND must be %q or %q", BackendCentral, BackendLocal))
	}
	if cfg.Backend == BackendCentral && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required with BACKEND=central"))
	}
	if cfg.FallbackPoints < 2 {
		errs = append(errs, fmt.Errorf("ROUTE_FALLBACK_POINTS must be >= 2"))
	}
	if cfg.FallbackSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("ROUTE_FALLBACK_SPEED_KMH must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
