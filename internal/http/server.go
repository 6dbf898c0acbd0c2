package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/cargo-dispatch/internal/dashboard"
	"github.com/example/cargo-dispatch/internal/ingest"
	"github.com/example/cargo-dispatch/internal/lifecycle"
	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/routing"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

// Deps carries everything the API server needs. All dependencies are
// injected; the server performs no backend selection of its own.
type Deps struct {
	Store     tripstore.Store
	Channel   location.Channel
	Lifecycle *lifecycle.Manager
	Resolver  *routing.Resolver
	Stats     *dashboard.Aggregator
	Kafka     *ingest.KafkaProducer // optional fix mirroring
	Logger    *slog.Logger
	Ready     func(r *http.Request) error // optional readiness probe
}

type Server struct {
	store     tripstore.Store
	channel   location.Channel
	lifecycle *lifecycle.Manager
	resolver  *routing.Resolver
	session   *routing.Session
	stats     *dashboard.Aggregator
	kafka     *ingest.KafkaProducer
	logger    *slog.Logger
	ready     func(r *http.Request) error
	validate  *validator.Validate
	mux       *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		store:     d.Store,
		channel:   d.Channel,
		lifecycle: d.Lifecycle,
		resolver:  d.Resolver,
		session:   routing.NewSession(d.Resolver),
		stats:     d.Stats,
		kafka:     d.Kafka,
		logger:    d.Logger,
		ready:     d.Ready,
		validate:  validator.New(),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleListBookings).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/status", s.handleUpdateStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/rating", s.handleRate).Methods("POST")

	s.mux.HandleFunc("/api/v1/route", s.handleRoute).Methods("GET")
	s.mux.HandleFunc("/api/v1/route/toggle", s.handleRouteToggle).Methods("POST")
	s.mux.HandleFunc("/api/v1/geocode/search", s.handleSearch).Methods("GET")
	s.mux.HandleFunc("/api/v1/geocode/reverse", s.handleReverse).Methods("GET")
	s.mux.HandleFunc("/api/v1/geocode/recent", s.handleRememberSearch).Methods("POST")
	s.mux.HandleFunc("/api/v1/geocode/recent", s.handleRecentSearches).Methods("GET")

	s.mux.HandleFunc("/api/v1/workers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	s.mux.HandleFunc("/internal/worker/locations", s.handleWorkerLocation).Methods("POST")

	s.mux.HandleFunc("/ws/bookings", s.handleBookingsWS)
	s.mux.HandleFunc("/ws/workers/{worker_id}", s.handleWorkerWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
