package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/cargo-dispatch/internal/dashboard"
	"github.com/example/cargo-dispatch/internal/lifecycle"
	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/routing"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestServer(t *testing.T) (*Server, tripstore.Store, *location.LocalChannel) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.Default()
	store, err := tripstore.NewLocalStore(dir, logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	channel, err := location.NewLocalChannel(dir, logger)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	t.Cleanup(func() { _ = channel.Close() })

	// external services are unreachable; routes come from the fallback
	resolver := routing.NewResolver(routing.Config{}, &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("unreachable")
		}),
	}, logger)

	srv := NewServer(Deps{
		Store:     store,
		Channel:   channel,
		Lifecycle: lifecycle.NewManager(store, nil, logger),
		Resolver:  resolver,
		Stats:     dashboard.NewAggregator(store, channel, logger),
		Logger:    logger,
	})
	return srv, store, channel
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createBooking(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/bookings", map[string]any{
		"service":    "truck",
		"cargo_type": "furniture",
		"pickup":     models.Coord{Lat: 15.36, Lng: 44.19},
		"drop":       models.Coord{Lat: 15.40, Lng: 44.22},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create booking: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.ID == "" {
		t.Fatalf("create booking response: %v %s", err, w.Body.String())
	}
	return resp.ID
}

func TestCreateBookingResolvesRouteAndFare(t *testing.T) {
	srv, store, _ := newTestServer(t)
	id := createBooking(t, srv)

	list, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("booking not persisted: %+v", list)
	}
	b := list[0]
	if b.Status != models.StatusPending || b.WorkerID != "" {
		t.Fatalf("expected pending unassigned, got %+v", b)
	}
	if b.Distance == "" || len(b.Route) != routing.DefaultFallbackPoints {
		t.Fatalf("expected fallback route resolved, got distance=%q points=%d", b.Distance, len(b.Route))
	}
}

func TestCreateBookingRejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/bookings", map[string]any{
		"service": "truck",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStatusTransitionOutcomes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createBooking(t, srv)

	// worker accepts
	w := doJSON(t, srv, http.MethodPost, "/api/v1/bookings/"+id+"/status", map[string]any{
		"actor": "worker", "status": "accepted", "worker_id": "w1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}

	// second accept loses the race
	w = doJSON(t, srv, http.MethodPost, "/api/v1/bookings/"+id+"/status", map[string]any{
		"actor": "worker", "status": "accepted", "worker_id": "w2",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second accept, got %d", w.Code)
	}

	// unknown booking
	w = doJSON(t, srv, http.MethodPost, "/api/v1/bookings/missing/status", map[string]any{
		"actor": "worker", "status": "accepted", "worker_id": "w1",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown booking, got %d", w.Code)
	}
}

func TestRatingOnlyAfterCompletion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createBooking(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/bookings/"+id+"/rating", map[string]any{"rating": 5})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while pending, got %d", w.Code)
	}

	for _, status := range []string{"accepted", "arrived", "in_progress", "completed"} {
		doJSON(t, srv, http.MethodPost, "/api/v1/bookings/"+id+"/status", map[string]any{
			"actor": "worker", "status": status, "worker_id": "w1",
		})
	}
	w = doJSON(t, srv, http.MethodPost, "/api/v1/bookings/"+id+"/rating", map[string]any{"rating": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("expected rating accepted, got %d body %s", w.Code, w.Body.String())
	}
}

func TestRouteEndpointDegradesToFallback(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet,
		"/api/v1/route?start_lat=15.36&start_lng=44.19&end_lat=15.40&end_lng=44.22", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("route: status %d", w.Code)
	}
	var info models.RouteInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.Route) != routing.DefaultFallbackPoints {
		t.Fatalf("expected fallback polyline, got %d points", len(info.Route))
	}
}

func TestRecentSearchRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/geocode/recent",
		models.GeocodeResult{DisplayName: "Sanaa", Lat: "15.36", Lon: "44.19"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("remember: status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/v1/geocode/recent", nil)
	var got []models.GeocodeResult
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode recents: %v", err)
	}
	if len(got) != 1 || got[0].DisplayName != "Sanaa" {
		t.Fatalf("unexpected recents %v", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	createBooking(t, srv)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status %d", w.Code)
	}
	var stats models.DashboardStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalTrips != 1 || stats.CompletedTrips != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWorkerLocationPartialBodyMerges(t *testing.T) {
	srv, _, channel := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/internal/worker/locations", map[string]any{
		"worker_id": "w1", "lat": 15.3, "lng": 44.1, "is_online": true, "status": "idle",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("full publish: status %d body %s", w.Code, w.Body.String())
	}

	// a status-only body must not zero the stored position
	w = doJSON(t, srv, http.MethodPost, "/internal/worker/locations", map[string]any{
		"worker_id": "w1", "status": "in_progress",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("partial publish: status %d body %s", w.Code, w.Body.String())
	}

	rec, ok, err := channel.Get(context.Background(), "w1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Lat != 15.3 || rec.Lng != 44.1 || !rec.IsOnline {
		t.Fatalf("prior fields not retained: %+v", rec)
	}
	if rec.Status != "in_progress" {
		t.Fatalf("status not applied: %+v", rec)
	}

	w = doJSON(t, srv, http.MethodPost, "/internal/worker/locations", map[string]any{"lat": 1.0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without worker_id, got %d", w.Code)
	}
}

func TestRequestIDEchoedOnResponse(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected upstream id echoed, got %q", got)
	}

	w = doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/ready"} {
		w := doJSON(t, srv, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}
}
