// Package routing resolves travel routes and addresses against external
// OSRM and Nominatim services. Route resolution never fails to the caller:
// any network error, non-success status or unusable payload degrades to a
// deterministic straight-line fallback.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/cargo-dispatch/internal/geo"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
)

// Defaults for the synthetic fallback route. Both are tunable through
// Config rather than baked into the algorithm.
const (
	DefaultFallbackPoints   = 40
	DefaultFallbackSpeedKmh = 40.0
)

type Config struct {
	RoutingEndpoint  string // OSRM-compatible base URL
	GeocodeEndpoint  string // Nominatim base URL
	Region           string // optional country-code filter for searches
	FallbackPoints   int
	FallbackSpeedKmh float64
}

type Resolver struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewResolver(cfg Config, client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.FallbackPoints < 2 {
		cfg.FallbackPoints = DefaultFallbackPoints
	}
	if cfg.FallbackSpeedKmh <= 0 {
		cfg.FallbackSpeedKmh = DefaultFallbackSpeedKmh
	}
	return &Resolver{cfg: cfg, client: client, logger: logger}
}

// FetchRoute resolves a route between start and end. The preference keys
// caching upstream; the routing service itself serves one driving profile.
// The result is always usable: failures degrade to Fallback.
func (r *Resolver) FetchRoute(ctx context.Context, start, end models.Coord, pref models.Preference) models.RouteInfo {
	info, err := r.queryRoute(ctx, start, end)
	if err != nil {
		r.logger.Warn("route fetch failed, using fallback", "pref", string(pref), "error", err)
		observability.RouteFallbacks.Inc()
		return r.Fallback(start, end)
	}
	return info
}

func (r *Resolver) queryRoute(ctx context.Context, start, end models.Coord) (models.RouteInfo, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		r.cfg.RoutingEndpoint, start.Lng, start.Lat, end.Lng, end.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RouteInfo{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return models.RouteInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.RouteInfo{}, fmt.Errorf("routing status %s", resp.Status)
	}

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"` // lng,lat pairs
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.RouteInfo{}, fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.RouteInfo{}, fmt.Errorf("routing returned no usable route: %q", out.Code)
	}

	route := out.Routes[0]
	pts := make([]models.Coord, 0, len(route.Geometry.Coordinates))
	for _, c := range route.Geometry.Coordinates {
		if len(c) < 2 {
			return models.RouteInfo{}, models.ErrMalformedResponse
		}
		pts = append(pts, models.Coord{Lat: c[1], Lng: c[0]})
	}
	return models.RouteInfo{
		Distance: route.Distance / 1000,
		Duration: route.Duration / 60,
		Route:    pts,
	}, nil
}

// Fallback builds the deterministic synthetic route: evenly spaced
// interpolated points, haversine distance on the 6371 km sphere and a
// duration from the configured assumed speed.
func (r *Resolver) Fallback(start, end models.Coord) models.RouteInfo {
	km := geo.HaversineKm(start, end)
	return models.RouteInfo{
		Distance: km,
		Duration: km / r.cfg.FallbackSpeedKmh * 60,
		Route:    geo.Interpolate(start, end, r.cfg.FallbackPoints),
	}
}
