package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/example/cargo-dispatch/internal/models"
)

// minSearchLength is the query length below which SearchLocation answers
// an empty list without touching the network.
const minSearchLength = 3

// SearchLocation returns ranked address candidates for a free-text query.
// Failures of any kind collapse to an empty list.
func (r *Resolver) SearchLocation(ctx context.Context, query, lang string) []models.GeocodeResult {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return []models.GeocodeResult{}
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", "5")
	if r.cfg.Region != "" {
		q.Set("countrycodes", r.cfg.Region)
	}
	q.Set("accept-language", lang)

	var out []models.GeocodeResult
	if err := r.getJSON(ctx, r.cfg.GeocodeEndpoint+"/search?"+q.Encode(), &out); err != nil {
		r.logger.Warn("location search failed", "query", query, "error", err)
		return []models.GeocodeResult{}
	}
	return out
}

// ReverseGeocode resolves a point to a display address. Best effort: ok is
// false on any failure, nothing is raised to the caller.
func (r *Resolver) ReverseGeocode(ctx context.Context, pt models.Coord, lang string) (string, bool) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", pt.Lat))
	q.Set("lon", fmt.Sprintf("%f", pt.Lng))
	q.Set("accept-language", lang)

	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := r.getJSON(ctx, r.cfg.GeocodeEndpoint+"/reverse?"+q.Encode(), &out); err != nil {
		r.logger.Warn("reverse geocode failed", "error", err)
		return "", false
	}
	if out.DisplayName == "" {
		return "", false
	}
	return out.DisplayName, true
}

func (r *Resolver) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocode status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
	}
	return nil
}
