package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/models"
)

type createBookingRequest struct {
	Service       string            `json:"service" validate:"required"`
	CargoType     string            `json:"cargo_type" validate:"required"`
	Size          string            `json:"size"`
	Weight        string            `json:"weight"`
	Preference    string            `json:"preference"`
	ScheduledTime string            `json:"scheduled_time"`
	Pickup        *models.Coord     `json:"pickup" validate:"required"`
	Drop          *models.Coord     `json:"drop" validate:"required"`
	RoutePref     models.Preference `json:"route_preference"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pref := req.RoutePref
	if pref == "" {
		pref = models.PrefFastest
	}
	info := s.session.Route(r.Context(), *req.Pickup, *req.Drop, pref)

	b := models.Booking{
		Service:       req.Service,
		CargoType:     req.CargoType,
		Size:          req.Size,
		Weight:        req.Weight,
		Preference:    req.Preference,
		ScheduledTime: req.ScheduledTime,
		Pickup:        req.Pickup,
		Drop:          req.Drop,
		Route:         info.Route,
		Distance:      fmt.Sprintf("%.2f", info.Distance),
		Duration:      fmt.Sprintf("%.0f", info.Duration),
	}
	id, err := s.lifecycle.Request(r.Context(), b)
	if err != nil {
		// creation is the one write whose rejection reaches the caller
		http.Error(w, "booking rejected: backend unavailable", http.StatusServiceUnavailable)
		return
	}
	b.ID = id
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": models.StatusPending,
		"fare":   models.FareFor(b),
		"route":  info,
	})
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type statusRequest struct {
	Actor    models.Actor         `json:"actor" validate:"required,oneof=requester worker"`
	Status   models.BookingStatus `json:"status" validate:"required"`
	WorkerID string               `json:"worker_id"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil || !req.Status.Valid() {
		http.Error(w, "invalid transition request", http.StatusBadRequest)
		return
	}
	out := s.lifecycle.Transition(r.Context(), req.Actor, id, req.Status, req.WorkerID)
	writeOutcome(w, out)
}

type ratingRequest struct {
	Rating float64 `json:"rating" validate:"required,gte=1,lte=5"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeOutcome(w, s.lifecycle.Rate(r.Context(), id, req.Rating))
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	start, end, ok := coordsFromQuery(w, r)
	if !ok {
		return
	}
	pref := models.Preference(r.URL.Query().Get("pref"))
	if pref != models.PrefShortest {
		pref = models.PrefFastest
	}
	info := s.session.Route(r.Context(), start, end, pref)
	writeJSON(w, http.StatusOK, info)
}

type toggleRequest struct {
	Start   models.Coord      `json:"start"`
	End     models.Coord      `json:"end"`
	Current models.Preference `json:"current"`
}

func (s *Server) handleRouteToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, next, sig := s.session.Toggle(r.Context(), req.Start, req.End, req.Current)
	writeJSON(w, http.StatusOK, map[string]any{
		"route":      info,
		"preference": next,
		"signal":     sig.String(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}
	writeJSON(w, http.StatusOK, s.resolver.SearchLocation(r.Context(), q, lang))
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}
	addr, ok := s.resolver.ReverseGeocode(r.Context(), models.Coord{Lat: lat, Lng: lng}, lang)
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "resolved": ok})
}

// handleRememberSearch records a candidate the client picked so it can be
// offered again ahead of fresh search results.
func (s *Server) handleRememberSearch(w http.ResponseWriter, r *http.Request) {
	var res models.GeocodeResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil || res.DisplayName == "" {
		http.Error(w, "display_name is required", http.StatusBadRequest)
		return
	}
	s.session.RememberSearch(res)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentSearches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.RecentSearches())
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	limit := 8
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	recs, err := s.channel.Nearby(r.Context(), lat, lng, limit)
	if err != nil {
		writeJSON(w, http.StatusOK, []models.WorkerLocation{})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// workerLocationRequest mirrors location.Update: absent fields stay nil
// and keep their stored values, preserving the channel's merge semantics
// over HTTP.
type workerLocationRequest struct {
	WorkerID string   `json:"worker_id" validate:"required"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	IsOnline *bool    `json:"is_online"`
	Status   *string  `json:"status"`
}

// handleWorkerLocation ingests a position fix pushed over HTTP. The merged
// record, not the raw body, is mirrored to Kafka when configured.
func (s *Server) handleWorkerLocation(w http.ResponseWriter, r *http.Request) {
	var req workerLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}
	err := s.channel.Publish(r.Context(), location.Update{
		WorkerID: req.WorkerID,
		Lat:      req.Lat,
		Lng:      req.Lng,
		IsOnline: req.IsOnline,
		Status:   req.Status,
	})
	if err != nil {
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.kafka != nil {
		if rec, ok, err := s.channel.Get(r.Context(), req.WorkerID); err == nil && ok {
			if err := s.kafka.PublishFix(rec); err != nil {
				s.logger.Warn("kafka mirror failed", "worker", req.WorkerID, "error", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func coordsFromQuery(w http.ResponseWriter, r *http.Request) (models.Coord, models.Coord, bool) {
	q := r.URL.Query()
	vals := make([]float64, 4)
	for i, key := range []string{"start_lat", "start_lng", "end_lat", "end_lng"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			http.Error(w, key+" is required", http.StatusBadRequest)
			return models.Coord{}, models.Coord{}, false
		}
		vals[i] = v
	}
	return models.Coord{Lat: vals[0], Lng: vals[1]}, models.Coord{Lat: vals[2], Lng: vals[3]}, true
}

func writeOutcome(w http.ResponseWriter, out models.Outcome) {
	code := http.StatusOK
	switch out {
	case models.OutcomeNotFound:
		code = http.StatusNotFound
	case models.OutcomeRejected:
		code = http.StatusConflict
	case models.OutcomeTransportError:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"outcome": out.String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
