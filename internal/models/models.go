package models

import (
	"math"
	"strconv"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Booking is a single transport request. Distance and Duration are carried
// as decimal strings, matching how the backends serialize them; FareFor
// parses them on demand.
type Booking struct {
	ID            string        `json:"id"`
	Service       string        `json:"service"`
	CargoType     string        `json:"cargo_type"`
	Size          string        `json:"size"`
	Weight        string        `json:"weight"`
	Preference    string        `json:"preference"` // e.g. fastDelivery, safePackaging, scheduleTrip
	ScheduledTime string        `json:"scheduled_time,omitempty"`
	Distance      string        `json:"distance,omitempty"`
	Duration      string        `json:"duration,omitempty"`
	Pickup        *Coord        `json:"pickup,omitempty"`
	Drop          *Coord        `json:"drop,omitempty"`
	Route         []Coord       `json:"route,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        BookingStatus `json:"status"`
	WorkerID      string        `json:"worker_id,omitempty"` // empty until accepted
	Rating        float64       `json:"rating,omitempty"`    // set at most once, after completion
}

// WorkerLocation is the single current-position record for one worker.
// Publishes use merge semantics; a partial update preserves prior fields.
type WorkerLocation struct {
	WorkerID  string    `json:"worker_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	IsOnline  bool      `json:"is_online"`
	Status    string    `json:"status"` // booking status, "idle" or "offline"
	UpdatedAt time.Time `json:"updated_at"`
}

// Worker presence statuses outside of an active booking.
const (
	PresenceIdle    = "idle"
	PresenceOffline = "offline"
)

// RouteInfo is a resolved travel route: distance in kilometers, duration in
// minutes and the ordered polyline.
type RouteInfo struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Route    []Coord `json:"route"`
}

// Preference selects the routing optimization mode.
type Preference string

const (
	PrefFastest  Preference = "fastest"
	PrefShortest Preference = "shortest"
)

// GeocodeResult is one ranked candidate from a location search.
type GeocodeResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

type DashboardStats struct {
	TotalRevenue   float64 `json:"total_revenue"`
	TotalTrips     int     `json:"total_trips"`
	ActiveWorkers  int     `json:"active_workers"`
	CompletedTrips int     `json:"completed_trips"`
}

const (
	// FareBaseCharge and FarePerKm define the published fare formula:
	// fare = distance_km * FarePerKm + FareBaseCharge, rounded to cents.
	FareBaseCharge = 2.0
	FarePerKm      = 0.5
)

// FareFor computes the fare for a booking from its recorded distance.
// An unparseable or absent distance counts as zero kilometers.
func FareFor(b Booking) float64 {
	km, err := strconv.ParseFloat(b.Distance, 64)
	if err != nil {
		km = 0
	}
	return Round2(km*FarePerKm + FareBaseCharge)
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }
