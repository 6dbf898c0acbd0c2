package routing

import (
	"context"
	"math"
	"sync"

	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
)

// IdenticalDistanceKm is the distance delta under which the fastest and
// shortest routes are reported as effectively identical.
const IdenticalDistanceKm = 0.1

// maxRecentSearches bounds the per-session recent location search list.
const maxRecentSearches = 5

// Signal is the informational outcome of a preference toggle. It is not an
// error; it tells the caller what the user should be shown.
type Signal int

const (
	SignalShowingFastest Signal = iota
	SignalShowingShortest
	SignalRoutesIdentical
)

func (s Signal) String() string {
	switch s {
	case SignalShowingFastest:
		return "showing_fastest"
	case SignalShowingShortest:
		return "showing_shortest"
	case SignalRoutesIdentical:
		return "routes_identical"
	}
	return "unknown"
}

type cacheKey struct {
	start, end models.Coord
	pref       models.Preference
}

// Session caches resolved routes for one client session. The fastest and
// shortest results for a (start, end) pair are cached independently. A
// per-key request sequence discards stale in-flight completions so an older
// slow fetch cannot overwrite a fresher result.
type Session struct {
	res *Resolver

	mu     sync.Mutex
	cache  map[cacheKey]models.RouteInfo
	seq    map[cacheKey]uint64
	recent []models.GeocodeResult
}

func NewSession(res *Resolver) *Session {
	return &Session{
		res:   res,
		cache: make(map[cacheKey]models.RouteInfo),
		seq:   make(map[cacheKey]uint64),
	}
}

// Route resolves a route through the cache. Like Resolver.FetchRoute it
// always returns a usable result.
func (s *Session) Route(ctx context.Context, start, end models.Coord, pref models.Preference) models.RouteInfo {
	key := cacheKey{start, end, pref}

	s.mu.Lock()
	if info, ok := s.cache[key]; ok {
		s.mu.Unlock()
		observability.RouteCacheHits.Inc()
		return info
	}
	s.seq[key]++
	mySeq := s.seq[key]
	s.mu.Unlock()

	info := s.res.FetchRoute(ctx, start, end, pref)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq[key] != mySeq {
		// a newer request finished first; prefer its result if cached
		if fresh, ok := s.cache[key]; ok {
			return fresh
		}
		return info
	}
	s.cache[key] = info
	return info
}

// Toggle switches to the other preference for the pair, reusing the cache
// where possible, and reports whether the two routes are effectively the
// same or which one is now shown.
func (s *Session) Toggle(ctx context.Context, start, end models.Coord, current models.Preference) (models.RouteInfo, models.Preference, Signal) {
	next := models.PrefShortest
	if current == models.PrefShortest {
		next = models.PrefFastest
	}
	info := s.Route(ctx, start, end, next)

	s.mu.Lock()
	other, haveOther := s.cache[cacheKey{start, end, current}]
	s.mu.Unlock()

	if haveOther && math.Abs(info.Distance-other.Distance) <= IdenticalDistanceKm {
		return info, next, SignalRoutesIdentical
	}
	if next == models.PrefFastest {
		return info, next, SignalShowingFastest
	}
	return info, next, SignalShowingShortest
}

// RememberSearch stores a picked candidate most-recent-first, deduplicated
// by display name and bounded to maxRecentSearches.
func (s *Session) RememberSearch(res models.GeocodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]models.GeocodeResult, 0, len(s.recent)+1)
	kept = append(kept, res)
	for _, r := range s.recent {
		if r.DisplayName == res.DisplayName {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) > maxRecentSearches {
		kept = kept[:maxRecentSearches]
	}
	s.recent = kept
}

// RecentSearches returns a copy of the remembered searches, newest first.
func (s *Session) RecentSearches() []models.GeocodeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GeocodeResult, len(s.recent))
	copy(out, s.recent)
	return out
}
