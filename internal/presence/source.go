package presence

import (
	"context"
	"sync"
	"time"

	"github.com/example/cargo-dispatch/internal/models"
)

// RouteSource is a position source that follows a fixed polyline, emitting
// one point per tick and staying at the last point once reached. It backs
// demo workers and tests where no real device feed exists.
type RouteSource struct {
	route    []models.Coord
	interval time.Duration
	clock    func() time.Time

	mu  sync.Mutex
	idx int
}

func NewRouteSource(route []models.Coord, interval time.Duration) *RouteSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &RouteSource{route: route, interval: interval, clock: time.Now}
}

func (s *RouteSource) Current(_ context.Context, _ time.Duration) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at(s.idx), nil
}

func (s *RouteSource) Watch(ctx context.Context, _ bool) (<-chan Position, func(), error) {
	out := make(chan Position)
	stopCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-stopCtx.Done():
				return
			case <-t.C:
				s.mu.Lock()
				if s.idx < len(s.route)-1 {
					s.idx++
				}
				pos := s.at(s.idx)
				s.mu.Unlock()
				select {
				case out <- pos:
				case <-stopCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func (s *RouteSource) at(i int) Position {
	if len(s.route) == 0 {
		return Position{At: s.clock()}
	}
	if i >= len(s.route) {
		i = len(s.route) - 1
	}
	c := s.route[i]
	return Position{Lat: c.Lat, Lng: c.Lng, At: s.clock()}
}
