// Package presence publishes one worker's online state and live position
// into the location channel. The session object is constructed with its
// dependencies injected and has no construction-time side effects; the
// composing process owns its lifecycle and calls Resume explicitly when it
// wants restart recovery.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
)

// Position is one device fix.
type Position struct {
	Lat float64
	Lng float64
	At  time.Time
}

// PositionSource is the device location capability: a one-shot fix bounded
// by a caller-specified timeout, and a continuous watch.
type PositionSource interface {
	Current(ctx context.Context, timeout time.Duration) (Position, error)
	Watch(ctx context.Context, highAccuracy bool) (<-chan Position, func(), error)
}

type Presence struct {
	workerID   string
	channel    location.Channel
	source     PositionSource
	clock      func() time.Time
	logger     *slog.Logger
	fixTimeout time.Duration

	// OnNotice surfaces non-fatal user-facing notices, such as a refused
	// location permission. Optional.
	OnNotice func(string)

	mu         sync.Mutex
	online     bool
	tripStatus models.BookingStatus // empty when no active booking
	lastFix    *Position
	stopWatch  context.CancelFunc
}

type Option func(*Presence)

func WithClock(clock func() time.Time) Option {
	return func(p *Presence) { p.clock = clock }
}

func WithFixTimeout(d time.Duration) Option {
	return func(p *Presence) { p.fixTimeout = d }
}

func New(workerID string, channel location.Channel, source PositionSource, logger *slog.Logger, opts ...Option) *Presence {
	p := &Presence{
		workerID:   workerID,
		channel:    channel,
		source:     source,
		clock:      time.Now,
		logger:     logger,
		fixTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Resume re-reads the last published record and, if it indicated online,
// resumes continuous acquisition without requiring explicit re-activation.
func (p *Presence) Resume(ctx context.Context) error {
	rec, ok, err := p.channel.Get(ctx, p.workerID)
	if err != nil {
		return err
	}
	if !ok || !rec.IsOnline {
		return nil
	}
	p.mu.Lock()
	p.online = true
	if s := models.BookingStatus(rec.Status); s.Valid() {
		p.tripStatus = s
	}
	p.mu.Unlock()
	observability.WorkersOnline.Inc()
	p.startWatching(ctx)
	p.logger.Info("presence resumed", "worker", p.workerID, "status", rec.Status)
	return nil
}

// GoOnline acquires one immediate fix, publishes it, then begins
// continuous acquisition. Idempotent while already online.
func (p *Presence) GoOnline(ctx context.Context) error {
	p.mu.Lock()
	if p.online {
		p.mu.Unlock()
		return nil
	}
	p.online = true
	p.mu.Unlock()
	observability.WorkersOnline.Inc()

	if pos, ok := p.acquire(ctx); ok {
		p.publish(ctx, pos)
	}
	p.startWatching(ctx)
	return nil
}

// GoOffline stops acquisition and overwrites the record wholesale with an
// offline marker.
func (p *Presence) GoOffline(ctx context.Context) error {
	p.mu.Lock()
	if !p.online {
		p.mu.Unlock()
		return nil
	}
	p.online = false
	p.tripStatus = ""
	stop := p.stopWatch
	p.stopWatch = nil
	p.mu.Unlock()
	observability.WorkersOnline.Dec()
	if stop != nil {
		stop()
	}

	return p.channel.Publish(ctx, location.Update{
		WorkerID: p.workerID,
		Lat:      location.Float(0),
		Lng:      location.Float(0),
		IsOnline: location.Bool(false),
		Status:   location.Str(models.PresenceOffline),
	})
}

// SetActiveTripStatus mirrors the active booking's status into the
// broadcast record immediately, using the last known fix or a freshly
// reacquired one, independent of the next periodic fix.
func (p *Presence) SetActiveTripStatus(ctx context.Context, status models.BookingStatus) {
	p.mu.Lock()
	p.tripStatus = status
	last := p.lastFix
	p.mu.Unlock()

	if last != nil {
		p.publish(ctx, *last)
		return
	}
	if pos, ok := p.acquire(ctx); ok {
		p.publish(ctx, pos)
	}
}

// Online reports the session's current online flag.
func (p *Presence) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Presence) startWatching(ctx context.Context) {
	p.mu.Lock()
	if p.stopWatch != nil {
		p.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	p.stopWatch = cancel
	p.mu.Unlock()

	fixes, stop, err := p.source.Watch(watchCtx, true)
	if err != nil {
		p.notice(err)
		p.mu.Lock()
		p.stopWatch = nil
		p.mu.Unlock()
		cancel()
		return
	}
	go func() {
		defer stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case pos, ok := <-fixes:
				if !ok {
					return
				}
				p.publish(watchCtx, pos)
			}
		}
	}()
}

// acquire performs a one-shot fix bounded by the configured timeout.
func (p *Presence) acquire(ctx context.Context) (Position, bool) {
	pos, err := p.source.Current(ctx, p.fixTimeout)
	if err != nil {
		p.notice(err)
		return Position{}, false
	}
	return pos, true
}

func (p *Presence) publish(ctx context.Context, pos Position) {
	p.mu.Lock()
	p.lastFix = &pos
	online := p.online
	status := string(p.tripStatus)
	p.mu.Unlock()
	if !online {
		return
	}
	if status == "" {
		status = models.PresenceIdle
	}

	err := p.channel.Publish(ctx, location.Update{
		WorkerID: p.workerID,
		Lat:      location.Float(pos.Lat),
		Lng:      location.Float(pos.Lng),
		IsOnline: location.Bool(true),
		Status:   location.Str(status),
	})
	if err != nil {
		p.logger.Warn("position publish failed", "worker", p.workerID, "error", err)
	}
}

// notice surfaces a non-fatal acquisition problem. A refused permission
// does not flip the online flag; the worker stays online without fixes.
func (p *Presence) notice(err error) {
	if errors.Is(err, models.ErrPermissionDenied) {
		p.logger.Warn("location permission refused", "worker", p.workerID)
		if p.OnNotice != nil {
			p.OnNotice("location access refused")
		}
		return
	}
	p.logger.Warn("position acquisition failed", "worker", p.workerID, "error", err)
}
