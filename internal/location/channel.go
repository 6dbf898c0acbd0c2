// Package location carries the single current-position record per worker.
// One legitimate writer exists per record (that worker's presence session);
// readers are many. Publishes use merge semantics.
//
// Absent-record behavior: Subscribe skips the initial callback when no
// record exists yet for the worker; the first delivery happens on the first
// publish. Both backends follow this.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/cargo-dispatch/internal/models"
)

// Update is a partial write to a worker's location record. Nil fields
// retain the previously stored value.
type Update struct {
	WorkerID string
	Lat      *float64
	Lng      *float64
	IsOnline *bool
	Status   *string
}

func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool        { return &v }
func Str(v string) *string     { return &v }

// Channel is the live worker-position channel with change notification.
type Channel interface {
	// Publish upserts the worker's record, merging over prior values,
	// and notifies subscribers of that worker.
	Publish(ctx context.Context, u Update) error

	// Subscribe delivers the current record immediately if one exists
	// and again on every publish. The returned function unsubscribes.
	Subscribe(workerID string, cb func(models.WorkerLocation)) (func(), error)

	// Get reads the current record; ok is false when none exists.
	Get(ctx context.Context, workerID string) (rec models.WorkerLocation, ok bool, err error)

	// Nearby returns up to limit online workers closest to the point.
	Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.WorkerLocation, error)

	// OnlineCount returns the number of workers currently online.
	OnlineCount(ctx context.Context) (int, error)

	Close() error
}

// merge applies u over prev, stamping the update time.
func merge(prev models.WorkerLocation, u Update, now time.Time) models.WorkerLocation {
	rec := prev
	rec.WorkerID = u.WorkerID
	if u.Lat != nil {
		rec.Lat = *u.Lat
	}
	if u.Lng != nil {
		rec.Lng = *u.Lng
	}
	if u.IsOnline != nil {
		rec.IsOnline = *u.IsOnline
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	rec.UpdatedAt = now
	return rec
}

// watchers is a per-worker registry of record callbacks.
type watchers struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(models.WorkerLocation)
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[string]map[int]func(models.WorkerLocation))}
}

func (w *watchers) add(workerID string, cb func(models.WorkerLocation)) func() {
	w.mu.Lock()
	id := w.next
	w.next++
	if w.subs[workerID] == nil {
		w.subs[workerID] = make(map[int]func(models.WorkerLocation))
	}
	w.subs[workerID][id] = cb
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs[workerID], id)
		w.mu.Unlock()
	}
}

func (w *watchers) notify(rec models.WorkerLocation) {
	w.mu.Lock()
	cbs := make([]func(models.WorkerLocation), 0, len(w.subs[rec.WorkerID]))
	for _, cb := range w.subs[rec.WorkerID] {
		cbs = append(cbs, cb)
	}
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(rec)
	}
}
