package tripstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/cargo-dispatch/internal/models"
)

const bookingsFile = "bookings.json"

// LocalStore is the single-device fallback backend: one serialized list
// under a fixed file path. Writes rewrite the file atomically and notify
// in-process subscribers directly; a modification-time poller picks up
// writes made by other processes sharing the same data directory, mirroring
// the storage-event-plus-poll scheme the central backend replaces.
type LocalStore struct {
	path   string
	clock  func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	lastMod  time.Time
	subs     *subscribers
	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocalStore creates the store and starts the external-change poller.
func NewLocalStore(dataDir string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &LocalStore{
		path:   filepath.Join(dataDir, bookingsFile),
		clock:  time.Now,
		logger: logger,
		subs:   newSubscribers(),
		stop:   make(chan struct{}),
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.lastMod = fi.ModTime()
	}
	go s.poll()
	return s, nil
}

// poll watches the file modification time so mutations made by another
// process on the same device reach this process's subscribers.
func (s *LocalStore) poll() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			fi, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			s.mu.Lock()
			changed := fi.ModTime().After(s.lastMod)
			if changed {
				s.lastMod = fi.ModTime()
			}
			list, loadErr := s.loadLocked()
			s.mu.Unlock()
			if changed && loadErr == nil {
				s.subs.broadcast(list)
			}
		}
	}
}

func (s *LocalStore) loadLocked() ([]models.Booking, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Booking{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []models.Booking
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	sortBookings(list)
	return list, nil
}

// saveLocked rewrites the list atomically and remembers the resulting
// modification time so the poller does not re-announce our own write.
func (s *LocalStore) saveLocked(list []models.Booking) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.lastMod = fi.ModTime()
	}
	return nil
}

func (s *LocalStore) Create(_ context.Context, b models.Booking) (string, error) {
	s.mu.Lock()
	list, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	now := s.clock()
	if b.ID == "" {
		b.ID = newBookingID(now)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.Status = models.StatusPending
	b.WorkerID = ""
	list = append([]models.Booking{b}, list...)
	sortBookings(list)
	if err := s.saveLocked(list); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()
	s.subs.broadcast(list)
	return b.ID, nil
}

func (s *LocalStore) Subscribe(cb func([]models.Booking)) (func(), error) {
	s.mu.Lock()
	list, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	unsub := s.subs.add(cb)
	cb(list)
	return unsub, nil
}

func (s *LocalStore) Snapshot(_ context.Context) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *LocalStore) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, workerID string) models.Outcome {
	return s.mutate(id, func(b *models.Booking) models.Outcome {
		b.Status = status
		if workerID != "" {
			b.WorkerID = workerID
		}
		return models.OutcomeOK
	})
}

func (s *LocalStore) UpdateStatusIf(ctx context.Context, id string, from, to models.BookingStatus, workerID string) models.Outcome {
	return s.mutate(id, func(b *models.Booking) models.Outcome {
		if b.Status != from {
			return models.OutcomeRejected
		}
		b.Status = to
		if workerID != "" {
			b.WorkerID = workerID
		}
		return models.OutcomeOK
	})
}

func (s *LocalStore) UpdateRating(ctx context.Context, id string, rating float64) models.Outcome {
	return s.mutate(id, func(b *models.Booking) models.Outcome {
		b.Rating = rating
		return models.OutcomeOK
	})
}

// mutate loads the list, applies fn to the booking with the given id and
// persists if fn reports OK. Unknown ids are absorbed as OutcomeNotFound.
func (s *LocalStore) mutate(id string, fn func(*models.Booking) models.Outcome) models.Outcome {
	s.mu.Lock()
	list, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return models.OutcomeTransportError
	}
	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Warn("booking not found", "id", id)
		return models.OutcomeNotFound
	}
	if out := fn(&list[idx]); out != models.OutcomeOK {
		s.mu.Unlock()
		return out
	}
	if err := s.saveLocked(list); err != nil {
		s.mu.Unlock()
		return models.OutcomeTransportError
	}
	s.mu.Unlock()
	s.subs.broadcast(list)
	return models.OutcomeOK
}

func (s *LocalStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
