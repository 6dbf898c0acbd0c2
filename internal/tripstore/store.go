package tripstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/cargo-dispatch/internal/models"
)

// Store defines persistence and change notification for bookings. Two
// interchangeable backends exist: PostgresStore (centrally synchronized,
// push-based) and LocalStore (single-device file fallback). Both satisfy
// identical subscribe semantics: the full current list, newest first, is
// delivered immediately on subscribe and again after every mutation from
// any process.
type Store interface {
	// Create assigns a creation-ordered identifier, persists the booking
	// and notifies all subscribers. It fails only when the backend is
	// unavailable.
	Create(ctx context.Context, b models.Booking) (string, error)

	// Subscribe registers cb and immediately delivers the current
	// snapshot. The returned function unsubscribes.
	Subscribe(cb func([]models.Booking)) (func(), error)

	// Snapshot returns all bookings ordered by creation time descending.
	Snapshot(ctx context.Context) ([]models.Booking, error)

	// UpdateStatus sets status and, when workerID is non-empty, the
	// assigned worker. An unknown id yields OutcomeNotFound and changes
	// nothing.
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus, workerID string) models.Outcome

	// UpdateStatusIf applies the update only while the booking is still
	// in the from status; otherwise OutcomeRejected. This is the guard
	// against two workers accepting the same pending booking.
	UpdateStatusIf(ctx context.Context, id string, from, to models.BookingStatus, workerID string) models.Outcome

	// UpdateRating sets the rating. Idempotent for repeated identical
	// values, last write wins otherwise.
	UpdateRating(ctx context.Context, id string, rating float64) models.Outcome

	Close() error
}

// newBookingID builds an opaque, creation-ordered identifier: a fixed-width
// timestamp prefix keeps lexical order aligned with creation order, the
// uuid suffix keeps it unique across processes.
func newBookingID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString()[:8])
}

// sortBookings orders newest first; the id suffix breaks creation-time ties
// deterministically.
func sortBookings(list []models.Booking) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// subscribers is a registry of snapshot callbacks shared by both backends.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]func([]models.Booking)
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]func([]models.Booking))}
}

func (s *subscribers) add(cb func([]models.Booking)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) broadcast(list []models.Booking) {
	s.mu.Lock()
	cbs := make([]func([]models.Booking), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(list)
	}
}
