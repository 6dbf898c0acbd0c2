// Package lifecycle drives the booking state machine on top of a trip
// store. No central lock exists: transitions are guarded by conditional
// store updates, so the decisive write is the one the backend confirms.
package lifecycle

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

// Payments is the optional fare-settlement capability: a hold is placed
// when a worker accepts, captured on completion and released on
// cancellation. A nil Payments skips settlement entirely.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Manager struct {
	store    tripstore.Store
	payments Payments
	logger   *slog.Logger

	mu      sync.Mutex
	intents map[string]string // booking id -> payment intent id, this process only
}

func NewManager(store tripstore.Store, payments Payments, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		payments: payments,
		logger:   logger,
		intents:  make(map[string]string),
	}
}

// Request creates a new booking. The store forces status to pending and
// clears any worker assignment; creation is the one write whose rejection
// is reported to the caller.
func (m *Manager) Request(ctx context.Context, b models.Booking) (string, error) {
	id, err := m.store.Create(ctx, b)
	if err != nil {
		return "", err
	}
	observability.BookingsCreated.Inc()
	m.logger.Info("booking created", "id", id, "service", b.Service)
	return id, nil
}

// Transition applies one state-machine step for the given actor. Anything
// outside the transition table is rejected with status unchanged; the
// conditional store update closes the window between reading the current
// status and writing the next one.
func (m *Manager) Transition(ctx context.Context, actor models.Actor, id string, to models.BookingStatus, workerID string) models.Outcome {
	b, out := m.find(ctx, id)
	if out != models.OutcomeOK {
		return out
	}
	if !models.CanTransition(actor, b.Status, to) {
		observability.TransitionsRejected.Inc()
		m.logger.Warn("transition rejected", "id", id, "actor", string(actor), "from", string(b.Status), "to", string(to))
		return models.OutcomeRejected
	}
	assign := ""
	if to == models.StatusAccepted {
		assign = workerID
	}
	out = m.store.UpdateStatusIf(ctx, id, b.Status, to, assign)
	if out != models.OutcomeOK {
		if out == models.OutcomeRejected {
			observability.TransitionsRejected.Inc()
		}
		return out
	}
	observability.TransitionsTotal.WithLabelValues(string(to)).Inc()
	m.settle(ctx, b, to, workerID)
	return models.OutcomeOK
}

// Accept assigns the booking to a worker, only while it is still pending.
func (m *Manager) Accept(ctx context.Context, id, workerID string) models.Outcome {
	return m.Transition(ctx, models.ActorWorker, id, models.StatusAccepted, workerID)
}

// Cancel is allowed to either actor, only while the booking is pending.
func (m *Manager) Cancel(ctx context.Context, actor models.Actor, id string) models.Outcome {
	return m.Transition(ctx, actor, id, models.StatusCancelled, "")
}

func (m *Manager) Arrive(ctx context.Context, id string) models.Outcome {
	return m.Transition(ctx, models.ActorWorker, id, models.StatusArrived, "")
}

func (m *Manager) Start(ctx context.Context, id string) models.Outcome {
	return m.Transition(ctx, models.ActorWorker, id, models.StatusInProgress, "")
}

func (m *Manager) Complete(ctx context.Context, id string) models.Outcome {
	return m.Transition(ctx, models.ActorWorker, id, models.StatusCompleted, "")
}

// Rate records the requester's rating, only once the trip has completed.
// Repeated identical ratings are idempotent; otherwise last write wins.
func (m *Manager) Rate(ctx context.Context, id string, rating float64) models.Outcome {
	b, out := m.find(ctx, id)
	if out != models.OutcomeOK {
		return out
	}
	if b.Status != models.StatusCompleted {
		return models.OutcomeRejected
	}
	return m.store.UpdateRating(ctx, id, rating)
}

func (m *Manager) find(ctx context.Context, id string) (models.Booking, models.Outcome) {
	list, err := m.store.Snapshot(ctx)
	if err != nil {
		return models.Booking{}, models.OutcomeTransportError
	}
	for _, b := range list {
		if b.ID == id {
			return b, models.OutcomeOK
		}
	}
	return models.Booking{}, models.OutcomeNotFound
}

// settle runs the fare hold/capture/release flow around transitions.
// Settlement is best effort; a payment failure never rolls the trip back.
func (m *Manager) settle(ctx context.Context, b models.Booking, to models.BookingStatus, customerID string) {
	if m.payments == nil {
		return
	}
	switch to {
	case models.StatusAccepted:
		amount := int64(math.Round(models.FareFor(b) * 100))
		intent, err := m.payments.Hold(ctx, amount, "usd", customerID)
		if err != nil {
			m.logger.Warn("fare hold failed", "id", b.ID, "error", err)
			return
		}
		m.mu.Lock()
		m.intents[b.ID] = intent
		m.mu.Unlock()
	case models.StatusCompleted:
		if intent, ok := m.takeIntent(b.ID); ok {
			if err := m.payments.Capture(ctx, intent); err != nil {
				m.logger.Warn("fare capture failed", "id", b.ID, "error", err)
			}
		}
	case models.StatusCancelled:
		if intent, ok := m.takeIntent(b.ID); ok {
			if err := m.payments.Cancel(ctx, intent); err != nil {
				m.logger.Warn("fare release failed", "id", b.ID, "error", err)
			}
		}
	}
}

func (m *Manager) takeIntent(bookingID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[bookingID]
	if ok {
		delete(m.intents, bookingID)
	}
	return intent, ok
}
