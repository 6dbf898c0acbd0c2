package lifecycle

import (
	"context"
	"log/slog"
	"testing"

	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

func newManager(t *testing.T) (*Manager, tripstore.Store) {
	t.Helper()
	store, err := tripstore.NewLocalStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, nil, slog.Default()), store
}

func mustCreate(t *testing.T, m *Manager) string {
	t.Helper()
	id, err := m.Request(context.Background(), models.Booking{Service: "truck", Distance: "10"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return id
}

func statusOf(t *testing.T, s tripstore.Store, id string) models.Booking {
	t.Helper()
	list, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, b := range list {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("booking %s not found", id)
	return models.Booking{}
}

func TestRequestStartsPendingUnassigned(t *testing.T) {
	m, s := newManager(t)
	id := mustCreate(t, m)
	b := statusOf(t, s, id)
	if b.Status != models.StatusPending || b.WorkerID != "" {
		t.Fatalf("expected pending unassigned, got %+v", b)
	}
}

func TestFullTransitionTable(t *testing.T) {
	cases := []struct {
		actor models.Actor
		from  models.BookingStatus
		to    models.BookingStatus
		ok    bool
	}{
		{models.ActorWorker, models.StatusPending, models.StatusAccepted, true},
		{models.ActorRequester, models.StatusPending, models.StatusCancelled, true},
		{models.ActorWorker, models.StatusPending, models.StatusCancelled, true},
		{models.ActorWorker, models.StatusAccepted, models.StatusArrived, true},
		{models.ActorWorker, models.StatusArrived, models.StatusInProgress, true},
		{models.ActorWorker, models.StatusInProgress, models.StatusCompleted, true},

		{models.ActorRequester, models.StatusPending, models.StatusAccepted, false},
		{models.ActorWorker, models.StatusAccepted, models.StatusCancelled, false},
		{models.ActorRequester, models.StatusAccepted, models.StatusCancelled, false},
		{models.ActorWorker, models.StatusAccepted, models.StatusInProgress, false},
		{models.ActorWorker, models.StatusArrived, models.StatusCompleted, false},
		{models.ActorWorker, models.StatusCompleted, models.StatusPending, false},
		{models.ActorWorker, models.StatusCancelled, models.StatusAccepted, false},
		{models.ActorWorker, models.StatusInProgress, models.StatusArrived, false},
	}

	ctx := context.Background()
	for _, tc := range cases {
		m, s := newManager(t)
		id := mustCreate(t, m)
		// drive the booking to the starting status via the store directly
		if tc.from != models.StatusPending {
			s.UpdateStatus(ctx, id, tc.from, "w1")
		}

		out := m.Transition(ctx, tc.actor, id, tc.to, "w1")
		b := statusOf(t, s, id)
		if tc.ok {
			if out != models.OutcomeOK {
				t.Errorf("%s %s->%s: expected ok, got %s", tc.actor, tc.from, tc.to, out)
			}
			if b.Status != tc.to {
				t.Errorf("%s %s->%s: status is %s", tc.actor, tc.from, tc.to, b.Status)
			}
		} else {
			if out == models.OutcomeOK {
				t.Errorf("%s %s->%s: expected rejection", tc.actor, tc.from, tc.to)
			}
			if b.Status != tc.from {
				t.Errorf("%s %s->%s: status changed to %s", tc.actor, tc.from, tc.to, b.Status)
			}
		}
	}
}

func TestAcceptAssignsWorker(t *testing.T) {
	m, s := newManager(t)
	id := mustCreate(t, m)
	if out := m.Accept(context.Background(), id, "w7"); out != models.OutcomeOK {
		t.Fatalf("accept: %s", out)
	}
	b := statusOf(t, s, id)
	if b.Status != models.StatusAccepted || b.WorkerID != "w7" {
		t.Fatalf("expected accepted by w7, got %+v", b)
	}
}

func TestSecondAcceptLosesTheRace(t *testing.T) {
	m, _ := newManager(t)
	id := mustCreate(t, m)
	ctx := context.Background()
	if out := m.Accept(ctx, id, "w1"); out != models.OutcomeOK {
		t.Fatalf("first accept: %s", out)
	}
	if out := m.Accept(ctx, id, "w2"); out != models.OutcomeRejected {
		t.Fatalf("expected second accept rejected, got %s", out)
	}
}

func TestTransitionUnknownBookingAbsorbed(t *testing.T) {
	m, _ := newManager(t)
	if out := m.Accept(context.Background(), "missing", "w1"); out != models.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", out)
	}
}

func TestRateOnlyAfterCompletion(t *testing.T) {
	m, s := newManager(t)
	id := mustCreate(t, m)
	ctx := context.Background()

	if out := m.Rate(ctx, id, 5); out != models.OutcomeRejected {
		t.Fatalf("expected rating rejected while pending, got %s", out)
	}

	m.Accept(ctx, id, "w1")
	m.Arrive(ctx, id)
	m.Start(ctx, id)
	m.Complete(ctx, id)

	if out := m.Rate(ctx, id, 5); out != models.OutcomeOK {
		t.Fatalf("expected rating accepted, got %s", out)
	}
	if b := statusOf(t, s, id); b.Rating != 5 {
		t.Fatalf("expected rating 5, got %v", b.Rating)
	}
}

// fakePayments records hold/capture/cancel calls.
type fakePayments struct {
	held     int64
	captured []string
	canceled []string
}

func (f *fakePayments) Hold(_ context.Context, amount int64, _, _ string) (string, error) {
	f.held = amount
	return "pi_test", nil
}
func (f *fakePayments) Capture(_ context.Context, id string) error {
	f.captured = append(f.captured, id)
	return nil
}
func (f *fakePayments) Cancel(_ context.Context, id string) error {
	f.canceled = append(f.canceled, id)
	return nil
}

func TestFareHeldOnAcceptCapturedOnComplete(t *testing.T) {
	store, err := tripstore.NewLocalStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	pay := &fakePayments{}
	m := NewManager(store, pay, slog.Default())
	ctx := context.Background()

	id, _ := m.Request(ctx, models.Booking{Service: "truck", Distance: "10"})
	m.Accept(ctx, id, "w1")
	if pay.held != 700 { // 10*0.5+2 = 7.00 -> 700 cents
		t.Fatalf("expected 700 cent hold, got %d", pay.held)
	}
	m.Arrive(ctx, id)
	m.Start(ctx, id)
	m.Complete(ctx, id)
	if len(pay.captured) != 1 || pay.captured[0] != "pi_test" {
		t.Fatalf("expected capture of pi_test, got %v", pay.captured)
	}
}
