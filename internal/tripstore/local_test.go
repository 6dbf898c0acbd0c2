package tripstore

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/example/cargo-dispatch/internal/models"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateYieldsPendingWithoutWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, models.Booking{Service: "truck", Status: models.StatusAccepted, WorkerID: "sneaky"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected assigned id")
	}
	list, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(list))
	}
	if list[0].Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", list[0].Status)
	}
	if list[0].WorkerID != "" {
		t.Fatalf("expected unset worker id, got %q", list[0].WorkerID)
	}
}

func TestSnapshotOrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.clock = func() time.Time { now = now.Add(time.Second); return now }

	first, _ := s.Create(ctx, models.Booking{Service: "a"})
	second, _ := s.Create(ctx, models.Booking{Service: "b"})

	list, _ := s.Snapshot(ctx)
	if list[0].ID != second || list[1].ID != first {
		t.Fatalf("expected newest first, got %v then %v", list[0].ID, list[1].ID)
	}
}

func TestSubscribeDeliversImmediatelyAndOnMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, models.Booking{Service: "a"})

	got := make(chan []models.Booking, 4)
	unsub, err := s.Subscribe(func(list []models.Booking) { got <- list })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	initial := <-got
	if len(initial) != 1 {
		t.Fatalf("expected initial snapshot of 1, got %d", len(initial))
	}

	if out := s.UpdateStatus(ctx, id, models.StatusAccepted, "w1"); out != models.OutcomeOK {
		t.Fatalf("update status: %s", out)
	}
	select {
	case list := <-got:
		if list[0].Status != models.StatusAccepted || list[0].WorkerID != "w1" {
			t.Fatalf("unexpected snapshot after mutation: %+v", list[0])
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered after mutation")
	}
}

func TestSubscribeTwiceDeliversIdenticalSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, models.Booking{Service: "a"})

	var a, b []models.Booking
	unsub1, _ := s.Subscribe(func(l []models.Booking) {
		if a == nil {
			a = l
		}
	})
	defer unsub1()
	unsub2, _ := s.Subscribe(func(l []models.Booking) {
		if b == nil {
			b = l
		}
	})
	defer unsub2()

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("snapshots differ: %+v vs %+v", a, b)
	}
}

func TestUpdateUnknownIDIsAbsorbed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if out := s.UpdateStatus(ctx, "nope", models.StatusAccepted, "w1"); out != models.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", out)
	}
	if out := s.UpdateRating(ctx, "nope", 5); out != models.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", out)
	}
}

func TestConditionalUpdateGuardsAcceptRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, models.Booking{Service: "a"})

	if out := s.UpdateStatusIf(ctx, id, models.StatusPending, models.StatusAccepted, "w1"); out != models.OutcomeOK {
		t.Fatalf("first accept: %s", out)
	}
	if out := s.UpdateStatusIf(ctx, id, models.StatusPending, models.StatusAccepted, "w2"); out != models.OutcomeRejected {
		t.Fatalf("expected second accept rejected, got %s", out)
	}
	list, _ := s.Snapshot(ctx)
	if list[0].WorkerID != "w1" {
		t.Fatalf("expected w1 to keep the booking, got %q", list[0].WorkerID)
	}
}

func TestUpdateRatingLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, models.Booking{Service: "a"})

	s.UpdateRating(ctx, id, 4)
	s.UpdateRating(ctx, id, 4)
	s.UpdateRating(ctx, id, 5)
	list, _ := s.Snapshot(ctx)
	if list[0].Rating != 5 {
		t.Fatalf("expected rating 5, got %v", list[0].Rating)
	}
}

func TestPollerPicksUpExternalWrite(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocalStore(dir, slog.Default())
	if err != nil {
		t.Fatalf("store a: %v", err)
	}
	defer a.Close()
	b, err := NewLocalStore(dir, slog.Default())
	if err != nil {
		t.Fatalf("store b: %v", err)
	}
	defer b.Close()

	got := make(chan int, 8)
	unsub, _ := a.Subscribe(func(l []models.Booking) { got <- len(l) })
	defer unsub()
	if n := <-got; n != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", n)
	}

	if _, err := b.Create(context.Background(), models.Booking{Service: "x"}); err != nil {
		t.Fatalf("create via b: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-got:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatal("store a never observed store b's write")
		}
	}
}
