package location

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/example/cargo-dispatch/internal/models"
)

func newTestChannel(t *testing.T) *LocalChannel {
	t.Helper()
	c, err := NewLocalChannel(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("new local channel: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublishMergeRetainsUnspecifiedFields(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()

	err := c.Publish(ctx, Update{
		WorkerID: "w1",
		Lat:      Float(15.35), Lng: Float(44.2),
		IsOnline: Bool(true), Status: Str(models.PresenceIdle),
	})
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err = c.Publish(ctx, Update{
		WorkerID: "w1",
		IsOnline: Bool(false), Status: Str(models.PresenceOffline),
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}

	rec, ok, err := c.Get(ctx, "w1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.IsOnline || rec.Status != models.PresenceOffline {
		t.Fatalf("expected offline record, got %+v", rec)
	}
	if rec.Lat != 15.35 || rec.Lng != 44.2 {
		t.Fatalf("expected position retained, got %+v", rec)
	}
}

func TestSubscribeSkipsInitialCallbackWhenAbsent(t *testing.T) {
	c := newTestChannel(t)

	got := make(chan models.WorkerLocation, 4)
	unsub, err := c.Subscribe("w1", func(rec models.WorkerLocation) { got <- rec })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	select {
	case rec := <-got:
		t.Fatalf("unexpected initial delivery for absent record: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Publish(context.Background(), Update{WorkerID: "w1", Lat: Float(1), Lng: Float(2), IsOnline: Bool(true), Status: Str(models.PresenceIdle)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case rec := <-got:
		if rec.Lat != 1 || rec.Lng != 2 {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("publish not delivered to subscriber")
	}
}

func TestSubscribeDeliversExistingRecordImmediately(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()
	_ = c.Publish(ctx, Update{WorkerID: "w1", Lat: Float(3), Lng: Float(4), IsOnline: Bool(true), Status: Str(models.PresenceIdle)})

	got := make(chan models.WorkerLocation, 1)
	unsub, _ := c.Subscribe("w1", func(rec models.WorkerLocation) { got <- rec })
	defer unsub()

	select {
	case rec := <-got:
		if rec.Lat != 3 {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate delivery of existing record")
	}
}

func TestNearbyFiltersOfflineAndSortsByDistance(t *testing.T) {
	c := newTestChannel(t)
	ctx := context.Background()
	_ = c.Publish(ctx, Update{WorkerID: "far", Lat: Float(16), Lng: Float(44), IsOnline: Bool(true), Status: Str(models.PresenceIdle)})
	_ = c.Publish(ctx, Update{WorkerID: "near", Lat: Float(15.01), Lng: Float(44.01), IsOnline: Bool(true), Status: Str(models.PresenceIdle)})
	_ = c.Publish(ctx, Update{WorkerID: "off", Lat: Float(15), Lng: Float(44), IsOnline: Bool(false), Status: Str(models.PresenceOffline)})

	recs, err := c.Nearby(ctx, 15, 44, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 online workers, got %d", len(recs))
	}
	if recs[0].WorkerID != "near" {
		t.Fatalf("expected near first, got %s", recs[0].WorkerID)
	}
}
