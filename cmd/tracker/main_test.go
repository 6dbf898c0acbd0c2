package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/models"
)

type fakePublisher struct {
	calls    int
	failures int
	last     location.Update
}

func (f *fakePublisher) Publish(ctx context.Context, u location.Update) error {
	f.calls++
	f.last = u
	if f.calls <= f.failures {
		return errors.New("publish unavailable")
	}
	return nil
}

func TestUpdateChannelRetriesThenSucceeds(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	rec := models.WorkerLocation{WorkerID: "w1", Lat: 15.37, Lng: 44.19, IsOnline: true, Status: models.PresenceIdle}

	err := updateChannelWithRetry(context.Background(), pub, rec, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", pub.calls)
	}
	if pub.last.WorkerID != "w1" {
		t.Fatalf("unexpected worker id %q", pub.last.WorkerID)
	}
	if pub.last.Lat == nil || *pub.last.Lat != 15.37 {
		t.Fatalf("latitude not carried through: %+v", pub.last)
	}
	if pub.last.IsOnline == nil || !*pub.last.IsOnline {
		t.Fatalf("online flag not carried through: %+v", pub.last)
	}
}

func TestUpdateChannelExhaustsRetries(t *testing.T) {
	pub := &fakePublisher{failures: 10}
	rec := models.WorkerLocation{WorkerID: "w2"}

	err := updateChannelWithRetry(context.Background(), pub, rec, 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if pub.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", pub.calls)
	}
}
