// Package dashboard computes read-only statistics for the observer role.
// Stats are recomputed from the full dataset on every call; there is no
// incremental maintenance, which is fine at this scale.
package dashboard

import (
	"context"
	"log/slog"

	"github.com/example/cargo-dispatch/internal/location"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/tripstore"
)

type Aggregator struct {
	store   tripstore.Store
	channel location.Channel
	logger  *slog.Logger
}

func NewAggregator(store tripstore.Store, channel location.Channel, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, channel: channel, logger: logger}
}

// Stats performs one O(n) pass over all bookings and worker records.
func (a *Aggregator) Stats(ctx context.Context) (models.DashboardStats, error) {
	list, err := a.store.Snapshot(ctx)
	if err != nil {
		return models.DashboardStats{}, err
	}
	stats := compute(list)

	online, err := a.channel.OnlineCount(ctx)
	if err != nil {
		// read-path failure: absorb into "no data" rather than failing
		// the whole stats view
		a.logger.Warn("online worker count unavailable", "error", err)
		online = 0
	}
	stats.ActiveWorkers = online
	return stats, nil
}

// Watch recomputes on every store change and pushes the result to cb,
// giving observers a live view. The returned function stops the watch.
func (a *Aggregator) Watch(ctx context.Context, cb func(models.DashboardStats)) (func(), error) {
	return a.store.Subscribe(func(list []models.Booking) {
		stats := compute(list)
		if online, err := a.channel.OnlineCount(ctx); err == nil {
			stats.ActiveWorkers = online
		}
		cb(stats)
	})
}

func compute(list []models.Booking) models.DashboardStats {
	stats := models.DashboardStats{TotalTrips: len(list)}
	var revenue float64
	for _, b := range list {
		if b.Status != models.StatusCompleted {
			continue
		}
		stats.CompletedTrips++
		revenue += models.FareFor(b)
	}
	stats.TotalRevenue = models.Round2(revenue)
	return stats
}
