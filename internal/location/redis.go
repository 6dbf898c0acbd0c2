package location

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
)

// RedisChannel is the centrally synchronized backend: one hash per worker
// for the record, a geo set for proximity lookups and a pub/sub channel per
// worker for pushes. The published message carries the merged record, so
// remote subscribers do not re-read on every fix.
type RedisChannel struct {
	client *redis.Client
	geoKey string
	logger *slog.Logger
	clock  func() time.Time
	open   *closerSet
}

func NewRedisChannel(addr, password, geoKey string, logger *slog.Logger) *RedisChannel {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisChannel{client: c, geoKey: geoKey, logger: logger, clock: time.Now, open: newCloserSet()}
}

// closerSet tracks live pub/sub subscriptions so Close can tear down the
// stragglers. Unsubscribing releases its own entry; the set does not grow
// with subscribe/unsubscribe churn.
type closerSet struct {
	mu   sync.Mutex
	open map[io.Closer]struct{}
}

func newCloserSet() *closerSet {
	return &closerSet{open: make(map[io.Closer]struct{})}
}

func (s *closerSet) add(c io.Closer) {
	s.mu.Lock()
	s.open[c] = struct{}{}
	s.mu.Unlock()
}

// release prunes the entry and closes it. Safe to call more than once.
func (s *closerSet) release(c io.Closer) error {
	s.mu.Lock()
	delete(s.open, c)
	s.mu.Unlock()
	return c.Close()
}

func (s *closerSet) closeAll() {
	s.mu.Lock()
	cs := make([]io.Closer, 0, len(s.open))
	for c := range s.open {
		cs = append(cs, c)
	}
	s.open = make(map[io.Closer]struct{})
	s.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
}

func (s *closerSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func recKey(workerID string) string  { return "worker:loc:" + workerID }
func chanKey(workerID string) string { return "worker:loc:changed:" + workerID }

func (r *RedisChannel) Publish(ctx context.Context, u Update) error {
	prev, _, err := r.Get(ctx, u.WorkerID)
	if err != nil {
		return err
	}
	rec := merge(prev, u, r.clock())

	fields := map[string]interface{}{
		"lat":        strconv.FormatFloat(rec.Lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(rec.Lng, 'f', -1, 64),
		"is_online":  strconv.FormatBool(rec.IsOnline),
		"status":     rec.Status,
		"updated_at": rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := r.client.HSet(ctx, recKey(rec.WorkerID), fields).Err(); err != nil {
		return err
	}
	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: rec.Lng, Latitude: rec.Lat, Name: rec.WorkerID}).Result(); err != nil {
		r.logger.Warn("geoadd failed", "worker", rec.WorkerID, "error", err)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, chanKey(rec.WorkerID), raw).Err(); err != nil {
		r.logger.Warn("location publish notify failed", "worker", rec.WorkerID, "error", err)
	}
	observability.LocationPublishes.Inc()
	return nil
}

func (r *RedisChannel) Subscribe(workerID string, cb func(models.WorkerLocation)) (func(), error) {
	ctx := context.Background()
	if rec, ok, err := r.Get(ctx, workerID); err != nil {
		return nil, err
	} else if ok {
		cb(rec)
	}

	ps := r.client.Subscribe(ctx, chanKey(workerID))
	r.open.add(ps)

	go func() {
		for msg := range ps.Channel() {
			var rec models.WorkerLocation
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				r.logger.Warn("malformed location message", "worker", workerID, "error", err)
				continue
			}
			cb(rec)
		}
	}()
	return func() { _ = r.open.release(ps) }, nil
}

func (r *RedisChannel) Get(ctx context.Context, workerID string) (models.WorkerLocation, bool, error) {
	m, err := r.client.HGetAll(ctx, recKey(workerID)).Result()
	if err != nil {
		return models.WorkerLocation{}, false, err
	}
	if len(m) == 0 {
		return models.WorkerLocation{}, false, nil
	}
	return recordFromHash(workerID, m), true, nil
}

func recordFromHash(workerID string, m map[string]string) models.WorkerLocation {
	rec := models.WorkerLocation{WorkerID: workerID, Status: m["status"]}
	if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
		rec.Lat = v
	}
	if v, err := strconv.ParseFloat(m["lng"], 64); err == nil {
		rec.Lng = v
	}
	rec.IsOnline = m["is_online"] == "true"
	if t, err := time.Parse(time.RFC3339Nano, m["updated_at"]); err == nil {
		rec.UpdatedAt = t
	}
	return rec
}

func (r *RedisChannel) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.WorkerLocation, error) {
	res, err := r.client.GeoRadius(ctx, r.geoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius: 5000, Unit: "m", WithCoord: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkerLocation, 0, len(res))
	for _, g := range res {
		rec, ok, err := r.Get(ctx, g.Name)
		if err != nil || !ok || !rec.IsOnline {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisChannel) OnlineCount(ctx context.Context) (int, error) {
	ids, err := r.client.ZRange(ctx, r.geoKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if rec, ok, err := r.Get(ctx, id); err == nil && ok && rec.IsOnline {
			n++
		}
	}
	return n, nil
}

func (r *RedisChannel) Close() error {
	r.open.closeAll()
	return r.client.Close()
}
