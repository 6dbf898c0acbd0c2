package location

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/cargo-dispatch/internal/geo"
	"github.com/example/cargo-dispatch/internal/models"
	"github.com/example/cargo-dispatch/internal/observability"
)

// LocalChannel is the single-device fallback: one serialized record per
// worker under a fixed path, in-process notification for same-process
// subscribers and a modification-time poller for records written by other
// processes sharing the data directory.
type LocalChannel struct {
	dir    string
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	lastMod  map[string]time.Time
	subs     *watchers
	stopOnce sync.Once
	stop     chan struct{}
}

func NewLocalChannel(dataDir string, logger *slog.Logger) (*LocalChannel, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	c := &LocalChannel{
		dir:     dataDir,
		logger:  logger,
		clock:   time.Now,
		lastMod: make(map[string]time.Time),
		subs:    newWatchers(),
		stop:    make(chan struct{}),
	}
	go c.poll()
	return c, nil
}

func (c *LocalChannel) pathFor(workerID string) string {
	// worker ids are opaque; keep the filename safe
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, workerID)
	return filepath.Join(c.dir, "location-"+safe+".json")
}

func (c *LocalChannel) poll() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			matches, err := filepath.Glob(filepath.Join(c.dir, "location-*.json"))
			if err != nil {
				continue
			}
			for _, path := range matches {
				fi, err := os.Stat(path)
				if err != nil {
					continue
				}
				c.mu.Lock()
				changed := fi.ModTime().After(c.lastMod[path])
				if changed {
					c.lastMod[path] = fi.ModTime()
				}
				c.mu.Unlock()
				if !changed {
					continue
				}
				if rec, ok := c.read(path); ok {
					c.subs.notify(rec)
				}
			}
		}
	}
}

func (c *LocalChannel) read(path string) (models.WorkerLocation, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.WorkerLocation{}, false
	}
	var rec models.WorkerLocation
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("malformed location record", "path", path, "error", err)
		return models.WorkerLocation{}, false
	}
	return rec, true
}

func (c *LocalChannel) Publish(ctx context.Context, u Update) error {
	c.mu.Lock()
	path := c.pathFor(u.WorkerID)
	prev, _ := c.read(path)
	rec := merge(prev, u, c.clock())
	raw, err := json.Marshal(rec)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		c.mu.Unlock()
		return err
	}
	if fi, err := os.Stat(path); err == nil {
		c.lastMod[path] = fi.ModTime()
	}
	c.mu.Unlock()

	observability.LocationPublishes.Inc()
	c.subs.notify(rec)
	return nil
}

func (c *LocalChannel) Subscribe(workerID string, cb func(models.WorkerLocation)) (func(), error) {
	c.mu.Lock()
	rec, ok := c.read(c.pathFor(workerID))
	c.mu.Unlock()
	unsub := c.subs.add(workerID, cb)
	if ok {
		cb(rec)
	}
	return unsub, nil
}

func (c *LocalChannel) Get(_ context.Context, workerID string) (models.WorkerLocation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.read(c.pathFor(workerID))
	if _, err := os.Stat(c.pathFor(workerID)); errors.Is(err, os.ErrNotExist) {
		return models.WorkerLocation{}, false, nil
	}
	return rec, ok, nil
}

func (c *LocalChannel) Nearby(_ context.Context, lat, lng float64, limit int) ([]models.WorkerLocation, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "location-*.json"))
	if err != nil {
		return nil, err
	}
	center := models.Coord{Lat: lat, Lng: lng}
	var recs []models.WorkerLocation
	c.mu.Lock()
	for _, path := range matches {
		if rec, ok := c.read(path); ok && rec.IsOnline {
			recs = append(recs, rec)
		}
	}
	c.mu.Unlock()
	sort.Slice(recs, func(i, j int) bool {
		di := geo.HaversineKm(center, models.Coord{Lat: recs[i].Lat, Lng: recs[i].Lng})
		dj := geo.HaversineKm(center, models.Coord{Lat: recs[j].Lat, Lng: recs[j].Lng})
		return di < dj
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (c *LocalChannel) OnlineCount(_ context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "location-*.json"))
	if err != nil {
		return 0, err
	}
	n := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, path := range matches {
		if rec, ok := c.read(path); ok && rec.IsOnline {
			n++
		}
	}
	return n, nil
}

func (c *LocalChannel) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
