package tripstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/cargo-dispatch/internal/models"
)

const bookingsChannel = "bookings_changed"

// PostgresStore is the centrally synchronized backend. Change propagation
// is push-based: every write raises a NOTIFY on the bookings channel and a
// pq.Listener held by each process re-reads and fans out the snapshot. The
// NOTIFY payload carries the writing process's origin id so a process skips
// events for writes it already announced locally.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	logger   *slog.Logger
	origin   string
	clock    func() time.Time

	subs     *subscribers
	stopOnce sync.Once
	stop     chan struct{}
}

func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &PostgresStore{
		db:     db,
		logger: logger,
		origin: uuid.NewString(),
		clock:  time.Now,
		subs:   newSubscribers(),
		stop:   make(chan struct{}),
	}
	s.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("bookings listener event", "event", int(ev), "error", err)
		}
	})
	if err := s.listener.Listen(bookingsChannel); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.listen()
	return s, nil
}

func (s *PostgresStore) listen() {
	for {
		select {
		case <-s.stop:
			return
		case n := <-s.listener.Notify:
			// n is nil on reconnect; re-read either way, the snapshot
			// may have moved while the connection was down.
			if n != nil && strings.HasPrefix(n.Extra, s.origin+":") {
				continue
			}
			s.rebroadcast()
		case <-time.After(90 * time.Second):
			go func() { _ = s.listener.Ping() }()
		}
	}
}

func (s *PostgresStore) rebroadcast() {
	list, err := s.Snapshot(context.Background())
	if err != nil {
		s.logger.Warn("snapshot after change failed", "error", err)
		return
	}
	s.subs.broadcast(list)
}

// notify announces a local write to every other process and fans the new
// snapshot out to this process's subscribers directly.
func (s *PostgresStore) notify(ctx context.Context, id string) {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, bookingsChannel, s.origin+":"+id); err != nil {
		s.logger.Warn("pg_notify failed", "error", err)
	}
	s.rebroadcast()
}

func (s *PostgresStore) Create(ctx context.Context, b models.Booking) (string, error) {
	now := s.clock()
	if b.ID == "" {
		b.ID = newBookingID(now)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.Status = models.StatusPending
	b.WorkerID = ""
	route, err := json.Marshal(b.Route)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookings(
			id, service, cargo_type, size_label, weight_label, preference,
			scheduled_time, distance, duration,
			pickup_lat, pickup_lng, drop_lat, drop_lng, route,
			created_at, status, worker_id, rating)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		b.ID, b.Service, b.CargoType, b.Size, b.Weight, b.Preference,
		b.ScheduledTime, b.Distance, b.Duration,
		coordPart(b.Pickup, true), coordPart(b.Pickup, false),
		coordPart(b.Drop, true), coordPart(b.Drop, false), route,
		b.CreatedAt, string(b.Status), b.WorkerID, b.Rating)
	if err != nil {
		return "", err
	}
	s.notify(ctx, b.ID)
	return b.ID, nil
}

func coordPart(c *models.Coord, lat bool) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	if lat {
		return sql.NullFloat64{Float64: c.Lat, Valid: true}
	}
	return sql.NullFloat64{Float64: c.Lng, Valid: true}
}

func (s *PostgresStore) Subscribe(cb func([]models.Booking)) (func(), error) {
	list, err := s.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}
	unsub := s.subs.add(cb)
	cb(list)
	return unsub, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service, cargo_type, size_label, weight_label, preference,
		       scheduled_time, distance, duration,
		       pickup_lat, pickup_lng, drop_lat, drop_lng, route,
		       created_at, status, worker_id, rating
		FROM bookings
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Booking
	for rows.Next() {
		var (
			b                      models.Booking
			status                 string
			pLat, pLng, dLat, dLng sql.NullFloat64
			route                  []byte
		)
		if err := rows.Scan(&b.ID, &b.Service, &b.CargoType, &b.Size, &b.Weight, &b.Preference,
			&b.ScheduledTime, &b.Distance, &b.Duration,
			&pLat, &pLng, &dLat, &dLng, &route,
			&b.CreatedAt, &status, &b.WorkerID, &b.Rating); err != nil {
			return nil, err
		}
		b.Status = models.BookingStatus(status)
		if pLat.Valid && pLng.Valid {
			b.Pickup = &models.Coord{Lat: pLat.Float64, Lng: pLng.Float64}
		}
		if dLat.Valid && dLng.Valid {
			b.Drop = &models.Coord{Lat: dLat.Float64, Lng: dLng.Float64}
		}
		if len(route) > 0 {
			if err := json.Unmarshal(route, &b.Route); err != nil {
				return nil, err
			}
		}
		list = append(list, b)
	}
	if list == nil {
		list = []models.Booking{}
	}
	return list, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, workerID string) models.Outcome {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status=$2, worker_id=COALESCE(NULLIF($3,''), worker_id)
		WHERE id=$1`,
		id, string(status), workerID)
	return s.ack(ctx, id, res, err, "")
}

func (s *PostgresStore) UpdateStatusIf(ctx context.Context, id string, from, to models.BookingStatus, workerID string) models.Outcome {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status=$3, worker_id=COALESCE(NULLIF($4,''), worker_id)
		WHERE id=$1 AND status=$2`,
		id, string(from), string(to), workerID)
	return s.ack(ctx, id, res, err, string(from))
}

func (s *PostgresStore) UpdateRating(ctx context.Context, id string, rating float64) models.Outcome {
	res, err := s.db.ExecContext(ctx, `UPDATE bookings SET rating=$2 WHERE id=$1`, id, rating)
	return s.ack(ctx, id, res, err, "")
}

// ack converts an UPDATE result into an Outcome. A zero row count with a
// non-empty guard means the row exists but the guard did not hold.
func (s *PostgresStore) ack(ctx context.Context, id string, res sql.Result, err error, guard string) models.Outcome {
	if err != nil {
		s.logger.Warn("booking update failed", "id", id, "error", err)
		return models.OutcomeTransportError
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.OutcomeTransportError
	}
	if n == 0 {
		if guard == "" {
			return models.OutcomeNotFound
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id=$1)`, id).Scan(&exists); err != nil {
			return models.OutcomeTransportError
		}
		if !exists {
			return models.OutcomeNotFound
		}
		return models.OutcomeRejected
	}
	s.notify(ctx, id)
	return models.OutcomeOK
}

func (s *PostgresStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	_ = s.listener.Close()
	return s.db.Close()
}
