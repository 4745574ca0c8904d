package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/courtsched/internal/booking"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PGStore is the Postgres-backed store.
type PGStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &PGStore{pool: pool}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// Migrate applies the embedded migrations in filename order, tracking them in
// schema_migrations.
func (s *PGStore) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY);`); err != nil {
		return err
	}
	for _, f := range files {
		var applied bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, f).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		b, err := migrationFS.ReadFile("migrations/" + f)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, f); err != nil {
			return err
		}
	}
	return nil
}

const bookingColumns = `id, participants, resource, target_at, state, created_at, result_detail, notify_target`

func (s *PGStore) Put(ctx context.Context, b booking.Booking) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO bookings (`+bookingColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  participants=EXCLUDED.participants,
  resource=EXCLUDED.resource,
  target_at=EXCLUDED.target_at,
  state=EXCLUDED.state,
  result_detail=EXCLUDED.result_detail,
  notify_target=EXCLUDED.notify_target`,
		b.ID, joinParticipants(b.Participants), b.Resource, b.TargetAt, string(b.State), b.CreatedAt, b.ResultDetail, b.NotifyTarget,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (booking.Booking, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, err
}

func (s *PGStore) ListAll(ctx context.Context) ([]booking.Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC`)
}

func (s *PGStore) ListPending(ctx context.Context) ([]booking.Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE state='pending' ORDER BY created_at DESC`)
}

func (s *PGStore) list(ctx context.Context, sql string) ([]booking.Booking, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var b booking.Booking
	var participants, state string
	if err := row.Scan(&b.ID, &participants, &b.Resource, &b.TargetAt, &state, &b.CreatedAt, &b.ResultDetail, &b.NotifyTarget); err != nil {
		return booking.Booking{}, err
	}
	b.Participants = parseParticipants(participants)
	b.State = booking.State(state)
	return b, nil
}

// Participants are stored as a JSON array; display names may contain any
// delimiter character.
func joinParticipants(names []string) string {
	b, _ := json.Marshal(names)
	return string(b)
}

func parseParticipants(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
