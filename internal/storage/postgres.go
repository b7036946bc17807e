package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/facekiosk/internal/config"
	"github.com/your-org/facekiosk/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS audience_events (
	id                UUID PRIMARY KEY,
	kiosk_id          TEXT NOT NULL,
	session_id        UUID NOT NULL,
	type              TEXT NOT NULL,
	face_id           INTEGER NOT NULL,
	age               REAL NOT NULL DEFAULT 0,
	age_band          TEXT NOT NULL DEFAULT '',
	gender            TEXT NOT NULL DEFAULT '',
	gender_confidence REAL NOT NULL DEFAULT 0,
	video_url         TEXT NOT NULL DEFAULT '',
	snapshot_key      TEXT NOT NULL DEFAULT '',
	occurred_at       TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audience_events_kiosk_time_idx ON audience_events (kiosk_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS audience_events_type_idx ON audience_events (type);
`

const eventColumns = `id, kiosk_id, session_id, type, face_id, age, age_band, gender, gender_confidence, video_url, snapshot_key, occurred_at, created_at`

// EventFilter narrows QueryEvents. Zero fields are ignored.
type EventFilter struct {
	KioskID string
	Type    string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the audience_events table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertEvent stores an event. Redelivered events with a known id are ignored;
// inserted reports whether a row was written.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev *models.AudienceEvent) (inserted bool, err error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO audience_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.KioskID, ev.SessionID, ev.Type, ev.FaceID,
		ev.Age, ev.AgeBand, ev.Gender, ev.GenderConfidence,
		ev.VideoURL, ev.SnapshotKey, ev.OccurredAt, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (f EventFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.KioskID != "" {
		add("kiosk_id = $%d", f.KioskID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// QueryEvents returns one page of events, newest first, and the total count.
func (s *PostgresStore) QueryEvents(ctx context.Context, f EventFilter) ([]models.AudienceEvent, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := f.where()

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audience_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM audience_events %s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.AudienceEvent, 0, f.Limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	return events, total, nil
}

// GetEvent returns a single event by ID.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.AudienceEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM audience_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// AudienceCount is the number of locked faces in one age band and gender.
type AudienceCount struct {
	AgeBand string
	Gender  string
	Count   int
}

// CountLocked aggregates face_locked events matching the filter by age band
// and gender. Limit and Offset are ignored.
func (s *PostgresStore) CountLocked(ctx context.Context, f EventFilter) ([]AudienceCount, error) {
	f.Type = models.EventFaceLocked
	where, args := f.where()

	rows, err := s.pool.Query(ctx,
		`SELECT age_band, gender, COUNT(*) FROM audience_events `+where+
			` GROUP BY age_band, gender ORDER BY age_band, gender`, args...)
	if err != nil {
		return nil, fmt.Errorf("count locked: %w", err)
	}
	defer rows.Close()

	var counts []AudienceCount
	for rows.Next() {
		var c AudienceCount
		if err := rows.Scan(&c.AgeBand, &c.Gender, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func scanEvent(row pgx.Row) (models.AudienceEvent, error) {
	var ev models.AudienceEvent
	err := row.Scan(&ev.ID, &ev.KioskID, &ev.SessionID, &ev.Type, &ev.FaceID,
		&ev.Age, &ev.AgeBand, &ev.Gender, &ev.GenderConfidence,
		&ev.VideoURL, &ev.SnapshotKey, &ev.OccurredAt, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ev, ErrNotFound
		}
		return ev, fmt.Errorf("scan event: %w", err)
	}
	return ev, nil
}
