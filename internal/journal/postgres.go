package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxPostgresRecent = 500

// PostgresStore persists the journal in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_journal (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			device TEXT NOT NULL DEFAULT '',
			audio_ms BIGINT NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_journal_kind_created ON voice_journal (kind, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_journal (id, kind, text, language, device, audio_ms, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID,
		string(entry.Kind),
		entry.Text,
		entry.Language,
		entry.Device,
		entry.AudioMS,
		entry.LatencyMS,
		entry.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append journal entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Recent(ctx context.Context, kind Kind, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit, maxPostgresRecent)
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, text, language, device, audio_ms, latency_ms, created_at
		 FROM voice_journal WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2`,
		string(kind),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var k string
		if err := rows.Scan(&e.ID, &k, &e.Text, &e.Language, &e.Device, &e.AudioMS, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Kind = Kind(k)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
