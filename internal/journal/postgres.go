package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			session_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			streaming_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ NOT NULL,
			end_reason TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			blocks_sent BIGINT NOT NULL DEFAULT 0,
			blocks_dropped BIGINT NOT NULL DEFAULT 0,
			audio_items BIGINT NOT NULL DEFAULT 0,
			interrupts BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_ended ON voice_sessions (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_sessions (session_id, document_id, thread_id, author_id, started_at, streaming_at,
			ended_at, end_reason, error, blocks_sent, blocks_dropped, audio_items, interrupts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (session_id) DO NOTHING`,
		r.SessionID,
		r.DocumentID,
		r.ThreadID,
		r.AuthorID,
		r.StartedAt,
		r.StreamingAt,
		r.EndedAt,
		string(r.EndReason),
		r.Error,
		r.BlocksSent,
		r.BlocksDropped,
		r.AudioItems,
		r.Interrupts,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, document_id, thread_id, author_id, started_at, streaming_at, ended_at,
			end_reason, error, blocks_sent, blocks_dropped, audio_items, interrupts
		 FROM voice_sessions ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var reason string
		if err := rows.Scan(&r.SessionID, &r.DocumentID, &r.ThreadID, &r.AuthorID, &r.StartedAt, &r.StreamingAt,
			&r.EndedAt, &reason, &r.Error, &r.BlocksSent, &r.BlocksDropped, &r.AudioItems, &r.Interrupts); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.EndReason = EndReason(reason)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
