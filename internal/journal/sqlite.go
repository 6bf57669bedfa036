package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists session records in a local SQLite file. Timestamps
// are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS voice_sessions (
		session_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		streaming_at INTEGER,
		ended_at INTEGER NOT NULL,
		end_reason TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		blocks_sent INTEGER NOT NULL DEFAULT 0,
		blocks_dropped INTEGER NOT NULL DEFAULT 0,
		audio_items INTEGER NOT NULL DEFAULT 0,
		interrupts INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	var streaming sql.NullInt64
	if r.StreamingAt != nil {
		streaming = sql.NullInt64{Int64: r.StreamingAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO voice_sessions (session_id, document_id, thread_id, author_id, started_at,
			streaming_at, ended_at, end_reason, error, blocks_sent, blocks_dropped, audio_items, interrupts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.DocumentID, r.ThreadID, r.AuthorID, r.StartedAt.UnixNano(),
		streaming, r.EndedAt.UnixNano(), string(r.EndReason), r.Error,
		r.BlocksSent, r.BlocksDropped, r.AudioItems, r.Interrupts,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, document_id, thread_id, author_id, started_at, streaming_at, ended_at,
			end_reason, error, blocks_sent, blocks_dropped, audio_items, interrupts
		 FROM voice_sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var (
			r              Record
			started, ended int64
			streaming      sql.NullInt64
			reason         string
		)
		if err := rows.Scan(&r.SessionID, &r.DocumentID, &r.ThreadID, &r.AuthorID, &started, &streaming, &ended,
			&reason, &r.Error, &r.BlocksSent, &r.BlocksDropped, &r.AudioItems, &r.Interrupts); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.EndedAt = time.Unix(0, ended).UTC()
		if streaming.Valid {
			t := time.Unix(0, streaming.Int64).UTC()
			r.StreamingAt = &t
		}
		r.EndReason = EndReason(reason)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
