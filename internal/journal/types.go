// Package journal records the lifecycle of voice sessions.
package journal

import (
	"context"
	"errors"
	"time"
)

// EndReason says why a session was torn down.
type EndReason string

const (
	EndDisconnect  EndReason = "disconnect"
	EndClosed      EndReason = "closed"
	EndSocketError EndReason = "socket_error"
	EndFailure     EndReason = "failure"
	EndDeviceError EndReason = "device_error"
	EndReplaced    EndReason = "replaced"
	EndShutdown    EndReason = "shutdown"
)

var ErrUnsupportedURL = errors.New("unsupported journal database url")

// Record is one finished voice session.
type Record struct {
	SessionID     string     `json:"session_id"`
	DocumentID    string     `json:"document_id"`
	ThreadID      string     `json:"thread_id"`
	AuthorID      string     `json:"author_id"`
	StartedAt     time.Time  `json:"started_at"`
	StreamingAt   *time.Time `json:"streaming_at,omitempty"`
	EndedAt       time.Time  `json:"ended_at"`
	EndReason     EndReason  `json:"end_reason"`
	Error         string     `json:"error,omitempty"`
	BlocksSent    int64      `json:"blocks_sent"`
	BlocksDropped int64      `json:"blocks_dropped"`
	AudioItems    int64      `json:"audio_items"`
	Interrupts    int64      `json:"interrupts"`
}

// Store persists and lists session records.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

const defaultLimit = 20
