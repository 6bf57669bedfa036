// Package voice runs realtime voice sessions: it streams microphone audio to
// a realtime server over one websocket per conversation and plays back the
// synthesized replies, truncating playback when the user barges in.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/journal"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/reliability"
)

const (
	DefaultOutboundQueue = 50
	DefaultWriteTimeout  = 5 * time.Second
	DefaultDialTimeout   = 10 * time.Second

	closeGrace     = time.Second
	journalTimeout = 30 * time.Second
)

var (
	ErrInvalidParams = errors.New("invalid connect parameters")
	ErrClosed        = errors.New("voice manager closed")
)

// ConnectParams identifies the conversation and participant of a session.
type ConnectParams struct {
	DocumentID string `validate:"required"`
	ThreadID   string `validate:"required"`
	AuthorID   string `validate:"required"`
	// RefreshMessages is called on every new_message notification. It runs on
	// the socket reader and may call back into the Manager.
	RefreshMessages func()
}

// ErrorReporter receives human-readable messages for failures the user
// should see: unexpected closes, socket errors, device errors and server
// failures. Caller-initiated disconnects are never reported.
type ErrorReporter interface {
	ReportError(message string)
}

type ReporterFunc func(message string)

func (f ReporterFunc) ReportError(message string) { f(message) }

// Recording receives every block sent upstream. Append is called from the
// session's send loop; Finish runs once after the session ends.
type Recording interface {
	Append(b audio.Block)
	Finish(ctx context.Context) error
}

// JournalWriter persists finished sessions.
type JournalWriter interface {
	Save(ctx context.Context, record journal.Record) error
}

// Options configures a Manager. NewSource and NewSink are required.
type Options struct {
	Dialer  Dialer
	BaseURL string
	Header  http.Header

	// NewSource builds the capture source for a session. onError must be
	// invoked when the device fails mid-session.
	NewSource func(onError func(error)) audio.Source
	// NewSink builds the playback sink. onError must be invoked when the
	// output device fails mid-session.
	NewSink func(onError func(error)) audio.Sink

	Reporter      ErrorReporter
	Journal       JournalWriter
	OpenRecording func(sessionID string) (Recording, error)
	Metrics       *observability.Metrics
	Logger        *slog.Logger

	// OutboundQueue is the number of capture blocks buffered for the send
	// loop. When full, the oldest block is dropped.
	OutboundQueue int
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
}

// Manager is the connect/disconnect façade. It owns at most one session at a
// time; every exit path tears the session down through the same routine.
type Manager struct {
	opts     Options
	dialer   Dialer
	log      *slog.Logger
	metrics  *observability.Metrics
	validate *validator.Validate

	// opMu serialises connect and teardown.
	opMu   sync.Mutex
	closed bool

	// mu guards the fields below. It is never held across blocking calls.
	mu      sync.Mutex
	state   State
	current *session
	lastErr string

	bg sync.WaitGroup
}

type Snapshot struct {
	State         State      `json:"state"`
	SessionID     string     `json:"session_id,omitempty"`
	DocumentID    string     `json:"document_id,omitempty"`
	ThreadID      string     `json:"thread_id,omitempty"`
	AuthorID      string     `json:"author_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	BlocksSent    int64      `json:"blocks_sent"`
	BlocksDropped int64      `json:"blocks_dropped"`
	AudioItems    int64      `json:"audio_items"`
	Interrupts    int64      `json:"interrupts"`
}

func NewManager(opts Options) (*Manager, error) {
	if opts.NewSource == nil || opts.NewSink == nil {
		return nil, errors.New("voice manager requires NewSource and NewSink")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = DefaultOutboundQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebSocketDialer{HandshakeTimeout: opts.DialTimeout}
	}
	if opts.Reporter == nil {
		log := opts.Logger
		opts.Reporter = ReporterFunc(func(message string) {
			log.Warn("voice session error", "message", message)
		})
	}
	return &Manager{
		opts:     opts,
		dialer:   opts.Dialer,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		state:    StateIdle,
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{State: m.state, LastError: m.lastErr}
	if s := m.current; s != nil {
		started := s.startedAt
		snap.SessionID = s.id
		snap.DocumentID = s.params.DocumentID
		snap.ThreadID = s.params.ThreadID
		snap.AuthorID = s.params.AuthorID
		snap.StartedAt = &started
		snap.BlocksSent = s.sent.Load()
		snap.BlocksDropped = s.dropped.Load()
		snap.AudioItems = s.items.Load()
		snap.Interrupts = s.interrupts.Load()
	}
	return snap
}

// Connect starts a new session, tearing down any live one first. It returns
// once capture is running and the socket is open; the switch to streaming
// happens when the server acknowledges the handshake.
func (m *Manager) Connect(ctx context.Context, p ConnectParams) error {
	p.DocumentID = strings.TrimSpace(p.DocumentID)
	p.ThreadID = strings.TrimSpace(p.ThreadID)
	p.AuthorID = strings.TrimSpace(p.AuthorID)
	if err := m.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()
	if prev != nil {
		if err := m.teardown(prev, journal.EndReplaced, ""); err != nil {
			m.log.Warn("teardown of replaced session failed", "session_id", prev.id, "error", err)
		}
	}

	s := newSession(p, m.opts.OutboundQueue)
	m.mu.Lock()
	next, err := Transition(m.state, EventConnect)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = next
	m.current = s
	m.lastErr = ""
	m.mu.Unlock()
	m.metrics.SessionStarted()
	m.log.Info("voice session connecting",
		"session_id", s.id,
		"document_id", p.DocumentID,
		"thread_id", p.ThreadID,
		"author_id", p.AuthorID,
	)

	if err := m.start(ctx, s); err != nil {
		reason := journal.EndSocketError
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			reason = journal.EndDeviceError
		}
		if terr := m.teardown(s, reason, err.Error()); terr != nil {
			m.log.Warn("teardown after failed connect", "session_id", s.id, "error", terr)
		}
		return err
	}
	return nil
}

// Callers hold opMu.
func (m *Manager) start(ctx context.Context, s *session) error {
	// Device goroutines are waited on by teardown, so the teardown they
	// trigger must not run on them.
	onDeviceError := func(err error) {
		go m.fail(s, journal.EndDeviceError, "Audio device error: "+err.Error())
	}
	s.source = m.opts.NewSource(onDeviceError)
	s.sink = m.opts.NewSink(onDeviceError)

	if err := s.source.Begin(ctx); err != nil {
		return fmt.Errorf("begin capture: %w", err)
	}
	if err := s.sink.Connect(ctx); err != nil {
		return fmt.Errorf("connect playback: %w", err)
	}

	u := StreamURL(m.opts.BaseURL, s.params.DocumentID, s.params.ThreadID, s.params.AuthorID)
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	dialStart := time.Now()
	conn, err := m.dialer.Dial(dialCtx, u, m.opts.Header.Clone())
	cancel()
	if err != nil {
		return fmt.Errorf("open realtime socket: %w", err)
	}
	s.conn = conn
	s.openedAt = time.Now()
	m.metrics.ObserveStage(observability.StageDial, s.openedAt.Sub(dialStart))

	m.mu.Lock()
	if next, err := Transition(m.state, EventSocketOpen); err == nil {
		m.state = next
	}
	m.mu.Unlock()
	m.log.Info("realtime socket open", "session_id", s.id, "url", u)

	if m.opts.OpenRecording != nil {
		rec, err := m.opts.OpenRecording(s.id)
		if err != nil {
			m.log.Warn("recording disabled for session", "session_id", s.id, "error", err)
		} else {
			s.rec = rec
		}
	}

	s.sendDone = make(chan struct{})
	go m.sendLoop(s)
	go m.readLoop(s)

	if err := s.source.Record(func(b audio.Block) { m.offer(s, b) }); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Disconnect tears down the live session. It is a no-op when idle.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return m.teardown(s, journal.EndDisconnect, "")
}

// Close tears down the live session, refuses further connects and waits for
// pending journal writes and recording uploads.
func (m *Manager) Close(ctx context.Context) error {
	m.opMu.Lock()
	m.closed = true
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	var err error
	if s != nil {
		err = m.teardown(s, journal.EndShutdown, "")
	}
	m.opMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("wait for session finalizers: %w", ctx.Err()))
	}
}

func (m *Manager) fail(s *session, reason journal.EndReason, message string) {
	m.opMu.Lock()
	if !m.isLive(s) {
		m.opMu.Unlock()
		return
	}
	if err := m.teardown(s, reason, message); err != nil {
		m.log.Warn("teardown failed", "session_id", s.id, "reason", reason, "error", err)
	}
	m.opMu.Unlock()
	m.opts.Reporter.ReportError(message)
}

func (m *Manager) isLive(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == s && m.state != StateIdle
}

// Order: mark idle, stop capture, flush and release playback, drain the send
// loop, close the socket, clear the session. Callers hold opMu.
func (m *Manager) teardown(s *session, reason journal.EndReason, errMsg string) error {
	m.mu.Lock()
	if m.current != s || m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	if next, err := Transition(m.state, reasonEvent(reason)); err == nil {
		m.state = next
	} else {
		m.state = StateIdle
	}
	close(s.done)
	m.mu.Unlock()

	var errs []error
	if s.source != nil {
		if err := s.source.End(); err != nil {
			errs = append(errs, fmt.Errorf("end capture: %w", err))
		}
	}
	if s.sink != nil {
		if off := s.sink.Interrupt(); off.ItemID != "" {
			m.log.Debug("playback flushed on teardown", "session_id", s.id, "item_id", off.ItemID, "played_samples", off.Samples)
		}
		if err := s.sink.End(); err != nil {
			errs = append(errs, fmt.Errorf("end playback: %w", err))
		}
	}
	if s.sendDone != nil {
		<-s.sendDone
	}
	if s.conn != nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeGrace))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
	}

	m.mu.Lock()
	m.current = nil
	if errMsg != "" {
		m.lastErr = errMsg
	}
	m.mu.Unlock()

	m.metrics.SessionEnded(string(reason))
	m.log.Info("voice session ended",
		"session_id", s.id,
		"reason", reason,
		"blocks_sent", s.sent.Load(),
		"blocks_dropped", s.dropped.Load(),
		"interrupts", s.interrupts.Load(),
	)
	m.finalize(s, reason, errMsg)
	return errors.Join(errs...)
}

func (m *Manager) finalize(s *session, reason journal.EndReason, errMsg string) {
	if m.opts.Journal == nil && s.rec == nil {
		return
	}
	record := s.record(reason, errMsg, time.Now().UTC())
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if m.opts.Journal != nil {
			err := reliability.Retry(ctx, 3, 200*time.Millisecond, time.Second, func(ctx context.Context) error {
				return m.opts.Journal.Save(ctx, record)
			})
			if err != nil {
				m.log.Warn("save session record failed", "session_id", s.id, "error", err)
			}
		}
		if s.rec != nil {
			if err := s.rec.Finish(ctx); err != nil {
				m.log.Warn("finish recording failed", "session_id", s.id, "error", err)
			}
		}
	}()
}

func reasonEvent(reason journal.EndReason) Event {
	switch reason {
	case journal.EndClosed:
		return EventSocketClosed
	case journal.EndSocketError:
		return EventSocketError
	case journal.EndFailure:
		return EventFailure
	case journal.EndDeviceError:
		return EventDeviceError
	default:
		return EventDisconnect
	}
}
