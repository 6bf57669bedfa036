package voice

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/journal"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/protocol"
)

// session holds everything owned by one connect-to-teardown lifetime.
// Goroutines and callbacks capture the *session they belong to and check it
// is still the manager's current one before touching manager state.
type session struct {
	id        string
	params    ConnectParams
	startedAt time.Time

	// Set by Manager.start under opMu before any goroutine sees them.
	source   audio.Source
	sink     audio.Sink
	conn     Conn
	rec      Recording
	openedAt time.Time
	sendDone chan struct{}

	blocks chan audio.Block
	// done is closed when teardown begins.
	done chan struct{}

	streamingAt atomic.Pointer[time.Time]
	sent        atomic.Int64
	dropped     atomic.Int64
	items       atomic.Int64
	interrupts  atomic.Int64

	// Owned by the read loop.
	seenItems  map[string]struct{}
	firstAudio bool
}

func newSession(p ConnectParams, queue int) *session {
	return &session{
		id:        uuid.NewString(),
		params:    p,
		startedAt: time.Now().UTC(),
		blocks:    make(chan audio.Block, queue),
		done:      make(chan struct{}),
		seenItems: make(map[string]struct{}),
	}
}

func (s *session) record(reason journal.EndReason, errMsg string, endedAt time.Time) journal.Record {
	return journal.Record{
		SessionID:     s.id,
		DocumentID:    s.params.DocumentID,
		ThreadID:      s.params.ThreadID,
		AuthorID:      s.params.AuthorID,
		StartedAt:     s.startedAt,
		StreamingAt:   s.streamingAt.Load(),
		EndedAt:       endedAt,
		EndReason:     reason,
		Error:         errMsg,
		BlocksSent:    s.sent.Load(),
		BlocksDropped: s.dropped.Load(),
		AudioItems:    s.items.Load(),
		Interrupts:    s.interrupts.Load(),
	}
}

// offer is the capture callback. It never blocks the capture goroutine: when
// the outbound queue is full the oldest block is dropped.
func (m *Manager) offer(s *session, b audio.Block) {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.blocks <- b:
			return
		default:
		}
		select {
		case <-s.blocks:
			s.dropped.Add(1)
			m.metrics.BlockDropped()
		default:
		}
	}
}

// sendLoop is the only writer on the socket until teardown closes it.
func (m *Manager) sendLoop(s *session) {
	defer close(s.sendDone)
	for {
		select {
		case <-s.done:
			return
		case b := <-s.blocks:
			select {
			case <-s.done:
				return
			default:
			}
			if s.rec != nil {
				s.rec.Append(b)
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAudioFrame(b)); err != nil {
				m.log.Warn("send audio block failed", "session_id", s.id, "error", err)
				go m.fail(s, journal.EndSocketError, "Realtime connection error: "+err.Error())
				return
			}
			s.sent.Add(1)
			m.metrics.BlockSent()
		}
	}
}

func (m *Manager) readLoop(s *session) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isDone() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) {
				m.log.Info("realtime socket closed by server", "session_id", s.id, "error", err)
				m.fail(s, journal.EndClosed, "Realtime server disconnected")
			} else {
				m.log.Warn("realtime socket error", "session_id", s.id, "error", err)
				m.fail(s, journal.EndSocketError, "Realtime connection error: "+err.Error())
			}
			return
		}
		if s.isDone() {
			return
		}
		if kind != websocket.TextMessage {
			m.log.Debug("ignoring binary frame from server", "session_id", s.id, "bytes", len(data))
			continue
		}

		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			m.metrics.Message("in", "malformed")
			m.log.Warn("ignoring malformed frame", "session_id", s.id, "error", err)
			continue
		}
		if !m.handleEvent(s, ev) {
			return
		}
	}
}

// handleEvent applies one server event. It returns false when the session
// ended because of it.
func (m *Manager) handleEvent(s *session, ev protocol.ServerEvent) bool {
	switch ev := ev.(type) {
	case protocol.Connected:
		m.metrics.Message("in", string(protocol.TypeConnected))
		m.mu.Lock()
		if m.current != s {
			m.mu.Unlock()
			return false
		}
		next, err := Transition(m.state, EventConnected)
		if err == nil {
			m.state = next
		}
		m.mu.Unlock()
		if err != nil {
			m.log.Debug("ignoring connected event", "session_id", s.id, "error", err)
			return true
		}
		now := time.Now().UTC()
		s.streamingAt.Store(&now)
		m.metrics.ObserveStage(observability.StageHandshake, now.Sub(s.openedAt))
		m.log.Info("voice session streaming", "session_id", s.id)

	case protocol.AudioDelta:
		m.metrics.Message("in", string(protocol.TypeAudioDelta))
		if _, ok := s.seenItems[ev.ItemID]; !ok {
			s.seenItems[ev.ItemID] = struct{}{}
			s.items.Add(1)
		}
		if !s.firstAudio {
			s.firstAudio = true
			m.metrics.ObserveStage(observability.StageFirstAudio, time.Since(s.startedAt))
		}
		if err := s.sink.Enqueue(ev.ItemID, ev.PCM); err != nil {
			m.log.Debug("dropping audio delta", "session_id", s.id, "item_id", ev.ItemID, "error", err)
		}

	case protocol.Speaking:
		m.metrics.Message("in", "speaking")
		if !ev.IsSpeaking {
			return true
		}
		off := s.sink.Interrupt()
		s.interrupts.Add(1)
		m.metrics.Event("interrupt")
		m.log.Debug("barge-in", "session_id", s.id, "item_id", off.ItemID, "played_samples", off.Samples)

	case protocol.NewMessage:
		m.metrics.Message("in", string(protocol.TypeNewMessage))
		if s.params.RefreshMessages != nil {
			s.params.RefreshMessages()
		}

	case protocol.Failure:
		m.metrics.Message("in", string(protocol.TypeFailure))
		m.log.Warn("realtime server failure", "session_id", s.id, "reason", ev.Reason)
		m.fail(s, journal.EndFailure, "Realtime server failure: "+ev.Reason)
		return false

	case protocol.Unknown:
		m.metrics.Message("in", "unknown")
		m.log.Debug("ignoring unexpected frame", "session_id", s.id, "type", ev.Type)
	}
	return true
}

func (s *session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
