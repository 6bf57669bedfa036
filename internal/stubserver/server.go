// Package stubserver is a stand-in realtime voice server for local runs and
// tests. It acknowledges the handshake, detects speech with an RMS gate, and
// echoes each utterance back as synthesized audio.
package stubserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/protocol"
)

const (
	DefaultThresholdDB  = -40.0
	DefaultSilenceHold  = 600 * time.Millisecond
	DefaultChunk        = 100 * time.Millisecond
	DefaultMaxUtterance = 30 * time.Second
)

type Options struct {
	// ThresholdDB is the RMS level (dBFS) at or above which a block counts
	// as speech.
	ThresholdDB float64
	SilenceHold time.Duration
	// Chunk is the duration of each echoed audio delta.
	Chunk        time.Duration
	MaxUtterance time.Duration
	// FailAfter, when positive, answers that many utterances with a failure
	// frame instead of an echo.
	FailAfter int
	Logger    *slog.Logger
}

type Server struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	streams  atomic.Int64
}

func New(opts Options) *Server {
	if opts.ThresholdDB == 0 {
		opts.ThresholdDB = DefaultThresholdDB
	}
	if opts.SilenceHold <= 0 {
		opts.SilenceHold = DefaultSilenceHold
	}
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultChunk
	}
	if opts.MaxUtterance <= 0 {
		opts.MaxUtterance = DefaultMaxUtterance
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/api/v1/documents/{documentID}/threads/{threadID}/authors/{authorID}/stream", s.handleStream)
	return r
}

// Streams returns how many sockets have been accepted.
func (s *Server) Streams() int64 {
	return s.streams.Load()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := s.streams.Add(1)

	log := s.log.With(
		"stream", n,
		"document_id", chi.URLParam(r, "documentID"),
		"thread_id", chi.URLParam(r, "threadID"),
		"author_id", chi.URLParam(r, "authorID"),
	)
	log.Info("stub stream opened")
	defer log.Info("stub stream closed")

	st := &stream{
		conn: conn,
		vad:  newVAD(s.opts.ThresholdDB, s.opts.SilenceHold, s.opts.MaxUtterance),
		log:  log,
	}
	if err := st.send(protocol.Connected{}); err != nil {
		return
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			log.Debug("ignoring client text frame", "bytes", len(data))
			continue
		}
		block, err := protocol.DecodeAudioFrame(data)
		if err != nil {
			log.Warn("ignoring malformed audio frame", "error", err)
			continue
		}

		switch st.vad.step(block) {
		case vadSpeechStart:
			if err := st.send(protocol.Speaking{IsSpeaking: true}); err != nil {
				return
			}
			if err := st.send(protocol.NewMessage{}); err != nil {
				return
			}
		case vadSpeechEnd:
			st.utterances++
			utterance := st.vad.take()
			if s.opts.FailAfter > 0 && st.utterances >= s.opts.FailAfter {
				reason := "stub failure after " + strconv.Itoa(st.utterances) + " utterances"
				_ = st.send(protocol.Failure{Reason: reason})
				log.Info("stub stream failed on purpose", "utterances", st.utterances)
				return
			}
			if err := st.echo(utterance, audio.SamplesFor(s.opts.Chunk)); err != nil {
				return
			}
		}
	}
}

// stream is the per-socket state. Reads and writes happen on the handler
// goroutine only.
type stream struct {
	conn       *websocket.Conn
	vad        *vad
	log        *slog.Logger
	utterances int
}

func (st *stream) send(ev protocol.ServerEvent) error {
	raw, err := protocol.EncodeServerEvent(ev)
	if err != nil {
		return err
	}
	_ = st.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := st.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		st.log.Debug("stub write failed", "error", err)
		return err
	}
	return nil
}

func (st *stream) echo(utterance audio.Block, chunk int) error {
	itemID := uuid.NewString()
	st.log.Info("echoing utterance", "item_id", itemID, "samples", len(utterance))
	for off := 0; off < len(utterance); off += chunk {
		end := min(off+chunk, len(utterance))
		if err := st.send(protocol.AudioDelta{ItemID: itemID, PCM: utterance[off:end]}); err != nil {
			return err
		}
	}
	return st.send(protocol.NewMessage{})
}
