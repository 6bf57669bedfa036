package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicelink/internal/audio"
	"github.com/ent0n29/voicelink/internal/journal"
	"github.com/ent0n29/voicelink/internal/observability"
	"github.com/ent0n29/voicelink/internal/voice"
)

// Voice is the part of voice.Manager the control API drives.
type Voice interface {
	Connect(ctx context.Context, p voice.ConnectParams) error
	Disconnect() error
	Snapshot() voice.Snapshot
}

type Server struct {
	voice   Voice
	journal journal.Store
	metrics *observability.Metrics
	log     *slog.Logger

	messageVersion atomic.Int64
}

func New(v Voice, store journal.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		voice:   v,
		journal: store,
		metrics: metrics,
		log:     logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/v1/voice", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/state", s.handleState)
		r.Get("/sessions", s.handleSessions)
		r.Get("/latency", s.handleLatency)
	})
	return r
}

// RefreshMessages is the per-connect refresh hook. Each call bumps the
// message version that clients poll to know the thread changed.
func (s *Server) RefreshMessages() {
	s.messageVersion.Add(1)
}

type connectRequest struct {
	DocumentID string `json:"document_id"`
	ThreadID   string `json:"thread_id"`
	AuthorID   string `json:"author_id"`
}

type stateResponse struct {
	voice.Snapshot
	MessageVersion int64 `json:"message_version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.voice.Snapshot().State,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.voice.Connect(r.Context(), voice.ConnectParams{
		DocumentID:      req.DocumentID,
		ThreadID:        req.ThreadID,
		AuthorID:        req.AuthorID,
		RefreshMessages: s.RefreshMessages,
	})
	if err != nil {
		status, code := connectErrorStatus(err)
		s.log.Warn("voice connect failed", "document_id", req.DocumentID, "thread_id", req.ThreadID, "error", err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.state())
}

func connectErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, voice.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, voice.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusBadGateway, "device_unavailable"
	default:
		return http.StatusBadGateway, "connect_failed"
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.voice.Disconnect(); err != nil {
		// The session is gone either way; surface the release error.
		s.log.Warn("voice disconnect released with errors", "error", err)
		respondError(w, http.StatusInternalServerError, "disconnect_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondJSON(w, http.StatusOK, map[string]any{"sessions": []journal.Record{}})
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) state() stateResponse {
	return stateResponse{
		Snapshot:       s.voice.Snapshot(),
		MessageVersion: s.messageVersion.Load(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
