package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/config"
	"github.com/ent0n29/clawdesk/internal/observability"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/session"
	"github.com/ent0n29/clawdesk/internal/transcript"
	"github.com/ent0n29/clawdesk/internal/voice"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the API server. A nil gatherer serves the default Prometheus
// registry.
func New(cfg config.Config, sessions *session.Manager, metrics *observability.Metrics, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
		gatherer: gatherer,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open the feed; it can drive the
				// local microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler(s.gatherer).ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/end", s.handleEndSession)
		r.Post("/messages", s.handleSendMessage)
		r.Get("/history", s.handleHistory)
		r.Post("/voice/start", s.handleVoiceStart)
		r.Post("/voice/stop", s.handleVoiceStop)
		r.Get("/ws", s.handleSessionWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend_mode": s.cfg.BackendMode,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess := s.sessions.Create(req.Stream)
	respondJSON(w, http.StatusCreated, sess.Info(true))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Info(true))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type sendRequest struct {
	Text   string `json:"text"`
	Stream *bool  `json:"stream,omitempty"`
}

type sendResponse struct {
	SessionID string            `json:"session_id"`
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Turns     []transcript.Turn `json:"turns"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	streaming := sess.StreamDefault()
	if req.Stream != nil {
		streaming = *req.Stream
	}

	before := sess.Transcript().Len()
	err := sess.SendText(r.Context(), req.Text, streaming)
	if status, code, handled := sessionErrorStatus(err); handled {
		respondError(w, status, code, err.Error())
		return
	}
	resp := sendResponse{SessionID: sess.ID, OK: err == nil, Turns: turnsSince(sess.Transcript(), before)}
	if err != nil {
		resp.Error = reliability.Message(err, "Chat failed")
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Transcript().History())
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	err := sess.StartVoiceTurn(r.Context())
	if status, code, handled := sessionErrorStatus(err); handled {
		respondError(w, status, code, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "microphone_unavailable", reliability.Message(err, "Microphone access failed"))
		return
	}
	respondJSON(w, http.StatusAccepted, sess.Info(false))
}

type voiceStopResponse struct {
	SessionID string       `json:"session_id"`
	Result    voice.Result `json:"result"`
	Error     string       `json:"error,omitempty"`
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := sess.StopVoiceTurn(r.Context())
	if errors.Is(err, voice.ErrNotRecording) {
		respondError(w, http.StatusConflict, "not_recording", err.Error())
		return
	}
	if status, code, handled := sessionErrorStatus(err); handled {
		respondError(w, status, code, err.Error())
		return
	}
	resp := voiceStopResponse{SessionID: sess.ID, Result: res}
	if err != nil {
		resp.Error = reliability.Message(err, "Voice flow failed")
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return sess, true
}

// sessionErrorStatus maps request-level rejections. Backend failures are
// not handled here; they are part of a successful response.
func sessionErrorStatus(err error) (int, string, bool) {
	switch {
	case err == nil:
		return 0, "", false
	case session.IsBusy(err):
		return http.StatusConflict, "session_busy", true
	case errors.Is(err, session.ErrEnded):
		return http.StatusConflict, "session_ended", true
	case errors.Is(err, transcript.ErrEmptyText):
		return http.StatusBadRequest, "empty_text", true
	default:
		return 0, "", false
	}
}

func turnsSince(tr *transcript.Transcript, from int) []transcript.Turn {
	turns := tr.Turns()
	if from < 0 || from > len(turns) {
		from = 0
	}
	return turns[from:]
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
