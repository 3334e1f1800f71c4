package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/drhvac/voicedesk/internal/config"
	"github.com/drhvac/voicedesk/internal/leads"
	"github.com/drhvac/voicedesk/internal/observability"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/policy"
	"github.com/drhvac/voicedesk/internal/protocol"
	"github.com/drhvac/voicedesk/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type LeadLister interface {
	Recent(ctx context.Context, limit int) ([]leads.Lead, error)
}

// Status describes the wired backends for health and readiness probes.
type Status struct {
	LiveProvider  string `json:"live_provider"`
	LeadStoreMode string `json:"lead_store_mode"`
	KafkaEnabled  bool   `json:"kafka_enabled"`
}

type Deps struct {
	Sessions     *session.Manager
	Orchestrator Orchestrator
	Metrics      *observability.Metrics
	Leads        LeadLister
	Status       Status
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	leads        LeadLister
	status       Status
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
	static       http.Handler
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     deps.Sessions,
		orchestrator: deps.Orchestrator,
		leads:        deps.Leads,
		status:       deps.Status,
		metrics:      deps.Metrics,
		static:       newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// Only the page that embeds the widget may drive the caller's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// non-browser clients such as callprobe omit Origin
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
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/personas", s.handleListPersonas)
	r.Get("/v1/widget/settings", s.handleWidgetSettings)
	r.Post("/v1/widget/session", s.handleCreateSession)
	r.Post("/v1/widget/session/{id}/end", s.handleEndSession)
	r.Get("/v1/widget/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/leads", s.handleListLeads)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": active,
		"live_provider":   s.status.LiveProvider,
		"lead_store_mode": s.status.LeadStoreMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]bool{
		"orchestrator": s.orchestrator != nil,
		"sessions":     s.sessions != nil,
		"live":         s.status.LiveProvider != "",
	}
	status, code := "ready", http.StatusOK
	for _, ok := range checks {
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]any{
		"status":          status,
		"checks":          checks,
		"live_provider":   s.status.LiveProvider,
		"lead_store_mode": s.status.LeadStoreMode,
		"kafka_enabled":   s.status.KafkaEnabled,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.VisitorID) == "" {
		req.VisitorID = "anonymous"
	}
	personaID := persona.Sarah
	if strings.TrimSpace(req.PersonaID) != "" {
		id, err := persona.Parse(req.PersonaID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unknown_persona", err.Error())
			return
		}
		personaID = id
	}

	sess := s.sessions.Create(req.VisitorID, string(personaID))
	s.metrics.SessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		VisitorID:       sess.VisitorID,
		Status:          sess.Status,
		PersonaID:       sess.PersonaID,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		WebsocketPath:   "/v1/widget/session/ws?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err := s.sessions.Attach(sessionID); err != nil {
		respondError(w, http.StatusConflict, "session_unavailable", err.Error())
		return
	}
	defer func() { _ = s.sessions.Detach(sessionID) }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.Error("ws_write")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// the writer is the only websocket writer; drop when it is saturated
				s.metrics.WSMessage("outbound_dropped", string(protocol.TypeErrorEvent))
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	if err := policy.AuthorizeAdmin(r.Header.Get("Authorization"), s.cfg.AdminToken); err != nil {
		if errors.Is(err, policy.ErrAdminDisabled) {
			respondError(w, http.StatusNotFound, "not_found", "lead listing is disabled")
			return
		}
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if s.leads == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "lead store not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	items, err := s.leads.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lead_store_error", err.Error())
		return
	}
	if items == nil {
		items = []leads.Lead{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"leads": items, "count": len(items)})
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

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientMicResult:
		return m.Type, true
	case protocol.ClientAudioBlock:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.MicRequest:
		return m.Type, true
	case protocol.MicRelease:
		return m.Type, true
	case protocol.AgentAudio:
		return m.Type, true
	case protocol.AgentAudioStop:
		return m.Type, true
	case protocol.VisualFrame:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
