package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/valuesort/valuesort/ratelimit"
	"github.com/valuesort/valuesort/transport/websocket"
	"github.com/valuesort/valuesort/workshop/deck"
	"github.com/valuesort/valuesort/workshop/scoped"
	"github.com/valuesort/valuesort/workshop/service"
	"github.com/valuesort/valuesort/workshop/session"
)

// clientCookieName carries the persistent client identity token that lets a
// reconnecting browser resume its participant instead of joining twice.
const clientCookieName = "vs_client_id"

// Server is the REST API server.
type Server struct {
	service service.WorkshopService
	hub     *websocket.Hub
	router  *mux.Router

	limits        RateLimits
	createLimiter *ratelimit.Limiter
	joinLimiter   *ratelimit.Limiter
}

// NewServer creates an API server over the workshop service. hub may be nil;
// observer broadcasts are then skipped.
func NewServer(svc service.WorkshopService, hub *websocket.Hub, limits RateLimits) *Server {
	s := &Server{
		service:       svc,
		hub:           hub,
		router:        mux.NewRouter(),
		limits:        limits,
		createLimiter: ratelimit.New("create", ratelimit.Config{MaxRequests: limits.CreateMax, Window: limits.CreateWindow}),
		joinLimiter:   ratelimit.New("join", ratelimit.Config{MaxRequests: limits.JoinMax, Window: limits.JoinWindow}),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{code}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{code}/join", s.handleJoinSession).Methods("POST")
	api.HandleFunc("/sessions/{code}/activity", s.handleActivity).Methods("POST")
	api.HandleFunc("/sessions/{code}/leave", s.handleLeaveSession).Methods("POST")
	api.HandleFunc("/sessions/{code}/reveal", s.handleReveal).Methods("POST")

	// Per-step sorting state
	api.HandleFunc("/sessions/{code}/participants/{participantId}/state", s.handleGetParticipantState).Methods("GET")
	api.HandleFunc("/sessions/{code}/participants/{participantId}/state", s.handlePutParticipantState).Methods("PUT")

	// Maintenance
	api.HandleFunc("/cleanup", s.handleCleanup).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Decks
	api.HandleFunc("/decks", s.handleListDecks).Methods("GET")
	api.HandleFunc("/decks/{name}", s.handleGetDeck).Methods("GET")

	// WebSocket observer feed
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// PurgeLimiters drops rate-limit windows that have already closed and
// reports how many were removed. Runs from a background ticker.
func (s *Server) PurgeLimiters() int {
	return s.createLimiter.Purge() + s.joinLimiter.Purge()
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message, "code": status})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
// Unexpected errors are logged server-side and never leak internals.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrParticipantNotFound),
		errors.Is(err, deck.ErrDeckNotFound):
		respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, session.ErrSessionEnded):
		respondError(w, http.StatusGone, err.Error())

	case errors.Is(err, session.ErrSessionFull):
		respondError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, session.ErrInvalidCode),
		errors.Is(err, session.ErrInvalidName),
		errors.Is(err, session.ErrInvalidRevealType),
		errors.Is(err, session.ErrDuplicateCode),
		errors.Is(err, deck.ErrInvalidDeck),
		errors.Is(err, scoped.ErrInvalidStep),
		errors.Is(err, scoped.ErrInvalidStateKey):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, session.ErrCodeAllocationExhausted):
		log.Printf("api: code allocation exhausted: %v", err)
		respondError(w, http.StatusInternalServerError, "could not allocate a session code")

	default:
		log.Printf("api: internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondCreateError is respondServiceError with one twist: an unknown deck
// in a create request is the caller's bad input, not a missing resource.
func (s *Server) respondCreateError(w http.ResponseWriter, err error) {
	if errors.Is(err, deck.ErrDeckNotFound) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondServiceError(w, err)
}

// Rate limiting

// allow runs the request through a limiter, stamping the X-RateLimit-*
// headers. On rejection it writes the 429 response and returns false.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter, max int) bool {
	result := limiter.Check(clientKey(r))

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if !result.Allowed {
		retryAfter := int(time.Until(result.ResetTime).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondError(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many requests, retry in %d seconds", retryAfter))
		return false
	}
	return true
}

// clientKey identifies the requester for rate limiting: the first
// X-Forwarded-For hop when present, otherwise the remote address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIdentity returns the caller's persistent identity token, issuing a
// fresh UUID cookie when none is present.
func clientIdentity(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   180 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// publish fans an event out to the session's observers, if a hub is wired.
func (s *Server) publish(code, event string, data any) {
	if s.hub != nil {
		s.hub.Publish(code, event, data)
	}
}

// Session Handlers

// createSessionResponse is the 201 envelope for every create variant.
type createSessionResponse struct {
	SessionCode string               `json:"sessionCode"`
	Session     *session.Session     `json:"session"`
	Participant *session.Participant `json:"participant,omitempty"`
	Rejoined    bool                 `json:"rejoined,omitempty"`
	Created     bool                 `json:"created,omitempty"`
}

// handleCreateSession covers three request shapes: {participantName,
// sessionCode} is an atomic join-or-create, {creatorName} creates a session
// with its first participant, and an empty body creates a bare session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.createLimiter, s.limits.CreateMax) {
		return
	}

	var req struct {
		MaxParticipants int    `json:"maxParticipants,omitempty"`
		TimeoutMinutes  int    `json:"timeoutMinutes,omitempty"`
		DeckType        string `json:"deckType,omitempty"`
		CustomCode      string `json:"customCode,omitempty"`
		SessionCode     string `json:"sessionCode,omitempty"`
		ParticipantName string `json:"participantName,omitempty"`
		CreatorName     string `json:"creatorName,omitempty"`
	}
	if r.Body != nil {
		// An empty or absent body is a bare create.
		json.NewDecoder(r.Body).Decode(&req)
	}

	cfg := session.Config{
		MaxParticipants: req.MaxParticipants,
		TimeoutMinutes:  req.TimeoutMinutes,
		DeckType:        req.DeckType,
	}

	switch {
	case req.ParticipantName != "" && req.SessionCode != "":
		clientID := clientIdentity(w, r)
		result, err := s.service.JoinOrCreateSession(r.Context(), req.SessionCode, req.ParticipantName, clientID, cfg)
		if err != nil {
			s.respondCreateError(w, err)
			return
		}

		if result.Created {
			s.publish(result.Session.Code, service.EventSessionCreated, result.Session)
		}
		if !result.Rejoined {
			s.publish(result.Session.Code, service.EventParticipantJoined, result.Participant)
		}

		log.Printf("api: %s joined-or-created session %s (created=%t)",
			result.Participant.Name, result.Session.Code, result.Created)
		respondJSON(w, http.StatusCreated, createSessionResponse{
			SessionCode: result.Session.Code,
			Session:     result.Session,
			Participant: result.Participant,
			Rejoined:    result.Rejoined,
			Created:     result.Created,
		})

	case req.CreatorName != "" || req.ParticipantName != "":
		// A participant name without a session code reads as "create a
		// session for me".
		creator := req.CreatorName
		if creator == "" {
			creator = req.ParticipantName
		}

		clientID := clientIdentity(w, r)
		result, err := s.service.CreateSessionWithCreator(r.Context(), cfg, req.CustomCode, creator, clientID)
		if err != nil {
			s.respondCreateError(w, err)
			return
		}

		s.publish(result.Session.Code, service.EventSessionCreated, result.Session)
		s.publish(result.Session.Code, service.EventParticipantJoined, result.Participant)

		log.Printf("api: %s created session %s", result.Participant.Name, result.Session.Code)
		respondJSON(w, http.StatusCreated, createSessionResponse{
			SessionCode: result.Session.Code,
			Session:     result.Session,
			Participant: result.Participant,
			Created:     true,
		})

	default:
		sess, err := s.service.CreateSession(r.Context(), cfg, req.CustomCode)
		if err != nil {
			s.respondCreateError(w, err)
			return
		}

		s.publish(sess.Code, service.EventSessionCreated, sess)

		log.Printf("api: created session %s", sess.Code)
		respondJSON(w, http.StatusCreated, createSessionResponse{
			SessionCode: sess.Code,
			Session:     sess,
			Created:     true,
		})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	sess, err := s.service.GetSession(r.Context(), code)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session":     sess,
		"timeoutInfo": s.service.CheckSessionTimeout(r.Context(), code),
	})
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.joinLimiter, s.limits.JoinMax) {
		return
	}

	code := mux.Vars(r)["code"]

	var req struct {
		ParticipantName string `json:"participantName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientID := clientIdentity(w, r)
	result, err := s.service.JoinSession(r.Context(), code, req.ParticipantName, clientID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	if !result.Rejoined {
		s.publish(result.Session.Code, service.EventParticipantJoined, result.Participant)
	}

	log.Printf("api: %s joined session %s (rejoined=%t)",
		result.Participant.Name, result.Session.Code, result.Rejoined)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		ParticipantID string `json:"participantId"`
		CurrentStep   int    `json:"currentStep,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.service.UpdateParticipantActivity(r.Context(), code, req.ParticipantID, req.CurrentStep) {
		respondError(w, http.StatusNotFound, "session or participant not found")
		return
	}
	s.service.ExtendSession(r.Context(), code)

	s.publish(session.NormalizeCode(code), service.EventActivityUpdated, map[string]any{
		"participantId": req.ParticipantID,
		"currentStep":   req.CurrentStep,
	})

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.service.LeaveSession(r.Context(), code, req.ParticipantID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	normalized := session.NormalizeCode(code)
	s.publish(normalized, service.EventParticipantLeft, map[string]any{
		"participantId": req.ParticipantID,
	})
	if result.SessionDeleted {
		s.publish(normalized, service.EventSessionDeleted, nil)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"sessionDeleted": result.SessionDeleted,
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		ParticipantID string   `json:"participantId"`
		Type          string   `json:"type"`
		Cards         []string `json:"cards,omitempty"`
		Unrevel       bool     `json:"unrevel,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.service.UpdateParticipantReveal(r.Context(), code, req.ParticipantID, session.RevealUpdate{
		Type:    req.Type,
		Cards:   req.Cards,
		Unrevel: req.Unrevel,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.publish(session.NormalizeCode(code), service.EventRevealUpdated, p)

	respondJSON(w, http.StatusOK, map[string]any{"participant": p})
}

// Sorting state handlers

// stateStep parses the required ?step=N query parameter. The service layer
// enforces the 1..3 range; this only rejects non-numeric input.
func stateStep(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("step")
	if raw == "" {
		return 0, fmt.Errorf("step query parameter is required")
	}
	step, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("step query parameter must be a number")
	}
	return step, nil
}

func (s *Server) handleGetParticipantState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	step, err := stateStep(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.service.GetParticipantState(r.Context(), vars["code"], vars["participantId"], step)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handlePutParticipantState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	step, err := stateStep(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var state scoped.StepState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stored, err := s.service.PutParticipantState(r.Context(), vars["code"], vars["participantId"], step, state)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.publish(session.NormalizeCode(vars["code"]), service.EventActivityUpdated, map[string]any{
		"participantId": vars["participantId"],
		"currentStep":   step,
	})

	respondJSON(w, http.StatusOK, stored)
}

// Maintenance handlers

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.service.CleanupExpiredSessions(r.Context())

	respondJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"count":   len(removed),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, _ := s.service.ListSessions(r.Context())

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": len(sessions),
	})
}

// Deck handlers

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.service.ListDecks(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"decks": decks,
		"count": len(decks),
	})
}

func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	d, err := s.service.GetDeck(r.Context(), name)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, d)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("session")
	if err := session.ValidateSessionCode(code); err != nil {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	code = session.NormalizeCode(code)

	// Only live sessions accept observers.
	if _, err := s.service.GetSession(r.Context(), code); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	if s.hub == nil {
		http.Error(w, "observer feed unavailable", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeWS(w, r, code)
}
