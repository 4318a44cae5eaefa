package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valuesort/valuesort/transport/websocket"
	"github.com/valuesort/valuesort/workshop/deck"
	"github.com/valuesort/valuesort/workshop/scoped"
	"github.com/valuesort/valuesort/workshop/service"
	"github.com/valuesort/valuesort/workshop/session"
)

// MockWorkshopService implements service.WorkshopService for testing
type MockWorkshopService struct {
	// Session lifecycle
	CreateSessionFunc            func(ctx context.Context, config session.Config, customCode string) (*session.Session, error)
	CreateSessionWithCreatorFunc func(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*service.JoinResult, error)
	JoinSessionFunc              func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error)
	JoinOrCreateSessionFunc      func(ctx context.Context, code, name, clientID string, config session.Config) (*service.JoinResult, error)
	LeaveSessionFunc             func(ctx context.Context, code, participantID string) (*service.LeaveResult, error)
	GetSessionFunc               func(ctx context.Context, code string) (*session.Session, error)
	ListSessionsFunc             func(ctx context.Context) ([]*session.Session, error)

	// Participant operations
	UpdateParticipantActivityFunc func(ctx context.Context, code, participantID string, step int) bool
	UpdateParticipantRevealFunc   func(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error)

	// Sorting state
	GetParticipantStateFunc func(ctx context.Context, code, participantID string, step int) (scoped.StepState, error)
	PutParticipantStateFunc func(ctx context.Context, code, participantID string, step int, state scoped.StepState) (scoped.StepState, error)

	// Timeout management
	CheckSessionTimeoutFunc    func(ctx context.Context, code string) *session.TimeoutInfo
	ExtendSessionFunc          func(ctx context.Context, code string) bool
	CleanupExpiredSessionsFunc func(ctx context.Context) []string

	// Decks
	ListDecksFunc func(ctx context.Context) ([]*deck.Info, error)
	GetDeckFunc   func(ctx context.Context, name string) (*deck.Deck, error)
}

func testSession(code string) *session.Session {
	now := time.Now()
	return &session.Session{
		Code:         code,
		Participants: []*session.Participant{},
		Config:       session.Config{MaxParticipants: 10, TimeoutMinutes: 30, DeckType: "values"},
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(30 * time.Minute),
		IsActive:     true,
	}
}

func testParticipant(name string) *session.Participant {
	now := time.Now()
	return &session.Participant{
		ID:           "p-" + strings.ToLower(name),
		Name:         name,
		JoinedAt:     now,
		LastActivity: now,
		CurrentStep:  1,
		Status:       session.StatusSorting,
	}
}

func (m *MockWorkshopService) CreateSession(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, config, customCode)
	}
	return testSession("ABC123"), nil
}

func (m *MockWorkshopService) CreateSessionWithCreator(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*service.JoinResult, error) {
	if m.CreateSessionWithCreatorFunc != nil {
		return m.CreateSessionWithCreatorFunc(ctx, config, customCode, creatorName, clientID)
	}
	sess := testSession("ABC123")
	p := testParticipant(creatorName)
	sess.Participants = append(sess.Participants, p)
	return &service.JoinResult{Session: sess, Participant: p, Created: true}, nil
}

func (m *MockWorkshopService) JoinSession(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
	if m.JoinSessionFunc != nil {
		return m.JoinSessionFunc(ctx, code, name, clientID)
	}
	sess := testSession(session.NormalizeCode(code))
	p := testParticipant(name)
	sess.Participants = append(sess.Participants, p)
	return &service.JoinResult{Session: sess, Participant: p}, nil
}

func (m *MockWorkshopService) JoinOrCreateSession(ctx context.Context, code, name, clientID string, config session.Config) (*service.JoinResult, error) {
	if m.JoinOrCreateSessionFunc != nil {
		return m.JoinOrCreateSessionFunc(ctx, code, name, clientID, config)
	}
	sess := testSession(session.NormalizeCode(code))
	p := testParticipant(name)
	sess.Participants = append(sess.Participants, p)
	return &service.JoinResult{Session: sess, Participant: p, Created: true}, nil
}

func (m *MockWorkshopService) LeaveSession(ctx context.Context, code, participantID string) (*service.LeaveResult, error) {
	if m.LeaveSessionFunc != nil {
		return m.LeaveSessionFunc(ctx, code, participantID)
	}
	return &service.LeaveResult{SessionDeleted: false}, nil
}

func (m *MockWorkshopService) GetSession(ctx context.Context, code string) (*session.Session, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, code)
	}
	return testSession(session.NormalizeCode(code)), nil
}

func (m *MockWorkshopService) ListSessions(ctx context.Context) ([]*session.Session, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx)
	}
	return []*session.Session{}, nil
}

func (m *MockWorkshopService) UpdateParticipantActivity(ctx context.Context, code, participantID string, step int) bool {
	if m.UpdateParticipantActivityFunc != nil {
		return m.UpdateParticipantActivityFunc(ctx, code, participantID, step)
	}
	return true
}

func (m *MockWorkshopService) UpdateParticipantReveal(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error) {
	if m.UpdateParticipantRevealFunc != nil {
		return m.UpdateParticipantRevealFunc(ctx, code, participantID, update)
	}
	return testParticipant("Alice"), nil
}

func (m *MockWorkshopService) GetParticipantState(ctx context.Context, code, participantID string, step int) (scoped.StepState, error) {
	if m.GetParticipantStateFunc != nil {
		return m.GetParticipantStateFunc(ctx, code, participantID, step)
	}
	return scoped.StepState{}, nil
}

func (m *MockWorkshopService) PutParticipantState(ctx context.Context, code, participantID string, step int, state scoped.StepState) (scoped.StepState, error) {
	if m.PutParticipantStateFunc != nil {
		return m.PutParticipantStateFunc(ctx, code, participantID, step, state)
	}
	state.UpdatedAt = time.Now()
	return state, nil
}

func (m *MockWorkshopService) CheckSessionTimeout(ctx context.Context, code string) *session.TimeoutInfo {
	if m.CheckSessionTimeoutFunc != nil {
		return m.CheckSessionTimeoutFunc(ctx, code)
	}
	return &session.TimeoutInfo{TimeRemaining: int64(30 * time.Minute / time.Millisecond)}
}

func (m *MockWorkshopService) ExtendSession(ctx context.Context, code string) bool {
	if m.ExtendSessionFunc != nil {
		return m.ExtendSessionFunc(ctx, code)
	}
	return true
}

func (m *MockWorkshopService) CleanupExpiredSessions(ctx context.Context) []string {
	if m.CleanupExpiredSessionsFunc != nil {
		return m.CleanupExpiredSessionsFunc(ctx)
	}
	return []string{}
}

func (m *MockWorkshopService) ListDecks(ctx context.Context) ([]*deck.Info, error) {
	if m.ListDecksFunc != nil {
		return m.ListDecksFunc(ctx)
	}
	return []*deck.Info{}, nil
}

func (m *MockWorkshopService) GetDeck(ctx context.Context, name string) (*deck.Deck, error) {
	if m.GetDeckFunc != nil {
		return m.GetDeckFunc(ctx, name)
	}
	return &deck.Deck{Name: name}, nil
}

func (m *MockWorkshopService) SetEventSink(sink service.EventSink) {}

func (m *MockWorkshopService) Reset() {}

// Test helpers

// looseLimits keeps rate limiting out of the way for functional tests.
func looseLimits() RateLimits {
	return RateLimits{
		CreateMax:    1000,
		CreateWindow: time.Minute,
		JoinMax:      1000,
		JoinWindow:   time.Minute,
	}
}

func setupTestServer(mockService *MockWorkshopService) *Server {
	hub := websocket.NewHub()
	go hub.Run()
	return NewServer(mockService, hub, looseLimits())
}

func makeRequest(method, path string, body any) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

func identityCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == clientCookieName {
			return c
		}
	}
	return nil
}

// Session Management Tests

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    map[string]any
		setupMock      func(*MockWorkshopService)
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:        "Bare create with empty body",
			requestBody: nil,
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionFunc = func(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
					if customCode != "" {
						t.Errorf("Expected empty custom code, got %q", customCode)
					}
					return testSession("NEW001"), nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["sessionCode"] != "NEW001" {
					t.Errorf("Expected sessionCode NEW001, got %v", resp["sessionCode"])
				}
				if resp["session"] == nil {
					t.Error("Expected session in response")
				}
				if _, hasParticipant := resp["participant"]; hasParticipant {
					t.Error("Bare create should not return a participant")
				}
			},
		},
		{
			name: "Create passes config and custom code through",
			requestBody: map[string]any{
				"maxParticipants": 4,
				"timeoutMinutes":  15,
				"deckType":        "values-short",
				"customCode":      "CORP42",
			},
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionFunc = func(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
					if config.MaxParticipants != 4 || config.TimeoutMinutes != 15 || config.DeckType != "values-short" {
						t.Errorf("Config not passed through: %+v", config)
					}
					if customCode != "CORP42" {
						t.Errorf("Expected custom code CORP42, got %q", customCode)
					}
					return testSession("CORP42"), nil
				}
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:        "Create with creator returns participant and cookie",
			requestBody: map[string]any{"creatorName": "Alice"},
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionWithCreatorFunc = func(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*service.JoinResult, error) {
					if creatorName != "Alice" {
						t.Errorf("Expected creator Alice, got %q", creatorName)
					}
					if clientID == "" {
						t.Error("Expected a client identity to be issued")
					}
					sess := testSession("ABC123")
					p := testParticipant(creatorName)
					sess.Participants = append(sess.Participants, p)
					return &service.JoinResult{Session: sess, Participant: p, Created: true}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["participant"] == nil {
					t.Error("Expected participant in response")
				}
				if resp["created"] != true {
					t.Error("Expected created flag")
				}
				if identityCookie(w) == nil {
					t.Error("Expected client identity cookie to be set")
				}
			},
		},
		{
			name:        "Join-or-create routes by participantName and sessionCode",
			requestBody: map[string]any{"participantName": "Bob", "sessionCode": "room42"},
			setupMock: func(m *MockWorkshopService) {
				m.JoinOrCreateSessionFunc = func(ctx context.Context, code, name, clientID string, config session.Config) (*service.JoinResult, error) {
					if code != "room42" || name != "Bob" {
						t.Errorf("Wrong routing: code=%q name=%q", code, name)
					}
					sess := testSession("ROOM42")
					p := testParticipant(name)
					sess.Participants = append(sess.Participants, p)
					return &service.JoinResult{Session: sess, Participant: p, Created: true}, nil
				}
			},
			expectedStatus: http.StatusCreated,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["sessionCode"] != "ROOM42" {
					t.Errorf("Expected sessionCode ROOM42, got %v", resp["sessionCode"])
				}
			},
		},
		{
			name:        "Invalid name maps to 400",
			requestBody: map[string]any{"creatorName": "<<<>>>"},
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionWithCreatorFunc = func(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*service.JoinResult, error) {
					return nil, fmt.Errorf("bad creator: %w", session.ErrInvalidName)
				}
			},
			expectedStatus: http.StatusBadRequest,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["code"].(float64) != 400 {
					t.Errorf("Expected code 400 in envelope, got %v", resp["code"])
				}
				if resp["error"] == "" {
					t.Error("Expected error message in envelope")
				}
			},
		},
		{
			name:        "Unknown deck on create maps to 400",
			requestBody: map[string]any{"deckType": "nope"},
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionFunc = func(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
					return nil, fmt.Errorf("%w: deck 'nope' not found", deck.ErrDeckNotFound)
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "Duplicate custom code maps to 400",
			requestBody: map[string]any{"customCode": "TAKEN1"},
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionFunc = func(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
					return nil, fmt.Errorf("%w: TAKEN1", session.ErrDuplicateCode)
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "Allocation exhaustion maps to 500 without internals",
			requestBody: nil,
			setupMock: func(m *MockWorkshopService) {
				m.CreateSessionFunc = func(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
					return nil, session.ErrCodeAllocationExhausted
				}
			},
			expectedStatus: http.StatusInternalServerError,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]any
				parseResponse(t, w, &resp)
				if resp["error"] != "could not allocate a session code" {
					t.Errorf("Unexpected error message: %v", resp["error"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockWorkshopService{}
			if tt.setupMock != nil {
				tt.setupMock(mockService)
			}

			server := setupTestServer(mockService)
			w := httptest.NewRecorder()
			req := makeRequest("POST", "/api/sessions", tt.requestBody)

			server.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d (body: %s)", tt.expectedStatus, w.Code, w.Body.String())
			}

			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestJoinSession(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		setupMock      func(*MockWorkshopService)
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:        "Join adds participant",
			requestBody: map[string]string{"participantName": "Bob"},
			setupMock: func(m *MockWorkshopService) {
				m.JoinSessionFunc = func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
					if code != "ABC123" {
						t.Errorf("Expected code ABC123, got %q", code)
					}
					sess := testSession(code)
					p := testParticipant(name)
					sess.Participants = append(sess.Participants, p)
					return &service.JoinResult{Session: sess, Participant: p}, nil
				}
			},
			expectedStatus: http.StatusOK,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp service.JoinResult
				parseResponse(t, w, &resp)
				if resp.Participant == nil || resp.Participant.Name != "Bob" {
					t.Errorf("Expected participant Bob, got %+v", resp.Participant)
				}
				if identityCookie(w) == nil {
					t.Error("Expected client identity cookie to be set")
				}
			},
		},
		{
			name:        "Unknown session maps to 404",
			requestBody: map[string]string{"participantName": "Bob"},
			setupMock: func(m *MockWorkshopService) {
				m.JoinSessionFunc = func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
					return nil, session.ErrSessionNotFound
				}
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:        "Ended session maps to 410",
			requestBody: map[string]string{"participantName": "Bob"},
			setupMock: func(m *MockWorkshopService) {
				m.JoinSessionFunc = func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
					return nil, fmt.Errorf("%w: ABC123", session.ErrSessionEnded)
				}
			},
			expectedStatus: http.StatusGone,
		},
		{
			name:        "Full session maps to 403",
			requestBody: map[string]string{"participantName": "Bob"},
			setupMock: func(m *MockWorkshopService) {
				m.JoinSessionFunc = func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
					return nil, fmt.Errorf("%w: session ABC123 is at its limit of 10", session.ErrSessionFull)
				}
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:        "Invalid name maps to 400",
			requestBody: map[string]string{"participantName": "   "},
			setupMock: func(m *MockWorkshopService) {
				m.JoinSessionFunc = func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
					return nil, session.ErrInvalidName
				}
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockWorkshopService{}
			if tt.setupMock != nil {
				tt.setupMock(mockService)
			}

			server := setupTestServer(mockService)
			w := httptest.NewRecorder()
			req := makeRequest("POST", "/api/sessions/ABC123/join", tt.requestBody)

			server.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d (body: %s)", tt.expectedStatus, w.Code, w.Body.String())
			}

			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestJoinSessionReusesClientIdentity(t *testing.T) {
	var seenClientID string
	mockService := &MockWorkshopService{
		JoinSessionFunc: func(ctx context.Context, code, name, clientID string) (*service.JoinResult, error) {
			seenClientID = clientID
			sess := testSession(code)
			p := testParticipant(name)
			return &service.JoinResult{Session: sess, Participant: p, Rejoined: true}, nil
		},
	}

	server := setupTestServer(mockService)
	w := httptest.NewRecorder()
	req := makeRequest("POST", "/api/sessions/ABC123/join", map[string]string{"participantName": "Alice"})
	req.AddCookie(&http.Cookie{Name: clientCookieName, Value: "existing-identity"})

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if seenClientID != "existing-identity" {
		t.Errorf("Expected existing identity to be reused, got %q", seenClientID)
	}
	if identityCookie(w) != nil {
		t.Error("No new cookie should be issued when one is presented")
	}
}

func TestGetSession(t *testing.T) {
	t.Run("Returns session with timeout info", func(t *testing.T) {
		mockService := &MockWorkshopService{
			CheckSessionTimeoutFunc: func(ctx context.Context, code string) *session.TimeoutInfo {
				return &session.TimeoutInfo{TimeRemaining: 60000, IsWarning: true}
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/sessions/ABC123", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var resp struct {
			Session     *session.Session     `json:"session"`
			TimeoutInfo *session.TimeoutInfo `json:"timeoutInfo"`
		}
		parseResponse(t, w, &resp)
		if resp.Session == nil || resp.Session.Code != "ABC123" {
			t.Errorf("Expected session ABC123, got %+v", resp.Session)
		}
		if resp.TimeoutInfo == nil || !resp.TimeoutInfo.IsWarning {
			t.Errorf("Expected warning timeout info, got %+v", resp.TimeoutInfo)
		}
	})

	t.Run("Unknown session maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetSessionFunc: func(ctx context.Context, code string) (*session.Session, error) {
				return nil, session.ErrSessionNotFound
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/sessions/ZZZZZZ", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestListSessions(t *testing.T) {
	mockService := &MockWorkshopService{
		ListSessionsFunc: func(ctx context.Context) ([]*session.Session, error) {
			return []*session.Session{testSession("AAAAAA"), testSession("BBBBBB")}, nil
		},
	}

	server := setupTestServer(mockService)
	w := httptest.NewRecorder()
	req := makeRequest("GET", "/api/sessions", nil)

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	parseResponse(t, w, &resp)
	if resp["count"].(float64) != 2 {
		t.Errorf("Expected count 2, got %v", resp["count"])
	}
	if len(resp["sessions"].([]any)) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(resp["sessions"].([]any)))
	}
}

func TestActivity(t *testing.T) {
	t.Run("Heartbeat touches and extends", func(t *testing.T) {
		extended := false
		mockService := &MockWorkshopService{
			UpdateParticipantActivityFunc: func(ctx context.Context, code, participantID string, step int) bool {
				if participantID != "p-1" || step != 2 {
					t.Errorf("Wrong routing: pid=%q step=%d", participantID, step)
				}
				return true
			},
			ExtendSessionFunc: func(ctx context.Context, code string) bool {
				extended = true
				return true
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/activity", map[string]any{
			"participantId": "p-1",
			"currentStep":   2,
		})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if !extended {
			t.Error("Expected activity to extend the session")
		}

		var resp map[string]any
		parseResponse(t, w, &resp)
		if resp["success"] != true {
			t.Errorf("Expected success true, got %v", resp["success"])
		}
	})

	t.Run("Unknown participant maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			UpdateParticipantActivityFunc: func(ctx context.Context, code, participantID string, step int) bool {
				return false
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/activity", map[string]any{"participantId": "ghost"})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("Malformed body maps to 400", func(t *testing.T) {
		server := setupTestServer(&MockWorkshopService{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/sessions/ABC123/activity", strings.NewReader("{not json"))

		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestLeaveSession(t *testing.T) {
	t.Run("Reports session deletion", func(t *testing.T) {
		mockService := &MockWorkshopService{
			LeaveSessionFunc: func(ctx context.Context, code, participantID string) (*service.LeaveResult, error) {
				return &service.LeaveResult{SessionDeleted: true}, nil
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/leave", map[string]string{"participantId": "p-1"})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var resp map[string]any
		parseResponse(t, w, &resp)
		if resp["sessionDeleted"] != true {
			t.Errorf("Expected sessionDeleted true, got %v", resp["sessionDeleted"])
		}
	})

	t.Run("Unknown participant maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			LeaveSessionFunc: func(ctx context.Context, code, participantID string) (*service.LeaveResult, error) {
				return nil, session.ErrParticipantNotFound
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/leave", map[string]string{"participantId": "ghost"})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestReveal(t *testing.T) {
	t.Run("Applies reveal and returns participant", func(t *testing.T) {
		mockService := &MockWorkshopService{
			UpdateParticipantRevealFunc: func(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error) {
				if update.Type != session.RevealTop8 || len(update.Cards) != 2 {
					t.Errorf("Update not passed through: %+v", update)
				}
				p := testParticipant("Alice")
				p.Revealed.Top8 = true
				p.Top8Cards = update.Cards
				p.Status = session.StatusRevealed8
				return p, nil
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/reveal", map[string]any{
			"participantId": "p-1",
			"type":          "top8",
			"cards":         []string{"honesty", "growth"},
		})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d (body: %s)", w.Code, w.Body.String())
		}

		var resp struct {
			Participant *session.Participant `json:"participant"`
		}
		parseResponse(t, w, &resp)
		if resp.Participant == nil || resp.Participant.Status != session.StatusRevealed8 {
			t.Errorf("Expected revealed-8 participant, got %+v", resp.Participant)
		}
	})

	t.Run("Invalid reveal type maps to 400", func(t *testing.T) {
		mockService := &MockWorkshopService{
			UpdateParticipantRevealFunc: func(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error) {
				return nil, fmt.Errorf("%w: top5", session.ErrInvalidRevealType)
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("POST", "/api/sessions/ABC123/reveal", map[string]any{"participantId": "p-1", "type": "top5"})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestParticipantState(t *testing.T) {
	t.Run("GET requires numeric step", func(t *testing.T) {
		server := setupTestServer(&MockWorkshopService{})

		for _, path := range []string{
			"/api/sessions/ABC123/participants/p-1/state",
			"/api/sessions/ABC123/participants/p-1/state?step=abc",
		} {
			w := httptest.NewRecorder()
			req := makeRequest("GET", path, nil)
			server.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for %s, got %d", path, w.Code)
			}
		}
	})

	t.Run("GET returns the step state", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetParticipantStateFunc: func(ctx context.Context, code, participantID string, step int) (scoped.StepState, error) {
				if step != 2 {
					t.Errorf("Expected step 2, got %d", step)
				}
				return scoped.StepState{Cards: []string{"honesty"}, UpdatedAt: time.Now()}, nil
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/sessions/ABC123/participants/p-1/state?step=2", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var state scoped.StepState
		parseResponse(t, w, &state)
		if len(state.Cards) != 1 || state.Cards[0] != "honesty" {
			t.Errorf("Unexpected state: %+v", state)
		}
	})

	t.Run("PUT stores the step state", func(t *testing.T) {
		mockService := &MockWorkshopService{
			PutParticipantStateFunc: func(ctx context.Context, code, participantID string, step int, state scoped.StepState) (scoped.StepState, error) {
				if len(state.Piles["keep"]) != 1 {
					t.Errorf("Body not passed through: %+v", state)
				}
				state.UpdatedAt = time.Now()
				return state, nil
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("PUT", "/api/sessions/ABC123/participants/p-1/state?step=1", map[string]any{
			"cards": []string{"honesty", "growth"},
			"piles": map[string][]string{"keep": {"honesty"}},
		})

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d (body: %s)", w.Code, w.Body.String())
		}

		var state scoped.StepState
		parseResponse(t, w, &state)
		if state.UpdatedAt.IsZero() {
			t.Error("Expected UpdatedAt stamp in response")
		}
	})

	t.Run("Out-of-range step maps to 400", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetParticipantStateFunc: func(ctx context.Context, code, participantID string, step int) (scoped.StepState, error) {
				return scoped.StepState{}, fmt.Errorf("%w: 9", scoped.ErrInvalidStep)
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/sessions/ABC123/participants/p-1/state?step=9", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("Dead session maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetParticipantStateFunc: func(ctx context.Context, code, participantID string, step int) (scoped.StepState, error) {
				return scoped.StepState{}, session.ErrSessionNotFound
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/sessions/ZZZZZZ/participants/p-1/state?step=1", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestCleanup(t *testing.T) {
	mockService := &MockWorkshopService{
		CleanupExpiredSessionsFunc: func(ctx context.Context) []string {
			return []string{"AAAAAA", "BBBBBB"}
		},
	}

	server := setupTestServer(mockService)
	w := httptest.NewRecorder()
	req := makeRequest("POST", "/api/cleanup", nil)

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	parseResponse(t, w, &resp)
	if resp["count"].(float64) != 2 {
		t.Errorf("Expected count 2, got %v", resp["count"])
	}
}

func TestHealth(t *testing.T) {
	mockService := &MockWorkshopService{
		ListSessionsFunc: func(ctx context.Context) ([]*session.Session, error) {
			return []*session.Session{testSession("AAAAAA")}, nil
		},
	}

	server := setupTestServer(mockService)
	w := httptest.NewRecorder()
	req := makeRequest("GET", "/api/health", nil)

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	parseResponse(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", resp["status"])
	}
	if resp["sessions"].(float64) != 1 {
		t.Errorf("Expected 1 session, got %v", resp["sessions"])
	}
}

func TestDecks(t *testing.T) {
	t.Run("List decks", func(t *testing.T) {
		mockService := &MockWorkshopService{
			ListDecksFunc: func(ctx context.Context) ([]*deck.Info, error) {
				return []*deck.Info{
					{DeckID: "values", Name: "Personal Values", CardCount: 40},
					{DeckID: "values-short", Name: "Personal Values (Short)", CardCount: 20},
				}, nil
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/decks", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		var resp map[string]any
		parseResponse(t, w, &resp)
		if resp["count"].(float64) != 2 {
			t.Errorf("Expected count 2, got %v", resp["count"])
		}
	})

	t.Run("Unknown deck maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetDeckFunc: func(ctx context.Context, name string) (*deck.Deck, error) {
				return nil, deck.ErrDeckNotFound
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := makeRequest("GET", "/api/decks/missing", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

// Rate Limiting Tests

func TestRateLimiting(t *testing.T) {
	limits := RateLimits{
		CreateMax:    2,
		CreateWindow: time.Minute,
		JoinMax:      2,
		JoinWindow:   time.Minute,
	}
	server := NewServer(&MockWorkshopService{}, nil, limits)

	send := func(path string, body any) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := makeRequest("POST", path, body)
		req.RemoteAddr = "10.1.2.3:55555"
		server.ServeHTTP(w, req)
		return w
	}

	// Two creates pass, the third hits the wall.
	first := send("/api/sessions", nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("First create: expected 201, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("Expected remaining 1, got %s", first.Header().Get("X-RateLimit-Remaining"))
	}

	if second := send("/api/sessions", nil); second.Code != http.StatusCreated {
		t.Fatalf("Second create: expected 201, got %d", second.Code)
	}

	third := send("/api/sessions", nil)
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("Third create: expected 429, got %d", third.Code)
	}
	if third.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}
	if third.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("Expected remaining 0, got %s", third.Header().Get("X-RateLimit-Remaining"))
	}
	if third.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("Expected limit 2, got %s", third.Header().Get("X-RateLimit-Limit"))
	}

	// The join limiter counts independently of create.
	join := send("/api/sessions/ABC123/join", map[string]string{"participantName": "Alice"})
	if join.Code != http.StatusOK {
		t.Errorf("Join should use its own limiter: expected 200, got %d", join.Code)
	}

	// A different client is unaffected.
	w := httptest.NewRecorder()
	req := makeRequest("POST", "/api/sessions", nil)
	req.RemoteAddr = "10.9.9.9:1111"
	server.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("Other client: expected 201, got %d", w.Code)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"Remote address host", "192.168.1.5:12345", "", "192.168.1.5"},
		{"Forwarded single hop", "10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"Forwarded chain uses first hop", "10.0.0.1:80", "203.0.113.7, 70.41.3.18", "203.0.113.7"},
		{"Unparseable remote address returned as-is", "what-even", "", "what-even"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/health", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := clientKey(req); got != tt.want {
				t.Errorf("clientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

// WebSocket Endpoint Tests

func TestWebSocketEndpoint(t *testing.T) {
	t.Run("Missing or malformed session parameter maps to 400", func(t *testing.T) {
		server := setupTestServer(&MockWorkshopService{})

		for _, path := range []string{"/ws", "/ws?session=bad!"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", path, nil)
			server.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for %s, got %d", path, w.Code)
			}
		}
	})

	t.Run("Unknown session maps to 404", func(t *testing.T) {
		mockService := &MockWorkshopService{
			GetSessionFunc: func(ctx context.Context, code string) (*session.Session, error) {
				return nil, session.ErrSessionNotFound
			},
		}

		server := setupTestServer(mockService)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/ws?session=ZZZZZZ", nil)

		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}
