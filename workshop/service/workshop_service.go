package service

import (
	"context"

	"github.com/valuesort/valuesort/workshop/deck"
	"github.com/valuesort/valuesort/workshop/scoped"
	"github.com/valuesort/valuesort/workshop/session"
)

// WorkshopService defines all session-facing operations
type WorkshopService interface {
	// Session lifecycle. An empty customCode means "generate one".
	CreateSession(ctx context.Context, config session.Config, customCode string) (*session.Session, error)
	CreateSessionWithCreator(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*JoinResult, error)
	JoinSession(ctx context.Context, code, name, clientID string) (*JoinResult, error)
	JoinOrCreateSession(ctx context.Context, code, name, clientID string, config session.Config) (*JoinResult, error)
	LeaveSession(ctx context.Context, code, participantID string) (*LeaveResult, error)
	GetSession(ctx context.Context, code string) (*session.Session, error)
	ListSessions(ctx context.Context) ([]*session.Session, error)

	// Participant operations
	UpdateParticipantActivity(ctx context.Context, code, participantID string, step int) bool
	UpdateParticipantReveal(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error)

	// Sorting state
	GetParticipantState(ctx context.Context, code, participantID string, step int) (scoped.StepState, error)
	PutParticipantState(ctx context.Context, code, participantID string, step int, state scoped.StepState) (scoped.StepState, error)

	// Timeout management
	CheckSessionTimeout(ctx context.Context, code string) *session.TimeoutInfo
	ExtendSession(ctx context.Context, code string) bool
	CleanupExpiredSessions(ctx context.Context) []string

	// Decks
	ListDecks(ctx context.Context) ([]*deck.Info, error)
	GetDeck(ctx context.Context, name string) (*deck.Deck, error)

	// SetEventSink installs the observer for timer-driven events
	// (warnings, expirations). Pass nil to disable.
	SetEventSink(sink EventSink)

	// Reset clears all session and sorting state. Test hook.
	Reset()
}

// SessionStore defines the registry operations the service builds on
type SessionStore interface {
	Create(config session.Config, customCode string) (*session.Session, error)
	Get(code string) (*session.Session, error)
	Peek(code string) (*session.Session, bool)
	AddParticipant(code string, p *session.Participant) (*session.Session, error)
	RemoveParticipant(code, participantID string) (bool, error)
	UpdateLastActivity(code string) bool
	UpdateParticipant(code, participantID string, mutate func(*session.Participant) error) (*session.Participant, error)
	Deactivate(code string) bool
	Delete(code string) bool
	CleanupExpired() []string
	List() []*session.Session
	Count() int
	Reset()
}

// LifecycleManager watches sessions for timeouts
type LifecycleManager interface {
	CheckTimeout(code string) *session.TimeoutInfo
	ExtendSession(code string) bool
	ExpireSession(code string) bool
	RegisterCallbacks(code string, cbs session.Callbacks)
	Monitor(code string)
	Unregister(code string)
	StopAll()
}

// DeckManager handles card deck loading
type DeckManager interface {
	LoadDeck(name string) (*deck.Deck, error)
	ListDecks() ([]*deck.Info, error)
	GetDefault() *deck.Deck
}

// StateRegistry keeps per-participant sorting state
type StateRegistry interface {
	Get(sessionCode, participantID string) (*scoped.ParticipantState, error)
	EvictSession(sessionCode string) int
	EvictParticipant(sessionCode, participantID string) bool
	SweepOrphans(live func(sessionCode string) bool) int
	Reset()
}
