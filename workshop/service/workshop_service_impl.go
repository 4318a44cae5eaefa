package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valuesort/valuesort/workshop/deck"
	"github.com/valuesort/valuesort/workshop/scoped"
	"github.com/valuesort/valuesort/workshop/session"
)

// workshopServiceImpl implements the WorkshopService interface. Its mutex is
// held across every read-check-write sequence, so compound operations like
// join-or-create observe and mutate the registry atomically with respect to
// each other.
type workshopServiceImpl struct {
	store     SessionStore
	lifecycle LifecycleManager
	decks     DeckManager
	states    StateRegistry
	defaults  session.Config
	mu        sync.RWMutex

	sinkMu sync.RWMutex
	sink   EventSink
}

// NewWorkshopService creates a new workshop service instance.
func NewWorkshopService(store SessionStore, lifecycle LifecycleManager, decks DeckManager, states StateRegistry, defaults session.Config) WorkshopService {
	return &workshopServiceImpl{
		store:     store,
		lifecycle: lifecycle,
		decks:     decks,
		states:    states,
		defaults:  defaults,
	}
}

// SetEventSink installs the observer for timer-driven events.
func (s *workshopServiceImpl) SetEventSink(sink EventSink) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

// CreateSession creates a new empty session. When customCode is empty a
// fresh code is generated.
func (s *workshopServiceImpl) CreateSession(ctx context.Context, config session.Config, customCode string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.resolveConfig(config)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Create(cfg, customCode)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.watch(sess.Code)
	return sess, nil
}

// CreateSessionWithCreator creates a session and joins the creator in one
// atomic step. If the join half fails the fresh session is rolled back, so
// no empty session is left behind.
func (s *workshopServiceImpl) CreateSessionWithCreator(ctx context.Context, config session.Config, customCode, creatorName, clientID string) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.resolveConfig(config)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Create(cfg, customCode)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result, err := s.joinLocked(sess.Code, creatorName, clientID)
	if err != nil {
		s.store.Delete(sess.Code)
		return nil, err
	}

	s.watch(sess.Code)
	result.Created = true
	return result, nil
}

// JoinSession adds a participant to an existing session, or resumes their
// previous spot when the client identity matches someone already in it.
func (s *workshopServiceImpl) JoinSession(ctx context.Context, code, name, clientID string) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinLocked(code, name, clientID)
}

// JoinOrCreateSession joins the session with the given code, creating it
// first when no live session holds the code. The existence check and the
// create-join run under one lock acquisition, so two racing callers with
// the same code end up in the same session rather than fighting over it.
func (s *workshopServiceImpl) JoinOrCreateSession(ctx context.Context, code, name, clientID string, config session.Config) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := session.ValidateSessionCode(code); err != nil {
		return nil, err
	}
	code = session.NormalizeCode(code)

	if s.liveExists(code) {
		return s.joinLocked(code, name, clientID)
	}

	cfg, err := s.resolveConfig(config)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Create(cfg, code); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result, err := s.joinLocked(code, name, clientID)
	if err != nil {
		s.store.Delete(code)
		return nil, err
	}

	s.watch(code)
	result.Created = true
	return result, nil
}

// LeaveSession removes the participant and their sorting state. When the
// last participant leaves, the session and everything keyed on it go too.
func (s *workshopServiceImpl) LeaveSession(ctx context.Context, code, participantID string) (*LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.store.RemoveParticipant(code, participantID)
	if err != nil {
		return nil, err
	}

	s.states.EvictParticipant(code, participantID)
	if deleted {
		s.lifecycle.Unregister(code)
		s.states.EvictSession(code)
	}
	return &LeaveResult{SessionDeleted: deleted}, nil
}

// GetSession returns a snapshot of a live session. Reads do not count as
// activity; only explicit activity updates push the expiry forward.
func (s *workshopServiceImpl) GetSession(ctx context.Context, code string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(code)
}

// ListSessions returns snapshots of every live session.
func (s *workshopServiceImpl) ListSessions(ctx context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.List(), nil
}

// UpdateParticipantActivity records a heartbeat: the participant's activity
// clock is touched, their current step tracked, and the session's expiry
// pushed forward. Steps outside 1..3 still count as activity but leave the
// step unchanged. Reports whether the session and participant were found.
func (s *workshopServiceImpl) UpdateParticipantActivity(ctx context.Context, code, participantID string, step int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.UpdateParticipant(code, participantID, func(p *session.Participant) error {
		p.LastActivity = time.Now()
		if step >= 1 && step <= scoped.NumSteps {
			p.CurrentStep = step
		}
		return nil
	})
	if err != nil {
		return false
	}

	s.store.UpdateLastActivity(code)
	return true
}

// UpdateParticipantReveal applies a reveal or unrevel to one participant and
// returns their updated snapshot. Reveal changes deliberately do not touch
// the session's activity clock.
func (s *workshopServiceImpl) UpdateParticipantReveal(ctx context.Context, code, participantID string, update session.RevealUpdate) (*session.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.UpdateParticipant(code, participantID, func(p *session.Participant) error {
		return session.ApplyReveal(p, update)
	})
}

// GetParticipantState returns the participant's working state for one step.
func (s *workshopServiceImpl) GetParticipantState(ctx context.Context, code, participantID string, step int) (scoped.StepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireParticipant(code, participantID); err != nil {
		return scoped.StepState{}, err
	}

	ps, err := s.states.Get(code, participantID)
	if err != nil {
		return scoped.StepState{}, err
	}
	return ps.Step(step)
}

// PutParticipantState replaces the participant's working state for one step
// and counts as activity on both the participant and the session.
func (s *workshopServiceImpl) PutParticipantState(ctx context.Context, code, participantID string, step int, state scoped.StepState) (scoped.StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireParticipant(code, participantID); err != nil {
		return scoped.StepState{}, err
	}

	ps, err := s.states.Get(code, participantID)
	if err != nil {
		return scoped.StepState{}, err
	}
	stored, err := ps.SetStep(step, state)
	if err != nil {
		return scoped.StepState{}, err
	}

	s.store.UpdateParticipant(code, participantID, func(p *session.Participant) error {
		p.LastActivity = time.Now()
		p.CurrentStep = step
		return nil
	})
	s.store.UpdateLastActivity(code)
	return stored, nil
}

// CheckSessionTimeout reports how close a session is to expiring, or nil
// when no active session holds the code.
func (s *workshopServiceImpl) CheckSessionTimeout(ctx context.Context, code string) *session.TimeoutInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle.CheckTimeout(code)
}

// ExtendSession pushes a live session's expiry forward by its timeout.
func (s *workshopServiceImpl) ExtendSession(ctx context.Context, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.ExtendSession(code)
}

// CleanupExpiredSessions sweeps expired and ended sessions out of the
// registry, releasing monitors and sorting state held under their codes.
func (s *workshopServiceImpl) CleanupExpiredSessions(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.store.CleanupExpired()
	for _, code := range removed {
		s.lifecycle.Unregister(code)
		s.states.EvictSession(code)
	}
	return removed
}

// ListDecks returns the available card decks.
func (s *workshopServiceImpl) ListDecks(ctx context.Context) ([]*deck.Info, error) {
	return s.decks.ListDecks()
}

// GetDeck loads a deck by name.
func (s *workshopServiceImpl) GetDeck(ctx context.Context, name string) (*deck.Deck, error) {
	return s.decks.LoadDeck(name)
}

// Reset clears all sessions, monitors, and sorting state. Test hook.
func (s *workshopServiceImpl) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lifecycle.StopAll()
	s.store.Reset()
	s.states.Reset()
}

// resolveConfig fills a request config from the service defaults and checks
// that the requested deck actually exists.
func (s *workshopServiceImpl) resolveConfig(config session.Config) (session.Config, error) {
	cfg := config.WithDefaults(s.defaults)

	if s.decks != nil && cfg.DeckType != "" {
		if _, err := s.decks.LoadDeck(cfg.DeckType); err != nil {
			infos, listErr := s.decks.ListDecks()
			if listErr == nil && len(infos) > 0 {
				ids := make([]string, 0, len(infos))
				for _, info := range infos {
					ids = append(ids, info.DeckID)
				}
				return cfg, fmt.Errorf("%w: deck '%s' not found, available decks: %v", deck.ErrDeckNotFound, cfg.DeckType, ids)
			}
			return cfg, fmt.Errorf("%w: deck '%s' not found", deck.ErrDeckNotFound, cfg.DeckType)
		}
	}
	return cfg, nil
}

// requireParticipant confirms the session is live and the participant
// belongs to it. Callers hold s.mu.
func (s *workshopServiceImpl) requireParticipant(code, participantID string) error {
	sess, err := s.store.Get(code)
	if err != nil {
		return err
	}
	if _, ok := sess.Participant(participantID); !ok {
		return session.ErrParticipantNotFound
	}
	return nil
}

// joinLocked runs the join sequence against a session that must already
// exist. Callers hold s.mu.
func (s *workshopServiceImpl) joinLocked(code, name, clientID string) (*JoinResult, error) {
	code = session.NormalizeCode(code)

	sess, ok := s.store.Peek(code)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if !sess.IsActive {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionEnded, code)
	}
	if sess.IsExpired(time.Now()) {
		// Expired but unswept records read as gone.
		return nil, session.ErrSessionNotFound
	}

	if clientID != "" {
		if existing, found := sess.ParticipantByClientID(clientID); found {
			return s.rejoinLocked(code, existing.ID)
		}
	}

	if len(sess.Participants) >= sess.Config.MaxParticipants {
		return nil, fmt.Errorf("%w: session %s is at its limit of %d", session.ErrSessionFull, code, sess.Config.MaxParticipants)
	}

	cleaned := session.SanitizeParticipantName(name)
	if err := session.ValidateParticipantName(cleaned); err != nil {
		return nil, err
	}
	resolved := session.ResolveNameConflict(cleaned, sess.ParticipantNames())

	now := time.Now()
	p := &session.Participant{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Name:         resolved,
		JoinedAt:     now,
		LastActivity: now,
		CurrentStep:  1,
		Status:       session.StatusSorting,
	}

	updated, err := s.store.AddParticipant(code, p)
	if err != nil {
		return nil, err
	}

	joined, _ := updated.Participant(p.ID)
	return &JoinResult{Session: updated, Participant: joined}, nil
}

// rejoinLocked resumes an existing participant found by client identity.
func (s *workshopServiceImpl) rejoinLocked(code, participantID string) (*JoinResult, error) {
	p, err := s.store.UpdateParticipant(code, participantID, func(sp *session.Participant) error {
		sp.LastActivity = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.store.UpdateLastActivity(code)

	sess, err := s.store.Get(code)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Session: sess, Participant: p, Rejoined: true}, nil
}

// watch registers timeout callbacks for a new session and starts its
// monitor loop.
func (s *workshopServiceImpl) watch(code string) {
	s.lifecycle.RegisterCallbacks(code, session.Callbacks{
		OnWarning: func(c string, info session.TimeoutInfo) {
			s.emit(EventSessionWarning, c, info)
		},
		OnExpired: func(c string) {
			s.states.EvictSession(c)
			s.emit(EventSessionExpired, c, nil)
		},
	})
	s.lifecycle.Monitor(code)
}

func (s *workshopServiceImpl) liveExists(code string) bool {
	sess, ok := s.store.Peek(code)
	return ok && sess.IsActive && !sess.IsExpired(time.Now())
}

func (s *workshopServiceImpl) emit(event, code string, data any) {
	s.sinkMu.RLock()
	sink := s.sink
	s.sinkMu.RUnlock()
	if sink != nil {
		sink(event, code, data)
	}
}
