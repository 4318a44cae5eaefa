package session

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Registry errors. API layers map these to transport status codes with
// errors.Is, so wrap rather than replace them.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrSessionFull         = errors.New("session is full")
	ErrSessionEnded        = errors.New("session has ended")
	ErrDuplicateCode       = errors.New("session code already in use")
)

// Store is the in-memory session registry. All state lives in a single map
// guarded by one RWMutex; there is no persistence, so a restart empties the
// registry.
//
// Reads return deep clones. Callers never see a live record, which keeps
// every mutation inside the store's critical sections.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty registry.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new active session and returns its snapshot. When
// customCode is empty a fresh code is generated; otherwise the supplied code
// is normalized and claimed, failing with ErrInvalidCode on bad format or
// ErrDuplicateCode when a live session already holds it. A stale record
// (expired or ended) does not block its code from being reclaimed.
func (st *Store) Create(config Config, customCode string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	code := NormalizeCode(customCode)
	if code != "" {
		if !IsValidCodeFormat(code) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCode, customCode)
		}
		if st.liveLocked(code) != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}
	} else {
		generated, err := GenerateUniqueCode(func(c string) bool {
			_, exists := st.sessions[c]
			return exists
		})
		if err != nil {
			return nil, err
		}
		code = generated
	}

	now := time.Now()
	sess := &Session{
		Code:         code,
		Participants: []*Participant{},
		Config:       config,
		CreatedAt:    now,
		IsActive:     true,
	}
	sess.Touch(now)
	st.sessions[code] = sess

	log.Printf("store: created session %s (max %d, timeout %dm, deck %s)",
		code, config.MaxParticipants, config.TimeoutMinutes, config.DeckType)
	return sess.Clone(), nil
}

// Get returns a snapshot of the live session for code, or
// ErrSessionNotFound. Expiry is lazy: an expired record is hidden here but
// stays in the map until CleanupExpired or an explicit delete removes it.
func (st *Store) Get(code string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Peek returns a snapshot of whatever record is stored for code, including
// expired or ended ones. Lifecycle machinery uses it to inspect sessions
// that Get already hides.
func (st *Store) Peek(code string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, exists := st.sessions[NormalizeCode(code)]
	if !exists {
		return nil, false
	}
	return sess.Clone(), true
}

// Update applies mutate to the live session for code under the write lock
// and returns the updated snapshot. The callback must not retain the record
// it receives.
func (st *Store) Update(code string, mutate func(*Session)) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	mutate(sess)
	return sess.Clone(), nil
}

// AddParticipant appends p to the live session for code, touches the
// session's activity clock, and returns the updated snapshot. Capacity and
// duplicate-name policy are enforced by the service layer, not here.
func (st *Store) AddParticipant(code string, p *Participant) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	sess.Participants = append(sess.Participants, p.Clone())
	sess.Touch(time.Now())
	log.Printf("store: participant %s (%s) joined session %s", p.Name, p.ID, sess.Code)
	return sess.Clone(), nil
}

// RemoveParticipant deletes the participant from the live session for code.
// Removing the last participant deletes the session itself; the returned
// flag reports that.
func (st *Store) RemoveParticipant(code, participantID string) (sessionDeleted bool, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return false, ErrSessionNotFound
	}

	idx := -1
	for i, p := range sess.Participants {
		if p.ID == participantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrParticipantNotFound
	}

	name := sess.Participants[idx].Name
	sess.Participants = append(sess.Participants[:idx], sess.Participants[idx+1:]...)
	log.Printf("store: participant %s (%s) left session %s", name, participantID, sess.Code)

	if len(sess.Participants) == 0 {
		delete(st.sessions, sess.Code)
		log.Printf("store: session %s deleted (no participants remain)", sess.Code)
		return true, nil
	}

	sess.Touch(time.Now())
	return false, nil
}

// UpdateLastActivity touches the live session's activity clock, pushing its
// expiry forward by the configured timeout. It reports whether a live
// session was found.
func (st *Store) UpdateLastActivity(code string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return false
	}
	sess.Touch(time.Now())
	return true
}

// UpdateParticipant applies mutate to one participant of the live session
// for code and returns the participant's updated snapshot. An error from
// mutate aborts the update and is returned unchanged.
func (st *Store) UpdateParticipant(code, participantID string, mutate func(*Participant) error) (*Participant, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.liveLocked(NormalizeCode(code))
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	p, ok := sess.Participant(participantID)
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Delete removes the record for code outright, reporting whether one
// existed. This is the rollback path for partially-created sessions; normal
// removal happens through RemoveParticipant and CleanupExpired.
func (st *Store) Delete(code string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	code = NormalizeCode(code)
	if _, exists := st.sessions[code]; !exists {
		return false
	}
	delete(st.sessions, code)
	log.Printf("store: session %s deleted", code)
	return true
}

// Deactivate marks the record for code inactive, ending the session
// logically while leaving the record in place for sweeps. It works on
// expired records too and reports whether a state change happened, so
// repeated calls return false.
func (st *Store) Deactivate(code string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, exists := st.sessions[NormalizeCode(code)]
	if !exists || !sess.IsActive {
		return false
	}
	sess.IsActive = false
	log.Printf("store: session %s deactivated", sess.Code)
	return true
}

// CleanupExpired removes every expired or ended record and returns the
// affected codes sorted. The codes let callers release per-session resources
// held elsewhere.
func (st *Store) CleanupExpired() []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	var removed []string
	for code, sess := range st.sessions {
		if !sess.IsActive || sess.IsExpired(now) {
			delete(st.sessions, code)
			removed = append(removed, code)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		log.Printf("store: cleaned up %d session(s): %v", len(removed), removed)
	}
	return removed
}

// List returns snapshots of all live sessions ordered by creation time.
func (st *Store) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := time.Now()
	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		if sess.IsActive && !sess.IsExpired(now) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCodes returns the codes of all live sessions.
func (st *Store) ActiveCodes() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := time.Now()
	var codes []string
	for code, sess := range st.sessions {
		if sess.IsActive && !sess.IsExpired(now) {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, sess := range st.sessions {
		if sess.IsActive && !sess.IsExpired(now) {
			n++
		}
	}
	return n
}

// Reset drops every record. Test hook.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = make(map[string]*Session)
}

// liveLocked returns the live (active, unexpired) record for code, or nil.
// Callers must hold st.mu.
func (st *Store) liveLocked(code string) *Session {
	sess, exists := st.sessions[code]
	if !exists || !sess.IsActive || sess.IsExpired(time.Now()) {
		return nil
	}
	return sess
}
