package scoped

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valuesort/valuesort/workshop/session"
)

// NumSteps is how many sorting steps a participant walks through: the open
// sort, the top 8, and the top 3.
const NumSteps = 3

var (
	ErrInvalidStateKey = errors.New("invalid state key")
	ErrInvalidStep     = errors.New("invalid step")
)

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// StepState is one participant's working state for a single step: the card
// ordering they are building and the piles they have sorted cards into.
type StepState struct {
	Cards     []string            `json:"cards,omitempty"`
	Piles     map[string][]string `json:"piles,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (s StepState) clone() StepState {
	out := StepState{UpdatedAt: s.UpdatedAt}
	if s.Cards != nil {
		out.Cards = append([]string(nil), s.Cards...)
	}
	if s.Piles != nil {
		out.Piles = make(map[string][]string, len(s.Piles))
		for name, cards := range s.Piles {
			out.Piles[name] = append([]string(nil), cards...)
		}
	}
	return out
}

// ParticipantState holds one participant's per-step working state. The
// struct is shared between handlers, so every access goes through its lock;
// reads return copies.
type ParticipantState struct {
	mu    sync.Mutex
	steps [NumSteps]StepState
}

// Step returns a copy of the state for step n (1-based).
func (ps *ParticipantState) Step(n int) (StepState, error) {
	if n < 1 || n > NumSteps {
		return StepState{}, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.steps[n-1].clone(), nil
}

// SetStep replaces the state for step n (1-based) and stamps it with the
// current time.
func (ps *ParticipantState) SetStep(n int, s StepState) (StepState, error) {
	if n < 1 || n > NumSteps {
		return StepState{}, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	stored := s.clone()
	stored.UpdatedAt = time.Now()

	ps.mu.Lock()
	ps.steps[n-1] = stored
	ps.mu.Unlock()
	return stored.clone(), nil
}

// Key builds the registry key for a participant's state. Keys are
// "<SESSIONCODE>:<PARTICIPANTID>" with the code normalized to upper case.
func Key(sessionCode, participantID string) string {
	return session.NormalizeCode(sessionCode) + ":" + participantID
}

// ParseKey splits and validates a registry key. The code half must be a
// well-formed session code and the participant half limited to letters,
// digits, underscores, and hyphens.
func ParseKey(key string) (sessionCode, participantID string, err error) {
	code, pid, found := strings.Cut(key, ":")
	if !found {
		return "", "", fmt.Errorf("%w: missing separator in %q", ErrInvalidStateKey, key)
	}
	if !session.IsValidCodeFormat(code) {
		return "", "", fmt.Errorf("%w: bad session code in %q", ErrInvalidStateKey, key)
	}
	if !participantIDPattern.MatchString(pid) {
		return "", "", fmt.Errorf("%w: bad participant id in %q", ErrInvalidStateKey, key)
	}
	return code, pid, nil
}

// Registry maps participants to their sorting state. Entries are created on
// first access and evicted when their participant leaves or their session
// goes away.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*ParticipantState
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]*ParticipantState),
	}
}

// Get returns the state bundle for the participant, creating an empty one on
// first access. The key is validated before any entry is created.
func (r *Registry) Get(sessionCode, participantID string) (*ParticipantState, error) {
	key := Key(sessionCode, participantID)
	if _, _, err := ParseKey(key); err != nil {
		return nil, err
	}

	r.mu.RLock()
	ps, exists := r.states[key]
	r.mu.RUnlock()
	if exists {
		return ps, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, exists := r.states[key]; exists {
		return ps, nil
	}
	ps = &ParticipantState{}
	r.states[key] = ps
	return ps, nil
}

// ListKeysForSession returns the sorted keys belonging to one session.
func (r *Registry) ListKeysForSession(sessionCode string) []string {
	prefix := session.NormalizeCode(sessionCode) + ":"

	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []string
	for key := range r.states {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// EvictSession drops every entry for the session and returns how many were
// removed.
func (r *Registry) EvictSession(sessionCode string) int {
	prefix := session.NormalizeCode(sessionCode) + ":"

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.states {
		if strings.HasPrefix(key, prefix) {
			delete(r.states, key)
			removed++
		}
	}
	return removed
}

// EvictParticipant drops a single participant's entry, reporting whether one
// existed.
func (r *Registry) EvictParticipant(sessionCode, participantID string) bool {
	key := Key(sessionCode, participantID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[key]; !exists {
		return false
	}
	delete(r.states, key)
	return true
}

// SweepOrphans removes entries whose session is no longer live, as reported
// by the supplied predicate, and returns how many were removed. It backs the
// periodic sweep that keeps the registry from accumulating state for
// expired sessions.
func (r *Registry) SweepOrphans(live func(sessionCode string) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	checked := make(map[string]bool)
	removed := 0
	for key := range r.states {
		code, _, err := ParseKey(key)
		if err == nil {
			alive, seen := checked[code]
			if !seen {
				alive = live(code)
				checked[code] = alive
			}
			if alive {
				continue
			}
		}
		delete(r.states, key)
		removed++
	}
	return removed
}

// Size returns the number of entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Reset drops every entry. Test hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[string]*ParticipantState)
}
