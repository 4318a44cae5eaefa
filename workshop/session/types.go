package session

import "time"

// Status labels a participant's reveal progress for display. The Revealed
// flags are the source of truth; Status is recomputed from them after every
// transition and never assigned independently.
type Status string

const (
	StatusSorting    Status = "sorting"
	StatusRevealed8  Status = "revealed-8"
	StatusRevealed3  Status = "revealed-3"
	StatusRevealed83 Status = "revealed-8-3"
)

// Reveal types accepted by the reveal state machine.
const (
	RevealTop8 = "top8"
	RevealTop3 = "top3"
)

// Config holds the per-session settings fixed at creation time.
type Config struct {
	MaxParticipants int    `json:"maxParticipants" env:"SESSION_MAX_PARTICIPANTS" envDefault:"10"`
	TimeoutMinutes  int    `json:"timeoutMinutes" env:"SESSION_TIMEOUT_MINUTES" envDefault:"30"`
	DeckType        string `json:"deckType" env:"SESSION_DECK_TYPE" envDefault:"values"`
}

// Timeout returns the session's inactivity timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// RevealState tracks which piles a participant has made visible to observers.
type RevealState struct {
	Top8 bool `json:"top8"`
	Top3 bool `json:"top3"`
}

// Participant is one member of a session.
//
// ClientID is the stable identity token presented by the participant's
// browser; it is deliberately excluded from JSON so session fetches never
// leak one participant's token to another.
type Participant struct {
	ID           string      `json:"id"`
	ClientID     string      `json:"-"`
	Name         string      `json:"name"`
	JoinedAt     time.Time   `json:"joinedAt"`
	LastActivity time.Time   `json:"lastActivity"`
	CurrentStep  int         `json:"currentStep"`
	Revealed     RevealState `json:"revealed"`
	Top8Cards    []string    `json:"top8Cards,omitempty"`
	Top3Cards    []string    `json:"top3Cards,omitempty"`
	Status       Status      `json:"status"`
}

// Clone returns a deep copy of the participant.
func (p *Participant) Clone() *Participant {
	clone := *p
	if p.Top8Cards != nil {
		clone.Top8Cards = append([]string(nil), p.Top8Cards...)
	}
	if p.Top3Cards != nil {
		clone.Top3Cards = append([]string(nil), p.Top3Cards...)
	}
	return &clone
}

// Session is one collaborative card-sorting session. Participants keep
// insertion order, which is join order.
type Session struct {
	Code         string         `json:"sessionCode"`
	Participants []*Participant `json:"participants"`
	Config       Config         `json:"config"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	IsActive     bool           `json:"isActive"`
}

// Clone returns a deep copy of the session, suitable for handing to callers
// outside the store's lock.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		clone.Participants[i] = p.Clone()
	}
	return &clone
}

// Participant returns the participant with the given id.
func (s *Session) Participant(id string) (*Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// ParticipantByClientID returns the participant bound to the given client
// identity token, if any. Used to resume identity on reconnect.
func (s *Session) ParticipantByClientID(clientID string) (*Participant, bool) {
	if clientID == "" {
		return nil, false
	}
	for _, p := range s.Participants {
		if p.ClientID == clientID {
			return p, true
		}
	}
	return nil, false
}

// ParticipantNames returns the current participant names in join order.
func (s *Session) ParticipantNames() []string {
	names := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		names[i] = p.Name
	}
	return names
}

// IsExpired reports whether the session is past its deadline at the given
// instant.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Touch refreshes the activity timestamp and recomputes the expiry deadline
// from it. Must be called with the store lock held.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
	s.ExpiresAt = now.Add(s.Config.Timeout())
}
