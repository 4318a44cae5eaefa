package deck

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	ErrDeckNotFound = errors.New("deck not found")
	ErrInvalidDeck  = errors.New("invalid deck")
)

const (
	defaultDeckName = "values"
	minDeckCards    = 8 // participants narrow to a top 8, so a deck needs at least that
)

// Deck names double as file names, so only a conservative charset is
// accepted. Anything else reads as not-found rather than touching the
// filesystem.
var deckNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Card is a single sortable value card.
type Card struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Deck is a named set of value cards participants sort during a session.
// Decks are immutable once loaded; callers share the returned pointers and
// must not modify them.
type Deck struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Cards       []Card `json:"cards"`
}

// Info summarizes a deck for listings without shipping its full card set.
type Info struct {
	Filename    string `json:"filename"`
	DeckID      string `json:"deckId"` // identifier to use in session config
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CardCount   int    `json:"cardCount"`
}

// Manager loads card decks from a directory of JSON files and caches them.
type Manager struct {
	deckDir     string
	defaultDeck *Deck
	decks       map[string]*Deck
	mu          sync.RWMutex
}

// NewManager creates a deck manager rooted at deckDir. The directory must
// exist; the default deck is resolved immediately, falling back to the
// built-in deck when no usable file is found.
func NewManager(deckDir string) (*Manager, error) {
	if _, err := os.Stat(deckDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("deck directory does not exist: %s", deckDir)
	}

	m := &Manager{
		deckDir: deckDir,
		decks:   make(map[string]*Deck),
	}

	if err := m.loadDefaultDeck(); err != nil {
		return nil, fmt.Errorf("failed to load default deck: %w", err)
	}
	return m, nil
}

// LoadDeck returns the deck stored under name, loading and caching it on
// first access.
func (m *Manager) LoadDeck(name string) (*Deck, error) {
	name = strings.TrimSuffix(name, ".json")
	if !deckNamePattern.MatchString(name) {
		return nil, ErrDeckNotFound
	}

	m.mu.RLock()
	if d, exists := m.decks[name]; exists {
		m.mu.RUnlock()
		return d, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if d, exists := m.decks[name]; exists {
		return d, nil
	}

	data, err := os.ReadFile(filepath.Join(m.deckDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDeckNotFound
		}
		return nil, fmt.Errorf("failed to read deck file: %w", err)
	}

	var d Deck
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse deck: %w", err)
	}
	if err := Validate(&d); err != nil {
		return nil, err
	}

	m.decks[name] = &d
	return &d, nil
}

// ListDecks returns information about every loadable deck in the directory.
// Files that fail to parse or validate are skipped.
func (m *Manager) ListDecks() ([]*Info, error) {
	entries, err := os.ReadDir(m.deckDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck directory: %w", err)
	}

	var infos []*Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		d, err := m.LoadDeck(name)
		if err != nil {
			continue
		}

		infos = append(infos, &Info{
			Filename:    entry.Name(),
			DeckID:      name,
			Name:        d.Name,
			Description: d.Description,
			CardCount:   len(d.Cards),
		})
	}
	return infos, nil
}

// GetDefault returns the deck new sessions fall back to.
func (m *Manager) GetDefault() *Deck {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultDeck
}

// SetDefault switches the default deck by name.
func (m *Manager) SetDefault(name string) error {
	d, err := m.LoadDeck(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.defaultDeck = d
	m.mu.Unlock()
	return nil
}

// SaveDeck validates and writes a deck to the directory, updating the cache.
func (m *Manager) SaveDeck(name string, d *Deck) error {
	name = strings.TrimSuffix(name, ".json")
	if !deckNamePattern.MatchString(name) {
		return fmt.Errorf("%w: bad deck name %q", ErrInvalidDeck, name)
	}
	if err := Validate(d); err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deck: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.deckDir, name+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write deck file: %w", err)
	}

	m.mu.Lock()
	m.decks[name] = d
	m.mu.Unlock()
	return nil
}

// RefreshCache drops every cached deck and re-resolves the default so the
// next loads hit the disk again.
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.decks = make(map[string]*Deck)
	m.mu.Unlock()
	return m.loadDefaultDeck()
}

// Validate checks that a deck is usable for a sorting session.
func Validate(d *Deck) error {
	if d == nil {
		return fmt.Errorf("%w: deck is nil", ErrInvalidDeck)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDeck)
	}
	if len(d.Cards) < minDeckCards {
		return fmt.Errorf("%w: needs at least %d cards, has %d", ErrInvalidDeck, minDeckCards, len(d.Cards))
	}

	seen := make(map[string]bool, len(d.Cards))
	for i, c := range d.Cards {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("%w: card %d has no id", ErrInvalidDeck, i)
		}
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("%w: card %q has no title", ErrInvalidDeck, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate card id %q", ErrInvalidDeck, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

func (m *Manager) loadDefaultDeck() error {
	d, err := m.LoadDeck(defaultDeckName)
	if err != nil {
		infos, listErr := m.ListDecks()
		if listErr != nil || len(infos) == 0 {
			m.setDefault(builtinDeck())
			return nil
		}
		d, err = m.LoadDeck(infos[0].DeckID)
		if err != nil {
			m.setDefault(builtinDeck())
			return nil
		}
	}
	m.setDefault(d)
	return nil
}

func (m *Manager) setDefault(d *Deck) {
	m.mu.Lock()
	m.defaultDeck = d
	m.mu.Unlock()
}

// builtinDeck is the last-resort deck used when the directory holds nothing
// loadable.
func builtinDeck() *Deck {
	return &Deck{
		Name:        "values",
		Description: "Built-in personal values deck",
		Cards: []Card{
			{ID: "achievement", Title: "Achievement"},
			{ID: "adventure", Title: "Adventure"},
			{ID: "autonomy", Title: "Autonomy"},
			{ID: "community", Title: "Community"},
			{ID: "creativity", Title: "Creativity"},
			{ID: "family", Title: "Family"},
			{ID: "growth", Title: "Growth"},
			{ID: "health", Title: "Health"},
			{ID: "honesty", Title: "Honesty"},
			{ID: "security", Title: "Security"},
			{ID: "service", Title: "Service"},
			{ID: "wisdom", Title: "Wisdom"},
		},
	}
}
