package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"
	"time"
)

type SessionConfig struct {
	MaxParticipants int    `json:"maxParticipants"`
	TimeoutMinutes  int    `json:"timeoutMinutes"`
	DeckType        string `json:"deckType"`
}

type RevealState struct {
	Top8 bool `json:"top8"`
	Top3 bool `json:"top3"`
}

type Participant struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	CurrentStep int         `json:"currentStep"`
	Revealed    RevealState `json:"revealed"`
	Top8Cards   []string    `json:"top8Cards,omitempty"`
	Top3Cards   []string    `json:"top3Cards,omitempty"`
	Status      string      `json:"status"`
}

type Session struct {
	Code         string         `json:"sessionCode"`
	Participants []*Participant `json:"participants"`
	Config       SessionConfig  `json:"config"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	IsActive     bool           `json:"isActive"`
}

type TimeoutInfo struct {
	TimeRemaining int64 `json:"timeRemaining"`
	IsWarning     bool  `json:"isWarning"`
	IsExpired     bool  `json:"isExpired"`
}

type Card struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Deck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cards       []Card `json:"cards"`
}

type StepState struct {
	Cards     []string            `json:"cards,omitempty"`
	Piles     map[string][]string `json:"piles,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type CreateResponse struct {
	SessionCode string       `json:"sessionCode"`
	Session     *Session     `json:"session"`
	Participant *Participant `json:"participant"`
	Rejoined    bool         `json:"rejoined"`
	Created     bool         `json:"created"`
}

type JoinResponse struct {
	Session     *Session     `json:"session"`
	Participant *Participant `json:"participant"`
	Rejoined    bool         `json:"rejoined"`
}

type LeaveResponse struct {
	Success        bool `json:"success"`
	SessionDeleted bool `json:"sessionDeleted"`
}

type RevealResponse struct {
	Participant *Participant `json:"participant"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Client is one simulated participant talking to the workshop API. Each
// client carries its own cookie jar so the server sees a distinct persistent
// identity per participant.
type Client struct {
	baseURL       string
	name          string
	sessionCode   string
	participantID string
	client        *http.Client
}

func NewClient(baseURL, name string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: baseURL,
		name:    name,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// doJSON sends a JSON request and decodes the response into out. Non-2xx
// responses surface as errors carrying the server's error message. All
// simulated participants share one IP, so rate-limited requests wait out
// the Retry-After header and try again a few times before giving up.
func (c *Client) doJSON(method, path string, payload, out any) error {
	var reqBody []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = data
	}

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if reqBody != nil {
			body = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequest(method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && attempt < 3 {
			wait := 2 * time.Second
			if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && after > 0 {
				wait = time.Duration(after) * time.Second
			}
			log.Printf("⏳ %s rate limited, retrying in %s", c.name, wait)
			time.Sleep(wait)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
				return fmt.Errorf("%s %s: %s", method, path, errResp.Error)
			}
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
		}
		return nil
	}
}

// Health checks that the server is up before the workshop starts.
func (c *Client) Health() (*HealthResponse, error) {
	var health HealthResponse
	if err := c.doJSON(http.MethodGet, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CreateSession creates a session with this client as its first participant.
func (c *Client) CreateSession(deckType string, maxParticipants, timeoutMinutes int) (*Session, error) {
	req := map[string]any{"participantName": c.name}
	if deckType != "" {
		req["deckType"] = deckType
	}
	if maxParticipants > 0 {
		req["maxParticipants"] = maxParticipants
	}
	if timeoutMinutes > 0 {
		req["timeoutMinutes"] = timeoutMinutes
	}

	var resp CreateResponse
	if err := c.doJSON(http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, err
	}
	c.adopt(resp.Session, resp.Participant)
	return resp.Session, nil
}

// JoinOrCreate joins the named session, creating it atomically when it does
// not exist yet. Reports whether this client ended up creating it.
func (c *Client) JoinOrCreate(code, deckType string) (*Session, bool, error) {
	req := map[string]any{
		"participantName": c.name,
		"sessionCode":     code,
	}
	if deckType != "" {
		req["deckType"] = deckType
	}

	var resp CreateResponse
	if err := c.doJSON(http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, false, err
	}
	c.adopt(resp.Session, resp.Participant)
	return resp.Session, resp.Created, nil
}

// Join adds this client to an existing session. A client that already holds
// a seat in the session resumes it instead of joining twice.
func (c *Client) Join(code string) (*Session, bool, error) {
	var resp JoinResponse
	err := c.doJSON(http.MethodPost, "/api/sessions/"+code+"/join",
		map[string]any{"participantName": c.name}, &resp)
	if err != nil {
		return nil, false, err
	}
	c.adopt(resp.Session, resp.Participant)
	return resp.Session, resp.Rejoined, nil
}

func (c *Client) adopt(s *Session, p *Participant) {
	if s != nil {
		c.sessionCode = s.Code
	}
	if p != nil {
		c.participantID = p.ID
	}
}

// GetSession fetches the current roster and timeout state.
func (c *Client) GetSession() (*Session, *TimeoutInfo, error) {
	var resp struct {
		Session     *Session     `json:"session"`
		TimeoutInfo *TimeoutInfo `json:"timeoutInfo"`
	}
	if err := c.doJSON(http.MethodGet, "/api/sessions/"+c.sessionCode, nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Session, resp.TimeoutInfo, nil
}

// Heartbeat reports activity and the step this participant is working on.
func (c *Client) Heartbeat(step int) error {
	return c.doJSON(http.MethodPost, "/api/sessions/"+c.sessionCode+"/activity", map[string]any{
		"participantId": c.participantID,
		"currentStep":   step,
	}, nil)
}

// SaveState stores this participant's working state for one sorting step.
func (c *Client) SaveState(step int, state StepState) error {
	path := fmt.Sprintf("/api/sessions/%s/participants/%s/state?step=%d",
		c.sessionCode, c.participantID, step)
	return c.doJSON(http.MethodPut, path, state, nil)
}

// LoadState fetches this participant's stored state for one sorting step.
func (c *Client) LoadState(step int) (StepState, error) {
	path := fmt.Sprintf("/api/sessions/%s/participants/%s/state?step=%d",
		c.sessionCode, c.participantID, step)
	var state StepState
	err := c.doJSON(http.MethodGet, path, nil, &state)
	return state, err
}

// Reveal makes one of this participant's piles visible to the session.
func (c *Client) Reveal(revealType string, cards []string) (*Participant, error) {
	var resp RevealResponse
	err := c.doJSON(http.MethodPost, "/api/sessions/"+c.sessionCode+"/reveal", map[string]any{
		"participantId": c.participantID,
		"type":          revealType,
		"cards":         cards,
	}, &resp)
	return resp.Participant, err
}

// Unreveal hides a previously revealed pile again.
func (c *Client) Unreveal(revealType string) (*Participant, error) {
	var resp RevealResponse
	err := c.doJSON(http.MethodPost, "/api/sessions/"+c.sessionCode+"/reveal", map[string]any{
		"participantId": c.participantID,
		"type":          revealType,
		"unrevel":       true,
	}, &resp)
	return resp.Participant, err
}

// Leave removes this participant. The last one out deletes the session.
func (c *Client) Leave() (bool, error) {
	var resp LeaveResponse
	err := c.doJSON(http.MethodPost, "/api/sessions/"+c.sessionCode+"/leave", map[string]any{
		"participantId": c.participantID,
	}, &resp)
	return resp.SessionDeleted, err
}

// FetchDeck downloads a deck definition.
func (c *Client) FetchDeck(name string) (*Deck, error) {
	var d Deck
	if err := c.doJSON(http.MethodGet, "/api/decks/"+name, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func main() {
	serverURL := flag.String("url", "http://localhost:8080", "Workshop server URL")
	participants := flag.Int("participants", 4, "Number of simulated participants")
	deckType := flag.String("deck", "", "Deck type for the session (empty = server default)")
	sessionCode := flag.String("code", "", "Join or create this session code instead of a generated one")
	maxParticipants := flag.Int("max", 0, "Session participant cap (0 = server default)")
	delayMs := flag.Int("delay", 150, "Delay between participant actions in milliseconds")
	race := flag.Bool("race", false, "All participants join-or-create the same code at once")
	keep := flag.Bool("keep", false, "Leave the session running after the workshop ends")
	seed := flag.Int64("seed", 0, "Random seed for card picks (0 = time-based)")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	if *participants < 1 {
		log.Fatalf("need at least 1 participant, got %d", *participants)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	log.Printf("Connecting to workshop server at %s", *serverURL)
	sim := NewSimulation(*serverURL, Options{
		Participants:    *participants,
		DeckType:        *deckType,
		SessionCode:     *sessionCode,
		MaxParticipants: *maxParticipants,
		Delay:           time.Duration(*delayMs) * time.Millisecond,
		Race:            *race,
		Keep:            *keep,
		Seed:            rngSeed,
		Verbose:         *verbose,
	})

	if err := sim.Run(); err != nil {
		log.Printf("\n❌ Simulation failed: %v", err)
		os.Exit(1)
	}
	log.Printf("\n🎉 Workshop simulation completed successfully")
}
