package main

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Options configures a simulation run.
type Options struct {
	Participants    int
	DeckType        string
	SessionCode     string
	MaxParticipants int
	Delay           time.Duration
	Race            bool
	Keep            bool
	Seed            int64
	Verbose         bool
}

// Simulation drives a scripted values workshop against a live server: one
// participant creates the session, the rest join, everyone works the three
// sorting steps concurrently, reveals their top piles, and leaves. It exists
// to smoke-test the full session lifecycle under concurrent participants.
type Simulation struct {
	baseURL string
	opts    Options
	rng     *rand.Rand

	clients []*Client
	cards   []string // deck card ids, in deck order
	plans   []plan
}

// plan fixes the cards a participant will pick at each step up front, so the
// concurrent phases never share the rng.
type plan struct {
	piles map[string][]string
	top8  []string
	top3  []string
}

var rosterNames = []string{"Alice", "Bob", "Carol", "Dave", "Eve", "Frank", "Grace", "Heidi", "Ivan", "Judy"}

func participantName(i int) string {
	if i < len(rosterNames) {
		return rosterNames[i]
	}
	return fmt.Sprintf("Player %d", i+1)
}

func NewSimulation(baseURL string, opts Options) *Simulation {
	return &Simulation{
		baseURL: baseURL,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// Run walks the whole workshop script and returns the first error that
// breaks it.
func (s *Simulation) Run() error {
	s.clients = make([]*Client, s.opts.Participants)
	for i := range s.clients {
		s.clients[i] = NewClient(s.baseURL, participantName(i))
	}
	host := s.clients[0]

	health, err := host.Health()
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	log.Printf("Server healthy, %d active session(s)", health.Sessions)

	if err := s.recruit(); err != nil {
		return err
	}

	sess, _, err := host.GetSession()
	if err != nil {
		return fmt.Errorf("fetch session: %w", err)
	}
	log.Printf("👥 Roster: %s (%d/%d)",
		strings.Join(rosterOf(sess), ", "), len(sess.Participants), sess.Config.MaxParticipants)

	deck, err := host.FetchDeck(sess.Config.DeckType)
	if err != nil {
		return fmt.Errorf("fetch deck %q: %w", sess.Config.DeckType, err)
	}
	for _, card := range deck.Cards {
		s.cards = append(s.cards, card.ID)
	}
	log.Printf("🃏 Deck %q: %d cards", deck.Name, len(deck.Cards))
	if len(s.cards) < 8 {
		return fmt.Errorf("deck %q has %d cards, need at least 8", sess.Config.DeckType, len(s.cards))
	}
	s.plans = s.buildPlans()

	// Everyone finishes a step before the next begins, like a facilitator
	// moving the room along.
	if err := s.phase(1, "📋 Step 1: open sort", s.openSort); err != nil {
		return err
	}
	if err := s.rejoinHost(); err != nil {
		return err
	}
	if err := s.phase(2, "✂️ Step 2: narrow to top 8", s.pickTop8); err != nil {
		return err
	}
	if err := s.phase(3, "🏆 Step 3: narrow to top 3", s.pickTop3); err != nil {
		return err
	}

	if err := s.revealAll(); err != nil {
		return err
	}
	if err := s.verify(); err != nil {
		return err
	}

	if s.opts.Keep {
		log.Printf("Session %s left running (-keep)", host.sessionCode)
		return nil
	}
	return s.leaveAll()
}

// recruit seats every participant: the host creates (or join-or-creates)
// the session and the rest join it.
func (s *Simulation) recruit() error {
	if s.opts.Race {
		return s.recruitRace()
	}

	host := s.clients[0]
	if s.opts.SessionCode != "" {
		sess, created, err := host.JoinOrCreate(s.opts.SessionCode, s.opts.DeckType)
		if err != nil {
			return fmt.Errorf("%s join-or-create %s: %w", host.name, s.opts.SessionCode, err)
		}
		if created {
			log.Printf("✨ Session created: %s (host %s)", sess.Code, host.name)
		} else {
			log.Printf("🔄 Joined existing session %s", sess.Code)
		}
	} else {
		sess, err := host.CreateSession(s.opts.DeckType, s.opts.MaxParticipants, 0)
		if err != nil {
			return fmt.Errorf("%s create session: %w", host.name, err)
		}
		log.Printf("✨ Session created: %s (host %s)", sess.Code, host.name)
	}

	for _, c := range s.clients[1:] {
		if _, _, err := c.Join(host.sessionCode); err != nil {
			return fmt.Errorf("%s join %s: %w", c.name, host.sessionCode, err)
		}
		log.Printf("👥 %s joined %s", c.name, host.sessionCode)
		s.pause()
	}
	return nil
}

// recruitRace fires every participant at the same join-or-create code
// simultaneously. Exactly one should create the session; the rest must land
// in it as plain joins.
func (s *Simulation) recruitRace() error {
	code := s.opts.SessionCode
	if code == "" {
		code = randomCode(s.rng)
	}
	log.Printf("🏁 Race: %d participants join-or-create %s at once", len(s.clients), code)

	var wg sync.WaitGroup
	created := make([]bool, len(s.clients))
	errs := make([]error, len(s.clients))

	for i, c := range s.clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			_, didCreate, err := c.JoinOrCreate(code, s.opts.DeckType)
			created[i] = didCreate
			errs[i] = err
		}(i, c)
	}
	wg.Wait()

	creators := 0
	for i, c := range s.clients {
		if errs[i] != nil {
			return fmt.Errorf("%s join-or-create %s: %w", c.name, code, errs[i])
		}
		if created[i] {
			creators++
			log.Printf("✨ %s won the race and created %s", c.name, code)
		}
	}
	if creators != 1 {
		return fmt.Errorf("expected exactly 1 creator, got %d", creators)
	}
	return nil
}

// randomCode generates a 6-character session code for race runs.
func randomCode(rng *rand.Rand) string {
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

// buildPlans deals every participant a shuffled copy of the deck and fixes
// their open-sort piles, top 8, and top 3 picks.
func (s *Simulation) buildPlans() []plan {
	plans := make([]plan, len(s.clients))
	for i := range plans {
		shuffled := append([]string(nil), s.cards...)
		s.rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		cut := len(shuffled) / 3
		plans[i] = plan{
			piles: map[string][]string{
				"very-important":     shuffled[:cut],
				"somewhat-important": shuffled[cut : 2*cut],
				"not-important":      shuffled[2*cut:],
			},
			top8: shuffled[:8],
			top3: shuffled[:3],
		}
	}
	return plans
}

// phase runs one sorting step for every participant concurrently and waits
// for the whole room to finish before returning.
func (s *Simulation) phase(step int, banner string, act func(c *Client, p plan) error) error {
	log.Printf("\n=== %s ===", banner)

	var wg sync.WaitGroup
	errs := make([]error, len(s.clients))
	for i, c := range s.clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			errs[i] = act(c, s.plans[i])
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("%s step %d: %w", s.clients[i].name, step, err)
		}
	}
	return nil
}

func (s *Simulation) openSort(c *Client, p plan) error {
	if err := c.Heartbeat(1); err != nil {
		return err
	}
	s.pause()

	// Two saves: a partial pass, then the finished sort, like a human
	// dragging cards in batches.
	partial := StepState{Piles: map[string][]string{
		"very-important": p.piles["very-important"],
	}}
	if err := c.SaveState(1, partial); err != nil {
		return err
	}
	s.pause()

	if err := c.SaveState(1, StepState{Piles: p.piles}); err != nil {
		return err
	}
	if s.opts.Verbose {
		log.Printf("  %s sorted %d cards into %d piles", c.name, len(s.cards), len(p.piles))
	}
	return nil
}

func (s *Simulation) pickTop8(c *Client, p plan) error {
	if err := c.Heartbeat(2); err != nil {
		return err
	}
	s.pause()

	if err := c.SaveState(2, StepState{Cards: p.top8}); err != nil {
		return err
	}

	// Read back to confirm the server kept what we sent.
	state, err := c.LoadState(2)
	if err != nil {
		return err
	}
	if len(state.Cards) != len(p.top8) {
		return fmt.Errorf("state readback: sent %d cards, got %d", len(p.top8), len(state.Cards))
	}
	if s.opts.Verbose {
		log.Printf("  %s picked their top 8", c.name)
	}
	return nil
}

func (s *Simulation) pickTop3(c *Client, p plan) error {
	if err := c.Heartbeat(3); err != nil {
		return err
	}
	s.pause()

	if err := c.SaveState(3, StepState{Cards: p.top3}); err != nil {
		return err
	}
	if s.opts.Verbose {
		log.Printf("  %s picked their top 3", c.name)
	}
	return nil
}

// rejoinHost simulates a dropped connection: the host joins again and must
// resume the same seat instead of appearing twice.
func (s *Simulation) rejoinHost() error {
	host := s.clients[0]
	before := host.participantID

	_, rejoined, err := host.Join(host.sessionCode)
	if err != nil {
		return fmt.Errorf("%s rejoin: %w", host.name, err)
	}
	if !rejoined {
		return fmt.Errorf("%s rejoin was treated as a fresh join", host.name)
	}
	if host.participantID != before {
		return fmt.Errorf("%s rejoin assigned a new participant id", host.name)
	}
	log.Printf("🔄 %s reconnected and resumed their seat", host.name)
	return nil
}

// revealAll has everyone show their top 8, one participant waver and hide
// theirs again, then everyone show their top 3.
func (s *Simulation) revealAll() error {
	log.Printf("\n=== 🔍 Reveal ===")

	for i, c := range s.clients {
		if _, err := c.Reveal("top8", s.plans[i].top8); err != nil {
			return fmt.Errorf("%s reveal top8: %w", c.name, err)
		}
		log.Printf("🔍 %s revealed their top 8", c.name)
		s.pause()
	}

	if len(s.clients) > 1 {
		c := s.clients[1]
		if _, err := c.Unreveal("top8"); err != nil {
			return fmt.Errorf("%s unreveal top8: %w", c.name, err)
		}
		log.Printf("🙈 %s hid their top 8 again", c.name)
		s.pause()

		if _, err := c.Reveal("top8", s.plans[1].top8); err != nil {
			return fmt.Errorf("%s re-reveal top8: %w", c.name, err)
		}
		log.Printf("🔍 %s re-revealed their top 8", c.name)
	}

	for i, c := range s.clients {
		p, err := c.Reveal("top3", s.plans[i].top3)
		if err != nil {
			return fmt.Errorf("%s reveal top3: %w", c.name, err)
		}
		log.Printf("🏆 %s revealed their top 3 (status %s)", c.name, p.Status)
		s.pause()
	}
	return nil
}

// verify fetches the final roster and checks that every simulated
// participant finished with both piles revealed.
func (s *Simulation) verify() error {
	host := s.clients[0]
	sess, timeout, err := host.GetSession()
	if err != nil {
		return fmt.Errorf("final fetch: %w", err)
	}

	ours := make(map[string]bool, len(s.clients))
	for _, c := range s.clients {
		ours[c.participantID] = true
	}

	finished := 0
	for _, p := range sess.Participants {
		if !ours[p.ID] {
			continue
		}
		if p.Status != "revealed-8-3" {
			return fmt.Errorf("%s finished with status %q, expected revealed-8-3", p.Name, p.Status)
		}
		if len(p.Top8Cards) != 8 || len(p.Top3Cards) != 3 {
			return fmt.Errorf("%s revealed %d/%d cards, expected 8/3",
				p.Name, len(p.Top8Cards), len(p.Top3Cards))
		}
		finished++
	}
	if finished != len(s.clients) {
		return fmt.Errorf("found %d of %d simulated participants in the roster", finished, len(s.clients))
	}

	log.Printf("\n✅ All %d participants finished with top 8 and top 3 revealed", finished)
	if timeout != nil && !timeout.IsExpired {
		remaining := (time.Duration(timeout.TimeRemaining) * time.Millisecond).Round(time.Second)
		log.Printf("⏱  Session has %s of inactivity budget left", remaining)
	}
	return nil
}

// leaveAll walks everyone out. When the simulated participants are the whole
// roster, the last leave must delete the session.
func (s *Simulation) leaveAll() error {
	log.Printf("\n=== 👋 Wrap-up ===")

	host := s.clients[0]
	sess, _, err := host.GetSession()
	if err != nil {
		return fmt.Errorf("pre-leave fetch: %w", err)
	}
	soleOccupants := len(sess.Participants) == len(s.clients)

	for i, c := range s.clients {
		deleted, err := c.Leave()
		if err != nil {
			return fmt.Errorf("%s leave: %w", c.name, err)
		}

		last := i == len(s.clients)-1
		if soleOccupants && deleted != last {
			return fmt.Errorf("%s leave reported sessionDeleted=%t, expected %t", c.name, deleted, last)
		}
		if deleted {
			log.Printf("👋 %s left, session %s deleted", c.name, c.sessionCode)
		} else {
			log.Printf("👋 %s left", c.name)
		}
		s.pause()
	}
	return nil
}

func (s *Simulation) pause() {
	if s.opts.Delay > 0 {
		time.Sleep(s.opts.Delay)
	}
}

func rosterOf(sess *Session) []string {
	names := make([]string, len(sess.Participants))
	for i, p := range sess.Participants {
		names[i] = p.Name
	}
	return names
}
