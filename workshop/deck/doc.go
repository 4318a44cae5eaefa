// Package deck provides card deck management for value sorting sessions.
//
// The deck package handles:
//   - Loading card decks from JSON files
//   - Deck validation and verification
//   - Default deck management
//   - Deck discovery and listing
//
// Deck Format:
//
// Decks are stored as JSON files in the decks directory. Each deck defines:
//   - A display name and description
//   - A list of cards, each with a stable id, title, and optional description
//
// Because participants narrow their sort down to a top 8 and then a top 3,
// a deck must carry at least 8 cards to be usable.
//
// Available Decks:
//
// The repository ships two decks:
//   - values: the full personal values deck used in standard workshops
//   - values-short: a condensed deck for quick sessions
//
// Usage:
//
//	manager, err := deck.NewManager("decks")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Load a specific deck
//	d, err := manager.LoadDeck("values-short")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Get the default deck
//	def := manager.GetDefault()
//
//	// List available decks
//	infos, err := manager.ListDecks()
//
// Validation:
//
// All decks are validated for:
//   - A non-empty deck name
//   - The 8-card minimum
//   - Non-empty, unique card ids and non-empty titles
package deck
