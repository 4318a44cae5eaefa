// Command validate provides a small CLI that validates card deck JSON files
// in a deck directory. It checks:
//   - JSON structure and required fields
//   - File naming the server will actually load (lowercase, digits, hyphens)
//   - Deck name presence
//   - Card count (at least 8, so a top-8 cut is possible)
//   - Card ids present and unique
//   - Card titles present
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/urfave/cli/v3"
)

// Deck mirrors the JSON schema for a card deck file.
type Deck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cards       []Card `json:"cards"`
}

// Card is a single value card entry.
type Card struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Participants narrow to a top 8, so a deck needs at least that many cards.
const minCards = 8

// The server only loads conservatively named deck files.
var deckFilePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

// validateDeck loads and validates a single deck JSON file. It performs
// structural checks, card id/title validation, and duplicate detection.
func validateDeck(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	base := strings.TrimSuffix(result.File, ".json")
	if !deckFilePattern.MatchString(base) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Bad file name %q: the server only loads names with lowercase letters, digits, and hyphens", base))
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	var deck Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	// Validate deck fields
	if strings.TrimSpace(deck.Name) == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "Deck name is required")
	}

	if len(deck.Cards) < minCards {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Must have at least %d cards for a top-8 cut, got %d", minCards, len(deck.Cards)))
	}

	// Validate cards
	seen := make(map[string]bool, len(deck.Cards))
	described := 0
	for i, card := range deck.Cards {
		if strings.TrimSpace(card.ID) == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Card %d has no id", i+1))
			continue
		}
		if seen[card.ID] {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Duplicate card id %q", card.ID))
		}
		seen[card.ID] = true

		if strings.TrimSpace(card.Title) == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Card %q has no title", card.ID))
		}
		if strings.TrimSpace(card.Description) != "" {
			described++
		}
	}

	// Add informational data
	if result.Valid {
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Name: %s", deck.Name))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Cards: %d", len(deck.Cards)))
		result.Errors = append(result.Errors, fmt.Sprintf("✓ Described: %d/%d cards", described, len(deck.Cards)))
		if deck.Description != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("✓ Deck description: %s", deck.Description))
		}
	}

	return result
}

// run validates every *.json file in deckDir, printing a concise report.
// It returns an error when no files are found or any deck is invalid.
func run(deckDir string) error {
	files, err := filepath.Glob(filepath.Join(deckDir, "*.json"))
	if err != nil {
		return fmt.Errorf("error finding deck files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no deck files found in %s", deckDir)
	}

	allValid := true
	for _, file := range files {
		result := validateDeck(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if !allValid {
		return errors.New("some decks have errors")
	}
	fmt.Println("✅ All decks are valid!")
	return nil
}

// main wires the validator into a CLI command and exits non-zero when any
// deck fails validation.
func main() {
	cmd := &cli.Command{
		Name:  "validate",
		Usage: "Validate ValueSort card deck JSON files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "deck-dir",
				Aliases: []string{"d"},
				Value:   "../decks",
				Usage:   "directory containing deck JSON files",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(cmd.String("deck-dir"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "❌ "+err.Error())
		os.Exit(1)
	}
}
