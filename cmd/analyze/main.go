// Command analyze prints quick, human-readable heuristics about the card
// deck files in the project's decks directory. It summarizes card counts,
// the cut ratios for the top-8 and top-3 steps, rough thematic categories,
// and highlights duplicate or oversized card text that would render badly.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AnalysisDeck is a light struct for reading deck files used by analysis.
type AnalysisDeck struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Cards       []AnalysisCard `json:"cards"`
}

// AnalysisCard mirrors a single card entry.
type AnalysisCard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Card text renders inside a fixed-size card in the UI; anything past these
// lengths wraps badly or overflows.
const (
	longTitle       = 24
	longDescription = 100
)

// Rough thematic buckets keyed by well-known card ids. Anything not listed
// reports as "other"; the buckets only need to be good enough to spot a
// lopsided deck.
var categories = map[string][]string{
	"relationships": {"family", "friendship", "belonging", "community", "loyalty", "compassion", "kindness", "generosity"},
	"growth":        {"growth", "mastery", "knowledge", "curiosity", "wisdom", "creativity", "excellence", "achievement"},
	"integrity":     {"honesty", "authenticity", "fairness", "justice", "humility", "courage"},
	"autonomy":      {"autonomy", "freedom", "independence", "adventure", "influence", "leadership"},
	"wellbeing":     {"health", "balance", "nature", "humor", "gratitude", "spirituality"},
	"security":      {"security", "stability", "tradition", "wealth", "recognition", "service"},
}

func main() {
	deckDir := "decks"
	if len(os.Args) > 1 {
		deckDir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(deckDir, "*.json"))
	if err != nil || len(files) == 0 {
		fmt.Printf("No deck files found in %s\n", deckDir)
		return
	}

	for _, deckFile := range files {
		fmt.Printf("\n=== Analyzing %s ===\n", filepath.Base(deckFile))
		analyzeDeck(deckFile)
	}
}

func analyzeDeck(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		return
	}

	var deck AnalysisDeck
	if err := json.Unmarshal(data, &deck); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		return
	}

	fmt.Printf("Name: %s\n", deck.Name)
	if deck.Description != "" {
		fmt.Printf("Description: %s\n", deck.Description)
	}
	fmt.Printf("Cards: %d\n", len(deck.Cards))

	// Cut ratios for the sorting steps
	if len(deck.Cards) >= 8 {
		fmt.Printf("Top-8 cut: keep 1 in %.1f cards\n", float64(len(deck.Cards))/8)
		fmt.Printf("Top-3 cut: keep 1 in %.1f cards\n", float64(len(deck.Cards))/3)
	} else {
		fmt.Printf("⚠️  WARNING: too few cards for a top-8 cut (%d < 8)\n", len(deck.Cards))
	}

	// Described vs bare cards
	described := 0
	for _, card := range deck.Cards {
		if strings.TrimSpace(card.Description) != "" {
			described++
		}
	}
	if described == len(deck.Cards) {
		fmt.Printf("✅ All %d cards have descriptions\n", len(deck.Cards))
	} else {
		fmt.Printf("Described: %d/%d cards\n", described, len(deck.Cards))
	}

	// Category distribution
	distribution := map[string]int{}
	for _, card := range deck.Cards {
		distribution[categorize(card.ID)]++
	}
	fmt.Println("Categories:")
	for _, name := range sortedKeys(distribution) {
		fmt.Printf("  %-14s %d\n", name, distribution[name])
	}

	// Duplicate titles confuse participants mid-sort
	duplicates := findDuplicateTitles(deck.Cards)
	if len(duplicates) > 0 {
		fmt.Printf("⚠️  WARNING: %d duplicate titles found!\n", len(duplicates))
		for _, title := range duplicates {
			fmt.Printf("   Duplicate: %q\n", title)
		}
	} else {
		fmt.Printf("✅ All card titles are unique\n")
	}

	// Oversized text
	long := []string{}
	for _, card := range deck.Cards {
		if len(card.Title) > longTitle {
			long = append(long, fmt.Sprintf("%s: title is %d chars", card.ID, len(card.Title)))
		}
		if len(card.Description) > longDescription {
			long = append(long, fmt.Sprintf("%s: description is %d chars", card.ID, len(card.Description)))
		}
	}
	if len(long) > 0 {
		fmt.Printf("⚠️  WARNING: %d cards have text that may not fit on a card!\n", len(long))
		for i, entry := range long {
			if i < 5 { // Show first 5 oversized entries
				fmt.Printf("   Oversized: %s\n", entry)
			}
		}
		if len(long) > 5 {
			fmt.Printf("   ... and %d more\n", len(long)-5)
		}
	} else {
		fmt.Printf("✅ All card text fits the card layout\n")
	}
}

// categorize maps a card id to its thematic bucket, defaulting to "other".
func categorize(cardID string) string {
	for name, ids := range categories {
		for _, id := range ids {
			if id == cardID {
				return name
			}
		}
	}
	return "other"
}

// findDuplicateTitles returns each title that appears more than once,
// compared case-insensitively.
func findDuplicateTitles(cards []AnalysisCard) []string {
	counts := map[string]int{}
	for _, card := range cards {
		counts[strings.ToLower(strings.TrimSpace(card.Title))]++
	}

	var duplicates []string
	for _, card := range cards {
		key := strings.ToLower(strings.TrimSpace(card.Title))
		if counts[key] > 1 {
			duplicates = append(duplicates, card.Title)
			counts[key] = 0 // report each duplicated title once
		}
	}
	sort.Strings(duplicates)
	return duplicates
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
