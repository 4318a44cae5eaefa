package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAnalysisDeck(t *testing.T) {
	deck := AnalysisDeck{
		Name:        "Test Deck",
		Description: "A deck for testing",
		Cards: []AnalysisCard{
			{ID: "honesty", Title: "Honesty", Description: "Being truthful"},
			{ID: "family", Title: "Family", Description: "Close relationships"},
		},
	}

	if deck.Name != "Test Deck" {
		t.Errorf("Expected Name 'Test Deck', got '%s'", deck.Name)
	}

	if len(deck.Cards) != 2 {
		t.Errorf("Expected 2 cards, got %d", len(deck.Cards))
	}

	if deck.Cards[0].ID != "honesty" {
		t.Errorf("Expected card id 'honesty', got '%s'", deck.Cards[0].ID)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		cardID   string
		expected string
	}{
		{"family", "relationships"},
		{"friendship", "relationships"},
		{"growth", "growth"},
		{"creativity", "growth"},
		{"honesty", "integrity"},
		{"adventure", "autonomy"},
		{"health", "wellbeing"},
		{"security", "security"},
		{"not-a-known-card", "other"},
		{"", "other"},
	}

	for _, test := range tests {
		result := categorize(test.cardID)
		if result != test.expected {
			t.Errorf("categorize(%q) = %q, expected %q", test.cardID, result, test.expected)
		}
	}
}

func TestFindDuplicateTitles(t *testing.T) {
	cards := []AnalysisCard{
		{ID: "a", Title: "Honesty"},
		{ID: "b", Title: "Family"},
		{ID: "c", Title: "honesty"},
		{ID: "d", Title: " Family "},
		{ID: "e", Title: "Growth"},
	}

	duplicates := findDuplicateTitles(cards)
	if len(duplicates) != 2 {
		t.Fatalf("Expected 2 duplicate titles, got %d: %v", len(duplicates), duplicates)
	}

	if duplicates[0] != "Family" {
		t.Errorf("Expected first duplicate 'Family', got '%s'", duplicates[0])
	}

	if duplicates[1] != "Honesty" {
		t.Errorf("Expected second duplicate 'Honesty', got '%s'", duplicates[1])
	}
}

func TestFindDuplicateTitles_NoDuplicates(t *testing.T) {
	cards := []AnalysisCard{
		{ID: "a", Title: "Honesty"},
		{ID: "b", Title: "Family"},
		{ID: "c", Title: "Growth"},
	}

	if duplicates := findDuplicateTitles(cards); len(duplicates) != 0 {
		t.Errorf("Expected no duplicates, got %v", duplicates)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"growth": 3, "autonomy": 1, "integrity": 2}
	keys := sortedKeys(m)

	expected := []string{"autonomy", "growth", "integrity"}
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}

	for i, key := range keys {
		if key != expected[i] {
			t.Errorf("Expected key %d to be %q, got %q", i, expected[i], key)
		}
	}
}

func TestAnalyzeDeck_ValidDeck(t *testing.T) {
	validDeck := `{
		"name": "Test Values",
		"description": "A small test deck",
		"cards": [
			{"id": "honesty", "title": "Honesty", "description": "Being truthful"},
			{"id": "family", "title": "Family", "description": "Close relationships"},
			{"id": "growth", "title": "Growth", "description": "Always learning"},
			{"id": "adventure", "title": "Adventure", "description": "Seeking new things"},
			{"id": "health", "title": "Health", "description": "Physical wellbeing"},
			{"id": "security", "title": "Security", "description": "Feeling safe"},
			{"id": "creativity", "title": "Creativity", "description": "Making new things"},
			{"id": "community", "title": "Community", "description": "Belonging somewhere"}
		]
	}`

	path := filepath.Join(t.TempDir(), "test-deck.json")
	if err := os.WriteFile(path, []byte(validDeck), 0644); err != nil {
		t.Fatalf("Failed to write test deck: %v", err)
	}

	// Test that analyzeDeck doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked: %v", r)
		}
	}()

	analyzeDeck(path)
}

func TestAnalyzeDeck_TooFewCards(t *testing.T) {
	tinyDeck := `{
		"name": "Tiny Deck",
		"cards": [
			{"id": "honesty", "title": "Honesty"},
			{"id": "family", "title": "Family"}
		]
	}`

	path := filepath.Join(t.TempDir(), "tiny-deck.json")
	if err := os.WriteFile(path, []byte(tinyDeck), 0644); err != nil {
		t.Fatalf("Failed to write test deck: %v", err)
	}

	// Should warn about the top-8 cut without panicking
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked with tiny deck: %v", r)
		}
	}()

	analyzeDeck(path)
}

func TestAnalyzeDeck_InvalidFile(t *testing.T) {
	// Test with non-existent file
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked with invalid file: %v", r)
		}
	}()

	analyzeDeck("/non/existent/deck.json")
}

func TestAnalyzeDeck_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken-deck.json")
	if err := os.WriteFile(path, []byte(`{"name": "test", invalid json}`), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	// Test that analyzeDeck doesn't panic with invalid JSON
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked with invalid JSON: %v", r)
		}
	}()

	analyzeDeck(path)
}

func TestAnalyzeDeck_OversizedText(t *testing.T) {
	wordyDeck := `{
		"name": "Wordy Deck",
		"cards": [
			{"id": "a", "title": "A title that is far too long to fit on a card face", "description": "ok"},
			{"id": "b", "title": "Fine", "description": "This description goes on and on and on and on and on and on and on and on and on and on and on and on."}
		]
	}`

	path := filepath.Join(t.TempDir(), "wordy-deck.json")
	if err := os.WriteFile(path, []byte(wordyDeck), 0644); err != nil {
		t.Fatalf("Failed to write test deck: %v", err)
	}

	// Should report oversized text without panicking
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked with oversized text: %v", r)
		}
	}()

	analyzeDeck(path)
}

func TestMain_Integration(t *testing.T) {
	// Create a temporary decks directory for testing
	tmpDir, err := os.MkdirTemp("", "test_decks_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	testDeck := `{
		"name": "Integration Deck",
		"description": "Deck used by the integration test",
		"cards": [
			{"id": "honesty", "title": "Honesty", "description": "Being truthful"},
			{"id": "family", "title": "Family", "description": "Close relationships"}
		]
	}`

	// Save original working directory
	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer os.Chdir(originalWD)

	// Change to temp directory
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	// Create decks subdirectory with a deck file
	if err := os.Mkdir("decks", 0755); err != nil {
		t.Fatalf("Failed to create decks dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join("decks", "integration.json"), []byte(testDeck), 0644); err != nil {
		t.Fatalf("Failed to write deck file: %v", err)
	}

	// Test that the analysis doesn't panic (we can't easily test output without complex mocking)
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("analyzeDeck panicked: %v", r)
		}
	}()

	// We can't call main() directly because go test injects its own os.Args,
	// but we can run the analysis against the deck we just wrote
	analyzeDeck(filepath.Join("decks", "integration.json"))
}
