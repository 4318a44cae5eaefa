package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxNameLength   = 50
	maxSuffixProbes = 100
)

// Validation errors are user-correctable and surfaced verbatim to callers.
var (
	ErrInvalidCode = errors.New("invalid session code")
	ErrInvalidName = errors.New("invalid participant name")
)

var (
	rawCodePattern      = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)
	namePattern         = regexp.MustCompile(`^[A-Za-z0-9 \-_']+$`)
	disallowedNameChars = regexp.MustCompile(`[^A-Za-z0-9 \-_']`)
	whitespaceRuns      = regexp.MustCompile(`\s+`)
)

// ValidateSessionCode checks a caller-supplied code before normalization:
// non-empty and exactly six alphanumeric characters in either case.
func ValidateSessionCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCode)
	}
	if !rawCodePattern.MatchString(strings.TrimSpace(code)) {
		return fmt.Errorf("%w: must be 6 alphanumeric characters", ErrInvalidCode)
	}
	return nil
}

// ValidateParticipantName checks a display name: non-empty after trimming,
// at most 50 characters, limited to letters, digits, spaces, hyphens,
// underscores, and apostrophes.
func ValidateParticipantName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if !namePattern.MatchString(trimmed) {
		return fmt.Errorf("%w: name contains unsupported characters", ErrInvalidName)
	}
	return nil
}

// SanitizeParticipantName strips characters outside the allowed set,
// collapses whitespace runs to single spaces, and trims the ends. The result
// may be empty, in which case ValidateParticipantName rejects it.
func SanitizeParticipantName(name string) string {
	cleaned := disallowedNameChars.ReplaceAllString(name, "")
	cleaned = whitespaceRuns.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ResolveNameConflict returns name unchanged when no existing participant
// holds it. Otherwise it probes "-2", "-3", … suffixes in order and returns
// the first free combination, filling gaps left by departed participants.
// If 100 consecutive suffixes are taken it falls back to a 4-digit
// time-derived suffix so the call always terminates with a unique name.
func ResolveNameConflict(name string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, n := range existing {
		taken[n] = true
	}

	if !taken[name] {
		return name
	}

	for i := 2; i <= maxSuffixProbes+1; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}

	return fmt.Sprintf("%s-%04d", name, time.Now().UnixMilli()%10000)
}
