package session

import (
	"crypto/rand"
	"errors"
	"regexp"
	"strings"
)

const (
	codeLength      = 6
	codeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 10
)

// ErrCodeAllocationExhausted is returned when repeated code generation keeps
// colliding with existing sessions. At a 36^6 code space this is a safety
// valve, not an expected path; occurrences warrant investigation.
var ErrCodeAllocationExhausted = errors.New("session code allocation exhausted")

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// GenerateCode returns a random 6-character session code drawn uniformly
// from [A-Z0-9].
func GenerateCode() string {
	// Largest multiple of len(codeCharset) below 256; rejecting bytes at or
	// above it keeps the character distribution uniform.
	const maxByte = 252

	code := make([]byte, codeLength)
	buf := make([]byte, 1)
	for i := 0; i < codeLength; {
		rand.Read(buf)
		if buf[0] >= maxByte {
			continue
		}
		code[i] = codeCharset[int(buf[0])%len(codeCharset)]
		i++
	}
	return string(code)
}

// IsValidCodeFormat reports whether s is exactly six uppercase alphanumeric
// characters.
func IsValidCodeFormat(s string) bool {
	return codePattern.MatchString(s)
}

// NormalizeCode trims and uppercases a caller-supplied code so lookups and
// storage always use the canonical form.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GenerateUniqueCode generates codes until one passes the injected existence
// check, giving up after a bounded number of attempts with
// ErrCodeAllocationExhausted.
func GenerateUniqueCode(exists func(string) bool) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := GenerateCode()
		if !exists(code) {
			return code, nil
		}
	}
	return "", ErrCodeAllocationExhausted
}
