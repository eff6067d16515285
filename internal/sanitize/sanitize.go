// Package sanitize normalizes and validates identifiers that end up in
// NATS subjects and rule-set catalogs.
//
// A subject token must not contain '.', '*', '>' or whitespace. This package
// maps arbitrary run IDs onto ^[A-Za-z0-9_-]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxTokenLength is the maximum length of a sanitized subject token.
	MaxTokenLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated tokens.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultToken is used when sanitization produces an empty result.
	DefaultToken = "unknown"
)

// SubjectToken sanitizes s for use as a single NATS subject token.
//
// Rules applied:
//   - Keeps ASCII letters, digits, '-' and '_'
//   - Replaces everything else with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxTokenLength with hash suffix if too long
//   - Returns DefaultToken if result would be empty
//
// Examples:
//
//	"3f2a-77c1"       -> "3f2a-77c1"
//	"run.1 > all"     -> "run_1_all"
//	"" or "..."       -> "unknown"
func SubjectToken(s string) string {
	if s == "" {
		return DefaultToken
	}

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if isTokenRune(r) {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultToken
	}

	if len(sanitized) > MaxTokenLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

func isTokenRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// truncateWithHash truncates a string to fit within MaxTokenLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:MaxTokenLength-HashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}
