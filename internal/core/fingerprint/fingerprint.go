// Package fingerprint derives deterministic keys from request payloads so the
// cache and the idempotency guard agree on what "the same input" means.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize canonicalizes input text: surrounding whitespace is stripped and
// the text is lowercased so trivially different submissions share a key.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Hash returns the hex SHA-256 of the normalized text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
