// Package fingerprint computes exact-match fingerprints and term-frequency
// vectors for near-duplicate detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Size is the length of a hex fingerprint.
const Size = sha256.Size * 2

// Fingerprint returns the hex SHA-256 of the whitespace-collapsed title and
// body joined by a newline. Case is preserved.
func Fingerprint(title, body string) string {
	sum := sha256.Sum256([]byte(collapse(title) + "\n" + collapse(body)))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether fp looks like a fingerprint.
func Valid(fp string) bool {
	if len(fp) != Size {
		return false
	}
	_, err := hex.DecodeString(fp)
	return err == nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
