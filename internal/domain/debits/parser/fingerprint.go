package parser

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 of the raw upload as lowercase hex. It is
// computed over bytes, not parsed content, so a re-saved file is a new submission.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
