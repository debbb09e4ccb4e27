package usecase

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 digest of the raw credential, treated as
// an opaque byte string. No trimming, folding, or other normalization happens
// here: two presentations differing by a single byte are different tokens.
// The raw value must never be stored or logged.
func HashToken(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}
