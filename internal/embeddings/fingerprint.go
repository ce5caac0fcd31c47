package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the cache key for a text: SHA-256 over the NFC-normalized,
// whitespace-trimmed, lowercased form. Lowercasing applies to the key only; the
// text sent to the embedding service keeps its original case.
func Fingerprint(text string) string {
	canonical := strings.ToLower(strings.TrimSpace(norm.NFC.String(text)))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
