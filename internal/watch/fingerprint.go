package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// titleSeparator joins titles before hashing. Normalization replaces
// control characters with spaces before collapsing, so the unit separator
// cannot appear in a normalized title and distinct title sequences can
// never collide by concatenation.
const titleSeparator = "\x1f"

// Fingerprint returns the hex SHA-256 digest of the ordered title list.
// It is purely a function of the titles: same titles, same fingerprint,
// across fetches and process restarts.
func Fingerprint(titles []string) string {
	h := sha256.Sum256([]byte(strings.Join(titles, titleSeparator)))
	return hex.EncodeToString(h[:])
}
