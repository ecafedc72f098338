package forum

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Fingerprints the opening post of a thread. Two posts collide when their
// text is identical after trimming surrounding whitespace and normalizing
// line endings. An unavailable body is fingerprinted as the empty string.
func Fingerprint(body string) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
