package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

// NormalizeSender lowercases and trims an address. A display-name form
// ("Shop <a@b.c>") is reduced to the bare address.
func NormalizeSender(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Fingerprint is the hex SHA-256 of the normalized content, trimmed subject
// and normalized sender, newline separated. Redelivery of the same email
// yields the same value.
func Fingerprint(content, subject, sender string) string {
	h := sha256.New()
	h.Write([]byte(llm.CollapseWhitespace(content)))
	h.Write([]byte{'\n'})
	h.Write([]byte(strings.TrimSpace(subject)))
	h.Write([]byte{'\n'})
	h.Write([]byte(NormalizeSender(sender)))
	return hex.EncodeToString(h.Sum(nil))
}
