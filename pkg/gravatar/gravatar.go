// Package gravatar builds Gravatar avatar URLs from email addresses.
//
// Gravatar uses SHA256 hashes of email addresses to look up profiles.
package gravatar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultSize is the avatar edge length requested when none is given.
const DefaultSize = 300

// AvatarURL returns the Gravatar image URL for email. Missing avatars fall back to
// Gravatar's generated "identicon".
func AvatarURL(email string, size int) string {
	if size <= 0 {
		size = DefaultSize
	}
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d&d=identicon", hashEmail(email), size)
}

// hashEmail returns the SHA256 hash of an email address (lowercased, trimmed).
func hashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	h := sha256.Sum256([]byte(email))
	return hex.EncodeToString(h[:])
}
