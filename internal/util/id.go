// Package util holds identifier and slug helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"
)

// NewID returns prefix_<32 hex chars>, or bare hex when prefix is empty.
func NewID(prefix string) string {
	return withPrefix(prefix, randomHex(16))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func withPrefix(prefix, value string) string {
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}

// Slugify lowercases s and collapses every run of non alphanumerics into a
// single dash. The result is capped at 48 bytes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// PublicSlug is a slug for a public form URL with a short random suffix so
// forms sharing a title do not collide.
func PublicSlug(title string) string {
	base := Slugify(title)
	if base == "" {
		base = "form"
	}
	return base + "-" + randomHex(3)
}
