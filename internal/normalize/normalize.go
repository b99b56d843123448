// Package normalize holds the canonical forms used for storage and comparison.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons: surrounding whitespace trimmed, lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Name trims a display name. Case is preserved.
func Name(n string) string {
	return strings.TrimSpace(n)
}

// Text trims a chat message body.
func Text(t string) string {
	return strings.TrimSpace(t)
}
