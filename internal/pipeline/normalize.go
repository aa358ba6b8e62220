package pipeline

import "strings"

// Normalize canonicalizes query text for cache keys and intent matching:
// trimmed, lowercased, inner whitespace runs collapsed to single spaces.
// Two queries differing only in case or spacing normalize identically.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
