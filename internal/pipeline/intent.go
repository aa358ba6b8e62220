package pipeline

import (
	"slices"
	"strings"

	"github.com/relai-dev/relai/internal/config"
)

// tokenize splits a normalized query into words, stripping surrounding
// punctuation so "count?" and "count" match alike.
func tokenize(normalized string) []string {
	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,!?;:"'`)
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// containsPhrase reports whether the phrase occurs in the query on word
// boundaries: a single word must match a whole token, a multi-word phrase
// must match consecutive tokens. Substring matching is deliberately
// avoided so "count" never fires on "country".
func containsPhrase(tokens []string, phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return false
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		matched := true
		for j, w := range words {
			if tokens[i+j] != w {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// classifyIntent matches the normalized query against the intent keyword
// table. Keywords match on word boundaries ("hey" does not fire on
// "they"). Intents are checked in sorted name order so classification is
// deterministic when keywords overlap. Returns ok=false when nothing
// matches; the caller then takes the RAG route.
func classifyIntent(normalized string, intents map[string]config.Intent) (name string, intent config.Intent, ok bool) {
	tokens := tokenize(normalized)

	names := make([]string, 0, len(intents))
	for n := range intents {
		names = append(names, n)
	}
	slices.Sort(names)

	for _, n := range names {
		for _, kw := range intents[n].Keywords {
			if containsPhrase(tokens, strings.ToLower(kw)) {
				return n, intents[n], true
			}
		}
	}
	return "", config.Intent{}, false
}

// countMarkers are phrases that turn a question into a document count
// lookup instead of a retrieval round-trip.
var countMarkers = []string{"how many", "count", "total"}

// isCountQuery reports whether the normalized query asks for a document
// count.
func isCountQuery(normalized string) bool {
	tokens := tokenize(normalized)
	for _, marker := range countMarkers {
		if containsPhrase(tokens, marker) {
			return true
		}
	}
	return false
}
