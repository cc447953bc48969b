package search

import (
	"strings"
	"unicode/utf8"
)

const (
	maxKeywords   = 5
	minKeywordLen = 3
)

// extractKeywords splits the query into at most 5 keywords of at least 3
// characters, longest first (longer words are more selective and keep the
// ILIKE scan cheap).
func extractKeywords(query string) []string {
	words := strings.Fields(query)
	var filtered []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if len(w) >= minKeywordLen {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	for i := 0; i < len(filtered); i++ {
		for j := i + 1; j < len(filtered); j++ {
			if len(filtered[j]) > len(filtered[i]) {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			}
		}
	}
	if len(filtered) > maxKeywords {
		filtered = filtered[:maxKeywords]
	}
	return filtered
}

// highlight returns a short excerpt of content around the first keyword
// hit, or the leading characters when nothing matches.
func highlight(content string, keywords []string) string {
	const window = 80
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		idx := strings.Index(lower, strings.ToLower(kw))
		if idx < 0 {
			continue
		}
		start := runeFloor(content, idx-window/2)
		end := runeFloor(content, start+window)
		excerpt := strings.TrimSpace(content[start:end])
		if start > 0 {
			excerpt = "…" + excerpt
		}
		if end < len(content) {
			excerpt += "…"
		}
		return excerpt
	}
	if len(content) > window {
		return strings.TrimSpace(content[:runeFloor(content, window)]) + "…"
	}
	return content
}

// runeFloor clamps n into [0, len(s)] and walks it back to the nearest
// rune start so byte slicing never splits a multi-byte character.
func runeFloor(s string, n int) int {
	if n <= 0 {
		return 0
	}
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// normalizeContent lowercases and collapses whitespace, then truncates to
// prefixLen. Two memories with equal normalized prefixes are treated as
// content duplicates.
func normalizeContent(content string, prefixLen int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	if prefixLen > 0 && len(norm) > prefixLen {
		norm = norm[:runeFloor(norm, prefixLen)]
	}
	return norm
}
