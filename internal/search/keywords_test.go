package search

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractKeywords(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"", nil},
		{"go is ok", nil},
		{"database migration failed", []string{"migration", "database", "failed"}},
	}
	for _, tc := range cases {
		got := extractKeywords(tc.query)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("extractKeywords(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExtractKeywordsPrefersLonger(t *testing.T) {
	got := extractKeywords("a very long sentence with plenty of distinct keywords inside it")
	if len(got) != 5 {
		t.Fatalf("got %d keywords, want 5", len(got))
	}
	// The two-letter and short words must be squeezed out by longer ones.
	for _, kw := range got {
		if len(kw) < 6 {
			t.Errorf("short keyword %q kept over longer candidates", kw)
		}
	}
	for i := 1; i < len(got); i++ {
		if len(got[i]) > len(got[i-1]) {
			t.Errorf("keywords not ordered longest first: %v", got)
		}
	}
}

func TestExtractKeywordsCap(t *testing.T) {
	got := extractKeywords("one1 two2 three3 four4 five5 six6 seven7")
	if len(got) > 5 {
		t.Errorf("got %d keywords, want at most 5", len(got))
	}
}

func TestNormalizeContent(t *testing.T) {
	a := normalizeContent("  Deploy   Steps: Build\npush ", 120)
	b := normalizeContent("deploy steps: build push", 120)
	if a != b {
		t.Errorf("%q != %q", a, b)
	}

	long := normalizeContent("abcdefghij", 4)
	if long != "abcd" {
		t.Errorf("prefix truncation got %q", long)
	}
}

func TestHighlightFindsKeyword(t *testing.T) {
	content := "a rather long preamble before the interesting part shows up in the middle of the text and then continues"
	got := highlight(content, []string{"interesting"})
	if got == "" {
		t.Fatal("empty highlight")
	}
	if len(got) > 90 {
		t.Errorf("highlight too long: %d chars", len(got))
	}
}

func TestHighlightKeepsRuneBoundaries(t *testing.T) {
	// Multi-byte runes surround the keyword so both window edges land
	// inside a character unless cuts snap to rune starts.
	content := strings.Repeat("é", 60) + " needle " + strings.Repeat("ü", 60)
	got := highlight(content, []string{"needle"})
	if !utf8.ValidString(got) {
		t.Errorf("excerpt contains invalid UTF-8: %q", got)
	}

	// Prefix fallback path with no keyword hit.
	got = highlight(strings.Repeat("猫", 100), []string{"absent"})
	if !utf8.ValidString(got) {
		t.Errorf("prefix excerpt contains invalid UTF-8: %q", got)
	}
}

func TestNormalizeContentKeepsRuneBoundaries(t *testing.T) {
	// "猫" is 3 bytes; a 100-byte prefix falls mid-rune.
	norm := normalizeContent(strings.Repeat("猫", 50), 100)
	if !utf8.ValidString(norm) {
		t.Errorf("dedup key contains invalid UTF-8: %q", norm)
	}
	if len(norm) == 0 || len(norm) > 100 {
		t.Errorf("dedup key length %d out of range", len(norm))
	}
}

func TestHighlightFallsBackToPrefix(t *testing.T) {
	got := highlight("short content", []string{"absent"})
	if got != "short content" {
		t.Errorf("got %q, want the full short content", got)
	}
}
