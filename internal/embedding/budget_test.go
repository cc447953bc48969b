package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCountTokens(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", got)
	}
	short := CountTokens("one sentence")
	long := CountTokens(strings.Repeat("one sentence about deployments ", 40))
	if short < 1 {
		t.Errorf("short count = %d, want at least 1", short)
	}
	if long <= short {
		t.Errorf("long count %d not greater than short count %d", long, short)
	}
}

func TestTruncateToTokensLeavesSmallTextAlone(t *testing.T) {
	text := "fits in any budget"
	if got := TruncateToTokens(text, 512); got != text {
		t.Errorf("got %q, want unchanged input", got)
	}
}

func TestTruncateToTokensCutsToPrefix(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 100)
	got := TruncateToTokens(text, 10)
	if len(got) >= len(text) {
		t.Fatalf("oversized text not shortened: %d bytes", len(got))
	}
	if !strings.HasPrefix(text, got) {
		t.Error("truncation is not a prefix of the input")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation produced invalid UTF-8: %q", got)
	}
}

func TestChunkParagraphsSplitsOnBlankLines(t *testing.T) {
	text := strings.Repeat("first paragraph sentence. ", 10) + "\n\n" +
		strings.Repeat("second paragraph sentence. ", 10)
	chunks := ChunkParagraphs(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
	if !strings.HasPrefix(chunks[0], "first paragraph") {
		t.Errorf("first chunk does not open the text: %q", chunks[0])
	}
}

func TestChunkParagraphsSmallTextSingleChunk(t *testing.T) {
	chunks := ChunkParagraphs("one small note", 1000)
	if len(chunks) != 1 || chunks[0] != "one small note" {
		t.Errorf("got %v, want the text as a single chunk", chunks)
	}
}

func TestEmbedInputPassesSmallContentThrough(t *testing.T) {
	content := "a note that fits the budget"
	if got := EmbedInput(content, 512); got != content {
		t.Errorf("got %q, want unchanged content", got)
	}
}

func TestEmbedInputEmbedsFirstChunkOfOversizedContent(t *testing.T) {
	first := strings.TrimSpace(strings.Repeat("alpha beta gamma ", 60))
	second := strings.TrimSpace(strings.Repeat("delta epsilon ", 50))
	content := first + "\n\n" + second

	got := EmbedInput(content, 50)
	if len(got) >= len(content) {
		t.Fatalf("oversized content not reduced: %d bytes", len(got))
	}
	if !strings.HasPrefix(first, got) {
		t.Error("embedding input is not drawn from the first paragraph")
	}
	if strings.Contains(got, "delta") {
		t.Error("embedding input leaked past the first paragraph")
	}
}
