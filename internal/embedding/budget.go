package embedding

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens returns the BPE token count of text. Falls back to a
// 4-chars-per-token estimate if the encoding is unavailable.
func CountTokens(text string) int {
	tk, err := encoder()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(tk.Encode(text, nil, nil))
}

// TruncateToTokens cuts text to at most maxTokens tokens. Oversized
// content is trimmed before embedding rather than rejected: the gateway
// model has a fixed input window and silently degrades past it.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tk, err := encoder()
	if err != nil {
		// Estimate: keep ~4 chars per token, cut at a rune boundary.
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		runes := []rune(text)
		if len(runes) > limit {
			runes = runes[:limit]
		}
		return string(runes)
	}
	ids := tk.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return tk.Decode(ids[:maxTokens])
}

// EmbedInput prepares content for the gateway. Content within the token
// budget passes through untouched; oversized content is cut to its first
// paragraph-boundary chunk and then truncated to the budget. The stored
// memory keeps the full content, only the embedding input shrinks.
func EmbedInput(content string, maxTokens int) string {
	if maxTokens <= 0 || CountTokens(content) <= maxTokens {
		return content
	}
	if chunks := ChunkParagraphs(content, maxTokens*4); len(chunks) > 0 {
		content = chunks[0]
	}
	return TruncateToTokens(content, maxTokens)
}

// ChunkParagraphs splits text into paragraph-boundary chunks of roughly
// maxLen characters. EmbedInput embeds the first chunk of oversized
// content so the vector reflects a coherent unit, not a mid-sentence cut.
func ChunkParagraphs(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1000
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" && current.Len() >= maxLen/2 {
			flush()
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
		if current.Len() >= maxLen {
			flush()
		}
	}
	flush()

	return chunks
}
