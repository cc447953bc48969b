// Package embedding provides access to the local embedding gateway: a
// newline-delimited JSON protocol over a unix socket, with dimension
// adaptation, an LRU result cache, and optional request throttling.
package embedding

import "context"

// Gateway converts text into fixed-dimension vectors.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length the gateway produces.
	Dimensions() int
}
