package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedGateway wraps a Gateway with an in-process LRU keyed by
// sha256(text) + dims. Embedding the same content twice is common during
// re-indexing and clustering passes.
type CachedGateway struct {
	inner Gateway
	cache *lru.Cache[string, []float32]
}

// NewCachedGateway wraps inner with an LRU of the given size.
func NewCachedGateway(inner Gateway, size int) (*CachedGateway, error) {
	if size <= 0 {
		size = 2048
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedGateway{inner: inner, cache: c}, nil
}

func (g *CachedGateway) Dimensions() int { return g.inner.Dimensions() }

func (g *CachedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text, g.inner.Dimensions())
	if vec, ok := g.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	g.cache.Add(key, vec)
	return vec, nil
}

func (g *CachedGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if vec, ok := g.cache.Get(cacheKey(t, g.inner.Dimensions())); ok {
			out[i] = vec
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := g.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		i := missingIdx[j]
		out[i] = vec
		g.cache.Add(cacheKey(texts[i], g.inner.Dimensions()), vec)
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (g *CachedGateway) Len() int { return g.cache.Len() }

func cacheKey(text string, dims int) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%d", hex.EncodeToString(sum[:16]), dims)
}
