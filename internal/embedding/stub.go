package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// StubGateway produces deterministic vectors from a hash of the input
// text. Identical texts map to identical vectors; different texts are
// near-orthogonal with high probability. Intended for tests and the
// doctor command.
type StubGateway struct {
	dims  int
	delay func(ctx context.Context) error // optional hook to simulate latency

	mu    sync.Mutex
	calls int
}

// NewStubGateway creates a stub producing vectors of the given length.
func NewStubGateway(dims int) *StubGateway {
	if dims <= 0 {
		dims = 768
	}
	return &StubGateway{dims: dims}
}

// SetDelay installs a hook invoked before each call, letting tests
// simulate slow or failing gateways.
func (g *StubGateway) SetDelay(fn func(ctx context.Context) error) { g.delay = fn }

// Calls reports how many embed calls reached the stub.
func (g *StubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *StubGateway) Dimensions() int { return g.dims }

func (g *StubGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.delay != nil {
		if err := g.delay(ctx); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return hashVector(text, g.dims), nil
}

func (g *StubGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := g.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// hashVector expands sha256(text) into a unit-normalized pseudo-random
// vector of the requested length.
func hashVector(text string, dims int) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	var norm float64

	buf := seed[:]
	for i := 0; i < dims; i++ {
		if i > 0 && i%8 == 0 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		bits := binary.LittleEndian.Uint32(buf[(i%8)*4 : (i%8)*4+4])
		v := float64(int32(bits)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
