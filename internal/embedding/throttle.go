package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledGateway applies a token-bucket limit to gateway calls so the
// sidecar is not flooded during bulk clustering or re-indexing runs.
type ThrottledGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewThrottledGateway limits calls to rpm requests per minute with the
// given burst. If rpm <= 0 the throttle is disabled (always allows).
func NewThrottledGateway(inner Gateway, rpm, burst int) *ThrottledGateway {
	if burst <= 0 {
		burst = 8
	}
	r := rate.Limit(rate.Inf)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	return &ThrottledGateway{
		inner:   inner,
		limiter: rate.NewLimiter(r, burst),
	}
}

func (g *ThrottledGateway) Dimensions() int { return g.inner.Dimensions() }

func (g *ThrottledGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.inner.Embed(ctx, text)
}

func (g *ThrottledGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// A batch consumes one token per text, capped at the burst so a large
	// batch cannot deadlock against its own bucket.
	n := len(texts)
	if n > g.limiter.Burst() {
		n = g.limiter.Burst()
	}
	if n > 0 {
		if err := g.limiter.WaitN(ctx, n); err != nil {
			return nil, err
		}
	}
	return g.inner.EmbedBatch(ctx, texts)
}
