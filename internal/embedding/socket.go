package embedding

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// SocketGateway talks to the embedding sidecar over a unix domain socket.
// One request per connection: send a JSON line, read a JSON line back.
type SocketGateway struct {
	path    string
	dims    int
	timeout time.Duration
	dial    func(ctx context.Context, path string) (net.Conn, error)
}

type socketRequest struct {
	Type       string   `json:"type"` // "single" or "batch"
	Texts      []string `json:"texts"`
	Priority   string   `json:"priority,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type socketResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// NewSocketGateway creates a gateway client for the given socket path.
// dims is the vector length the sidecar is expected to produce; responses
// of a different length are adapted, never rejected.
func NewSocketGateway(path string, dims int, timeout time.Duration) *SocketGateway {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &SocketGateway{
		path:    path,
		dims:    dims,
		timeout: timeout,
		dial: func(ctx context.Context, p string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", p)
		},
	}
}

func (g *SocketGateway) Dimensions() int { return g.dims }

// Embed requests a single embedding.
func (g *SocketGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.roundTrip(ctx, socketRequest{
		Type:       "single",
		Texts:      []string{text},
		Dimensions: g.dims,
	})
	if err != nil {
		return nil, err
	}
	vec := resp.Embedding
	if vec == nil && len(resp.Embeddings) > 0 {
		vec = resp.Embeddings[0]
	}
	if vec == nil {
		return nil, fmt.Errorf("gateway returned no embedding")
	}
	return AdaptDimensions(vec, g.dims), nil
}

// EmbedBatch requests embeddings for several texts at once.
func (g *SocketGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := g.roundTrip(ctx, socketRequest{
		Type:       "batch",
		Texts:      texts,
		Dimensions: g.dims,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gateway returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = AdaptDimensions(v, g.dims)
	}
	return out, nil
}

func (g *SocketGateway) roundTrip(ctx context.Context, req socketRequest) (*socketResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := g.dial(ctx, g.path)
	if err != nil {
		return nil, fmt.Errorf("dial embedding socket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write embedding request: %w", err)
	}

	line, err := bufio.NewReaderSize(conn, 1<<20).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var resp socketResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("gateway error: %s", resp.Error)
	}
	return &resp, nil
}
