package embedding

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestCachedGatewaySingleHit(t *testing.T) {
	stub := NewStubGateway(8)
	g, err := NewCachedGateway(stub, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	v1, err := g.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := g.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatal(err)
	}
	if stub.Calls() != 1 {
		t.Errorf("inner gateway called %d times, want 1", stub.Calls())
	}
	if CosineSimilarity(v1, v2) < 0.999 {
		t.Error("cache returned a different vector")
	}
}

func TestCachedGatewayBatchPartialMiss(t *testing.T) {
	stub := NewStubGateway(8)
	g, err := NewCachedGateway(stub, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := g.Embed(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	before := stub.Calls()

	vecs, err := g.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 8 {
			t.Errorf("vector %d has length %d", i, len(v))
		}
	}
	// Only the two misses reach the stub.
	if got := stub.Calls() - before; got != 2 {
		t.Errorf("inner gateway called %d times for partial miss, want 2", got)
	}
}

// fakeSidecar answers one request per connection like the real gateway.
func fakeSidecar(t *testing.T, dims int) func(ctx context.Context, path string) (net.Conn, error) {
	t.Helper()
	return func(ctx context.Context, path string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			buf := make([]byte, 1<<16)
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			var req socketRequest
			if err := json.Unmarshal(buf[:n-1], &req); err != nil {
				return
			}
			var resp socketResponse
			switch req.Type {
			case "single":
				resp.Embedding = hashVector(req.Texts[0], dims)
			case "batch":
				for _, text := range req.Texts {
					resp.Embeddings = append(resp.Embeddings, hashVector(text, dims))
				}
			default:
				resp.Error = "unknown request type"
			}
			data, _ := json.Marshal(resp)
			server.Write(append(data, '\n'))
		}()
		return client, nil
	}
}

func TestSocketGatewayRoundtrip(t *testing.T) {
	g := NewSocketGateway("/tmp/unused.sock", 8, time.Second)
	g.dial = fakeSidecar(t, 8)
	ctx := context.Background()

	vec, err := g.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 {
		t.Fatalf("got %d dims, want 8", len(vec))
	}

	vecs, err := g.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
}

func TestSocketGatewayAdaptsDimensionDrift(t *testing.T) {
	// Sidecar produces 12-dim vectors, store expects 8.
	g := NewSocketGateway("/tmp/unused.sock", 8, time.Second)
	g.dial = fakeSidecar(t, 12)

	vec, err := g.Embed(context.Background(), "drift")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 {
		t.Errorf("got %d dims, want adapted 8", len(vec))
	}
}

func TestSocketGatewaySurfacesErrors(t *testing.T) {
	g := NewSocketGateway("/tmp/unused.sock", 8, time.Second)
	g.dial = func(ctx context.Context, path string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			buf := make([]byte, 1<<16)
			server.Read(buf)
			server.Write([]byte(`{"error":"model not loaded"}` + "\n"))
		}()
		return client, nil
	}

	if _, err := g.Embed(context.Background(), "x"); err == nil {
		t.Fatal("gateway error not surfaced")
	}
}

func TestThrottledGatewayPassesThrough(t *testing.T) {
	stub := NewStubGateway(8)
	g := NewThrottledGateway(stub, 0, 4) // rpm 0 disables throttling

	for i := 0; i < 10; i++ {
		if _, err := g.Embed(context.Background(), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if stub.Calls() != 10 {
		t.Errorf("inner called %d times, want 10", stub.Calls())
	}
}
